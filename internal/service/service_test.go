package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/config"
	"papertrade/internal/market"
	"papertrade/internal/models"
	"papertrade/internal/paper"
	"papertrade/internal/repository"
	"papertrade/internal/repository/memory"
)

var t0 = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type countingPrices struct {
	prices  map[market.PriceKey]decimal.Decimal
	batches int
}

func (c *countingPrices) LatestPrice(_ context.Context, exchange, asset string) (decimal.Decimal, bool) {
	p, ok := c.prices[market.Key(exchange, asset)]
	return p, ok
}

func (c *countingPrices) Batch(ctx context.Context, keys []market.PriceKey) market.PriceBatch {
	c.batches++
	out := market.PriceBatch{At: t0, Prices: map[market.PriceKey]decimal.Decimal{}}
	for _, k := range keys {
		if p, ok := c.LatestPrice(ctx, k.Exchange, k.Asset); ok {
			out.Prices[market.Key(k.Exchange, k.Asset)] = p
		}
	}
	return out
}

func TestHeartbeatUnhealthyAfterThreeIntervals(t *testing.T) {
	h := NewHeartbeat()
	h.Register("engine", time.Minute)
	h.Failure("engine", errors.New("db down"), t0)

	assert.Empty(t, h.Unhealthy(t0.Add(3*time.Minute)))
	bad := h.Unhealthy(t0.Add(3*time.Minute + time.Second))
	require.Len(t, bad, 1)
	assert.Equal(t, "db down", bad[0].LastError)

	h.Success("engine", t0.Add(4*time.Minute))
	assert.Empty(t, h.Unhealthy(t0.Add(time.Hour)))
}

func TestTickLoopRunsAndRecordsOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHeartbeat()
	var calls atomic.Int32
	loop := &TickLoop{
		Name:      "test",
		Interval:  10 * time.Millisecond,
		Heartbeat: h,
		Fn: func(ctx context.Context) error {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			if calls.Add(1) == 1 {
				return errors.New("first tick fails")
			}
			return nil
		},
	}
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	st := h.Snapshot()
	require.Len(t, st, 1)
	assert.Equal(t, 0, st[0].Failures)
	assert.False(t, st[0].LastSuccess.IsZero())
	assert.False(t, st[0].LastFailure.IsZero())
}

func TestNextBackoffIsCapped(t *testing.T) {
	b := nextBackoff(0, 10*time.Second, time.Minute)
	assert.Equal(t, 5*time.Second, b)
	b = nextBackoff(b, 10*time.Second, time.Minute)
	assert.Equal(t, 10*time.Second, b)
	for i := 0; i < 10; i++ {
		b = nextBackoff(b, 10*time.Second, time.Minute)
	}
	assert.Equal(t, time.Minute, b)
}

func seedAccount(t *testing.T, repo *memory.Store, name string, active bool) models.Account {
	t.Helper()
	a := &models.Account{Name: name, Exchange: "hyperliquid", Strategy: "funding_rate", InitialCapital: d("10000"), Active: active}
	require.NoError(t, repo.CreateAccount(context.Background(), a))
	return *a
}

func seedOpen(t *testing.T, repo *memory.Store, acct uint64, asset, dir, entry, qty string) {
	t.Helper()
	require.NoError(t, repo.InsertPosition(context.Background(), &models.Position{
		AccountID: acct, Strategy: "funding_rate", Asset: asset, Exchange: "hyperliquid",
		Direction: dir, EntryPrice: d(entry), EntryTime: t0.Add(-time.Hour), Quantity: d(qty),
		Status: models.PositionOpen,
	}))
}

func TestMarkToMarketRunOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	a := seedAccount(t, repo, "a", true)
	b := seedAccount(t, repo, "b", true)
	off := seedAccount(t, repo, "off", false)
	seedAccount(t, repo, "flat", true)

	seedOpen(t, repo, a.ID, "BTC", models.DirectionLong, "60000", "0.1")
	seedOpen(t, repo, a.ID, "SOL", models.DirectionLong, "150", "10")
	seedOpen(t, repo, b.ID, "BTC", models.DirectionShort, "61000", "0.2")
	seedOpen(t, repo, off.ID, "BTC", models.DirectionLong, "60000", "1")

	closed := &models.Position{
		AccountID: a.ID, Strategy: "funding_rate", Asset: "ETH", Exchange: "hyperliquid",
		Direction: models.DirectionLong, EntryPrice: d("3000"), EntryTime: t0.Add(-2 * time.Hour), Quantity: d("1"),
	}
	require.NoError(t, repo.InsertPosition(ctx, closed))
	_, err := repo.ClosePosition(ctx, repository.ClosePositionParams{
		ID: closed.ID, ExitPrice: d("3050"), ExitTime: t0.Add(-time.Hour), ExitReason: models.ExitTakeProfit, RealizedPnL: d("50"),
	})
	require.NoError(t, err)

	prices := &countingPrices{prices: map[market.PriceKey]decimal.Decimal{
		market.Key("hyperliquid", "BTC"): d("61000"),
	}}
	svc := &MarkToMarketService{Repo: repo, Prices: prices}
	n, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "inactive accounts holding positions are still marked")
	assert.Equal(t, 1, prices.batches, "one price batch per run")

	rows, err := repo.LatestMarkToMarket(ctx, []uint64{a.ID, b.ID, off.ID})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	byAccount := map[uint64]models.MarkToMarket{}
	for _, r := range rows {
		byAccount[r.AccountID] = r
	}

	ra := byAccount[a.ID]
	assert.True(t, ra.UnrealizedPnL.Equal(d("100")), ra.UnrealizedPnL.String())
	assert.True(t, ra.RealizedPnL.Equal(d("50")))
	assert.True(t, ra.TotalEquity.Equal(d("10150")))
	assert.Equal(t, 2, ra.OpenPositions)
	var bd models.Breakdown
	require.NoError(t, json.Unmarshal(ra.Breakdown, &bd))
	assert.Equal(t, []string{"hyperliquid:SOL"}, bd.MissingPrices)
	assert.True(t, bd.ByAsset["ETH"].RealizedPnL.Equal(d("50")))
	assert.True(t, bd.ByAsset["BTC"].UnrealizedPnL.Equal(d("100")))
	assert.Equal(t, 2, bd.ByStrategy["funding_rate"].OpenPositions)

	rb := byAccount[b.ID]
	assert.True(t, rb.UnrealizedPnL.IsZero())
	assert.True(t, rb.TotalEquity.Equal(d("10000")))

	roff := byAccount[off.ID]
	assert.True(t, roff.UnrealizedPnL.Equal(d("1000")), roff.UnrealizedPnL.String())
	assert.True(t, roff.TotalEquity.Equal(d("11000")))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("", true)
	require.NoError(t, err)
	return cfg
}

func TestBootstrapSplitsCapital(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	cfg := testConfig(t)
	cfg.Paper.InitialCapital = 10000
	svc := &AccountService{Repo: repo}

	accts, err := svc.Bootstrap(ctx, cfg)
	require.NoError(t, err)
	require.Len(t, accts, 2)
	assert.Equal(t, "funding_rate_hyperliquid", accts[0].Name)
	assert.Equal(t, "rsi_mean_reversion_hyperliquid", accts[1].Name)
	for _, a := range accts {
		assert.True(t, a.InitialCapital.Equal(d("5000")))
	}

	again, err := svc.Bootstrap(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, accts[0].ID, again[0].ID)
	all, err := repo.ListAccounts(ctx, repository.ListAccountsParams{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAccountServiceValidation(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	svc := &AccountService{Repo: repo}

	_, err := svc.CreateAccount(ctx, CreateAccountInput{Name: "x", Exchange: "hyperliquid", Strategy: "funding_rate"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	acct, err := svc.CreateAccount(ctx, CreateAccountInput{Name: "x", Exchange: "Hyperliquid", Strategy: "funding_rate", InitialCapital: 1000})
	require.NoError(t, err)
	assert.Equal(t, "hyperliquid", acct.Exchange)

	_, err = svc.UpdateAccount(ctx, 999, UpdateAccountInput{})
	assert.ErrorIs(t, err, ErrNotFound)

	inactive := false
	updated, err := svc.UpdateAccount(ctx, acct.ID, UpdateAccountInput{Active: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.Active)

	_, err = svc.CreatePortfolio(ctx, CreatePortfolioInput{Name: "p", AccountIDs: []uint64{999}})
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := svc.CreatePortfolio(ctx, CreatePortfolioInput{Name: "p", AccountIDs: []uint64{acct.ID}})
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, p.ID, acct.ID))
	members, err := repo.ListPortfolioMembers(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{acct.ID}, members)

	assert.ErrorIs(t, svc.AddMember(ctx, p.ID, 999), ErrNotFound)
	require.NoError(t, svc.RemoveMember(ctx, p.ID, acct.ID))
	require.NoError(t, svc.RemoveMember(ctx, p.ID, acct.ID))
	assert.ErrorIs(t, svc.RemoveMember(ctx, 999, acct.ID), ErrNotFound)
}

func TestEngineSetReconcile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := memory.New()
	a := seedAccount(t, repo, "a", true)
	seedAccount(t, repo, "b", true)
	seedAccount(t, repo, "flat_off", false)
	seedOpen(t, repo, a.ID, "BTC", models.DirectionLong, "60000", "0.1")

	cfg := testConfig(t)
	cfg.Engine.Interval = time.Hour
	set := &EngineSet{Repo: repo, Prices: &countingPrices{}, Config: cfg, Heartbeat: NewHeartbeat()}
	require.NoError(t, set.Reconcile(ctx))
	require.Len(t, set.Engines(), 2, "inactive flat accounts get no engine")
	engineFor := func(id uint64) *paper.Engine {
		for _, e := range set.Engines() {
			if e.Account.ID == id {
				return e
			}
		}
		return nil
	}
	ea := engineFor(a.ID)
	require.NotNil(t, ea)
	assert.False(t, ea.Draining())
	assert.Equal(t, 1, ea.Risk.Snapshot(time.Now()).Open("funding_rate"), "open slots restored")

	inactive := false
	_, err := repo.UpdateAccount(ctx, a.ID, repository.UpdateAccountParams{Active: &inactive})
	require.NoError(t, err)
	require.NoError(t, set.Reconcile(ctx))
	require.Len(t, set.Engines(), 2, "deactivated account keeps an engine while it holds positions")
	assert.Same(t, ea, engineFor(a.ID))
	assert.True(t, ea.Draining())

	status := models.PositionOpen
	open, err := repo.ListPositions(ctx, repository.ListPositionsParams{AccountIDs: []uint64{a.ID}, Status: &status})
	require.NoError(t, err)
	require.Len(t, open, 1)
	_, err = repo.ClosePosition(ctx, repository.ClosePositionParams{
		ID: open[0].ID, ExitPrice: d("60100"), ExitTime: time.Now(), ExitReason: models.ExitTimeout, RealizedPnL: d("10"),
	})
	require.NoError(t, err)
	require.NoError(t, set.Reconcile(ctx))
	engines := set.Engines()
	require.Len(t, engines, 1)
	assert.Equal(t, "b", engines[0].Account.Name)

	cancel()
	set.stopAll()
	set.wg.Wait()
}
