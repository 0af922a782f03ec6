package performance

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/cache"
	"papertrade/internal/models"
	"papertrade/internal/repository"
	"papertrade/internal/repository/memory"
)

var t0 = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func closedPos(acct uint64, asset, strategy, pnl string, entry time.Time, hold time.Duration) models.Position {
	exit := entry.Add(hold)
	v := d(pnl)
	px := d("100")
	reason := models.ExitTakeProfit
	return models.Position{
		AccountID: acct, Strategy: strategy, Asset: asset, Exchange: "hyperliquid",
		Direction: models.DirectionLong, EntryPrice: px, EntryTime: entry, Quantity: d("1"),
		ExitPrice: &px, ExitTime: &exit, ExitReason: &reason, RealizedPnL: &v,
		Status: models.PositionClosed,
	}
}

func TestComputeEmptyLedger(t *testing.T) {
	m := Compute(nil, nil)
	assert.Equal(t, 0, m.TotalTrades)
	assert.Zero(t, m.WinRate)
	assert.Zero(t, m.ProfitFactor)
	assert.Zero(t, m.Sharpe)
	assert.Zero(t, m.MaxDrawdownPct)
	assert.True(t, m.TotalPnL.IsZero())
}

func TestComputeTradeStats(t *testing.T) {
	closed := []models.Position{
		closedPos(1, "BTC", "funding_rate", "200", t0, time.Hour),
		closedPos(1, "BTC", "funding_rate", "-100", t0, 30*time.Minute),
		closedPos(1, "ETH", "funding_rate", "100", t0, 90*time.Minute),
		closedPos(1, "ETH", "funding_rate", "0", t0, 0),
	}
	m := Compute(closed, nil)
	assert.Equal(t, 4, m.TotalTrades)
	assert.Equal(t, 2, m.Wins)
	assert.Equal(t, 1, m.Losses)
	assert.InDelta(t, 0.5, m.WinRate, 1e-12)
	assert.InDelta(t, 3.0, m.ProfitFactor, 1e-12)
	assert.InDelta(t, 150, m.AvgWin, 1e-12)
	assert.InDelta(t, -100, m.AvgLoss, 1e-12)
	assert.InDelta(t, 25, m.Expectancy, 1e-12)
	assert.InDelta(t, 45, m.AvgHoldMinutes, 1e-12)
	assert.True(t, m.TotalPnL.Equal(d("200")))
}

func TestProfitFactorWithoutLossesIsZero(t *testing.T) {
	assert.Zero(t, ProfitFactor([]float64{10, 20}))
}

func TestMaxDrawdown(t *testing.T) {
	assert.Zero(t, MaxDrawdown([]float64{100, 100, 101, 105}))
	assert.InDelta(t, 20, MaxDrawdown([]float64{100, 120, 96, 110, 130, 117}), 1e-9)
	assert.Zero(t, MaxDrawdown(nil))
}

func TestDailyReturnsUseLastValuePerUTCDay(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	curve := []EquityPoint{
		{At: day.Add(23 * time.Hour), Equity: d("100")},
		{At: day.Add(1 * time.Hour), Equity: d("90")},
		{At: day.Add(24*time.Hour + time.Hour), Equity: d("105")},
		{At: day.Add(24*time.Hour + 23*time.Hour), Equity: d("110")},
		{At: day.Add(48 * time.Hour), Equity: d("99")},
	}
	r := DailyReturns(curve)
	require.Len(t, r, 2)
	assert.InDelta(t, 0.10, r[0], 1e-12)
	assert.InDelta(t, -0.10, r[1], 1e-12)

	assert.Nil(t, DailyReturns(curve[:2]), "one day has no return")
}

func TestSharpeAndSortino(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, 0.0}
	m := mean(returns)
	sd := stdev(returns)
	assert.InDelta(t, m/sd*math.Sqrt(252), Sharpe(returns), 1e-12)

	down := []float64{0, -0.02, 0, 0}
	assert.InDelta(t, m/stdev(down)*math.Sqrt(252), Sortino(returns), 1e-12)

	assert.Zero(t, Sharpe([]float64{0.01}))
	assert.Zero(t, Sharpe([]float64{0.01, 0.01}), "flat returns")
	assert.Zero(t, Sortino([]float64{0.01, 0.02}), "no downside")
}

type fixture struct {
	repo  *memory.Store
	cache *cache.MemoryStore
	agg   *Aggregator
	a, b  models.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()
	a := &models.Account{Name: "a", Exchange: "hyperliquid", Strategy: "funding_rate", InitialCapital: d("10000"), Active: true, CreatedAt: t0}
	b := &models.Account{Name: "b", Exchange: "hyperliquid", Strategy: "rsi_mean_reversion", InitialCapital: d("5000"), Active: true, CreatedAt: t0}
	require.NoError(t, repo.CreateAccount(ctx, a))
	require.NoError(t, repo.CreateAccount(ctx, b))
	store := cache.NewMemoryStore()
	now := t0.Add(time.Hour)
	store.Now = func() time.Time { return now }
	return &fixture{
		repo:  repo,
		cache: store,
		agg:   &Aggregator{Repo: repo, Cache: store, Now: func() time.Time { return now }},
		a:     *a,
		b:     *b,
	}
}

func (f *fixture) insertClosed(t *testing.T, p models.Position) {
	t.Helper()
	require.NoError(t, f.repo.InsertPosition(context.Background(), &p))
}

func (f *fixture) mark(t *testing.T, acct uint64, at time.Time, equity, unrealized string) {
	t.Helper()
	require.NoError(t, f.repo.InsertMarkToMarket(context.Background(), &models.MarkToMarket{
		AccountID: acct, At: at, TotalEquity: d(equity), UnrealizedPnL: d(unrealized),
	}))
}

func TestAccountSummaryUsesLatestMark(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insertClosed(t, closedPos(f.a.ID, "BTC", "funding_rate", "150", t0, time.Hour))
	require.NoError(t, f.repo.InsertPosition(ctx, &models.Position{
		AccountID: f.a.ID, Strategy: "funding_rate", Asset: "ETH", Exchange: "hyperliquid",
		Direction: models.DirectionLong, EntryPrice: d("3000"), EntryTime: t0, Quantity: d("1"),
		Status: models.PositionOpen,
	}))
	f.mark(t, f.a.ID, t0.Add(10*time.Minute), "10100", "-50")

	s, err := f.agg.AccountSummary(ctx, f.a.ID)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, s.RealizedPnL.Equal(d("150")))
	assert.True(t, s.UnrealizedPnL.Equal(d("-50")))
	assert.True(t, s.Equity.Equal(d("10100")))
	assert.InDelta(t, 1.0, s.ReturnPct, 1e-9)
	assert.Equal(t, 1, s.OpenPositions)
	assert.Equal(t, 1, s.Metrics.TotalTrades)
	require.NotNil(t, s.LastMarkAt)

	missing, err := f.agg.AccountSummary(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAccountSummaryIsCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first, err := f.agg.AccountSummary(ctx, f.a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Metrics.TotalTrades)

	f.insertClosed(t, closedPos(f.a.ID, "BTC", "funding_rate", "150", t0, time.Hour))
	again, err := f.agg.AccountSummary(ctx, f.a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Metrics.TotalTrades, "served from cache")

	later := t0.Add(time.Hour + DefaultTTL + time.Second)
	f.cache.Now = func() time.Time { return later }
	fresh, err := f.agg.AccountSummary(ctx, f.a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Metrics.TotalTrades)
}

func TestAccountEquityCurveStartsAtInitialCapital(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mark(t, f.a.ID, t0.Add(time.Minute), "10050", "50")
	f.mark(t, f.a.ID, t0.Add(2*time.Minute), "9950", "-50")

	curve, err := f.agg.AccountEquityCurve(ctx, f.a.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, curve, 3)
	assert.True(t, curve[0].Equity.Equal(d("10000")))
	assert.True(t, curve[2].Equity.Equal(d("9950")))

	since := t0.Add(90 * time.Second)
	windowed, err := f.agg.AccountEquityCurve(ctx, f.a.ID, &since, nil)
	require.NoError(t, err)
	require.Len(t, windowed, 1)
}

func TestPortfolioSummarySumsMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := &models.Portfolio{Name: "all"}
	require.NoError(t, f.repo.CreatePortfolio(ctx, p))
	require.NoError(t, f.repo.AddPortfolioMember(ctx, p.ID, f.a.ID))
	require.NoError(t, f.repo.AddPortfolioMember(ctx, p.ID, f.b.ID))

	f.insertClosed(t, closedPos(f.a.ID, "BTC", "funding_rate", "200", t0, time.Hour))
	f.insertClosed(t, closedPos(f.b.ID, "ETH", "rsi_mean_reversion", "-100", t0, time.Hour))

	s, err := f.agg.PortfolioSummary(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.ElementsMatch(t, []uint64{f.a.ID, f.b.ID}, s.AccountIDs)
	assert.True(t, s.InitialCapital.Equal(d("15000")))
	assert.True(t, s.Equity.Equal(d("15100")))
	assert.Equal(t, 2, s.Metrics.TotalTrades)
	assert.InDelta(t, 0.5, s.Metrics.WinRate, 1e-12)
	assert.InDelta(t, 2.0, s.Metrics.ProfitFactor, 1e-12)

	empty := &models.Portfolio{Name: "empty"}
	require.NoError(t, f.repo.CreatePortfolio(ctx, empty))
	es, err := f.agg.PortfolioSummary(ctx, empty.ID)
	require.NoError(t, err)
	assert.Empty(t, es.AccountIDs)
	assert.True(t, es.Equity.IsZero())
}

func TestPortfolioEquityCurveCarriesForward(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := &models.Portfolio{Name: "all"}
	require.NoError(t, f.repo.CreatePortfolio(ctx, p))
	require.NoError(t, f.repo.AddPortfolioMember(ctx, p.ID, f.a.ID))
	require.NoError(t, f.repo.AddPortfolioMember(ctx, p.ID, f.b.ID))

	f.mark(t, f.a.ID, t0.Add(time.Minute+5*time.Second), "10100", "100")
	f.mark(t, f.b.ID, t0.Add(time.Minute+40*time.Second), "4900", "-100")
	f.mark(t, f.a.ID, t0.Add(2*time.Minute), "10200", "200")

	curve, err := f.agg.PortfolioEquityCurve(ctx, p.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, curve, 2)
	assert.Equal(t, t0.Add(time.Minute), curve[0].At)
	assert.True(t, curve[0].Equity.Equal(d("15000")))
	assert.True(t, curve[1].Equity.Equal(d("15100")), "b carried forward at 4900")

	missing, err := f.agg.PortfolioEquityCurve(ctx, 999, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAssetPerformanceGroupsAcrossAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insertClosed(t, closedPos(f.a.ID, "BTC", "funding_rate", "200", t0, time.Hour))
	f.insertClosed(t, closedPos(f.b.ID, "BTC", "rsi_mean_reversion", "-50", t0, time.Hour))
	f.insertClosed(t, closedPos(f.b.ID, "ETH", "rsi_mean_reversion", "999", t0, time.Hour))

	perf, err := f.agg.AssetPerformance(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, "BTC", perf.Asset)
	assert.Equal(t, 2, perf.Metrics.TotalTrades)
	assert.Equal(t, 1, perf.ByStrategy["funding_rate"].TotalTrades)
	assert.Equal(t, 2, perf.ByExchange["hyperliquid"].TotalTrades)
	assert.True(t, perf.Metrics.TotalPnL.Equal(d("150")))
}

func TestOverviewSkipsInactiveAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	off := false
	_, err := f.repo.UpdateAccount(ctx, f.b.ID, repository.UpdateAccountParams{Active: &off})
	require.NoError(t, err)
	f.insertClosed(t, closedPos(f.a.ID, "BTC", "funding_rate", "200", t0, time.Hour))

	o, err := f.agg.Overview(ctx)
	require.NoError(t, err)
	require.Len(t, o.Accounts, 1)
	assert.True(t, o.Equity.Equal(d("10200")))
	assert.Equal(t, 1, o.TotalTrades)
}
