package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/models"
	"papertrade/internal/repository"
)

func TestClaimSignalIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	sig := &models.Signal{Strategy: "funding_rate", Asset: "BTC", Exchange: "hyperliquid", Direction: models.DirectionLong}
	require.NoError(t, s.InsertSignal(ctx, sig))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(account uint64) {
			defer wg.Done()
			ok, err := s.ClaimSignal(ctx, sig.ID, account, time.Now())
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(uint64(i + 1))
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	left, err := s.ListUnclaimedSignals(ctx, "hyperliquid", "funding_rate", 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestListUnclaimedSignalsSkipsPassesAndOtherScopes(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	for _, sig := range []models.Signal{
		{Strategy: "funding_rate", Asset: "BTC", Exchange: "hyperliquid", Direction: models.DirectionShort, CreatedAt: now.Add(time.Second)},
		{Strategy: "funding_rate", Asset: "ETH", Exchange: "hyperliquid", Direction: models.DirectionLong, CreatedAt: now},
		{Strategy: "funding_rate", Asset: "BTC", Exchange: "hyperliquid", Direction: models.DirectionPass, CreatedAt: now},
		{Strategy: "funding_rate", Asset: "BTC", Exchange: "polymarket", Direction: models.DirectionLong, CreatedAt: now},
		{Strategy: "rsi_mean_reversion", Asset: "BTC", Exchange: "hyperliquid", Direction: models.DirectionLong, CreatedAt: now},
	} {
		sig := sig
		require.NoError(t, s.InsertSignal(ctx, &sig))
	}

	out, err := s.ListUnclaimedSignals(ctx, "hyperliquid", "funding_rate", 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "ETH", out[0].Asset, "oldest first")
	assert.Equal(t, "BTC", out[1].Asset)
}

func TestClosePositionOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	pos := &models.Position{AccountID: 1, Strategy: "funding_rate", Asset: "BTC", Direction: models.DirectionLong,
		EntryPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), EntryTime: time.Now()}
	require.NoError(t, s.InsertPosition(ctx, pos))

	ok, err := s.ClosePosition(ctx, repository.ClosePositionParams{ID: pos.ID, ExitPrice: decimal.NewFromInt(110),
		ExitTime: time.Now(), ExitReason: models.ExitTakeProfit, RealizedPnL: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClosePosition(ctx, repository.ClosePositionParams{ID: pos.ID, ExitPrice: decimal.NewFromInt(50),
		ExitTime: time.Now(), ExitReason: models.ExitStopLoss, RealizedPnL: decimal.NewFromInt(-50)})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExitTakeProfit, *got.ExitReason)
	assert.True(t, got.RealizedPnL.Equal(decimal.NewFromInt(10)))

	sum, err := s.SumRealizedPnL(ctx, 1)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(10)))
}

func TestInsertPositionRejectsSecondPositionForSignal(t *testing.T) {
	ctx := context.Background()
	s := New()
	sigID := uint64(7)
	require.NoError(t, s.InsertPosition(ctx, &models.Position{AccountID: 1, SignalID: &sigID}))
	assert.Error(t, s.InsertPosition(ctx, &models.Position{AccountID: 2, SignalID: &sigID}))
}

func TestPortfolioMembershipIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	acct := &models.Account{Name: "a", Exchange: "hyperliquid", Strategy: "funding_rate", InitialCapital: decimal.NewFromInt(100), Active: true}
	require.NoError(t, s.CreateAccount(ctx, acct))
	pf := &models.Portfolio{Name: "core"}
	require.NoError(t, s.CreatePortfolio(ctx, pf))

	require.NoError(t, s.AddPortfolioMember(ctx, pf.ID, acct.ID))
	require.NoError(t, s.AddPortfolioMember(ctx, pf.ID, acct.ID))
	ids, err := s.ListPortfolioMembers(ctx, pf.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{acct.ID}, ids)

	require.NoError(t, s.RemovePortfolioMember(ctx, pf.ID, acct.ID))
	require.NoError(t, s.RemovePortfolioMember(ctx, pf.ID, acct.ID))
	ids, err = s.ListPortfolioMembers(ctx, pf.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCreatePortfolioWithMembersIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	acct := &models.Account{Name: "a", Exchange: "hyperliquid", Strategy: "funding_rate", InitialCapital: decimal.NewFromInt(100), Active: true}
	require.NoError(t, s.CreateAccount(ctx, acct))

	assert.Error(t, s.CreatePortfolio(ctx, &models.Portfolio{Name: "bad"}, acct.ID, acct.ID+100))
	all, err := s.ListPortfolios(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "a failed create leaves nothing behind")

	pf := &models.Portfolio{Name: "core"}
	require.NoError(t, s.CreatePortfolio(ctx, pf, acct.ID, acct.ID))
	ids, err := s.ListPortfolioMembers(ctx, pf.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{acct.ID}, ids)
}

func TestEnsureAccountReturnsExisting(t *testing.T) {
	ctx := context.Background()
	s := New()
	first, created, err := s.EnsureAccount(ctx, &models.Account{Name: "funding_rate_hyperliquid", InitialCapital: decimal.NewFromInt(5000)})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.EnsureAccount(ctx, &models.Account{Name: "funding_rate_hyperliquid", InitialCapital: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.InitialCapital.Equal(decimal.NewFromInt(5000)))
}
