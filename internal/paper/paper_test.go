package paper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/config"
	"papertrade/internal/market"
	"papertrade/internal/models"
	"papertrade/internal/repository"
	"papertrade/internal/repository/memory"
	"papertrade/internal/risk"
)

var t0 = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEffectiveFraction(t *testing.T) {
	assert.Equal(t, 0.02, EffectiveFraction(0.02, 0.9, 0.5))
	assert.Equal(t, 0.02, EffectiveFraction(0.02, 0.5, 0.5))
	assert.InDelta(t, 0.008, EffectiveFraction(0.02, 0.4, 0.5), 1e-12)
	assert.Less(t, EffectiveFraction(0.02, 0.49, 0.5), 0.02)
	assert.Equal(t, 0.0, EffectiveFraction(0.02, 0, 0.5))
}

func TestSizeQuantityAtHighConfidence(t *testing.T) {
	qty, err := SizeQuantity(SizingInput{
		Equity: d("10000"), EntryPrice: d("60000"),
		RiskPct: 0.02, StopLossPct: 0.02, Confidence: 0.9, SafetyFactor: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "0.16666667", qty.String())
}

func TestSizeQuantityInvalid(t *testing.T) {
	base := SizingInput{Equity: d("10000"), EntryPrice: d("100"), RiskPct: 0.02, StopLossPct: 0.02, Confidence: 0.9, SafetyFactor: 0.5}
	cases := map[string]func(in *SizingInput){
		"zero entry":      func(in *SizingInput) { in.EntryPrice = decimal.Zero },
		"negative equity": func(in *SizingInput) { in.Equity = d("-1") },
		"zero stop":       func(in *SizingInput) { in.StopLossPct = 0 },
		"zero confidence": func(in *SizingInput) { in.Confidence = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			_, err := SizeQuantity(in)
			assert.ErrorIs(t, err, ErrInvalidSize)
		})
	}
}

func TestFillsAndFees(t *testing.T) {
	slip := d("0.001")
	assert.True(t, EntryFill(d("100"), models.DirectionLong, slip).Equal(d("100.1")))
	assert.True(t, EntryFill(d("100"), models.DirectionShort, slip).Equal(d("99.9")))
	assert.True(t, ExitFill(d("100"), models.DirectionLong, slip).Equal(d("99.9")))
	assert.True(t, ExitFill(d("100"), models.DirectionShort, slip).Equal(d("100.1")))

	pos := models.Position{Direction: models.DirectionLong, EntryPrice: d("2000"), Quantity: d("1")}
	pnl, fees := RealizedPnL(pos, d("2200"), d("0.0005"))
	assert.True(t, fees.Equal(d("2.1")), fees.String())
	assert.True(t, pnl.Equal(d("197.9")), pnl.String())

	short := models.Position{Direction: models.DirectionShort, EntryPrice: d("100"), Quantity: d("2")}
	assert.True(t, UnrealizedPnL(short, d("90")).Equal(d("20")))
}

func TestExitPriority(t *testing.T) {
	rules := ExitRules{StopLossPct: 0.02, TakeProfitPct: 0.04, MaxHold: time.Hour}
	long := models.Position{Direction: models.DirectionLong, EntryPrice: d("100"), EntryTime: t0}
	short := models.Position{Direction: models.DirectionShort, EntryPrice: d("100"), EntryTime: t0}

	r, ok := rules.ExitReason(long, d("98"), t0.Add(2*time.Hour))
	require.True(t, ok)
	assert.Equal(t, models.ExitStopLoss, r, "stop loss beats timeout")

	r, _ = rules.ExitReason(long, d("104"), t0)
	assert.Equal(t, models.ExitTakeProfit, r)
	r, _ = rules.ExitReason(short, d("102"), t0)
	assert.Equal(t, models.ExitStopLoss, r)
	r, _ = rules.ExitReason(short, d("96"), t0)
	assert.Equal(t, models.ExitTakeProfit, r)

	_, ok = rules.ExitReason(long, d("101"), t0.Add(59*time.Minute))
	assert.False(t, ok)
	r, _ = rules.ExitReason(long, d("101"), t0.Add(time.Hour))
	assert.Equal(t, models.ExitTimeout, r)
}

type harness struct {
	repo   *memory.Store
	oracle *market.Oracle
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{repo: memory.New(), now: t0}
	h.oracle = market.NewOracle(h.repo, nil, nil)
	h.oracle.Now = func() time.Time { return h.now }
	return h
}

func (h *harness) price(asset, px string) {
	h.oracle.Set("hyperliquid", asset, d(px), h.now)
}

func (h *harness) account(t *testing.T, name string) models.Account {
	t.Helper()
	acct := &models.Account{Name: name, Exchange: "hyperliquid", Strategy: "funding_rate", InitialCapital: d("10000"), Active: true}
	require.NoError(t, h.repo.CreateAccount(context.Background(), acct))
	return *acct
}

func (h *harness) engine(acct models.Account, exposurePct float64) *Engine {
	tracker := risk.NewTracker(risk.Limits{
		MaxPositionsPerStrategy: 3,
		MaxTotalExposurePct:     decimal.NewFromFloat(exposurePct),
		CooldownAfterLoss:       5 * time.Minute,
	})
	cfg := Config{
		RiskPct:           0.02,
		MinConfidence:     0.3,
		KellySafetyFactor: 0.5,
		Exits:             ExitRules{StopLossPct: 0.02, TakeProfitPct: 0.02, MaxHold: 4 * time.Hour},
	}
	e := NewEngine(acct, h.repo, h.oracle, tracker, cfg, nil)
	e.Now = func() time.Time { return h.now }
	return e
}

func (h *harness) signal(t *testing.T, dir string, conf float64) models.Signal {
	t.Helper()
	sig := &models.Signal{
		Strategy: "funding_rate", Asset: "BTC", Exchange: "hyperliquid",
		Direction: dir, Confidence: conf, EntryPrice: d("60000"), CreatedAt: h.now,
	}
	require.NoError(t, h.repo.InsertSignal(context.Background(), sig))
	return *sig
}

func (h *harness) positions(t *testing.T, status string) []models.Position {
	t.Helper()
	params := repository.ListPositionsParams{}
	if status != "" {
		params.Status = &status
	}
	items, err := h.repo.ListPositions(context.Background(), params)
	require.NoError(t, err)
	return items
}

func TestEngineOpensAndTakesProfit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(h.account(t, "funding_rate_hyperliquid"), 2.0)
	h.price("BTC", "60000")
	sig := h.signal(t, models.DirectionLong, 0.9)

	res, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Claimed)
	assert.Equal(t, 1, res.Opened)

	open := h.positions(t, models.PositionOpen)
	require.Len(t, open, 1)
	assert.Equal(t, "0.16666667", open[0].Quantity.String())
	require.NotNil(t, open[0].SignalID)
	assert.Equal(t, sig.ID, *open[0].SignalID)

	h.now = h.now.Add(10 * time.Minute)
	h.price("BTC", "61200")
	res, err = e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)

	closed := h.positions(t, models.PositionClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitTakeProfit, *closed[0].ExitReason)
	assert.InDelta(t, 200, closed[0].RealizedPnL.InexactFloat64(), 0.001)
}

func TestEngineRiskRejectionKeepsClaim(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(h.account(t, "acct"), 0.5)
	h.price("BTC", "60000")
	h.signal(t, models.DirectionLong, 0.9)

	res, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	assert.Empty(t, h.positions(t, ""))

	unclaimed, err := h.repo.ListUnclaimedSignals(ctx, "hyperliquid", "funding_rate", 10)
	require.NoError(t, err)
	assert.Empty(t, unclaimed)
	assert.Equal(t, 0, e.Risk.Snapshot(h.now).Open("funding_rate"))
}

func TestEnginePassAndLowConfidenceOpenNothing(t *testing.T) {
	h := newHarness(t)
	e := h.engine(h.account(t, "acct"), 2.0)
	h.price("BTC", "60000")
	h.signal(t, models.DirectionPass, 0)
	h.signal(t, models.DirectionLong, 0.1)
	h.signal(t, models.DirectionLong, 0.3)

	res, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Claimed, "passes are never claimable")
	assert.Equal(t, 0, res.Rejected, "confidence at the minimum is not acted on")
	assert.Equal(t, 0, res.Opened)
	assert.Empty(t, h.positions(t, ""))
}

func TestEnginesRacingForOneSignal(t *testing.T) {
	h := newHarness(t)
	engines := []*Engine{
		h.engine(h.account(t, "a"), 2.0),
		h.engine(h.account(t, "b"), 2.0),
		h.engine(h.account(t, "c"), 2.0),
	}
	h.price("BTC", "60000")
	h.signal(t, models.DirectionLong, 0.9)

	var wg sync.WaitGroup
	for _, e := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			_, err := e.Tick(context.Background())
			assert.NoError(t, err)
		}(e)
	}
	wg.Wait()
	assert.Len(t, h.positions(t, ""), 1)
}

func TestEngineSignalReverse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(h.account(t, "acct"), 2.0)
	h.price("BTC", "60000")
	h.signal(t, models.DirectionLong, 0.9)
	_, err := e.Tick(ctx)
	require.NoError(t, err)

	h.now = h.now.Add(time.Minute)
	h.price("BTC", "60600")
	h.signal(t, models.DirectionShort, 0.9)
	res, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Opened)
	assert.Equal(t, 1, res.Closed)

	closed := h.positions(t, models.PositionClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitSignalReverse, *closed[0].ExitReason)
	assert.Equal(t, models.DirectionLong, closed[0].Direction)
	assert.True(t, closed[0].RealizedPnL.IsPositive())

	open := h.positions(t, models.PositionOpen)
	require.Len(t, open, 1)
	assert.Equal(t, models.DirectionShort, open[0].Direction)
	assert.Equal(t, 1, e.Risk.Snapshot(h.now).Open("funding_rate"))
}

func TestEngineSkipsExitWithoutPrice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(h.account(t, "acct"), 2.0)
	h.price("BTC", "60000")
	h.signal(t, models.DirectionLong, 0.9)
	_, err := e.Tick(ctx)
	require.NoError(t, err)

	// Past max hold, but the cached quote is stale and there are no candles.
	h.now = h.now.Add(5 * time.Hour)
	res, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Closed)
	assert.Len(t, h.positions(t, models.PositionOpen), 1)

	h.price("BTC", "60100")
	res, err = e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, models.ExitTimeout, *h.positions(t, models.PositionClosed)[0].ExitReason)
}

func TestEngineRestore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	acct := h.account(t, "acct")
	for i := 0; i < 2; i++ {
		require.NoError(t, h.repo.InsertPosition(ctx, &models.Position{
			AccountID: acct.ID, Strategy: "funding_rate", Asset: "ETH", Exchange: "hyperliquid",
			Direction: models.DirectionLong, EntryPrice: d("3000"), EntryTime: t0.Add(-time.Hour), Quantity: d("1"),
			Status: models.PositionOpen,
		}))
	}
	lossy := &models.Position{
		AccountID: acct.ID, Strategy: "funding_rate", Asset: "SOL", Exchange: "hyperliquid",
		Direction: models.DirectionLong, EntryPrice: d("150"), EntryTime: t0.Add(-2 * time.Hour), Quantity: d("1"),
		Status: models.PositionOpen,
	}
	require.NoError(t, h.repo.InsertPosition(ctx, lossy))
	ok, err := h.repo.ClosePosition(ctx, repository.ClosePositionParams{
		ID: lossy.ID, ExitPrice: d("140"), ExitTime: t0.Add(-2 * time.Minute),
		ExitReason: models.ExitStopLoss, RealizedPnL: d("-10"),
	})
	require.NoError(t, err)
	require.True(t, ok)

	e := h.engine(acct, 2.0)
	require.NoError(t, e.Restore(ctx, true))
	st := e.Risk.Snapshot(h.now)
	assert.Equal(t, 2, st.Open("funding_rate"))
	assert.True(t, st.DailyLoss.Equal(d("10")))
	assert.Equal(t, t0.Add(3*time.Minute), st.CooldownUntil)
}

func TestDefaultConfigOpensHighConfidenceLong(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Load("", true)
	require.NoError(t, err)

	h := newHarness(t)
	acct := h.account(t, "funding_rate_hyperliquid")
	tracker := risk.NewTracker(risk.LimitsFromConfig(cfg.Risk, cfg.MaxDailyLossFor(acct.Strategy)))
	e := NewEngine(acct, h.repo, h.oracle, tracker, ConfigFor(cfg, acct.Exchange), nil)
	e.Now = func() time.Time { return h.now }

	h.price("BTC", "60000")
	h.signal(t, models.DirectionLong, 0.9)
	res, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Opened)
	assert.Equal(t, 0, res.Rejected)

	open := h.positions(t, models.PositionOpen)
	require.Len(t, open, 1)
	// 200 at risk over a 5% stop from the 60060 fill.
	assert.Equal(t, "60060", open[0].EntryPrice.String())
	assert.Equal(t, "0.06660007", open[0].Quantity.String())
	assert.True(t, open[0].Notional().LessThanOrEqual(d("5000")))

	h.signal(t, models.DirectionLong, 0.2)
	res, err = e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Opened, "a second, smaller position still fits under the cap")

	h.now = h.now.Add(10 * time.Minute)
	h.price("BTC", "66100")
	res, err = e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Closed)
	for _, p := range h.positions(t, models.PositionClosed) {
		assert.Equal(t, models.ExitTakeProfit, *p.ExitReason)
		assert.True(t, p.RealizedPnL.IsPositive())
	}
}

func TestDrainingEngineOnlyClosesPositions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(h.account(t, "acct"), 2.0)
	h.price("BTC", "60000")
	h.signal(t, models.DirectionLong, 0.9)
	_, err := e.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, h.positions(t, models.PositionOpen), 1)

	e.SetDraining(true)
	sig := h.signal(t, models.DirectionLong, 0.9)
	h.now = h.now.Add(time.Minute)
	h.price("BTC", "61200")
	res, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed)
	assert.Equal(t, 1, res.Closed)
	assert.Empty(t, h.positions(t, models.PositionOpen))

	unclaimed, err := h.repo.ListUnclaimedSignals(ctx, "hyperliquid", "funding_rate", 10)
	require.NoError(t, err)
	require.Len(t, unclaimed, 1)
	assert.Equal(t, sig.ID, unclaimed[0].ID)
}
