package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/config"
)

var day1 = time.Date(2025, 6, 15, 22, 0, 0, 0, time.UTC)

func limits() Limits {
	return LimitsFromConfig(config.RiskConfig{
		MaxPositionsPerStrategy: 3,
		MaxTotalExposurePct:     0.5,
		CooldownAfterLoss:       5 * time.Minute,
	}, 500)
}

func req(notional int64) Request {
	return Request{
		Strategy:     "funding_rate",
		Notional:     decimal.NewFromInt(notional),
		OpenExposure: decimal.Zero,
		Equity:       decimal.NewFromInt(10000),
	}
}

func TestCheckExposureBoundary(t *testing.T) {
	st := State{Day: DayKey(day1)}
	assert.True(t, Check(st, req(5000), limits(), day1).Allowed, "exactly at the limit is allowed")

	d := Check(st, req(5001), limits(), day1)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonExposure, d.Reason)

	r := req(1000)
	r.OpenExposure = decimal.NewFromInt(4500)
	assert.Equal(t, ReasonExposure, Check(st, r, limits(), day1).Reason)
}

func TestCheckMaxPositions(t *testing.T) {
	st := State{Day: DayKey(day1), OpenByStrategy: map[string]int{"funding_rate": 3, "other": 1}}
	d := Check(st, req(10), limits(), day1)
	assert.Equal(t, ReasonMaxPositions, d.Reason)

	st.OpenByStrategy["funding_rate"] = 2
	assert.True(t, Check(st, req(10), limits(), day1).Allowed)
}

func TestCheckOrderShortCircuits(t *testing.T) {
	st := State{
		Day:            DayKey(day1),
		DailyLoss:      decimal.NewFromInt(600),
		CooldownUntil:  day1.Add(time.Minute),
		OpenByStrategy: map[string]int{"funding_rate": 9},
	}
	assert.Equal(t, ReasonDailyLoss, Check(st, req(99999), limits(), day1).Reason)

	st.DailyLoss = decimal.Zero
	assert.Equal(t, ReasonCooldown, Check(st, req(99999), limits(), day1).Reason)

	st.CooldownUntil = time.Time{}
	assert.Equal(t, ReasonMaxPositions, Check(st, req(99999), limits(), day1).Reason)
}

func TestCheckIsPure(t *testing.T) {
	st := State{Day: DayKey(day1), OpenByStrategy: map[string]int{"funding_rate": 1}}
	a := Check(st, req(100), limits(), day1)
	b := Check(st, req(100), limits(), day1)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, st.OpenByStrategy["funding_rate"])
}

func TestCooldownExpiresAfterFiveMinutes(t *testing.T) {
	tr := NewTracker(limits())
	require.True(t, tr.Reserve(req(100), day1).Allowed)
	tr.RecordClose("funding_rate", decimal.NewFromInt(-10), day1)

	d := tr.Reserve(req(100), day1.Add(4*time.Minute+59*time.Second))
	assert.Equal(t, ReasonCooldown, d.Reason)

	assert.True(t, tr.Reserve(req(100), day1.Add(5*time.Minute)).Allowed)
}

func TestDailyLossPausesUntilUTCRollover(t *testing.T) {
	tr := NewTracker(limits())
	for i := 0; i < 2; i++ {
		require.True(t, tr.Reserve(req(100), day1.Add(time.Duration(i)*10*time.Minute)).Allowed)
		tr.RecordClose("funding_rate", decimal.NewFromInt(-250), day1.Add(time.Duration(i)*10*time.Minute))
	}
	st := tr.Snapshot(day1.Add(30 * time.Minute))
	assert.True(t, st.Paused)
	assert.True(t, st.DailyLoss.Equal(decimal.NewFromInt(500)))

	late := time.Date(2025, 6, 15, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, ReasonDailyLoss, tr.Reserve(req(100), late).Reason)

	next := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	assert.True(t, tr.Reserve(req(100), next).Allowed)
	assert.False(t, tr.Snapshot(next).Paused)
}

func TestWinningCloseOnlyReleasesSlot(t *testing.T) {
	tr := NewTracker(limits())
	for i := 0; i < 3; i++ {
		require.True(t, tr.Reserve(req(100), day1).Allowed)
	}
	assert.Equal(t, ReasonMaxPositions, tr.Reserve(req(100), day1).Reason)

	tr.RecordClose("funding_rate", decimal.NewFromInt(50), day1)
	st := tr.Snapshot(day1)
	assert.Equal(t, 2, st.Open("funding_rate"))
	assert.True(t, st.CooldownUntil.IsZero())
	assert.True(t, tr.Reserve(req(100), day1).Allowed)
}

func TestConcurrentReserveRespectsSlots(t *testing.T) {
	tr := NewTracker(limits())
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Reserve(req(10), day1).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, allowed)
}

func TestRestore(t *testing.T) {
	tr := NewTracker(limits())
	tr.Restore(map[string]int{"funding_rate": 3}, decimal.NewFromInt(100), day1.Add(-time.Minute), day1)
	st := tr.Snapshot(day1)
	assert.Equal(t, 3, st.Open("funding_rate"))
	assert.False(t, st.Paused)
	assert.Equal(t, ReasonCooldown, tr.Reserve(req(10), day1).Reason)

	tr.Restore(nil, decimal.NewFromInt(500), time.Time{}, day1)
	assert.Equal(t, ReasonDailyLoss, tr.Reserve(req(10), day1).Reason)
}
