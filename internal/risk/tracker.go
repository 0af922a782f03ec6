package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Tracker owns the risk state of a single account. Check-and-reserve runs
// under its mutex; trackers of different accounts share nothing.
type Tracker struct {
	Limits Limits

	mu    sync.Mutex
	state State
}

func NewTracker(lim Limits) *Tracker {
	return &Tracker{Limits: lim, state: State{OpenByStrategy: map[string]int{}}}
}

// Reserve checks req and, when allowed, takes an open slot for req.Strategy.
// The caller must Release the slot if the position is not inserted.
func (t *Tracker) Reserve(req Request, now time.Time) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = t.state.Rolled(now)
	d := Check(t.state, req, t.Limits, now)
	if d.Allowed {
		t.openLocked()[req.Strategy]++
	}
	return d
}

// Release returns an open slot without recording a close.
func (t *Tracker) Release(strategy string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(strategy)
}

// RecordClose releases the slot held by a closed position. A losing close
// adds to today's loss, starts the cooldown and may pause the account.
func (t *Tracker) RecordClose(strategy string, pnl decimal.Decimal, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(strategy)
	t.state = t.state.Rolled(at)
	if !pnl.IsNegative() {
		return
	}
	t.state.DailyLoss = t.state.DailyLoss.Add(pnl.Neg())
	if until := at.Add(t.Limits.CooldownAfterLoss); until.After(t.state.CooldownUntil) {
		t.state.CooldownUntil = until
	}
	if t.Limits.MaxDailyLoss.IsPositive() && t.state.DailyLoss.GreaterThanOrEqual(t.Limits.MaxDailyLoss) {
		t.state.Paused = true
	}
}

// Restore replaces the state with counts rebuilt from the ledger.
// dailyLoss is a positive amount; lastLoss may be zero.
func (t *Tracker) Restore(openByStrategy map[string]int, dailyLoss decimal.Decimal, lastLoss time.Time, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	open := make(map[string]int, len(openByStrategy))
	for k, v := range openByStrategy {
		open[k] = v
	}
	st := State{Day: DayKey(now), DailyLoss: dailyLoss, OpenByStrategy: open}
	if !lastLoss.IsZero() && dailyLoss.IsPositive() {
		st.CooldownUntil = lastLoss.Add(t.Limits.CooldownAfterLoss)
	}
	if t.Limits.MaxDailyLoss.IsPositive() && dailyLoss.GreaterThanOrEqual(t.Limits.MaxDailyLoss) {
		st.Paused = true
	}
	t.state = st
}

// Snapshot returns a copy of the state as of now.
func (t *Tracker) Snapshot(now time.Time) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = t.state.Rolled(now)
	out := t.state
	out.OpenByStrategy = make(map[string]int, len(t.state.OpenByStrategy))
	for k, v := range t.state.OpenByStrategy {
		out.OpenByStrategy[k] = v
	}
	return out
}

func (t *Tracker) openLocked() map[string]int {
	if t.state.OpenByStrategy == nil {
		t.state.OpenByStrategy = map[string]int{}
	}
	return t.state.OpenByStrategy
}

func (t *Tracker) releaseLocked(strategy string) {
	open := t.openLocked()
	if open[strategy] > 0 {
		open[strategy]--
	}
}
