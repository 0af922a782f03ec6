package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/config"
)

const (
	ReasonDailyLoss    = "daily_loss_pause"
	ReasonCooldown     = "cooldown"
	ReasonMaxPositions = "max_positions"
	ReasonExposure     = "exposure_cap"
)

// Limits are the per-account thresholds the gate enforces.
type Limits struct {
	MaxPositionsPerStrategy int
	MaxTotalExposurePct     decimal.Decimal
	// MaxDailyLoss is a positive amount; zero disables the pause.
	MaxDailyLoss      decimal.Decimal
	CooldownAfterLoss time.Duration
}

// LimitsFromConfig resolves limits for one account. maxDailyLoss is the
// strategy-specific value from config.Config.MaxDailyLossFor.
func LimitsFromConfig(cfg config.RiskConfig, maxDailyLoss float64) Limits {
	return Limits{
		MaxPositionsPerStrategy: cfg.MaxPositionsPerStrategy,
		MaxTotalExposurePct:     decimal.NewFromFloat(cfg.MaxTotalExposurePct),
		MaxDailyLoss:            decimal.NewFromFloat(maxDailyLoss),
		CooldownAfterLoss:       cfg.CooldownAfterLoss,
	}
}

// State is one account's risk bookkeeping for the current UTC day.
type State struct {
	Day            string
	DailyLoss      decimal.Decimal
	CooldownUntil  time.Time
	Paused         bool
	OpenByStrategy map[string]int
}

// DayKey is the UTC calendar date of t.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Rolled returns s with day counters reset when now falls on a later UTC day.
// Open slots and cooldown carry over.
func (s State) Rolled(now time.Time) State {
	day := DayKey(now)
	if s.Day == day {
		return s
	}
	out := s
	out.Day = day
	out.DailyLoss = decimal.Zero
	out.Paused = false
	return out
}

func (s State) Open(strategy string) int {
	return s.OpenByStrategy[strategy]
}

// Request describes a position about to be opened.
type Request struct {
	Strategy string
	// Notional is entry price times quantity of the proposed position.
	Notional decimal.Decimal
	// OpenExposure is the notional sum of the account's open positions.
	OpenExposure decimal.Decimal
	Equity       decimal.Decimal
}

type Decision struct {
	Allowed bool
	Reason  string
	Detail  string
}

func allow() Decision { return Decision{Allowed: true} }

func reject(reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Check evaluates the gate in fixed order and stops at the first failure.
// It depends only on its arguments.
func Check(state State, req Request, lim Limits, now time.Time) Decision {
	state = state.Rolled(now)

	if state.Paused || (lim.MaxDailyLoss.IsPositive() && state.DailyLoss.GreaterThanOrEqual(lim.MaxDailyLoss)) {
		return reject(ReasonDailyLoss, "daily loss %s >= limit %s", state.DailyLoss.StringFixed(2), lim.MaxDailyLoss.StringFixed(2))
	}
	if now.Before(state.CooldownUntil) {
		return reject(ReasonCooldown, "cooling down until %s", state.CooldownUntil.UTC().Format(time.RFC3339))
	}
	if lim.MaxPositionsPerStrategy > 0 && state.Open(req.Strategy) >= lim.MaxPositionsPerStrategy {
		return reject(ReasonMaxPositions, "%d open positions for %s", state.Open(req.Strategy), req.Strategy)
	}
	limit := req.Equity.Mul(lim.MaxTotalExposurePct)
	total := req.OpenExposure.Add(req.Notional)
	if total.GreaterThan(limit) {
		return reject(ReasonExposure, "exposure %s > limit %s", total.StringFixed(2), limit.StringFixed(2))
	}
	return allow()
}
