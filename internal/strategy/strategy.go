package strategy

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"

	"papertrade/internal/market"
)

// Strategy turns a market snapshot into a trade intent. A nil Signal with a
// nil error is a pass.
type Strategy interface {
	Name() string
	DefaultParams() json.RawMessage
	SetParams(raw json.RawMessage) error
	Evaluate(snap market.Snapshot) (*Signal, error)
}

// Signal is what a strategy emits before the orchestrator stamps and persists it.
type Signal struct {
	Exchange   string
	Direction  string
	Confidence float64
	EntryPrice decimal.Decimal
	Metadata   map[string]any
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
