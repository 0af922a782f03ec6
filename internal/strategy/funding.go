package strategy

import (
	"encoding/json"
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"papertrade/internal/market"
	"papertrade/internal/models"
)

// FundingRateStrategy fades extreme perpetual funding. Longs paying above
// the threshold is a SHORT, shorts paying below -threshold is a LONG.
type FundingRateStrategy struct {
	mu        sync.RWMutex
	Threshold float64
}

func (s *FundingRateStrategy) Name() string { return "funding_rate" }

func (s *FundingRateStrategy) DefaultParams() json.RawMessage {
	return json.RawMessage(`{"threshold":0.0012}`)
}

func (s *FundingRateStrategy) SetParams(raw json.RawMessage) error {
	var p struct {
		Threshold *float64 `json:"threshold"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Threshold != nil {
		s.Threshold = *p.Threshold
	}
	return nil
}

func (s *FundingRateStrategy) Evaluate(snap market.Snapshot) (*Signal, error) {
	s.mu.RLock()
	threshold := s.Threshold
	s.mu.RUnlock()
	if threshold <= 0 {
		threshold = 0.0012
	}
	return fadeFunding(snap, threshold, 3), nil
}

// FundingArbStrategy collects funding on smaller imbalances than
// FundingRateStrategy. Confidence saturates at four times the threshold.
type FundingArbStrategy struct {
	mu        sync.RWMutex
	Threshold float64
}

func (s *FundingArbStrategy) Name() string { return "funding_arb" }

func (s *FundingArbStrategy) DefaultParams() json.RawMessage {
	return json.RawMessage(`{"threshold":0.0005}`)
}

func (s *FundingArbStrategy) SetParams(raw json.RawMessage) error {
	var p struct {
		Threshold *float64 `json:"threshold"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Threshold != nil {
		s.Threshold = *p.Threshold
	}
	return nil
}

func (s *FundingArbStrategy) Evaluate(snap market.Snapshot) (*Signal, error) {
	s.mu.RLock()
	threshold := s.Threshold
	s.mu.RUnlock()
	if threshold <= 0 {
		threshold = 0.0005
	}
	return fadeFunding(snap, threshold, 4), nil
}

// fadeFunding positions against the side paying funding once the latest
// rate is beyond threshold. Confidence reaches 1 at scale × threshold.
func fadeFunding(snap market.Snapshot, threshold, scale float64) *Signal {
	latest, ok := snap.LatestFunding()
	if !ok {
		return nil
	}
	rate := latest.FundingRate.InexactFloat64()
	var direction string
	switch {
	case rate > threshold:
		direction = models.DirectionShort
	case rate < -threshold:
		direction = models.DirectionLong
	default:
		return nil
	}
	entry := decimal.Zero
	if latest.MarkPrice != nil {
		entry = *latest.MarkPrice
	}
	return &Signal{
		Exchange:   market.ExchangeHyperliquid,
		Direction:  direction,
		Confidence: clamp01(math.Abs(rate) / (threshold * scale)),
		EntryPrice: entry,
		Metadata: map[string]any{
			"funding_rate": latest.FundingRate.String(),
			"threshold":    threshold,
		},
	}
}
