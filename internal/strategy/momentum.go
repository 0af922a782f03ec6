package strategy

import (
	"encoding/json"
	"math"
	"sync"

	"papertrade/internal/market"
	"papertrade/internal/models"
)

// MomentumBreakoutStrategy follows closes outside the Bollinger bands when
// the last candle's volume is a spike over the window average.
type MomentumBreakoutStrategy struct {
	mu         sync.RWMutex
	BBPeriod   int
	BBStd      float64
	VolumeMult float64
}

func (s *MomentumBreakoutStrategy) Name() string { return "momentum_breakout" }

func (s *MomentumBreakoutStrategy) DefaultParams() json.RawMessage {
	return json.RawMessage(`{"bb_period":20,"bb_std":2,"volume_mult":1.5}`)
}

func (s *MomentumBreakoutStrategy) SetParams(raw json.RawMessage) error {
	var p struct {
		BBPeriod   *int     `json:"bb_period"`
		BBStd      *float64 `json:"bb_std"`
		VolumeMult *float64 `json:"volume_mult"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.BBPeriod != nil {
		s.BBPeriod = *p.BBPeriod
	}
	if p.BBStd != nil {
		s.BBStd = *p.BBStd
	}
	if p.VolumeMult != nil {
		s.VolumeMult = *p.VolumeMult
	}
	return nil
}

func (s *MomentumBreakoutStrategy) Evaluate(snap market.Snapshot) (*Signal, error) {
	s.mu.RLock()
	period, numStd, volumeMult := s.BBPeriod, s.BBStd, s.VolumeMult
	s.mu.RUnlock()
	if period <= 1 {
		period = 20
	}
	if numStd <= 0 {
		numStd = 2
	}
	if volumeMult <= 0 {
		volumeMult = 1.5
	}
	if len(snap.Candles) < period {
		return nil, nil
	}

	closes := make([]float64, len(snap.Candles))
	for i, c := range snap.Candles {
		closes[i] = c.Close.InexactFloat64()
	}
	lower, middle, upper, ok := BollingerBands(closes, period, numStd)
	if !ok {
		return nil, nil
	}

	var avgVolume float64
	for _, c := range snap.Candles[len(snap.Candles)-period:] {
		avgVolume += c.Volume.InexactFloat64()
	}
	avgVolume /= float64(period)
	last := snap.Candles[len(snap.Candles)-1]
	volume := last.Volume.InexactFloat64()
	if avgVolume <= 0 || volume <= volumeMult*avgVolume {
		return nil, nil
	}

	price := closes[len(closes)-1]
	var direction string
	var confidence float64
	switch {
	case price > upper:
		direction = models.DirectionLong
		if width := upper - middle; width > 0 {
			confidence = (price - upper) / width
		}
	case price < lower:
		direction = models.DirectionShort
		if width := middle - lower; width > 0 {
			confidence = (lower - price) / width
		}
	default:
		return nil, nil
	}
	return &Signal{
		Exchange:   market.ExchangeHyperliquid,
		Direction:  direction,
		Confidence: clamp01(confidence),
		EntryPrice: last.Close,
		Metadata: map[string]any{
			"bb_lower":     round2(lower),
			"bb_middle":    round2(middle),
			"bb_upper":     round2(upper),
			"volume":       last.Volume.String(),
			"avg_volume":   round2(avgVolume),
			"volume_ratio": round2(volume / avgVolume),
		},
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
