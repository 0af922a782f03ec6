package strategy

import (
	"encoding/json"
	"math"
	"sync"

	"papertrade/internal/market"
	"papertrade/internal/models"
)

// RSIMeanReversionStrategy fades overbought and oversold RSI readings.
type RSIMeanReversionStrategy struct {
	mu         sync.RWMutex
	Period     int
	Overbought float64
	Oversold   float64
}

func (s *RSIMeanReversionStrategy) Name() string { return "rsi_mean_reversion" }

func (s *RSIMeanReversionStrategy) DefaultParams() json.RawMessage {
	return json.RawMessage(`{"period":14,"overbought":75,"oversold":25}`)
}

func (s *RSIMeanReversionStrategy) SetParams(raw json.RawMessage) error {
	var p struct {
		Period     *int     `json:"period"`
		Overbought *float64 `json:"overbought"`
		Oversold   *float64 `json:"oversold"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Period != nil {
		s.Period = *p.Period
	}
	if p.Overbought != nil {
		s.Overbought = *p.Overbought
	}
	if p.Oversold != nil {
		s.Oversold = *p.Oversold
	}
	return nil
}

func (s *RSIMeanReversionStrategy) Evaluate(snap market.Snapshot) (*Signal, error) {
	if len(snap.Candles) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	period, overbought, oversold := s.Period, s.Overbought, s.Oversold
	s.mu.RUnlock()
	if period <= 0 {
		period = 14
	}
	if overbought <= 0 || overbought >= 100 {
		overbought = 75
	}
	if oversold <= 0 || oversold >= overbought {
		oversold = 25
	}

	closes := make([]float64, len(snap.Candles))
	for i, c := range snap.Candles {
		closes[i] = c.Close.InexactFloat64()
	}
	value, ok := RSI(closes, period)
	if !ok {
		return nil, nil
	}

	var direction string
	var confidence float64
	switch {
	case value > overbought:
		direction = models.DirectionShort
		confidence = (value - overbought) / (100 - overbought)
	case value < oversold:
		direction = models.DirectionLong
		confidence = (oversold - value) / oversold
	default:
		return nil, nil
	}
	last := snap.Candles[len(snap.Candles)-1]
	return &Signal{
		Exchange:   market.ExchangeHyperliquid,
		Direction:  direction,
		Confidence: clamp01(confidence),
		EntryPrice: last.Close,
		Metadata: map[string]any{
			"rsi":        math.Round(value*100) / 100,
			"period":     period,
			"overbought": overbought,
			"oversold":   oversold,
		},
	}, nil
}
