package strategy

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/market"
	"papertrade/internal/models"
)

// ContrarianStrategy bets against prediction-market consensus. Among the
// markets in the snapshot it picks the one whose yes price is furthest past
// the threshold: above it is a SHORT, below 1-threshold is a LONG.
type ContrarianStrategy struct {
	mu             sync.RWMutex
	Threshold      float64
	MinDaysToClose int
}

func (s *ContrarianStrategy) Name() string { return "contrarian" }

func (s *ContrarianStrategy) DefaultParams() json.RawMessage {
	return json.RawMessage(`{"threshold":0.72,"min_days_to_close":7}`)
}

func (s *ContrarianStrategy) SetParams(raw json.RawMessage) error {
	var p struct {
		Threshold      *float64 `json:"threshold"`
		MinDaysToClose *int     `json:"min_days_to_close"`
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
	if p.MinDaysToClose != nil {
		s.MinDaysToClose = *p.MinDaysToClose
	}
	return nil
}

func (s *ContrarianStrategy) Evaluate(snap market.Snapshot) (*Signal, error) {
	if len(snap.Predictions) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	threshold, minDays := s.Threshold, s.MinDaysToClose
	s.mu.RUnlock()
	if threshold <= 0.5 || threshold >= 1 {
		threshold = 0.72
	}

	var (
		best       *models.PredictionMarket
		bestDir    string
		bestConf   float64
		bestYesDec decimal.Decimal
	)
	for i := range snap.Predictions {
		pm := &snap.Predictions[i]
		if pm.YesPrice == nil || closesTooSoon(pm, minDays, snap.At) {
			continue
		}
		yes := pm.YesPrice.InexactFloat64()
		var dir string
		var conf float64
		switch {
		case yes > threshold:
			dir = models.DirectionShort
			conf = (yes - threshold) / (1 - threshold)
		case yes < 1-threshold:
			dir = models.DirectionLong
			conf = ((1 - threshold) - yes) / (1 - threshold)
		default:
			continue
		}
		conf = clamp01(conf)
		if best == nil || conf > bestConf {
			best, bestDir, bestConf, bestYesDec = pm, dir, conf, *pm.YesPrice
		}
	}
	if best == nil {
		return nil, nil
	}
	return &Signal{
		Exchange:   market.ExchangePolymarket,
		Direction:  bestDir,
		Confidence: bestConf,
		EntryPrice: bestYesDec,
		Metadata: map[string]any{
			"market_id":    best.MarketID,
			"market_title": best.Title,
			"yes_price":    bestYesDec.String(),
			"threshold":    threshold,
		},
	}, nil
}

func closesTooSoon(pm *models.PredictionMarket, minDays int, now time.Time) bool {
	if pm.EndDate == nil || minDays <= 0 {
		return false
	}
	return pm.EndDate.Sub(now) < time.Duration(minDays)*24*time.Hour
}
