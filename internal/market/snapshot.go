package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"papertrade/internal/models"
	"papertrade/internal/repository"
)

// Snapshot bundles recent market state for one asset. It is built once per
// tick and never mutated afterwards; strategies receive copies.
type Snapshot struct {
	Asset       string
	At          time.Time
	Candles     []models.Candle
	Funding     []models.Funding
	Predictions []models.PredictionMarket

	Stale       bool
	StaleReason string
}

// LatestFunding is the newest funding observation, if any.
func (s Snapshot) LatestFunding() (models.Funding, bool) {
	if len(s.Funding) == 0 {
		return models.Funding{}, false
	}
	return s.Funding[len(s.Funding)-1], true
}

// LatestCandle is the newest candle, if any.
func (s Snapshot) LatestCandle() (models.Candle, bool) {
	if len(s.Candles) == 0 {
		return models.Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Clone returns a deep copy so one strategy cannot affect another's view.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Candles = append([]models.Candle(nil), s.Candles...)
	out.Funding = append([]models.Funding(nil), s.Funding...)
	out.Predictions = append([]models.PredictionMarket(nil), s.Predictions...)
	return out
}

// SnapshotProvider returns a snapshot for an asset. Data older than the
// configured threshold is returned with Stale set rather than silently.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, asset string) (Snapshot, error)
}

type BuilderConfig struct {
	Exchange        string
	CandleLimit     int
	FundingWindow   time.Duration
	PredictionLimit int
	StaleAfter      time.Duration
	// RPS bounds snapshot queries against the store; zero means unlimited.
	RPS float64
}

// Builder assembles snapshots from the market data tables.
type Builder struct {
	Repo   repository.MarketDataRepository
	Config BuilderConfig
	Logger *zap.Logger
	Now    func() time.Time

	limiter *rate.Limiter
}

func NewBuilder(repo repository.MarketDataRepository, cfg BuilderConfig, logger *zap.Logger) *Builder {
	if cfg.Exchange == "" {
		cfg.Exchange = "hyperliquid"
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 100
	}
	if cfg.FundingWindow <= 0 {
		cfg.FundingWindow = 7 * 24 * time.Hour
	}
	if cfg.PredictionLimit <= 0 {
		cfg.PredictionLimit = 10
	}
	b := &Builder{Repo: repo, Config: cfg, Logger: logger}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return b
}

func (b *Builder) Snapshot(ctx context.Context, asset string) (Snapshot, error) {
	if b == nil || b.Repo == nil {
		return Snapshot{}, fmt.Errorf("snapshot builder not configured")
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return Snapshot{}, err
		}
	}
	now := b.now()

	candles, err := b.Repo.ListCandles(ctx, b.Config.Exchange, asset, b.Config.CandleLimit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list candles %s: %w", asset, err)
	}
	funding, err := b.Repo.ListFunding(ctx, b.Config.Exchange, asset, now.Add(-b.Config.FundingWindow))
	if err != nil {
		return Snapshot{}, fmt.Errorf("list funding %s: %w", asset, err)
	}
	predictions, err := b.Repo.ListPredictionMarkets(ctx, asset, b.Config.PredictionLimit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list prediction markets %s: %w", asset, err)
	}

	snap := Snapshot{
		Asset:       asset,
		At:          now,
		Candles:     candles,
		Funding:     funding,
		Predictions: predictions,
	}
	snap.Stale, snap.StaleReason = staleness(snap, now, b.Config.StaleAfter)
	return snap, nil
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

// staleness reports whether the freshest candle or funding row is older than maxAge.
func staleness(s Snapshot, now time.Time, maxAge time.Duration) (bool, string) {
	var newest time.Time
	if c, ok := s.LatestCandle(); ok && c.OpenTime.After(newest) {
		newest = c.OpenTime
	}
	if f, ok := s.LatestFunding(); ok && f.At.After(newest) {
		newest = f.At
	}
	if newest.IsZero() && len(s.Predictions) == 0 {
		return true, "no market data"
	}
	if maxAge <= 0 || newest.IsZero() {
		return false, ""
	}
	if age := now.Sub(newest); age > maxAge {
		return true, fmt.Sprintf("latest observation is %s old", age.Truncate(time.Second))
	}
	return false, ""
}
