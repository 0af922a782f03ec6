package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"papertrade/internal/market"
	"papertrade/internal/metrics"
	"papertrade/internal/models"
	"papertrade/internal/repository"
	"papertrade/internal/strategy"
)

// Orchestrator fans market snapshots out to the enabled strategies and
// records every outcome, passes included, in the signal ledger. It never
// touches positions.
type Orchestrator struct {
	Snapshots market.SnapshotProvider
	Registry  *strategy.Registry
	Signals   repository.SignalRepository
	Logger    *zap.Logger
	Now       func() time.Time

	// Assets overrides the union of strategy assets when non-empty.
	Assets []string

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func New(snapshots market.SnapshotProvider, registry *strategy.Registry, signals repository.SignalRepository, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Snapshots: snapshots,
		Registry:  registry,
		Signals:   signals,
		Logger:    logger,
		lastRun:   map[string]time.Time{},
	}
}

type TickResult struct {
	Evaluated int
	Signals   int
	Passes    int
	Faults    int
	Stale     int
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) assets() []string {
	if len(o.Assets) > 0 {
		return o.Assets
	}
	return o.Registry.Assets()
}

// Tick evaluates every due strategy against every tracked asset once. Store
// errors are collected and returned after the whole pass.
func (o *Orchestrator) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	if o == nil || o.Registry == nil || o.Snapshots == nil || o.Signals == nil {
		return res, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastRun == nil {
		o.lastRun = map[string]time.Time{}
	}

	var errs []error
	for _, asset := range o.assets() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		now := o.now()
		due := o.dueEntries(asset, now)
		if len(due) == 0 {
			continue
		}
		snap, err := o.Snapshots.Snapshot(ctx, asset)
		if err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: %w", asset, err))
			continue
		}
		if snap.Stale {
			res.Stale++
			metrics.StaleSnapshots.WithLabelValues(asset).Inc()
			o.Logger.Info("stale snapshot, skipping asset", zap.String("asset", asset), zap.String("reason", snap.StaleReason))
			continue
		}
		for _, entry := range due {
			o.lastRun[runKey(entry.Name(), asset)] = now
			if err := o.evaluate(ctx, entry, snap, now, &res); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return res, errors.Join(errs...)
}

func (o *Orchestrator) dueEntries(asset string, now time.Time) []strategy.Entry {
	var out []strategy.Entry
	for _, e := range o.Registry.Entries() {
		if !e.CoversAsset(asset) || len(e.Exchanges) == 0 {
			continue
		}
		if last, ok := o.lastRun[runKey(e.Name(), asset)]; ok && e.Interval > 0 && now.Sub(last) < e.Interval {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (o *Orchestrator) evaluate(ctx context.Context, entry strategy.Entry, snap market.Snapshot, now time.Time, res *TickResult) error {
	name := entry.Name()
	res.Evaluated++
	sig, err := safeEvaluate(entry.Strategy, snap.Clone())
	if err != nil {
		res.Faults++
		kind := "error"
		var p *panicError
		if errors.As(err, &p) {
			kind = "panic"
		}
		metrics.StrategyFaults.WithLabelValues(name, kind).Inc()
		o.Logger.Warn("strategy evaluation failed", zap.String("strategy", name), zap.String("asset", snap.Asset), zap.Error(err))
		return nil
	}

	row := &models.Signal{
		Strategy:  name,
		Asset:     snap.Asset,
		Exchange:  entry.Exchanges[0],
		Direction: models.DirectionPass,
		ActedOn:   true,
		CreatedAt: now,
	}
	if sig != nil {
		if sig.Direction != models.DirectionLong && sig.Direction != models.DirectionShort {
			res.Faults++
			metrics.StrategyFaults.WithLabelValues(name, "direction").Inc()
			o.Logger.Warn("strategy returned unknown direction", zap.String("strategy", name), zap.String("direction", sig.Direction))
			return nil
		}
		if sig.Exchange != "" {
			if !entry.CoversExchange(sig.Exchange) {
				res.Faults++
				metrics.StrategyFaults.WithLabelValues(name, "exchange").Inc()
				o.Logger.Warn("strategy signalled an exchange it is not enabled on", zap.String("strategy", name), zap.String("exchange", sig.Exchange))
				return nil
			}
			row.Exchange = sig.Exchange
		}
		row.Direction = sig.Direction
		row.Confidence = clamp01(sig.Confidence)
		row.EntryPrice = sig.EntryPrice
		row.ActedOn = false
		if len(sig.Metadata) > 0 {
			raw, err := json.Marshal(sig.Metadata)
			if err == nil {
				row.Metadata = datatypes.JSON(raw)
			}
		}
	}

	if err := o.Signals.InsertSignal(ctx, row); err != nil {
		return fmt.Errorf("insert signal %s/%s: %w", name, snap.Asset, err)
	}
	metrics.SignalsTotal.WithLabelValues(name, row.Direction).Inc()
	if row.IsPass() {
		res.Passes++
		o.Logger.Debug("strategy passed", zap.String("strategy", name), zap.String("asset", snap.Asset))
		return nil
	}
	res.Signals++
	o.Logger.Info("signal emitted",
		zap.Uint64("signal_id", row.ID),
		zap.String("strategy", name),
		zap.String("asset", row.Asset),
		zap.String("exchange", row.Exchange),
		zap.String("direction", row.Direction),
		zap.Float64("confidence", row.Confidence),
	)
	return nil
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("strategy panicked: %v", p.value)
}

func safeEvaluate(s strategy.Strategy, snap market.Snapshot) (sig *strategy.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = nil
			err = &panicError{value: r}
		}
	}()
	return s.Evaluate(snap)
}

func runKey(name, asset string) string {
	return name + ":" + asset
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
