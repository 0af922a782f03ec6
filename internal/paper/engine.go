package paper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"papertrade/internal/config"
	"papertrade/internal/market"
	"papertrade/internal/metrics"
	"papertrade/internal/models"
	"papertrade/internal/repository"
	"papertrade/internal/risk"
)

// Config is the resolved trading configuration of one account.
type Config struct {
	RiskPct           float64
	MinConfidence     float64
	KellySafetyFactor float64
	ClaimSize         int
	Exits             ExitRules
	Costs             Costs
}

func ConfigFor(cfg config.Config, exchange string) Config {
	return Config{
		RiskPct:           cfg.Paper.RiskPct,
		MinConfidence:     cfg.Paper.MinConfidence,
		KellySafetyFactor: cfg.Paper.KellySafetyFactor,
		ClaimSize:         cfg.Engine.ClaimSize,
		Exits: ExitRules{
			StopLossPct:   cfg.Paper.StopLossPct,
			TakeProfitPct: cfg.Paper.TakeProfitPct,
			MaxHold:       cfg.Paper.MaxHold,
		},
		Costs: CostsFor(cfg.Pricing, exchange),
	}
}

// TickResult summarises one engine tick.
type TickResult struct {
	Claimed  int
	Opened   int
	Closed   int
	Rejected int
}

// Engine trades one account. Tick must not run concurrently with itself;
// the engine serialises calls.
type Engine struct {
	Account models.Account
	Repo    repository.Repository
	Prices  market.PriceLookup
	Risk    *risk.Tracker
	Config  Config
	Logger  *zap.Logger
	Now     func() time.Time

	// InstanceID tells apart engines racing on the same signal in logs.
	InstanceID string

	mu       sync.Mutex
	draining atomic.Bool
}

func NewEngine(acct models.Account, repo repository.Repository, prices market.PriceLookup, tracker *risk.Tracker, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Engine{
		Account:    acct,
		Repo:       repo,
		Prices:     prices,
		Risk:       tracker,
		Config:     cfg,
		InstanceID: id,
		Logger: logger.With(
			zap.Uint64("account_id", acct.ID),
			zap.String("account", acct.Name),
			zap.String("engine_id", id),
		),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Restore rebuilds risk state from the ledger: open slots from OPEN
// positions and, when withDailyLoss is set, today's loss and the last
// losing exit from today's CLOSED positions.
func (e *Engine) Restore(ctx context.Context, withDailyLoss bool) error {
	if e == nil || e.Repo == nil || e.Risk == nil {
		return nil
	}
	now := e.now()
	open, err := e.openPositions(ctx)
	if err != nil {
		return err
	}
	counts := map[string]int{}
	for _, p := range open {
		counts[p.Strategy]++
	}

	loss := decimal.Zero
	var lastLoss time.Time
	if withDailyLoss {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		status := models.PositionClosed
		closed, err := e.Repo.ListPositions(ctx, repository.ListPositionsParams{
			AccountIDs:  []uint64{e.Account.ID},
			Status:      &status,
			ClosedSince: &dayStart,
		})
		if err != nil {
			return fmt.Errorf("list closed positions: %w", err)
		}
		for _, p := range closed {
			if p.RealizedPnL == nil || !p.RealizedPnL.IsNegative() {
				continue
			}
			loss = loss.Add(p.RealizedPnL.Neg())
			if p.ExitTime != nil && p.ExitTime.After(lastLoss) {
				lastLoss = *p.ExitTime
			}
		}
	}
	e.Risk.Restore(counts, loss, lastLoss, now)
	e.Logger.Info("risk state restored",
		zap.Int("open_positions", len(open)),
		zap.String("daily_loss", loss.StringFixed(2)),
	)
	return nil
}

// SetDraining switches the engine to exits only. A draining engine claims no
// signals; it keeps closing the positions it already holds.
func (e *Engine) SetDraining(on bool) {
	e.draining.Store(on)
}

func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// Tick claims new signals, opens positions for them and then evaluates exits.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	if e == nil || e.Repo == nil {
		return res, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.draining.Load() {
		if err := e.consumeSignals(ctx, &res); err != nil {
			return res, err
		}
	}
	if err := e.checkExits(ctx, &res); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) consumeSignals(ctx context.Context, res *TickResult) error {
	limit := e.Config.ClaimSize
	if limit <= 0 {
		limit = 50
	}
	signals, err := e.Repo.ListUnclaimedSignals(ctx, e.Account.Exchange, e.Account.Strategy, limit)
	if err != nil {
		return fmt.Errorf("list unclaimed signals: %w", err)
	}
	for _, sig := range signals {
		if err := ctx.Err(); err != nil {
			return err
		}
		won, err := e.Repo.ClaimSignal(ctx, sig.ID, e.Account.ID, e.now())
		if err != nil {
			return fmt.Errorf("claim signal %d: %w", sig.ID, err)
		}
		if !won {
			metrics.ClaimRaces.Inc()
			e.Logger.Debug("signal claimed elsewhere", zap.Uint64("signal_id", sig.ID))
			continue
		}
		res.Claimed++
		if sig.IsPass() || sig.Confidence <= e.Config.MinConfidence {
			continue
		}
		opened, err := e.actOn(ctx, sig, res)
		if err != nil {
			return err
		}
		if opened {
			res.Opened++
		} else {
			res.Rejected++
		}
	}
	return nil
}

// actOn turns one claimed signal into a position. It reports false when the
// signal was refused; the claim stands either way.
func (e *Engine) actOn(ctx context.Context, sig models.Signal, res *TickResult) (bool, error) {
	log := e.Logger.With(
		zap.Uint64("signal_id", sig.ID),
		zap.String("asset", sig.Asset),
		zap.String("direction", sig.Direction),
	)
	price, ok := e.Prices.LatestPrice(ctx, sig.Exchange, sig.Asset)
	if !ok {
		price = sig.EntryPrice
	}
	if !price.IsPositive() {
		log.Info("no price for signal, skipping")
		metrics.RiskRejections.WithLabelValues("no_price").Inc()
		return false, nil
	}

	open, err := e.openPositions(ctx)
	if err != nil {
		return false, err
	}
	remaining := make([]models.Position, 0, len(open))
	for _, p := range open {
		if p.Strategy == sig.Strategy && p.Asset == sig.Asset && p.Direction == models.Opposite(sig.Direction) {
			closed, err := e.close(ctx, p, price, models.ExitSignalReverse)
			if err != nil {
				return false, err
			}
			if closed {
				res.Closed++
			}
			continue
		}
		remaining = append(remaining, p)
	}

	now := e.now()
	equity, err := e.equity(ctx, remaining)
	if err != nil {
		return false, err
	}
	fill := EntryFill(price, sig.Direction, e.Config.Costs.SlippagePct)
	qty, err := SizeQuantity(SizingInput{
		Equity:       equity,
		EntryPrice:   fill,
		RiskPct:      e.Config.RiskPct,
		StopLossPct:  e.Config.Exits.StopLossPct,
		Confidence:   sig.Confidence,
		SafetyFactor: e.Config.KellySafetyFactor,
	})
	if errors.Is(err, ErrInvalidSize) {
		log.Info("signal not sizeable", zap.String("equity", equity.StringFixed(2)), zap.Float64("confidence", sig.Confidence))
		metrics.RiskRejections.WithLabelValues("invalid_size").Inc()
		return false, nil
	}
	if err != nil {
		return false, err
	}

	exposure := decimal.Zero
	for _, p := range remaining {
		exposure = exposure.Add(p.Notional())
	}
	decision := e.Risk.Reserve(risk.Request{
		Strategy:     sig.Strategy,
		Notional:     fill.Mul(qty),
		OpenExposure: exposure,
		Equity:       equity,
	}, now)
	if !decision.Allowed {
		log.Info("risk gate rejected signal", zap.String("reason", decision.Reason), zap.String("detail", decision.Detail))
		metrics.RiskRejections.WithLabelValues(decision.Reason).Inc()
		return false, nil
	}

	meta, _ := json.Marshal(map[string]any{
		"raw_price":    price.String(),
		"slippage_pct": e.Config.Costs.SlippagePct.String(),
		"fee_pct":      e.Config.Costs.FeePct.String(),
		"confidence":   sig.Confidence,
		"engine_id":    e.InstanceID,
	})
	sigID := sig.ID
	pos := &models.Position{
		AccountID:  e.Account.ID,
		Strategy:   sig.Strategy,
		Asset:      sig.Asset,
		Exchange:   sig.Exchange,
		Direction:  sig.Direction,
		EntryPrice: fill,
		EntryTime:  now,
		Quantity:   qty,
		Status:     models.PositionOpen,
		SignalID:   &sigID,
		Metadata:   datatypes.JSON(meta),
	}
	if err := e.Repo.InsertPosition(ctx, pos); err != nil {
		e.Risk.Release(sig.Strategy)
		return false, fmt.Errorf("insert position for signal %d: %w", sig.ID, err)
	}
	metrics.PositionsOpened.WithLabelValues(e.Account.Name).Inc()
	log.Info("position opened",
		zap.Uint64("position_id", pos.ID),
		zap.String("entry_price", fill.String()),
		zap.String("quantity", qty.String()),
	)
	return true, nil
}

func (e *Engine) checkExits(ctx context.Context, res *TickResult) error {
	open, err := e.openPositions(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}
	keys := make([]market.PriceKey, 0, len(open))
	for _, p := range open {
		keys = append(keys, market.Key(p.Exchange, p.Asset))
	}
	batch := e.Prices.Batch(ctx, keys)
	for _, p := range open {
		price, ok := batch.Get(p.Exchange, p.Asset)
		if !ok {
			e.Logger.Debug("no price for open position", zap.Uint64("position_id", p.ID), zap.String("asset", p.Asset))
			continue
		}
		reason, exit := e.Config.Exits.ExitReason(p, price, batch.At)
		if !exit {
			continue
		}
		closed, err := e.close(ctx, p, price, reason)
		if err != nil {
			return err
		}
		if closed {
			res.Closed++
		}
	}
	return nil
}

// close settles pos at the market price adjusted by exit slippage.
func (e *Engine) close(ctx context.Context, pos models.Position, price decimal.Decimal, reason string) (bool, error) {
	now := e.now()
	fill := ExitFill(price, pos.Direction, e.Config.Costs.SlippagePct)
	pnl, fees := RealizedPnL(pos, fill, e.Config.Costs.FeePct)

	meta := map[string]any{}
	if len(pos.Metadata) > 0 {
		_ = json.Unmarshal(pos.Metadata, &meta)
	}
	meta["exit_raw_price"] = price.String()
	meta["fees"] = fees.String()
	raw, _ := json.Marshal(meta)

	ok, err := e.Repo.ClosePosition(ctx, repository.ClosePositionParams{
		ID:          pos.ID,
		ExitPrice:   fill,
		ExitTime:    now,
		ExitReason:  reason,
		RealizedPnL: pnl,
		Metadata:    datatypes.JSON(raw),
	})
	if err != nil {
		return false, fmt.Errorf("close position %d: %w", pos.ID, err)
	}
	if !ok {
		return false, nil
	}
	e.Risk.RecordClose(pos.Strategy, pnl, now)
	metrics.PositionsClosed.WithLabelValues(e.Account.Name, reason).Inc()
	e.Logger.Info("position closed",
		zap.Uint64("position_id", pos.ID),
		zap.String("asset", pos.Asset),
		zap.String("reason", reason),
		zap.String("exit_price", fill.String()),
		zap.String("realized_pnl", pnl.StringFixed(4)),
	)
	return true, nil
}

func (e *Engine) openPositions(ctx context.Context) ([]models.Position, error) {
	status := models.PositionOpen
	asc := true
	items, err := e.Repo.ListPositions(ctx, repository.ListPositionsParams{
		AccountIDs: []uint64{e.Account.ID},
		Status:     &status,
		Asc:        &asc,
	})
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	return items, nil
}

// equity is initial capital plus realized pnl plus open positions marked at
// the latest price. Positions without a price contribute nothing.
func (e *Engine) equity(ctx context.Context, open []models.Position) (decimal.Decimal, error) {
	realized, err := e.Repo.SumRealizedPnL(ctx, e.Account.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum realized pnl: %w", err)
	}
	total := e.Account.InitialCapital.Add(realized)
	if len(open) == 0 {
		return total, nil
	}
	keys := make([]market.PriceKey, 0, len(open))
	for _, p := range open {
		keys = append(keys, market.Key(p.Exchange, p.Asset))
	}
	batch := e.Prices.Batch(ctx, keys)
	for _, p := range open {
		if price, ok := batch.Get(p.Exchange, p.Asset); ok {
			total = total.Add(UnrealizedPnL(p, price))
		}
	}
	return total, nil
}
