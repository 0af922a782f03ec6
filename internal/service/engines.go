package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/market"
	"papertrade/internal/models"
	"papertrade/internal/paper"
	"papertrade/internal/repository"
	"papertrade/internal/risk"
)

// EngineSet runs one paper engine per active account. A deactivated account
// that still holds open positions keeps a draining engine until it is flat.
type EngineSet struct {
	Repo      repository.Repository
	Prices    market.PriceLookup
	Config    config.Config
	Logger    *zap.Logger
	Heartbeat *Heartbeat

	mu      sync.Mutex
	running map[uint64]*runningEngine
	wg      sync.WaitGroup
}

type runningEngine struct {
	engine *paper.Engine
	cancel context.CancelFunc
}

func (s *EngineSet) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// NewEngine builds and restores the engine of one account.
func (s *EngineSet) NewEngine(ctx context.Context, acct models.Account) (*paper.Engine, error) {
	limits := risk.LimitsFromConfig(s.Config.Risk, s.Config.MaxDailyLossFor(acct.Strategy))
	e := paper.NewEngine(acct, s.Repo, s.Prices, risk.NewTracker(limits), paper.ConfigFor(s.Config, acct.Exchange), s.logger())
	if err := e.Restore(ctx, s.Config.Risk.RestoreDailyLoss); err != nil {
		return nil, fmt.Errorf("restore account %d: %w", acct.ID, err)
	}
	return e, nil
}

// Run reconciles every refresh interval until ctx ends, then waits for all
// engine loops to return.
func (s *EngineSet) Run(ctx context.Context, refresh time.Duration) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	t := time.NewTicker(refresh)
	defer t.Stop()
	for {
		if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
			s.logger().Warn("engine reconcile failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.stopAll()
			s.wg.Wait()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *EngineSet) Reconcile(ctx context.Context) error {
	accounts, err := s.Repo.ListAccounts(ctx, repository.ListAccountsParams{})
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	withOpen, err := s.Repo.ListAccountIDsWithOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("list accounts with open positions: %w", err)
	}
	holding := map[uint64]bool{}
	for _, id := range withOpen {
		holding[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		s.running = map[uint64]*runningEngine{}
	}

	keep := map[uint64]bool{}
	var errs []error
	for _, acct := range accounts {
		if !acct.Active && !holding[acct.ID] {
			continue
		}
		keep[acct.ID] = true
		draining := !acct.Active
		if r, ok := s.running[acct.ID]; ok {
			if r.engine.Draining() != draining {
				r.engine.SetDraining(draining)
				s.logger().Info("engine mode changed", zap.String("account", acct.Name), zap.Bool("draining", draining))
			}
			continue
		}
		e, err := s.NewEngine(ctx, acct)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.SetDraining(draining)
		s.start(ctx, e)
	}
	for id, r := range s.running {
		if !keep[id] {
			r.cancel()
			delete(s.running, id)
			s.Heartbeat.Unregister(loopName(r.engine.Account))
			s.logger().Info("engine stopped", zap.String("account", r.engine.Account.Name))
		}
	}
	return errors.Join(errs...)
}

func (s *EngineSet) start(parent context.Context, e *paper.Engine) {
	ctx, cancel := context.WithCancel(parent)
	s.running[e.Account.ID] = &runningEngine{engine: e, cancel: cancel}
	loop := &TickLoop{
		Name:      loopName(e.Account),
		Interval:  s.Config.Engine.Interval,
		Logger:    s.logger(),
		Heartbeat: s.Heartbeat,
		Fn: func(ctx context.Context) error {
			_, err := e.Tick(ctx)
			return err
		},
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger().Warn("engine loop exited", zap.String("account", e.Account.Name), zap.Error(err))
		}
	}()
	s.logger().Info("engine started",
		zap.String("account", e.Account.Name),
		zap.String("engine_id", e.InstanceID),
		zap.Bool("draining", e.Draining()),
	)
}

func (s *EngineSet) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.running {
		r.cancel()
		delete(s.running, id)
	}
}

// Engines returns the running engines.
func (s *EngineSet) Engines() []*paper.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*paper.Engine, 0, len(s.running))
	for _, r := range s.running {
		out = append(out, r.engine)
	}
	return out
}

// LogRiskDay logs every engine's risk state. It runs from cron at the UTC
// day boundary, when day counters roll over.
func (s *EngineSet) LogRiskDay(now time.Time) {
	for _, e := range s.Engines() {
		st := e.Risk.Snapshot(now)
		s.logger().Info("risk day",
			zap.String("account", e.Account.Name),
			zap.String("day", st.Day),
			zap.String("daily_loss", st.DailyLoss.StringFixed(2)),
			zap.Bool("paused", st.Paused),
			zap.Any("open_by_strategy", st.OpenByStrategy),
		)
	}
}

func loopName(acct models.Account) string {
	return "engine:" + acct.Name
}
