package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"papertrade/internal/metrics"
)

// TickLoop runs Fn every Interval. Each call gets a context that expires
// after one interval; a tick that overruns is logged and the next tick
// starts fresh. Consecutive failures add a capped exponential pause.
type TickLoop struct {
	Name       string
	Interval   time.Duration
	Fn         func(ctx context.Context) error
	Logger     *zap.Logger
	Heartbeat  *Heartbeat
	MaxBackoff time.Duration
}

func (l *TickLoop) Run(ctx context.Context) error {
	if l == nil || l.Fn == nil {
		return nil
	}
	interval := l.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	maxBackoff := l.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Minute
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	l.Heartbeat.Register(l.Name, interval)

	t := time.NewTicker(interval)
	defer t.Stop()
	backoff := time.Duration(0)
	for {
		if err := l.runOnce(ctx, interval, logger); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, interval, maxBackoff)
			logger.Warn("loop tick failed", zap.String("loop", l.Name), zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		} else {
			backoff = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *TickLoop) runOnce(ctx context.Context, interval time.Duration, logger *zap.Logger) error {
	tctx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()
	start := time.Now()
	err := l.Fn(tctx)
	elapsed := time.Since(start)
	metrics.TickDuration.WithLabelValues(l.Name).Observe(elapsed.Seconds())

	if elapsed >= interval || errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("tick stalled", zap.String("loop", l.Name), zap.Duration("elapsed", elapsed), zap.Duration("interval", interval))
	}
	if err != nil {
		if ctx.Err() == nil {
			metrics.TickFailures.WithLabelValues(l.Name).Inc()
			l.Heartbeat.Failure(l.Name, err, time.Now().UTC())
		}
		return err
	}
	l.Heartbeat.Success(l.Name, time.Now().UTC())
	return nil
}

func nextBackoff(cur, base, max time.Duration) time.Duration {
	if cur <= 0 {
		cur = base / 2
		if cur <= 0 {
			cur = time.Second
		}
	} else {
		cur *= 2
	}
	if cur > max {
		cur = max
	}
	return cur
}
