package cronrunner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner schedules jobs with second-resolution specs (descriptors such as
// "@every 60s" also work). A job still running when its next slot fires is
// skipped rather than queued.
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := zapLogger{l: logger}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

func (r *Runner) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		job(r.baseCtx)
	})
}

// AddTimed schedules job with a per-run deadline equal to the spec's
// interval. A run that reaches its deadline is logged as stalled.
func (r *Runner) AddTimed(name, spec string, job func(context.Context)) (cron.EntryID, time.Duration, error) {
	interval, err := Interval(spec)
	if err != nil {
		return 0, 0, err
	}
	id, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(r.baseCtx, interval)
		defer cancel()
		start := time.Now()
		job(ctx)
		elapsed := time.Since(start)
		if elapsed >= interval || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.logger.Warn("tick stalled", zap.String("job", name), zap.Duration("elapsed", elapsed), zap.Duration("interval", interval))
		}
	})
	return id, interval, err
}

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Interval is the gap between two consecutive firings of spec. For "@every"
// specs it is the configured delay.
func Interval(spec string) (time.Duration, error) {
	sched, err := specParser.Parse(spec)
	if err != nil {
		return 0, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		return every.Delay, nil
	}
	first := sched.Next(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	second := sched.Next(first)
	if !second.After(first) {
		return 0, fmt.Errorf("cron spec %q never repeats", spec)
	}
	return second.Sub(first), nil
}

// Len is the number of scheduled jobs.
func (r *Runner) Len() int {
	return len(r.cron.Entries())
}

func (r *Runner) Start() {
	r.logger.Info("cron started", zap.Int("jobs", r.Len()))
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}

// zapLogger adapts zap to cron.Logger.
type zapLogger struct {
	l *zap.Logger
}

func (z zapLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		z.l.Sugar().Warnw("cron: job still running, run skipped", keysAndValues...)
		return
	}
	z.l.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (z zapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	z.l.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
