package cronrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type ctxKey struct{}

func TestRunnerRunsJobWithBaseContext(t *testing.T) {
	base := context.WithValue(context.Background(), ctxKey{}, "mtm")
	r := New(nil, base)
	var runs atomic.Int32
	var got atomic.Value
	_, err := r.Add("@every 1s", func(ctx context.Context) {
		got.Store(ctx.Value(ctxKey{}))
		runs.Add(1)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	r.Start()
	defer r.Stop()
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, "mtm", got.Load())
}

func TestRunnerRejectsBadSpec(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Add("every minute", func(context.Context) {})
	assert.Error(t, err)
}

func TestIntervalFromSpec(t *testing.T) {
	cases := []struct {
		spec string
		want time.Duration
	}{
		{"@every 60s", time.Minute},
		{"@every 5m", 5 * time.Minute},
		{"0 */2 * * * *", 2 * time.Minute},
		{"@hourly", time.Hour},
	}
	for _, tc := range cases {
		got, err := Interval(tc.spec)
		require.NoError(t, err, tc.spec)
		assert.Equal(t, tc.want, got, tc.spec)
	}
	_, err := Interval("every minute")
	assert.Error(t, err)
}

func TestAddTimedBoundsEachRun(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := New(zap.New(core), context.Background())
	done := make(chan error, 1)
	var runs atomic.Int32
	_, interval, err := r.AddTimed("mtm", "@every 1s", func(ctx context.Context) {
		if runs.Add(1) > 1 {
			return
		}
		<-ctx.Done()
		done <- ctx.Err()
	})
	require.NoError(t, err)
	assert.Equal(t, time.Second, interval)

	r.Start()
	defer r.Stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("job context never expired")
	}
	require.Eventually(t, func() bool {
		return logs.FilterMessage("tick stalled").Len() > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "mtm", logs.FilterMessage("tick stalled").All()[0].ContextMap()["job"])
}
