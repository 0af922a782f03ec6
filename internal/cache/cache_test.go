package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/config"
)

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.Now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))

	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	now = now.Add(61 * time.Second)
	_, ok, _ = s.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "b")
	assert.True(t, ok, "zero ttl never expires")
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.Now = func() time.Time { return now }
	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour))
	now = now.Add(time.Minute)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	type payload struct {
		WinRate float64 `json:"win_rate"`
	}
	require.NoError(t, SetJSON(ctx, s, "k", payload{WinRate: 0.5}, time.Minute))
	var got payload
	ok, err := GetJSON(ctx, s, "k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.5, got.WinRate)

	require.NoError(t, s.Set(ctx, "bad", []byte("{"), time.Minute))
	ok, err = GetJSON(ctx, s, "bad", &got)
	require.NoError(t, err)
	assert.False(t, ok)
	_, found, _ := s.Get(ctx, "bad")
	assert.False(t, found)
}

func TestNewBackend(t *testing.T) {
	s, err := New(config.MetricsCacheConfig{Backend: "memory"}, config.RedisConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = New(config.MetricsCacheConfig{Backend: "redis"}, config.RedisConfig{})
	assert.Error(t, err)

	s, err = New(config.MetricsCacheConfig{Backend: "redis"}, config.RedisConfig{Addr: "127.0.0.1:6379"})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)

	_, err = New(config.MetricsCacheConfig{Backend: "memcached"}, config.RedisConfig{})
	assert.Error(t, err)
}
