package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"papertrade/internal/config"
)

// Store is a byte-valued cache with per-key expiry.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// New picks the backend named by metrics_cache.backend. Redis is used only
// when an address is configured.
func New(cfg config.MetricsCacheConfig, rcfg config.RedisConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		if strings.TrimSpace(rcfg.Addr) == "" {
			return nil, fmt.Errorf("metrics_cache.backend=redis requires redis.addr")
		}
		return NewRedisStore(&redis.Options{Addr: rcfg.Addr, Password: rcfg.Password, DB: rcfg.DB}, "papertrade:"), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// GetJSON decodes a cached value into out. A value that no longer decodes
// is reported as a miss.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		_ = s.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw, ttl)
}
