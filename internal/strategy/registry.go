package strategy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"papertrade/internal/config"
)

// Factory builds a fresh strategy instance with default parameters.
type Factory func() Strategy

// Builtin returns the strategies shipped with the binary, keyed by name.
func Builtin() map[string]Factory {
	return map[string]Factory{
		"funding_rate":       func() Strategy { return &FundingRateStrategy{} },
		"funding_arb":        func() Strategy { return &FundingArbStrategy{} },
		"rsi_mean_reversion": func() Strategy { return &RSIMeanReversionStrategy{} },
		"momentum_breakout":  func() Strategy { return &MomentumBreakoutStrategy{} },
		"contrarian":         func() Strategy { return &ContrarianStrategy{} },
	}
}

// Entry is one enabled strategy and the scope it is evaluated over.
type Entry struct {
	Strategy  Strategy
	Assets    []string
	Exchanges []string
	// Interval throttles evaluation per asset; zero means every tick.
	Interval time.Duration
}

func (e Entry) Name() string { return e.Strategy.Name() }

func (e Entry) CoversAsset(asset string) bool {
	return containsFold(e.Assets, asset)
}

func (e Entry) CoversExchange(exchange string) bool {
	return containsFold(e.Exchanges, exchange)
}

// Registry is the set of enabled strategies, built once at startup.
type Registry struct {
	entries []Entry
	byName  map[string]Entry
}

// NewRegistry instantiates every enabled strategy in cfgs. An enabled name
// without a factory is an error.
func NewRegistry(cfgs map[string]config.StrategyConfig, factories map[string]Factory) (*Registry, error) {
	r := &Registry{byName: make(map[string]Entry)}
	names := make([]string, 0, len(cfgs))
	for name, sc := range cfgs {
		if sc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sc := cfgs[name]
		factory, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("strategy %q is not registered", name)
		}
		s := factory()
		if err := s.SetParams(s.DefaultParams()); err != nil {
			return nil, fmt.Errorf("strategy %q default params: %w", name, err)
		}
		if len(sc.Params) > 0 {
			raw, err := json.Marshal(sc.Params)
			if err != nil {
				return nil, fmt.Errorf("strategy %q params: %w", name, err)
			}
			if err := s.SetParams(raw); err != nil {
				return nil, fmt.Errorf("strategy %q params: %w", name, err)
			}
		}
		interval, err := ParseInterval(sc.Interval)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", name, err)
		}
		e := Entry{
			Strategy:  s,
			Assets:    upper(sc.Assets),
			Exchanges: lower(sc.Exchanges),
			Interval:  interval,
		}
		r.entries = append(r.entries, e)
		r.byName[name] = e
	}
	return r, nil
}

// Entries returns the enabled strategies in name order.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	return append([]Entry(nil), r.entries...)
}

func (r *Registry) Get(name string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	e, ok := r.byName[name]
	return e, ok
}

// Assets is the union of assets across enabled strategies.
func (r *Registry) Assets() []string {
	if r == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, e := range r.entries {
		for _, a := range e.Assets {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	sort.Strings(out)
	return out
}

// ParseInterval accepts Go durations such as 1m, 5m, 15m or 1h.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return d, nil
}

func upper(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
