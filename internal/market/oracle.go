package market

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade/internal/repository"
)

// PriceKey identifies an instrument on one venue.
type PriceKey struct {
	Exchange string
	Asset    string
}

func Key(exchange, asset string) PriceKey {
	return PriceKey{Exchange: strings.ToLower(strings.TrimSpace(exchange)), Asset: strings.ToUpper(strings.TrimSpace(asset))}
}

func (k PriceKey) String() string {
	return k.Exchange + ":" + k.Asset
}

// PriceBatch is one consistent set of prices fetched at a single instant.
type PriceBatch struct {
	At     time.Time
	Prices map[PriceKey]decimal.Decimal
}

func (b PriceBatch) Get(exchange, asset string) (decimal.Decimal, bool) {
	p, ok := b.Prices[Key(exchange, asset)]
	return p, ok
}

// PriceLookup is what exit evaluation and mark-to-market consume.
type PriceLookup interface {
	LatestPrice(ctx context.Context, exchange, asset string) (decimal.Decimal, bool)
	Batch(ctx context.Context, keys []PriceKey) PriceBatch
}

type quote struct {
	price decimal.Decimal
	at    time.Time
}

// Oracle caches the latest price per instrument. Quotes older than the
// exchange's staleness threshold are treated as unavailable. When the cache
// has nothing usable it falls back to the latest stored candle close.
type Oracle struct {
	Fallback   repository.MarketDataRepository
	StaleAfter map[string]time.Duration
	Logger     *zap.Logger
	Now        func() time.Time

	mu     sync.RWMutex
	quotes map[PriceKey]quote
}

const defaultStaleAfter = 60 * time.Second

func NewOracle(fallback repository.MarketDataRepository, staleAfter map[string]time.Duration, logger *zap.Logger) *Oracle {
	return &Oracle{
		Fallback:   fallback,
		StaleAfter: staleAfter,
		Logger:     logger,
		quotes:     make(map[PriceKey]quote),
	}
}

// Set records a price observation. Older observations never replace newer ones.
func (o *Oracle) Set(exchange, asset string, price decimal.Decimal, at time.Time) {
	if o == nil || !price.IsPositive() {
		return
	}
	k := Key(exchange, asset)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.quotes == nil {
		o.quotes = make(map[PriceKey]quote)
	}
	if cur, ok := o.quotes[k]; ok && cur.at.After(at) {
		return
	}
	o.quotes[k] = quote{price: price, at: at.UTC()}
}

func (o *Oracle) LatestPrice(ctx context.Context, exchange, asset string) (decimal.Decimal, bool) {
	if o == nil {
		return decimal.Zero, false
	}
	k := Key(exchange, asset)
	now := o.now()
	if p, ok := o.cached(k, now); ok {
		return p, true
	}
	if o.Fallback == nil {
		return decimal.Zero, false
	}
	price, at, ok, err := o.stored(ctx, k)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("price fallback failed", zap.String("key", k.String()), zap.Error(err))
		}
		return decimal.Zero, false
	}
	if !ok || !price.IsPositive() || o.isStale(k.Exchange, at, now) {
		return decimal.Zero, false
	}
	o.Set(k.Exchange, k.Asset, price, at)
	return price, true
}

// Batch resolves every key against the same instant. Keys without a fresh
// price are absent from the result.
func (o *Oracle) Batch(ctx context.Context, keys []PriceKey) PriceBatch {
	out := PriceBatch{At: o.now(), Prices: make(map[PriceKey]decimal.Decimal, len(keys))}
	for _, k := range keys {
		k = Key(k.Exchange, k.Asset)
		if _, done := out.Prices[k]; done {
			continue
		}
		if p, ok := o.LatestPrice(ctx, k.Exchange, k.Asset); ok {
			out.Prices[k] = p
		}
	}
	return out
}

// stored reads the newest persisted price: the yes price of the latest
// prediction-market observation for polymarket, the latest candle close otherwise.
func (o *Oracle) stored(ctx context.Context, k PriceKey) (decimal.Decimal, time.Time, bool, error) {
	if k.Exchange == ExchangePolymarket {
		items, err := o.Fallback.ListPredictionMarkets(ctx, k.Asset, 1)
		if err != nil || len(items) == 0 {
			return decimal.Zero, time.Time{}, false, err
		}
		last := items[len(items)-1]
		if last.YesPrice == nil {
			return decimal.Zero, time.Time{}, false, nil
		}
		return *last.YesPrice, last.At, true, nil
	}
	return o.Fallback.LatestClose(ctx, k.Exchange, k.Asset)
}

func (o *Oracle) cached(k PriceKey, now time.Time) (decimal.Decimal, bool) {
	o.mu.RLock()
	q, ok := o.quotes[k]
	o.mu.RUnlock()
	if !ok || o.isStale(k.Exchange, q.at, now) {
		return decimal.Zero, false
	}
	return q.price, true
}

func (o *Oracle) isStale(exchange string, at, now time.Time) bool {
	limit := defaultStaleAfter
	if v, ok := o.StaleAfter[exchange]; ok && v > 0 {
		limit = v
	}
	return now.Sub(at) > limit
}

func (o *Oracle) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}
