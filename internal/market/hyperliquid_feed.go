package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"papertrade/internal/metrics"
)

const DefaultHyperliquidWSURL = "wss://api.hyperliquid.xyz/ws"

const (
	ExchangeHyperliquid = "hyperliquid"
	ExchangePolymarket  = "polymarket"
)

type allMidsSubscribe struct {
	Method       string            `json:"method"`
	Subscription map[string]string `json:"subscription"`
}

type allMidsMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

// PriceSink receives price observations from a feed.
type PriceSink interface {
	Set(exchange, asset string, price decimal.Decimal, at time.Time)
}

type FeedOptions struct {
	URL               string
	Assets            []string
	ReconnectInterval time.Duration
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	Logger            *zap.Logger
}

// HyperliquidFeed streams allMids into a PriceSink and reconnects on failure.
// Reconnect attempts are paced by a token bucket so a flapping upstream
// cannot spin the loop.
type HyperliquidFeed struct {
	opts    FeedOptions
	sink    PriceSink
	assets  map[string]struct{}
	limiter *rate.Limiter
	now     func() time.Time
}

func NewHyperliquidFeed(sink PriceSink, opts FeedOptions) *HyperliquidFeed {
	if strings.TrimSpace(opts.URL) == "" {
		opts.URL = DefaultHyperliquidWSURL
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 5 * time.Second
	}
	assets := make(map[string]struct{}, len(opts.Assets))
	for _, a := range opts.Assets {
		if a = strings.ToUpper(strings.TrimSpace(a)); a != "" {
			assets[a] = struct{}{}
		}
	}
	return &HyperliquidFeed{
		opts:    opts,
		sink:    sink,
		assets:  assets,
		limiter: rate.NewLimiter(rate.Every(opts.ReconnectInterval), 1),
		now:     time.Now,
	}
}

func (f *HyperliquidFeed) Run(ctx context.Context) error {
	if f == nil || f.sink == nil {
		return fmt.Errorf("hyperliquid feed not configured")
	}
	for {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && f.opts.Logger != nil {
			f.opts.Logger.Warn("hyperliquid ws session ended", zap.Error(err))
		}
		if err := sleepWithJitter(ctx, f.opts.ReconnectInterval); err != nil {
			return err
		}
	}
}

func (f *HyperliquidFeed) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, f.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "reconnect")
	conn.SetReadLimit(1 << 20)

	payload, err := json.Marshal(allMidsSubscribe{
		Method:       "subscribe",
		Subscription: map[string]string{"type": "allMids"},
	})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if f.opts.Logger != nil {
		f.opts.Logger.Info("hyperliquid ws subscribed", zap.String("url", f.opts.URL))
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	heartbeatErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(f.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				return
			case <-ticker.C:
				pingCtx, cancelPing := context.WithTimeout(sessionCtx, f.opts.PingTimeout)
				err := conn.Ping(pingCtx)
				cancelPing()
				if err != nil {
					heartbeatErr <- err
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.Read(sessionCtx)
		if err != nil {
			select {
			case hbErr := <-heartbeatErr:
				return fmt.Errorf("heartbeat: %w", hbErr)
			default:
			}
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return err
		}
		f.handle(data)
	}
}

// handle applies one allMids message. Unknown channels are ignored.
func (f *HyperliquidFeed) handle(data []byte) int {
	var msg allMidsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.FeedMessages.WithLabelValues(ExchangeHyperliquid, "invalid").Inc()
		return 0
	}
	if msg.Channel != "allMids" {
		metrics.FeedMessages.WithLabelValues(ExchangeHyperliquid, "ignored").Inc()
		return 0
	}
	metrics.FeedMessages.WithLabelValues(ExchangeHyperliquid, "applied").Inc()
	at := f.now().UTC()
	n := 0
	for asset, raw := range msg.Data.Mids {
		asset = strings.ToUpper(asset)
		if len(f.assets) > 0 {
			if _, ok := f.assets[asset]; !ok {
				continue
			}
		}
		price, err := decimal.NewFromString(raw)
		if err != nil || !price.IsPositive() {
			continue
		}
		f.sink.Set(ExchangeHyperliquid, asset, price, at)
		n++
	}
	return n
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(0)
	if half := int64(base / 2); half > 0 {
		jitter = time.Duration(rand.Int63n(half))
	}
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
