// Package metrics holds the Prometheus instrumentation for the trading loops and the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SignalsTotal counts persisted signals, passes included.
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_signals_total",
		Help: "Signals written by the orchestrator",
	}, []string{"strategy", "direction"})

	// StrategyFaults counts strategy errors and recovered panics.
	StrategyFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_strategy_faults_total",
		Help: "Strategy evaluations that returned an error or panicked",
	}, []string{"strategy", "kind"})

	StaleSnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_stale_snapshots_total",
		Help: "Assets skipped because market data was stale",
	}, []string{"asset"})

	ClaimRaces = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_claim_races_total",
		Help: "Signal claims lost to another engine",
	})

	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_positions_opened_total",
		Help: "Paper positions opened",
	}, []string{"account"})

	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_positions_closed_total",
		Help: "Paper positions closed, by exit reason",
	}, []string{"account", "reason"})

	// RiskRejections counts signals refused by the risk gate or the sizer.
	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_risk_rejections_total",
		Help: "Signals refused before a position was opened",
	}, []string{"reason"})

	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_tick_duration_seconds",
		Help:    "Duration of one loop tick",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"loop"})

	TickFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_tick_failures_total",
		Help: "Loop ticks that returned an error",
	}, []string{"loop"})

	AccountEquity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "papertrade_account_equity",
		Help: "Total equity at the last mark-to-market",
	}, []string{"account"})

	FeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_feed_messages_total",
		Help: "Price feed messages by outcome",
	}, []string{"feed", "outcome"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request metrics keyed by the matched route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
