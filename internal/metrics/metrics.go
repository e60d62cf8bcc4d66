// Package metrics exposes Prometheus instruments and a health endpoint for
// the live driver.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the live session instruments.
type Metrics struct {
	BarsProcessed prometheus.Counter
	Signals       prometheus.Counter
	Decisions     *prometheus.CounterVec // labels: decision, reason
	Trades        *prometheus.CounterVec // labels: side, exit_reason
	TradePnL      prometheus.Histogram
	StepDuration  prometheus.Histogram
	FeedErrors    prometheus.Counter
	WSReconnects  prometheus.Counter

	Equity        prometheus.Gauge
	Drawdown      prometheus.Gauge
	DailyLoss     prometheus.Gauge
	PositionOpen  prometheus.Gauge
	LastBarUnix   prometheus.Gauge
	DroppedAlerts prometheus.Counter

	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBufferedWrites      prometheus.Counter
}

// NewMetrics creates the instruments and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		BarsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_bars_processed_total",
			Help: "Closed bars evaluated by the live driver",
		}),
		Signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_signals_total",
			Help: "Trade proposals produced by the strategy",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_risk_decisions_total",
			Help: "Risk manager decisions by outcome and veto reason",
		}, []string{"decision", "reason"}),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_trades_total",
			Help: "Closed trades by side and exit reason",
		}, []string{"side", "exit_reason"}),
		TradePnL: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalper_trade_pnl_usd",
			Help:    "Net PnL per closed trade",
			Buckets: []float64{-50, -20, -10, -5, -2, 0, 2, 5, 10, 20, 50},
		}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalper_step_duration_seconds",
			Help:    "Live driver poll step latency",
			Buckets: prometheus.DefBuckets,
		}),
		FeedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_feed_errors_total",
			Help: "Failed bar window fetches",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_ws_reconnects_total",
			Help: "Kline stream reconnection attempts",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_equity_usd",
			Help: "Realized equity",
		}),
		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_drawdown_ratio",
			Help: "Drawdown from peak equity as a fraction",
		}),
		DailyLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_daily_realized_loss_usd",
			Help: "Realized loss accumulated today",
		}),
		PositionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_position_open",
			Help: "1 while a position is open",
		}),
		LastBarUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_last_closed_bar_timestamp_seconds",
			Help: "Open time of the newest processed bar",
		}),
		DroppedAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_notifications_dropped_total",
			Help: "Alerts dropped because the notification queue was full",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_redis_buffered_writes_total",
			Help: "Writes held locally while the Redis circuit breaker was open",
		}),
	}

	reg.MustRegister(
		m.BarsProcessed,
		m.Signals,
		m.Decisions,
		m.Trades,
		m.TradePnL,
		m.StepDuration,
		m.FeedErrors,
		m.WSReconnects,
		m.Equity,
		m.Drawdown,
		m.DailyLoss,
		m.PositionOpen,
		m.LastBarUnix,
		m.DroppedAlerts,
		m.RedisCircuitBreakerState,
		m.RedisBufferedWrites,
	)
	return m
}

// RedisPinger is satisfied by *goredis.Client.
type RedisPinger interface {
	Ping(ctx context.Context) *goredis.StatusCmd
}

// HealthStatus tracks dependency health for /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool
	LastBarTime    time.Time
	RedisEnabled   bool
	RedisConnected bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
	now             func() time.Time
}

// NewHealthStatus returns a health status with the start time set.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), now: time.Now}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb RedisPinger) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the given dependencies every interval until
// ctx is done. Nil dependencies are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb RedisPinger, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckSQLite(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

type healthReport struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	FeedConnected   bool    `json:"feed_connected"`
	LastBarTime     string  `json:"last_bar_time,omitempty"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at,omitempty"`
}

// ServeHTTP handles /healthz. A disconnected feed makes the service
// unhealthy; a failing Redis or SQLite makes it degraded.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rep := healthReport{
		Status:          "healthy",
		Uptime:          h.now().Sub(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
	}
	if !h.LastBarTime.IsZero() {
		rep.LastBarTime = h.LastBarTime.UTC().Format(time.RFC3339)
	}
	if !h.LastCheckAt.IsZero() {
		rep.LastCheckAt = h.LastCheckAt.UTC().Format(time.RFC3339)
	}

	code := http.StatusOK
	switch {
	case !h.FeedConnected:
		rep.Status, code = "unhealthy", http.StatusServiceUnavailable
	case (h.RedisEnabled && !h.RedisConnected) || !h.SQLiteOK:
		rep.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(rep)
}

// Server serves /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates the HTTP server. A nil gatherer uses the default registry.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)
	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
