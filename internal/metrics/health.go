package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"marketengine/internal/model"
)

const pingTimeout = 3 * time.Second

// Pinger is the slice of a Redis client the liveness check needs.
type Pinger interface {
	Ping(ctx context.Context) *goredis.StatusCmd
}

type redisCheck struct {
	enabled bool
	up      bool
	latency time.Duration
	at      time.Time
}

// HealthStatus tracks feed and Redis liveness for /healthz.
type HealthStatus struct {
	started time.Time

	mu         sync.RWMutex
	feed       model.ConnectionStatus
	lastCandle time.Time
	redis      redisCheck
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{feed: model.StatusDisconnected, started: time.Now()}
}

func (h *HealthStatus) SetFeedStatus(s model.ConnectionStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.feed = s
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCandle = t
}

// CheckRedis pings once and records reachability and round trip time.
func (h *HealthStatus) CheckRedis(ctx context.Context, p Pinger) {
	start := time.Now()
	err := p.Ping(ctx).Err()
	check := redisCheck{enabled: true, up: err == nil, latency: time.Since(start), at: time.Now()}
	if err != nil {
		zap.L().Warn("metrics: redis ping failed", zap.Error(err))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.redis = check
}

// StartLivenessChecker runs CheckRedis every interval until ctx is done.
// A nil pinger leaves Redis reported as disabled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, p Pinger, interval time.Duration) {
	if p == nil {
		return
	}
	h.mu.Lock()
	h.redis.enabled = true
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pctx, cancel := context.WithTimeout(ctx, pingTimeout)
				h.CheckRedis(pctx, p)
				cancel()
			}
		}
	}()
}

// Report is the /healthz body.
type Report struct {
	Status         string  `json:"status"`
	Uptime         string  `json:"uptime"`
	FeedStatus     string  `json:"feed_status"`
	LastCandleTime string  `json:"last_candle_time,omitempty"`
	CandleAge      string  `json:"candle_age,omitempty"`
	RedisEnabled   bool    `json:"redis_enabled"`
	RedisConnected bool    `json:"redis_connected"`
	RedisLatencyMs float64 `json:"redis_latency_ms"`
	LastCheckAt    string  `json:"last_check_at,omitempty"`
}

// Report grades the engine. Anything short of a connected feed and a
// reachable (or disabled) Redis is degraded and answers 503. A feed that
// has exhausted its reconnects is unhealthy.
func (h *HealthStatus) Report() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := Report{
		Status:         "healthy",
		Uptime:         time.Since(h.started).Round(time.Second).String(),
		FeedStatus:     string(h.feed),
		RedisEnabled:   h.redis.enabled,
		RedisConnected: h.redis.up,
		RedisLatencyMs: float64(h.redis.latency.Microseconds()) / 1000,
	}
	if !h.lastCandle.IsZero() {
		r.LastCandleTime = h.lastCandle.Format(time.RFC3339)
		r.CandleAge = time.Since(h.lastCandle).Round(time.Millisecond).String()
	}
	if !h.redis.at.IsZero() {
		r.LastCheckAt = h.redis.at.Format(time.RFC3339)
	}

	switch {
	case h.feed == model.StatusFailed:
		r.Status = "unhealthy"
	case h.feed != model.StatusConnected, h.redis.enabled && !h.redis.up:
		r.Status = "degraded"
	default:
		return r, http.StatusOK
	}
	return r, http.StatusServiceUnavailable
}

func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	report, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		zap.L().Warn("metrics: encode health report", zap.Error(err))
	}
}
