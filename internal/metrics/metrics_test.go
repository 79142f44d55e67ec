package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"marketengine/internal/bus"
	"marketengine/internal/model"
)

func TestObserver_CountsPipelineEvents(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := NewHealthStatus()
	o := Observer{M: m, Health: h}

	o.CandleAccepted("BTCUSDT", time.Millisecond)
	o.CandleAccepted("BTCUSDT", time.Millisecond)
	o.CandleRejected("ETHUSDT", "out_of_order")
	o.CandleRejected("SOLUSDT", "out_of_order")
	o.CandleEvicted("BTCUSDT")
	o.AlertFired(model.Alert{Type: model.AlertBreakout, Severity: model.SeverityHigh})
	o.SignalGenerated(model.AlphaSignal{Type: model.SignalLiquidityHunt, Direction: model.Short})

	if got := testutil.ToFloat64(m.CandlesTotal.WithLabelValues("BTCUSDT")); got != 2 {
		t.Errorf("candles_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CandlesRejected.WithLabelValues("out_of_order")); got != 2 {
		t.Errorf("candles_rejected_total{reason=out_of_order} = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.CandlesRejected); got != 1 {
		t.Errorf("rejections should share one series per reason, got %d series", got)
	}
	if got := testutil.ToFloat64(m.CandlesEvicted); got != 1 {
		t.Errorf("candles_evicted_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AlertsTotal.WithLabelValues("breakout", "high")); got != 1 {
		t.Errorf("alerts_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("liquidity_hunt", "short")); got != 1 {
		t.Errorf("signals_total = %v, want 1", got)
	}
	if r, _ := h.Report(); r.LastCandleTime == "" {
		t.Error("health did not record candle time")
	}
}

func TestObserver_ConnectionState(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	o := Observer{M: m}

	o.ConnectionChanged(model.StatusConnecting)
	o.ConnectionChanged(model.StatusConnected)
	if got := testutil.ToFloat64(m.ConnectionState); got != 2 {
		t.Errorf("connection_state = %v, want 2", got)
	}
	o.ConnectionChanged(model.StatusFailed)
	if got := testutil.ToFloat64(m.ConnectionState); got != 4 {
		t.Errorf("connection_state = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.ConnectionTransitions.WithLabelValues("connected")); got != 1 {
		t.Errorf("transitions{connected} = %v, want 1", got)
	}

	o.ReconnectScheduled(0, time.Second)
	o.ReconnectScheduled(1, 2*time.Second)
	if got := testutil.ToFloat64(m.ReconnectAttempts); got != 2 {
		t.Errorf("reconnect_attempts_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ReconnectDelay); got != 2 {
		t.Errorf("reconnect_delay_seconds = %v, want 2", got)
	}
}

func TestMetrics_SetSaturation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	full := make(chan int, 4)
	full <- 1
	full <- 2
	full <- 3
	m.SetSaturation("ws", []bus.ChannelStat{{Len: 1, Cap: 10}, bus.StatOf[int](full), {Len: 0, Cap: 0}})
	if got := testutil.ToFloat64(m.ChannelSaturationPct.WithLabelValues("ws")); got != 75 {
		t.Errorf("saturation{ws} = %v, want 75", got)
	}

	m.SetSaturation("ws", nil)
	if got := testutil.ToFloat64(m.ChannelSaturationPct.WithLabelValues("ws")); got != 0 {
		t.Errorf("saturation{ws} with no channels = %v, want 0", got)
	}
}

func TestObserver_NilParts(t *testing.T) {
	var o Observer
	o.CandleAccepted("X", 0)
	o.ConnectionChanged(model.StatusConnected)
	o.CandleEvicted("X")
	o.ReconnectScheduled(0, time.Second)
	o.AnalysisCompleted(time.Second)
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	h := NewHealthStatus()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disconnected feed: code = %d, want 503", rec.Code)
	}

	h.SetFeedStatus(model.StatusConnected)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("connected feed: code = %d, want 200", rec.Code)
	}
	var r Report
	if err := json.NewDecoder(rec.Body).Decode(&r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Status != "healthy" || r.FeedStatus != "connected" {
		t.Fatalf("unexpected report: %+v", r)
	}

	h.SetFeedStatus(model.StatusFailed)
	if r, code := h.Report(); r.Status != "unhealthy" || code != http.StatusServiceUnavailable {
		t.Fatalf("failed feed: %s/%d", r.Status, code)
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", p.err)
}

func TestHealthStatus_RedisPing(t *testing.T) {
	h := NewHealthStatus()
	h.SetFeedStatus(model.StatusConnected)

	h.CheckRedis(context.Background(), stubPinger{err: errors.New("connection refused")})
	r, code := h.Report()
	if r.Status != "degraded" || code != http.StatusServiceUnavailable {
		t.Fatalf("unreachable redis: %s/%d", r.Status, code)
	}
	if !r.RedisEnabled || r.RedisConnected || r.LastCheckAt == "" {
		t.Fatalf("unexpected redis fields: %+v", r)
	}

	h.CheckRedis(context.Background(), stubPinger{})
	if r, code := h.Report(); r.Status != "healthy" || code != http.StatusOK || !r.RedisConnected {
		t.Fatalf("reachable redis: %+v/%d", r, code)
	}
}

func TestHealthStatus_NilPingerLeavesRedisDisabled(t *testing.T) {
	h := NewHealthStatus()
	h.StartLivenessChecker(context.Background(), nil, time.Millisecond)
	if r, _ := h.Report(); r.RedisEnabled {
		t.Fatal("redis reported enabled without a client")
	}
}
