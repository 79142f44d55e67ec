// Package metrics holds the engine's Prometheus collectors and the health
// status served on /healthz.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marketengine/internal/bus"
	"marketengine/internal/model"
)

// Metrics holds all Prometheus metrics for the market engine.
type Metrics struct {
	CandlesTotal    *prometheus.CounterVec // labels: symbol
	CandlesRejected *prometheus.CounterVec // labels: reason
	CandlesEvicted  prometheus.Counter
	CandleProcDur   prometheus.Histogram

	AlertsTotal  *prometheus.CounterVec // labels: type, severity
	SignalsTotal *prometheus.CounterVec // labels: type, direction
	AnalysisDur  prometheus.Histogram

	// Feed session
	ConnectionState       prometheus.Gauge       // see connectionStateValue
	ConnectionTransitions *prometheus.CounterVec // labels: status
	ReconnectAttempts     prometheus.Counter
	ReconnectDelay        prometheus.Gauge

	// Buffered channels; the channel label is one of a fixed set
	FanoutDropsTotal     *prometheus.CounterVec // labels: channel
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel
	StreamClients        prometheus.Gauge

	// Redis bridge
	RedisPublishDur          prometheus.Histogram
	RedisPublishErrors       prometheus.Counter
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	RedisFlushedWrites       prometheus.Counter
	RedisPendingWrites       prometheus.Gauge

	// Notification dispatch
	NotificationsTotal *prometheus.CounterVec // labels: notifier, result
}

// NewMetrics creates all collectors and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketengine_candles_total",
			Help: "Candles accepted into the store",
		}, []string{"symbol"}),
		CandlesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketengine_candles_rejected_total",
			Help: "Candles rejected as malformed or out of order",
		}, []string{"reason"}),
		CandlesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketengine_candles_evicted_total",
			Help: "Oldest candles dropped from full per-symbol histories",
		}),
		CandleProcDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketengine_candle_process_duration_seconds",
			Help:    "Latency of one AddCandle: indicators, rules and publish",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketengine_alerts_total",
			Help: "Alerts fired by rule type and severity",
		}, []string{"type", "severity"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketengine_signals_total",
			Help: "Alpha signals generated by type and direction",
		}, []string{"type", "direction"}),
		AnalysisDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketengine_analysis_duration_seconds",
			Help:    "Latency of one structure analysis pass over all symbols",
			Buckets: prometheus.DefBuckets,
		}),

		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketengine_connection_state",
			Help: "Feed state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=failed)",
		}),
		ConnectionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketengine_connection_transitions_total",
			Help: "Feed status transitions by target status",
		}, []string{"status"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketengine_reconnect_attempts_total",
			Help: "Feed reconnects scheduled after a session failure",
		}),
		ReconnectDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketengine_reconnect_delay_seconds",
			Help: "Backoff delay of the most recently scheduled reconnect",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketengine_fanout_drops_total",
			Help: "Events dropped because a consumer channel was full",
		}, []string{"channel"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketengine_channel_saturation_pct",
			Help: "Fill of the fullest channel in each group (len/cap * 100)",
		}, []string{"channel"}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketengine_stream_clients",
			Help: "Connected WebSocket stream clients",
		}),

		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketengine_redis_publish_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketengine_redis_publish_errors_total",
			Help: "Redis publishes that failed or were rejected by the breaker",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketengine_redis_buffered_writes_total",
			Help: "Redis writes held locally behind an open breaker or a backlog",
		}),
		RedisFlushedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketengine_redis_flushed_writes_total",
			Help: "Buffered Redis writes replayed after the breaker closed",
		}),
		RedisPendingWrites: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketengine_redis_pending_writes",
			Help: "Redis writes currently waiting in the local buffer",
		}),

		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketengine_notifications_total",
			Help: "Alert notifications by notifier and result",
		}, []string{"notifier", "result"}),
	}

	reg.MustRegister(
		m.CandlesTotal,
		m.CandlesRejected,
		m.CandlesEvicted,
		m.CandleProcDur,
		m.AlertsTotal,
		m.SignalsTotal,
		m.AnalysisDur,
		m.ConnectionState,
		m.ConnectionTransitions,
		m.ReconnectAttempts,
		m.ReconnectDelay,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.StreamClients,
		m.RedisPublishDur,
		m.RedisPublishErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisFlushedWrites,
		m.RedisPendingWrites,
		m.NotificationsTotal,
	)

	return m
}

func connectionStateValue(s model.ConnectionStatus) float64 {
	switch s {
	case model.StatusConnecting:
		return 1
	case model.StatusConnected:
		return 2
	case model.StatusReconnecting:
		return 3
	case model.StatusFailed:
		return 4
	}
	return 0
}

// Observer feeds store events into Metrics and HealthStatus. Either may be
// nil.
type Observer struct {
	M      *Metrics
	Health *HealthStatus
}

func (o Observer) CandleAccepted(symbol string, took time.Duration) {
	if o.M != nil {
		o.M.CandlesTotal.WithLabelValues(symbol).Inc()
		o.M.CandleProcDur.Observe(took.Seconds())
	}
	if o.Health != nil {
		o.Health.SetLastCandleTime(time.Now())
	}
}

func (o Observer) CandleRejected(_, reason string) {
	if o.M != nil {
		o.M.CandlesRejected.WithLabelValues(reason).Inc()
	}
}

func (o Observer) CandleEvicted(string) {
	if o.M != nil {
		o.M.CandlesEvicted.Inc()
	}
}

func (o Observer) AlertFired(a model.Alert) {
	if o.M != nil {
		o.M.AlertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
}

func (o Observer) SignalGenerated(s model.AlphaSignal) {
	if o.M != nil {
		o.M.SignalsTotal.WithLabelValues(string(s.Type), string(s.Direction)).Inc()
	}
}

func (o Observer) ConnectionChanged(s model.ConnectionStatus) {
	if o.M != nil {
		o.M.ConnectionState.Set(connectionStateValue(s))
		o.M.ConnectionTransitions.WithLabelValues(string(s)).Inc()
	}
	if o.Health != nil {
		o.Health.SetFeedStatus(s)
	}
}

func (o Observer) ReconnectScheduled(_ int, delay time.Duration) {
	if o.M != nil {
		o.M.ReconnectAttempts.Inc()
		o.M.ReconnectDelay.Set(delay.Seconds())
	}
}

func (o Observer) AnalysisCompleted(took time.Duration) {
	if o.M != nil {
		o.M.AnalysisDur.Observe(took.Seconds())
	}
}

// SetSaturation records the fill of the fullest channel in stats under
// the channel label. No channels reads as zero.
func (m *Metrics) SetSaturation(channel string, stats []bus.ChannelStat) {
	pct := 0.0
	for _, st := range stats {
		if st.Cap > 0 {
			pct = max(pct, float64(st.Len)/float64(st.Cap)*100)
		}
	}
	m.ChannelSaturationPct.WithLabelValues(channel).Set(pct)
}
