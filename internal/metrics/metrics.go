package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the Prometheus registry and every collector.
// A nil or disabled Manager is safe to use; all recorders become no-ops.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Connection metrics
	connections     *prometheus.GaugeVec
	connectAttempts *prometheus.CounterVec
	connectDuration *prometheus.HistogramVec
	reconnects      *prometheus.CounterVec

	// Outbound metrics
	sends        *prometheus.CounterVec
	queueDropped prometheus.Counter

	// Router metrics
	events          *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	parseFailures   prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	ConnectDurationBuckets []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		Port:                   9090,
		Path:                   "/metrics",
		ConnectDurationBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}
}

// NewManager creates a metrics manager with its own registry.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initConnectionMetrics(cfg)
	m.initRouterMetrics()

	return m
}

// NoOpManager returns a manager that records nothing.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}

func (m *Manager) initConnectionMetrics(cfg Config) {
	buckets := cfg.ConnectDurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m.connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Logical WebSocket connections by lifecycle state",
		},
		[]string{"state"},
	)

	m.connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_connect_attempts_total",
			Help: "Connect attempts by outcome",
		},
		[]string{"outcome"},
	)

	m.connectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ws_connect_duration_seconds",
			Help:    "Time from dial to open, timeout or failure",
			Buckets: buckets,
		},
		[]string{"outcome"},
	)

	m.reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_reconnects_total",
			Help: "Reconnect scheduling decisions",
		},
		[]string{"decision"},
	)

	m.sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_outbound_messages_total",
			Help: "Outbound messages by result",
		},
		[]string{"result"},
	)

	m.queueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_outbound_queue_dropped_total",
			Help: "Queued messages discarded because the queue was full",
		},
	)

	m.registry.MustRegister(m.connections)
	m.registry.MustRegister(m.connectAttempts)
	m.registry.MustRegister(m.connectDuration)
	m.registry.MustRegister(m.reconnects)
	m.registry.MustRegister(m.sends)
	m.registry.MustRegister(m.queueDropped)
}

func (m *Manager) initRouterMetrics() {
	m.events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_dispatched_total",
			Help: "Events dispatched to subscribers by kind",
		},
		[]string{"kind"},
	)

	m.handlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_handler_failures_total",
			Help: "Subscriber handlers that panicked, by event kind",
		},
		[]string{"kind"},
	)

	m.parseFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_message_parse_failures_total",
			Help: "Inbound frames delivered raw because JSON decoding failed",
		},
	)

	m.registry.MustRegister(m.events)
	m.registry.MustRegister(m.handlerFailures)
	m.registry.MustRegister(m.parseFailures)
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// Registry exposes the underlying registry, nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	if !m.Enabled() {
		return nil
	}
	return m.registry
}

// RecordTransition moves one connection between state gauges.
// An empty from or to means the connection is being created or removed.
func (m *Manager) RecordTransition(from, to string) {
	if !m.Enabled() || from == to {
		return
	}
	if from != "" {
		m.connections.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.connections.WithLabelValues(to).Inc()
	}
}

// RecordConnectAttempt records how a connect attempt ended and how long it took.
func (m *Manager) RecordConnectAttempt(outcome string, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.connectAttempts.WithLabelValues(outcome).Inc()
	m.connectDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordReconnect records a scheduler decision ("scheduled" or "exhausted").
func (m *Manager) RecordReconnect(decision string) {
	if !m.Enabled() {
		return
	}
	m.reconnects.WithLabelValues(decision).Inc()
}

// RecordSend records an outbound message result ("sent", "queued", "dropped", "failed").
func (m *Manager) RecordSend(result string) {
	if !m.Enabled() {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

// RecordQueueDrop records a queued message lost to overflow.
func (m *Manager) RecordQueueDrop() {
	if !m.Enabled() {
		return
	}
	m.queueDropped.Inc()
}

// RecordEvent records a dispatched event.
func (m *Manager) RecordEvent(kind string) {
	if !m.Enabled() {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// RecordHandlerFailure records a subscriber handler that panicked.
func (m *Manager) RecordHandlerFailure(kind string) {
	if !m.Enabled() {
		return
	}
	m.handlerFailures.WithLabelValues(kind).Inc()
}

// RecordParseFailure records a message frame that was not valid JSON.
func (m *Manager) RecordParseFailure() {
	if !m.Enabled() {
		return
	}
	m.parseFailures.Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.Enabled() {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
