// Package telemetry holds the Prometheus collectors and OpenTelemetry helpers
// shared by the sync server and client.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without metrics in tests:
//
//	reg := prometheus.NewRegistry()
//	m := telemetry.NewMetrics(telemetry.WithRegistry(reg))
//	srv, _ := server.New(cfg, src, server.WithMetrics(m))
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "dfsync").
	Namespace string

	// Subsystem is the metrics subsystem, typically "server" or "client".
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "dfsync",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Label values for MessageDropped.
const (
	DropMalformed     = "malformed"
	DropUnknown       = "unknown_command"
	DropUnauthorized  = "unauthorized"
	DropOversize      = "oversize"
	DropOwnPlayer     = "own_player"
	DropUnknownPlayer = "unknown_player"
)

// Label values for FileFetch.
const (
	FetchHit   = "hit"
	FetchMiss  = "miss"
	FetchError = "error"
)

// Metrics holds the sync collectors.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	authRejections    prometheus.Counter
	messagesReceived  *prometheus.CounterVec
	messagesRelayed   *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	bytesReceived     prometheus.Counter
	bytesSent         prometheus.Counter
	fileFetches       *prometheus.CounterVec
	snapshotBytes     prometheus.Histogram
	feedDropped       prometheus.Counter
}

// NewMetrics creates and registers the collectors. Registering twice on the
// same registry with the same namespace and subsystem panics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_active",
			Help:        "Number of established connections",
			ConstLabels: config.ConstLabels,
		}),
		connectionsTotal: counter("connections_total", "Total number of established connections"),
		authRejections:   counter("auth_rejections_total", "Total number of connections rejected at authentication"),
		messagesReceived: counterVec("messages_received_total", "Total framed messages received by command", "command"),
		messagesRelayed:  counterVec("messages_relayed_total", "Total framed messages relayed to peers by command", "command"),
		messagesDropped:  counterVec("messages_dropped_total", "Total framed messages dropped by reason", "reason"),
		bytesReceived:    counter("bytes_received_total", "Total bytes read from peers"),
		bytesSent:        counter("bytes_sent_total", "Total bytes written to peers"),
		fileFetches:      counterVec("file_fetches_total", "Total file fetch requests by result", "result"),
		snapshotBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "snapshot_bytes",
			Help:        "Size of campaign snapshots transferred",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(1024, 4, 8), // 1KB to 16MB
		}),
		feedDropped: counter("feed_dropped_total", "Total updates dropped because the feed was full"),
	}
}

// ConnectionOpened records an established connection.
func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connectionsActive.Inc()
		m.connectionsTotal.Inc()
	}
}

// ConnectionClosed records a closed established connection.
func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connectionsActive.Dec()
	}
}

// AuthRejected records a connection refused at authentication.
func (m *Metrics) AuthRejected() {
	if m != nil {
		m.authRejections.Inc()
	}
}

// MessageReceived records a decoded framed message.
func (m *Metrics) MessageReceived(command string) {
	if m != nil {
		m.messagesReceived.WithLabelValues(command).Inc()
	}
}

// MessageRelayed records a message written to n peers.
func (m *Metrics) MessageRelayed(command string, n int) {
	if m != nil && n > 0 {
		m.messagesRelayed.WithLabelValues(command).Add(float64(n))
	}
}

// MessageDropped records a discarded message.
func (m *Metrics) MessageDropped(reason string) {
	if m != nil {
		m.messagesDropped.WithLabelValues(reason).Inc()
	}
}

// BytesReceived records n bytes read.
func (m *Metrics) BytesReceived(n int) {
	if m != nil && n > 0 {
		m.bytesReceived.Add(float64(n))
	}
}

// BytesSent records n bytes written.
func (m *Metrics) BytesSent(n int) {
	if m != nil && n > 0 {
		m.bytesSent.Add(float64(n))
	}
}

// FileFetch records the outcome of a file request.
func (m *Metrics) FileFetch(result string) {
	if m != nil {
		m.fileFetches.WithLabelValues(result).Inc()
	}
}

// Snapshot records a transferred snapshot of n bytes.
func (m *Metrics) Snapshot(n int) {
	if m != nil {
		m.snapshotBytes.Observe(float64(n))
	}
}

// FeedDropped records an update the consumer missed.
func (m *Metrics) FeedDropped() {
	if m != nil {
		m.feedDropped.Inc()
	}
}
