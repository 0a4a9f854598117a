// Package metrics holds the Prometheus collectors for upload sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "recstream").
	Namespace string

	// Registry is the registerer the collectors are attached to.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registerer.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics records upload session activity.
type Metrics struct {
	activeSessions  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	chunksTotal     prometheus.Counter
	sessionDuration prometheus.Histogram
	sessionBytes    prometheus.Histogram
	deliveryErrors  *prometheus.CounterVec
}

// New registers the upload collectors.
func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "recstream",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "upload",
			Name:      "active_sessions",
			Help:      "Number of upload sessions currently receiving frames",
		}),
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "upload",
			Name:      "sessions_total",
			Help:      "Upload sessions by outcome, including sessions rejected before receiving",
		}, []string{"status"}),
		bytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Bytes appended to recording files",
		}),
		chunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "upload",
			Name:      "chunks_total",
			Help:      "Non-empty binary frames appended to recording files",
		}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "upload",
			Name:      "session_duration_seconds",
			Help:      "Wall time from connection accept to finalize",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}),
		sessionBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "upload",
			Name:      "session_bytes",
			Help:      "Recording size per session in bytes",
			Buckets:   prometheus.ExponentialBuckets(64<<10, 4, 8), // 64KiB to 1GiB
		}),
		deliveryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "upload",
			Name:      "delivery_errors_total",
			Help:      "Post-session archive and notification failures",
		}, []string{"stage"}),
	}
}

// SessionStarted marks a session as active.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionFinished records the outcome of a session.
func (m *Metrics) SessionFinished(status string, chunks int, bytes int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionsTotal.WithLabelValues(status).Inc()
	m.chunksTotal.Add(float64(chunks))
	m.bytesTotal.Add(float64(bytes))
	m.sessionDuration.Observe(elapsed.Seconds())
	m.sessionBytes.Observe(float64(bytes))
}

// SessionRejected counts a session that never started receiving, labelled
// with reason ("busy" for an occupied destination).
func (m *Metrics) SessionRejected(reason string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(reason).Inc()
}

// DeliveryFailed records an archive or notify failure.
func (m *Metrics) DeliveryFailed(stage string) {
	if m == nil {
		return
	}
	m.deliveryErrors.WithLabelValues(stage).Inc()
}
