package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "csv_relay"

// Metrics holds the relay's Prometheus collectors.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	rowsRead           prometheus.Counter
	rowsSkipped        *prometheus.CounterVec
	messagesPublished  prometheus.Counter
	batchesPublished   prometheus.Counter
	invocations        *prometheus.CounterVec
	batchSize          prometheus.Histogram
	invocationDuration prometheus.Histogram
	triggerEvents      *prometheus.CounterVec
}

// New creates and registers the relay collectors on a dedicated registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		rowsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Data rows read from source objects",
		}),
		rowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Rows that produced no message, by reason",
		}, []string{"reason"}),
		messagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages acknowledged by the message bus",
		}),
		batchesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_published_total",
			Help:      "Batches acknowledged by the message bus",
		}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Processed objects by outcome",
		}, []string{"outcome"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_messages",
			Help:      "Messages per published batch",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		invocationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Time spent processing one object",
			Buckets:   prometheus.DefBuckets,
		}),
		triggerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_events_total",
			Help:      "Storage notifications consumed by the worker, by disposition",
		}, []string{"disposition"}),
	}

	registry.MustRegister(
		m.rowsRead,
		m.rowsSkipped,
		m.messagesPublished,
		m.batchesPublished,
		m.invocations,
		m.batchSize,
		m.invocationDuration,
		m.triggerEvents,
	)

	return m
}

// RowsRead counts data rows
func (m *Metrics) RowsRead(n int) {
	if m == nil {
		return
	}
	m.rowsRead.Add(float64(n))
}

// RowsSkipped counts skipped rows for one reason
func (m *Metrics) RowsSkipped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsSkipped.WithLabelValues(reason).Add(float64(n))
}

// BatchPublished records one acknowledged batch
func (m *Metrics) BatchPublished(messages int) {
	if m == nil {
		return
	}
	m.batchesPublished.Inc()
	m.messagesPublished.Add(float64(messages))
	m.batchSize.Observe(float64(messages))
}

// Invocation records the outcome and duration of one object
func (m *Metrics) Invocation(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(outcome).Inc()
	m.invocationDuration.Observe(duration.Seconds())
}

// TriggerEvent records what the worker did with a storage notification
func (m *Metrics) TriggerEvent(disposition string) {
	if m == nil {
		return
	}
	m.triggerEvents.WithLabelValues(disposition).Inc()
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics endpoint in the background and returns the server for shutdown
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("📈 Serving Prometheus metrics")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()

	return server
}
