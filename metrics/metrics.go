// Package metrics exports Prometheus counters for imports and publications
// and serves them on a dedicated listener.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/s3-resource-publisher/interfaces"
)

const (
	resultSuccess = "success"
	resultError   = "error"
)

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	imports      *prometheus.CounterVec
	publications *prometheus.CounterVec
	failures     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewMetrics registers the collectors under namespace in a fresh registry.
func NewMetrics(namespace string) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Resources imported into a store.",
		}, []string{"collection", "result"}),
		publications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publications_total",
			Help:      "Publish and unpublish calls by outcome.",
		}, []string{"target", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed operations by error class.",
		}, []string{"op", "class"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of store and target operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	for _, c := range []prometheus.Collector{
		m.imports,
		m.publications,
		m.failures,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveImport counts one import into collection.
func (m *Metrics) ObserveImport(collection string, err error) {
	if m == nil {
		return
	}
	m.imports.WithLabelValues(collection, result(err)).Inc()
	if err != nil {
		m.failures.WithLabelValues("import", Classify(err)).Inc()
	}
}

// ObservePublication counts one publish or unpublish call on target.
func (m *Metrics) ObservePublication(target, op string, outcome interfaces.PublishOutcome, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.failures.WithLabelValues(op, Classify(err)).Inc()
		return
	}
	m.publications.WithLabelValues(target, outcome.String()).Inc()
}

// ObserveDuration records how long op took since start.
func (m *Metrics) ObserveDuration(op string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Classify names the error class of err for metric labels.
func Classify(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrConfiguration):
		return "configuration"
	case errors.Is(err, interfaces.ErrOriginNotFound):
		return "origin_not_found"
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, interfaces.ErrSourceDataMissing):
		return "source_data_missing"
	case errors.Is(err, interfaces.ErrImportFailure):
		return "import_failure"
	case errors.Is(err, interfaces.ErrContentNotFound):
		return "not_found"
	default:
		return "other"
	}
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

// MetricsServer exposes Metrics over HTTP at /metrics.
type MetricsServer struct {
	metrics *Metrics
	srv     *http.Server
}

// New creates the metrics of namespace and a server for them on addr.
func New(namespace, addr string) (*MetricsServer, error) {
	m, err := NewMetrics(namespace)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &MetricsServer{
		metrics: m,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Metrics returns the collectors served by s.
func (s *MetricsServer) Metrics() *Metrics {
	return s.metrics
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
