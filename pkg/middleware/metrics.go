package middleware

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/lx/pkg/lx"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "lx").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for batch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
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

// WithBuckets sets the batch duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
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
		Namespace: "lx",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors fed by the middleware returned
// from Middleware.
type Metrics struct {
	nodesCreated    *prometheus.CounterVec
	nodesLive       *prometheus.GaugeVec
	writes          *prometheus.CounterVec
	writeErrors     *prometheus.CounterVec
	batches         *prometheus.CounterVec
	batchSize       prometheus.Histogram
	batchDuration   prometheus.Histogram
	graphChanges    prometheus.Counter
	errors          *prometheus.CounterVec
	listenerEvents  *prometheus.CounterVec
	listenersActive prometheus.Gauge

	starts sync.Map // batch id -> time.Time
}

// NewMetrics creates and registers the collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		nodesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "nodes_created_total",
			Help:        "Total number of reactive nodes created",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		nodesLive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "nodes_live",
			Help:        "Number of reactive nodes not yet closed",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		writes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "writes_total",
			Help:        "Total number of writes that reached a source node",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		writeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "write_errors_total",
			Help:        "Total number of writes that returned an error",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "error_type"}),

		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "batches_total",
			Help:        "Total number of batches by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "batch_size",
			Help:        "Distinct nodes flushed per batch",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),

		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "batch_duration_seconds",
			Help:        "Batch duration from start to the end of its flush",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		graphChanges: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "graph_changes_total",
			Help:        "Total number of dependency set changes of derived nodes",
			ConstLabels: config.ConstLabels,
		}),

		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "errors_total",
			Help:        "Total derivation and listener failures",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "error_type"}),

		listenerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "listener_events_total",
			Help:        "Total listener additions, removals and notifications",
			ConstLabels: config.ConstLabels,
		}, []string{"op"}),

		listenersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "listeners_active",
			Help:        "Number of live subscriptions",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Middleware returns the hooks that feed m. The same Metrics may back
// several pipelines.
func (m *Metrics) Middleware() lx.Middleware {
	return lx.Middleware{
		Name: "prometheus",
		OnRegister: func(info lx.NodeInfo) {
			kind := info.Kind.String()
			m.nodesCreated.WithLabelValues(kind).Inc()
			m.nodesLive.WithLabelValues(kind).Inc()
		},
		OnDispose: func(info lx.NodeInfo) {
			m.nodesLive.WithLabelValues(info.Kind.String()).Dec()
		},
		WrapWrite: func(next lx.WriteFunc) lx.WriteFunc {
			return func(ev *lx.WriteEvent) error {
				kind := ev.Node.Kind.String()
				m.writes.WithLabelValues(kind).Inc()
				err := next(ev)
				if err != nil {
					m.writeErrors.WithLabelValues(kind, categorizeError(err)).Inc()
				}
				return err
			}
		},
		OnBatchStart: func(info lx.BatchInfo) {
			m.starts.Store(info.ID, time.Now())
		},
		OnBatchEnd: func(info lx.BatchInfo, err error) {
			if v, ok := m.starts.LoadAndDelete(info.ID); ok {
				m.batchDuration.Observe(time.Since(v.(time.Time)).Seconds())
			}
			m.batchSize.Observe(float64(info.Size))
			status := "success"
			if err != nil {
				status = "error"
			}
			m.batches.WithLabelValues(status).Inc()
		},
		OnGraphChange: func(lx.GraphChange) {
			m.graphChanges.Inc()
		},
		OnError: func(ev lx.ErrorEvent) {
			m.errors.WithLabelValues(ev.Node.Kind.String(), categorizeError(ev.Err)).Inc()
		},
		OnListener: func(ev lx.ListenerEvent) {
			m.listenerEvents.WithLabelValues(ev.Op.String()).Inc()
			switch ev.Op {
			case lx.ListenerAdded:
				m.listenersActive.Inc()
			case lx.ListenerRemoved:
				m.listenersActive.Dec()
			}
		},
	}
}

// globalMetrics backs Prometheus. Created on first call.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.Mutex
)

// Prometheus returns middleware recording into a process-wide Metrics.
// Options only apply to the first call.
//
// Metrics collected:
//   - lx_nodes_created_total, lx_nodes_live: by node kind
//   - lx_writes_total, lx_write_errors_total: source writes by kind
//   - lx_batches_total, lx_batch_size, lx_batch_duration_seconds
//   - lx_graph_changes_total: dependency set changes
//   - lx_errors_total: derivation and listener failures
//   - lx_listener_events_total, lx_listeners_active
//
// Example:
//
//	lx.DefaultPipeline().Use(middleware.Prometheus())
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) lx.Middleware {
	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = NewMetrics(opts...)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()
	return m.Middleware()
}

// categorizeError maps an error to a low-cardinality label.
func categorizeError(err error) string {
	var (
		derr *lx.DerivationError
		lerr *lx.ListenerError
	)
	switch {
	case errors.Is(err, lx.ErrCycle):
		return "cycle"
	case errors.Is(err, lx.ErrDisposed):
		return "disposed"
	case errors.As(err, &derr):
		if derr.Panic != nil {
			return "panic"
		}
		return "derivation"
	case errors.As(err, &lerr):
		if lerr.Panic != nil {
			return "panic"
		}
		return "listener"
	default:
		return "internal"
	}
}

// batchLabel renders a batch for span and log attributes.
func batchLabel(info lx.BatchInfo) string {
	if info.Name != "" {
		return info.Name
	}
	return "batch#" + strconv.FormatUint(info.ID, 10)
}
