package rebuild

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for the runs counter.
const (
	resultCommitted = "committed"
	resultSkipped   = "skipped"
	resultFailed    = "failed"
)

// Metrics are the Prometheus collectors updated by the orchestrator.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	entities prometheus.Gauge
	edges    prometheus.Gauge
	warnings prometheus.Counter
}

// NewMetrics creates the rebuild collectors and registers them with reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kgindex",
			Subsystem: "rebuild",
			Name:      "runs_total",
			Help:      "Rebuild runs by result (committed, skipped, failed).",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kgindex",
			Subsystem: "rebuild",
			Name:      "duration_seconds",
			Help:      "Duration of rebuild runs that reached the build stage.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kgindex",
			Subsystem: "graph",
			Name:      "entities",
			Help:      "Entities in the live snapshot.",
		}),
		edges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kgindex",
			Subsystem: "graph",
			Name:      "edges",
			Help:      "Relationships in the live snapshot.",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kgindex",
			Subsystem: "rebuild",
			Name:      "warnings_total",
			Help:      "File-level scan and extraction warnings.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.duration, m.entities, m.edges, m.warnings)
	}
	return m
}

func (m *Metrics) observe(result string, out *Outcome) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	if out == nil {
		return
	}
	m.warnings.Add(float64(len(out.Warnings)))
	if result == resultCommitted {
		m.duration.Observe(out.Duration.Seconds())
		m.entities.Set(float64(out.Entities))
		m.edges.Set(float64(out.Edges))
	}
}

func (m *Metrics) observeFailure(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(resultFailed).Inc()
	m.duration.Observe(elapsed.Seconds())
}
