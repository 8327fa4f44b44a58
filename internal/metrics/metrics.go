// Package metrics records import activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dicomshelf"

// Outcome labels for finished runs.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Import holds the collectors updated by the import pipeline. A nil *Import
// records nothing.
type Import struct {
	runs     *prometheus.CounterVec
	files    *prometheus.CounterVec
	added    *prometheus.CounterVec
	duration prometheus.Histogram
	active   prometheus.Gauge
}

// NewImport creates the import collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewImport(reg prometheus.Registerer) *Import {
	m := &Import{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "runs_total",
			Help:      "Import runs by outcome.",
		}, []string{"outcome"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "files_total",
			Help:      "Files seen by the import pipeline, by result.",
		}, []string{"result"}),
		added: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "records_added_total",
			Help:      "Hierarchy records created by imports, by level.",
		}, []string{"level"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Wall time of import runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "active",
			Help:      "1 while an import run is in progress.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.files, m.added, m.duration, m.active)
	}
	return m
}

// RunStarted marks a run as active.
func (m *Import) RunStarted() {
	if m == nil {
		return
	}
	m.active.Set(1)
}

// RunFinished records the outcome and duration of a run.
func (m *Import) RunFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.active.Set(0)
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

// FileIndexed counts a committed file.
func (m *Import) FileIndexed() {
	if m == nil {
		return
	}
	m.files.WithLabelValues("indexed").Inc()
}

// FileSkipped counts a file that could not be parsed.
func (m *Import) FileSkipped() {
	if m == nil {
		return
	}
	m.files.WithLabelValues("skipped").Inc()
}

// RecordAdded counts a newly created record at level ("patient", "study", ...).
func (m *Import) RecordAdded(level string) {
	if m == nil {
		return
	}
	m.added.WithLabelValues(level).Inc()
}
