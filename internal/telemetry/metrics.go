// Package telemetry provides Prometheus metrics for indexing runs.
//
// Metrics are registered against a caller-supplied registerer so that an
// embedding process can expose them, and tests can use a private registry.
// All operations are safe for concurrent use.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/phobologic/repoctx/internal/change"
	"github.com/phobologic/repoctx/internal/model"
)

const namespace = "repoctx"

// Run modes recorded by RecordRun.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
	ModeNoop        = "noop"
)

// Metrics holds the indexer's Prometheus collectors.
type Metrics struct {
	// FilesTotal counts files seen per run by change status.
	// Labels: status (added, modified, unchanged, removed)
	FilesTotal *prometheus.CounterVec

	// ParseErrorsTotal counts files whose parse failed.
	// Labels: language
	ParseErrorsTotal *prometheus.CounterVec

	// ParseDurationSeconds measures the time to parse one file.
	// Labels: language
	ParseDurationSeconds *prometheus.HistogramVec

	// Edges is the number of call edges in the latest index.
	// Labels: kind (local, builtin, external, unresolved)
	Edges *prometheus.GaugeVec

	// RunsTotal counts LoadOrBuild invocations.
	// Labels: mode (full, incremental, noop)
	RunsTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg gets a fresh private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		FilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files seen by change status",
		}, []string{"status"}),
		ParseErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Files that failed to parse, by language",
		}, []string{"language"}),
		ParseDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parse_duration_seconds",
			Help:      "Time to parse a single file, by language",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"language"}),
		Edges: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "edges",
			Help:      "Call edges in the latest index, by callee kind",
		}, []string{"kind"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Index runs by mode",
		}, []string{"mode"}),
	}
}

// RecordPlan counts the files of a change plan by status.
func (m *Metrics) RecordPlan(p *change.Plan) {
	m.FilesTotal.WithLabelValues(string(change.Added)).Add(float64(len(p.Added)))
	m.FilesTotal.WithLabelValues(string(change.Modified)).Add(float64(len(p.Modified)))
	m.FilesTotal.WithLabelValues(string(change.Unchanged)).Add(float64(len(p.Unchanged)))
	m.FilesTotal.WithLabelValues(string(change.Removed)).Add(float64(len(p.Removed)))
}

// RecordParse observes one file parse.
func (m *Metrics) RecordParse(language string, elapsed time.Duration, failed bool) {
	m.ParseDurationSeconds.WithLabelValues(language).Observe(elapsed.Seconds())
	if failed {
		m.ParseErrorsTotal.WithLabelValues(language).Inc()
	}
}

// RecordEdges sets the edge gauges from index stats.
func (m *Metrics) RecordEdges(e model.EdgeCounts) {
	m.Edges.WithLabelValues(string(model.Local)).Set(float64(e.Local))
	m.Edges.WithLabelValues(string(model.Builtin)).Set(float64(e.Builtin))
	m.Edges.WithLabelValues(string(model.External)).Set(float64(e.External))
	m.Edges.WithLabelValues(string(model.Unresolved)).Set(float64(e.Unresolved))
}

// RecordRun counts one run in the given mode.
func (m *Metrics) RecordRun(mode string) {
	m.RunsTotal.WithLabelValues(mode).Inc()
}
