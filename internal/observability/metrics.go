package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kubeadapt/gpudiag/pkg/model"
)

// Metrics holds the Prometheus metrics describing one diagnostic run.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Source metrics
	SourceDuration *prometheus.GaugeVec
	SourceUp       *prometheus.GaugeVec

	// Result metrics
	CheckResults  *prometheus.GaugeVec
	OverallStatus prometheus.Gauge
	IssuesTotal   *prometheus.CounterVec

	// Run metrics
	RunDuration      prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		SourceDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpudiag_source_duration_seconds",
			Help: "Time spent collecting each data source in seconds.",
		}, []string{"source"}),
		SourceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpudiag_source_up",
			Help: "Whether the data source produced data (1) or not (0).",
		}, []string{"source"}),

		CheckResults: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpudiag_check_results",
			Help: "Number of check results per category and status.",
		}, []string{"category", "status"}),
		OverallStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpudiag_overall_status",
			Help: "Overall host status (0 = pass, 1 = warn, 2 = fail).",
		}),
		IssuesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpudiag_parse_issues_total",
			Help: "Total number of data-quality issues raised, by code.",
		}, []string{"code"}),

		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpudiag_run_duration_seconds",
			Help: "Duration of the last diagnostic run in seconds.",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpudiag_last_run_timestamp_seconds",
			Help: "Unix time the last report was generated.",
		}),
	}

	// Register all metrics with the custom registry.
	reg.MustRegister(
		m.SourceDuration,
		m.SourceUp,
		m.CheckResults,
		m.OverallStatus,
		m.IssuesTotal,
		m.RunDuration,
		m.LastRunTimestamp,
	)

	return m
}

// StatusValue maps an overall status onto the gpudiag_overall_status gauge.
func StatusValue(s model.Status) float64 {
	switch s {
	case model.StatusFail:
		return 2
	case model.StatusWarn:
		return 1
	default:
		return 0
	}
}

// RecordSources sets the per-source gauges.
func (m *Metrics) RecordSources(sources []model.SourceStatus) {
	for _, s := range sources {
		up := 0.0
		if s.Available {
			up = 1
		}
		m.SourceUp.WithLabelValues(s.Name).Set(up)
		m.SourceDuration.WithLabelValues(s.Name).Set(float64(s.DurationMs) / 1000)
	}
}

// RecordReport sets the result gauges from a finished report. Every status
// of every category present is exported, zeros included, so that a series
// drops to 0 rather than disappearing when a problem clears.
func (m *Metrics) RecordReport(r model.Report) {
	statuses := []model.Status{model.StatusPass, model.StatusWarn, model.StatusFail, model.StatusSkipped}
	for cat, results := range r.ByCategory() {
		counts := make(map[model.Status]int, len(statuses))
		for _, res := range results {
			counts[res.Status]++
		}
		for _, st := range statuses {
			m.CheckResults.WithLabelValues(cat, string(st)).Set(float64(counts[st]))
		}
	}
	for _, is := range r.Issues {
		m.IssuesTotal.WithLabelValues(is.Code).Inc()
	}
	m.OverallStatus.Set(StatusValue(r.OverallStatus))
	m.LastRunTimestamp.Set(float64(r.GeneratedAt.Unix()))
}

// WriteTextfile writes the registry in the node-exporter textfile format.
// The file is written atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}
