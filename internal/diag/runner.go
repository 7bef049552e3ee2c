// Package diag runs one complete diagnostic pass: gather every source,
// correlate the records, evaluate the rules and aggregate the report.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubeadapt/gpudiag/internal/collect"
	"github.com/kubeadapt/gpudiag/internal/correlate"
	diagerrors "github.com/kubeadapt/gpudiag/internal/errors"
	"github.com/kubeadapt/gpudiag/internal/inventory"
	"github.com/kubeadapt/gpudiag/internal/observability"
	"github.com/kubeadapt/gpudiag/internal/report"
	"github.com/kubeadapt/gpudiag/internal/rules"
	"github.com/kubeadapt/gpudiag/pkg/model"
)

// Options controls a Runner.
type Options struct {
	Hostname     string
	Timeout      time.Duration
	KernelWindow time.Duration
	Disabled     []inventory.Source
	Thresholds   rules.Thresholds
	// TextfilePath, when set, receives the run metrics after every run.
	TextfilePath string
}

// Runner wires the diagnostic pipeline together.
type Runner struct {
	sources collect.Sources
	opts    Options
	issues  *diagerrors.Collector
	metrics *observability.Metrics
	clock   diagerrors.Clock
}

// NewRunner creates a Runner. metrics may be nil; a nil issues collector or
// clock gets a fresh one backed by the system clock.
func NewRunner(src collect.Sources, opts Options, issues *diagerrors.Collector, metrics *observability.Metrics, clock diagerrors.Clock) *Runner {
	if clock == nil {
		clock = diagerrors.RealClock{}
	}
	if issues == nil {
		issues = diagerrors.NewCollector(clock)
	}
	return &Runner{
		sources: src,
		opts:    opts,
		issues:  issues,
		metrics: metrics,
		clock:   clock,
	}
}

// Run performs one diagnostic pass. It returns collect.ErrNoSources (wrapped)
// when no source produced data; any other outcome, including failed checks,
// is a report.
func (r *Runner) Run(ctx context.Context) (model.Report, error) {
	start := r.clock.Now()
	// Issues belong to one run; a reused Runner must not report stale ones.
	r.issues.Clear()

	gathered, err := collect.Gather(ctx, r.sources, collect.Options{
		Timeout:      r.opts.Timeout,
		KernelWindow: r.opts.KernelWindow,
		Disabled:     sets.New(r.opts.Disabled...),
		Issues:       r.issues,
	})
	if r.metrics != nil {
		r.metrics.RecordSources(gathered.Sources)
	}
	if err != nil {
		r.finish(start)
		return model.Report{}, fmt.Errorf("gathering sources: %w", err)
	}

	host := correlate.Correlate(gathered.Inputs, r.issues)
	slog.Info("host correlated",
		"devices", len(host.Devices),
		"pcie", host.PCIeCount,
		"accelerators", host.AcceleratorCount,
		"dropped", len(host.Dropped),
		"unavailable", sets.List(host.Unavailable),
	)

	results := rules.NewEvaluator(r.opts.Thresholds).Evaluate(&host)

	rep := report.Aggregate(results, report.Meta{
		Hostname:       r.opts.Hostname,
		GeneratedAt:    r.clock.Now(),
		Sources:        gathered.Sources,
		Devices:        report.Devices(&host),
		DroppedDevices: host.Dropped,
		Issues:         r.issues.Issues(),
	})

	if r.metrics != nil {
		r.metrics.RecordReport(rep)
	}
	elapsed := r.finish(start)

	slog.Info("diagnostic run complete",
		"report_id", rep.ID,
		"overall", rep.OverallStatus,
		"checks", rep.Summary.Total,
		"fail", rep.Summary.Fail,
		"warn", rep.Summary.Warn,
		"skipped", rep.Summary.Skipped,
		"issues", len(rep.Issues),
		"issue_codes", r.issues.Codes(),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return rep, nil
}

// finish records the run duration and flushes the textfile. A textfile
// failure is logged, never returned: the report is still valid.
func (r *Runner) finish(start time.Time) time.Duration {
	elapsed := r.clock.Now().Sub(start)
	if r.metrics == nil {
		return elapsed
	}
	r.metrics.RunDuration.Set(elapsed.Seconds())
	if r.opts.TextfilePath != "" {
		if err := r.metrics.WriteTextfile(r.opts.TextfilePath); err != nil {
			slog.Error("metrics textfile write failed", "path", r.opts.TextfilePath, "error", err)
		}
	}
	return elapsed
}
