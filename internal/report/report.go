// Package report aggregates check results into the final report. It makes no
// formatting decisions; rendering lives in internal/output.
package report

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/kubeadapt/gpudiag/pkg/model"
)

// Meta carries the run metadata copied verbatim into the report.
type Meta struct {
	ID             string
	Hostname       string
	GeneratedAt    time.Time
	Sources        []model.SourceStatus
	Devices        []model.DeviceInfo
	DroppedDevices []string
	Issues         []model.Issue
}

// Overall returns the highest-severity status among results. Skipped never
// raises it, and no Warn or Fail means Pass.
func Overall(results []model.CheckResult) model.Status {
	overall := model.StatusPass
	for _, r := range results {
		if r.Status.Severity() > overall.Severity() {
			overall = r.Status
		}
	}
	return overall
}

// Summarize counts results per status.
func Summarize(results []model.CheckResult) model.Summary {
	s := model.Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case model.StatusPass:
			s.Pass++
		case model.StatusWarn:
			s.Warn++
		case model.StatusFail:
			s.Fail++
		default:
			s.Skipped++
		}
	}
	return s
}

// Aggregate builds the report. The results, including their Detail maps, are
// copied so the report owns its data. An empty Meta.ID gets a random UUID and a zero GeneratedAt the
// current time.
func Aggregate(results []model.CheckResult, meta Meta) model.Report {
	id := meta.ID
	if id == "" {
		id = uuid.NewString()
	}
	generatedAt := meta.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	owned := make([]model.CheckResult, len(results))
	for i, r := range results {
		r.Detail = maps.Clone(r.Detail)
		owned[i] = r
	}

	return model.Report{
		ID:             id,
		Hostname:       meta.Hostname,
		GeneratedAt:    generatedAt.UTC(),
		OverallStatus:  Overall(owned),
		Summary:        Summarize(owned),
		Results:        owned,
		Devices:        meta.Devices,
		DroppedDevices: meta.DroppedDevices,
		Sources:        meta.Sources,
		Issues:         meta.Issues,
	}
}
