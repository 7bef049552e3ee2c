package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	diagerrors "github.com/kubeadapt/gpudiag/internal/errors"
	"github.com/kubeadapt/gpudiag/internal/inventory"
	"github.com/kubeadapt/gpudiag/internal/source"
	"github.com/kubeadapt/gpudiag/pkg/model"
)

// DefaultTimeout bounds each source when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// ErrNoSources is returned by Gather when not a single source produced data.
var ErrNoSources = errors.New("no data source available")

// Options controls one Gather call.
type Options struct {
	// Timeout bounds each source independently.
	Timeout time.Duration
	// KernelWindow is passed to RecentKernelLog.
	KernelWindow time.Duration
	// Disabled sources are not queried and are reported unavailable.
	Disabled sets.Set[inventory.Source]
	// Issues receives SOURCE_UNAVAILABLE / SOURCE_TIMEOUT entries. May be nil.
	Issues *diagerrors.Collector
}

// Result is the merged output of all sources.
type Result struct {
	Inputs  inventory.Inputs
	Sources []model.SourceStatus
	// Failed lists the sources that were queried and returned an error.
	Failed []string
}

// fetched is what one source goroutine hands back across the barrier. apply
// merges the data into Inputs and runs only after every source returned.
type fetched struct {
	source   inventory.Source
	apply    func(in *inventory.Inputs)
	records  int
	err      error
	partial  error
	duration time.Duration
}

type fetchFunc func(ctx context.Context) fetched

// Gather queries every enabled source in parallel, each under its own
// timeout, waits for all of them, then merges the results. A failing source
// marks its dimension unavailable; the run only fails with ErrNoSources when
// every source failed.
func Gather(ctx context.Context, src Sources, opts Options) (Result, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	fetchers := map[inventory.Source]fetchFunc{
		inventory.SourcePCIe:         fetchPCIe(src),
		inventory.SourceAccelerator:  fetchAccelerator(src),
		inventory.SourceInterconnect: fetchInterconnect(src),
		inventory.SourceVersions:     fetchVersions(src),
		inventory.SourceProcesses:    fetchProcesses(src),
		inventory.SourceKernelLog:    fetchKernelLog(src, opts.KernelWindow),
		inventory.SourceRDMA:         fetchRDMA(src),
	}

	results := make(chan fetched, len(fetchers))
	var wg sync.WaitGroup

	enabled := 0
	for _, s := range inventory.AllSources {
		if opts.Disabled != nil && opts.Disabled.Has(s) {
			continue
		}
		enabled++
		wg.Add(1)
		go func(s inventory.Source, fetch fetchFunc) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, opts.Timeout)
			defer cancel()

			start := time.Now()
			f := fetch(sctx)
			f.source = s
			f.duration = time.Since(start)
			if f.err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) && !errors.Is(f.err, source.ErrTimeout) {
				f.err = fmt.Errorf("%w: %w", source.ErrTimeout, f.err)
			}
			results <- f
		}(s, fetchers[s])
	}

	// Close results channel after all goroutines finish.
	go func() {
		wg.Wait()
		close(results)
	}()

	bySource := make(map[inventory.Source]fetched, enabled)
	for f := range results {
		bySource[f.source] = f
	}

	in := inventory.NewInputs()
	in.KernelWindow = opts.KernelWindow
	res := Result{Sources: make([]model.SourceStatus, 0, len(inventory.AllSources))}
	var errs []error

	for _, s := range inventory.AllSources {
		f, queried := bySource[s]
		status := model.SourceStatus{Name: string(s)}

		switch {
		case !queried:
			in.Unavailable.Insert(s)
			status.Error = "disabled"
		case f.err != nil:
			in.Unavailable.Insert(s)
			status.Error = f.err.Error()
			status.DurationMs = f.duration.Milliseconds()
			res.Failed = append(res.Failed, string(s))
			errs = append(errs, fmt.Errorf("%s: %w", s, f.err))
			slog.Warn("source unavailable", "source", s, "duration", f.duration, "error", f.err)
			if opts.Issues != nil {
				opts.Issues.Report(*diagerrors.New(issueCode(f.err), "source."+string(s), f.err, "%s source unavailable", s))
			}
		default:
			f.apply(&in)
			status.Available = true
			status.Records = f.records
			status.DurationMs = f.duration.Milliseconds()
			slog.Debug("source collected", "source", s, "records", f.records, "duration", f.duration)
			if f.partial != nil {
				slog.Warn("source partially collected", "source", s, "error", f.partial)
				if opts.Issues != nil {
					opts.Issues.Report(*diagerrors.New(issueCode(f.partial), "source."+string(s), f.partial, "%s source incomplete", s))
				}
			}
		}
		res.Sources = append(res.Sources, status)
	}

	res.Inputs = in
	if enabled == 0 {
		return res, fmt.Errorf("%w: all sources disabled", ErrNoSources)
	}
	if len(res.Failed) == enabled {
		return res, fmt.Errorf("%w: %w", ErrNoSources, utilerrors.NewAggregate(errs))
	}
	return res, nil
}

func issueCode(err error) diagerrors.Code {
	if errors.Is(err, source.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return diagerrors.ErrSourceTimeout
	}
	return diagerrors.ErrSourceUnavailable
}

func fetchPCIe(src Sources) fetchFunc {
	return func(ctx context.Context) fetched {
		records, err := src.PCIeDevices(ctx)
		return fetched{
			err:     err,
			records: len(records),
			apply:   func(in *inventory.Inputs) { in.PCIe = records },
		}
	}
}

func fetchAccelerator(src Sources) fetchFunc {
	return func(ctx context.Context) fetched {
		inv, err := src.AcceleratorInventory(ctx)
		return fetched{
			err:     err,
			partial: inv.ClaimsErr,
			records: len(inv.Records),
			apply: func(in *inventory.Inputs) {
				in.Accelerators = inv.Records
				in.Claims = inv.Claims
				if inv.ClaimsErr != nil {
					in.Unavailable.Insert(inventory.SourceProcesses)
				}
			},
		}
	}
}

func fetchInterconnect(src Sources) fetchFunc {
	return func(ctx context.Context) fetched {
		links, err := src.InterconnectStatus(ctx)
		return fetched{
			err:     err,
			records: len(links),
			apply:   func(in *inventory.Inputs) { in.Links = links },
		}
	}
}

func fetchVersions(src Sources) fetchFunc {
	return func(ctx context.Context) fetched {
		v, err := src.VersionInfo(ctx)
		return fetched{
			err:     err,
			records: 1,
			apply:   func(in *inventory.Inputs) { in.Versions = v },
		}
	}
}

func fetchProcesses(src Sources) fetchFunc {
	return func(ctx context.Context) fetched {
		pids, err := src.LiveProcessIDs(ctx)
		return fetched{
			err:     err,
			records: pids.Len(),
			apply:   func(in *inventory.Inputs) { in.LivePIDs = pids },
		}
	}
}

func fetchKernelLog(src Sources, window time.Duration) fetchFunc {
	return func(ctx context.Context) fetched {
		events, err := src.RecentKernelLog(ctx, window)
		return fetched{
			err:     err,
			records: len(events),
			apply:   func(in *inventory.Inputs) { in.KernelEvents = events },
		}
	}
}

func fetchRDMA(src Sources) fetchFunc {
	return func(ctx context.Context) fetched {
		ports, err := src.RdmaPortStatus(ctx)
		return fetched{
			err:     err,
			records: len(ports),
			apply:   func(in *inventory.Inputs) { in.RdmaPorts = ports },
		}
	}
}
