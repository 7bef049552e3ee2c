package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"
	utilexec "k8s.io/utils/exec"

	"github.com/kubeadapt/gpudiag/internal/collect"
	"github.com/kubeadapt/gpudiag/internal/config"
	"github.com/kubeadapt/gpudiag/internal/diag"
	diagerrors "github.com/kubeadapt/gpudiag/internal/errors"
	"github.com/kubeadapt/gpudiag/internal/observability"
	"github.com/kubeadapt/gpudiag/internal/output"
	"github.com/kubeadapt/gpudiag/internal/rules"
	"github.com/kubeadapt/gpudiag/internal/source"
	"github.com/kubeadapt/gpudiag/pkg/model"
)

// Exit codes.
const (
	exitOK        = 0
	exitFail      = 1
	exitConfig    = 2
	exitNoSources = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// 1. Load and validate config.
	fs := pflag.NewFlagSet("gpudiag", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	cfg, err := config.Load(fs)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(stderr, "gpudiag: invalid configuration: %v\n", err)
		return exitConfig
	}

	slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat, stderr))

	// 2. Create context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("shutdown signal received", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("gpudiag starting",
		"hostname", cfg.Hostname,
		"config_file", cfg.ConfigFile,
		"source_timeout", cfg.SourceTimeout,
		"kernel_window", cfg.KernelWindow,
		"disabled", cfg.Disabled(),
	)

	// 3. Create shared infrastructure.
	clock := diagerrors.RealClock{}
	issues := diagerrors.NewCollector(clock)
	metrics := observability.NewMetrics()

	// 4. Wire the host readers.
	runner := source.NewExecRunner(utilexec.New(), cfg.CommandPaths)
	hostCfg := collect.HostConfig{
		Runner:            runner,
		Units:             source.NewSystemdUnits(runner),
		RDMA:              source.NewInfinibandSysfs(cfg.SysRoot),
		FabricManagerUnit: cfg.FabricManagerUnit,
		MaxKernelEvents:   cfg.MaxKernelEvents,
		Issues:            issues,
		Clock:             clock,
	}
	if procs, err := source.NewProcTable(cfg.ProcRoot); err != nil {
		slog.Warn("process table unavailable", "proc_root", cfg.ProcRoot, "error", err)
	} else {
		hostCfg.Procs = procs
	}

	// 5. Run the diagnostic pass.
	d := diag.NewRunner(collect.NewHostSources(hostCfg), diag.Options{
		Hostname:     cfg.Hostname,
		Timeout:      cfg.SourceTimeout,
		KernelWindow: cfg.KernelWindow,
		Disabled:     cfg.Disabled(),
		Thresholds:   rules.Thresholds{MaxTemperatureC: cfg.MaxTemperatureC},
		TextfilePath: cfg.TextfilePath,
	}, issues, metrics, clock)

	rep, err := d.Run(ctx)
	if err != nil {
		slog.Error("diagnostic run failed", "error", err)
		if errors.Is(err, collect.ErrNoSources) {
			return exitNoSources
		}
		return exitFail
	}

	// 6. Render.
	if err := render(cfg, &rep, stdout); err != nil {
		slog.Error("writing report failed", "error", err)
		return exitFail
	}

	return exitCode(rep.OverallStatus)
}

func render(cfg config.Config, rep *model.Report, stdout io.Writer) error {
	if cfg.OutputPath == "" {
		return writeReport(cfg, rep, stdout)
	}
	f, err := os.Create(cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", cfg.OutputPath, err)
	}
	return writeAndClose(f, func(w io.Writer) error {
		return writeReport(cfg, rep, w)
	})
}

// writeAndClose runs write against wc and closes it. A failed close is
// returned: for a file it can be the only sign the report was not flushed.
func writeAndClose(wc io.WriteCloser, write func(io.Writer) error) error {
	if err := write(wc); err != nil {
		_ = wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("closing report: %w", err)
	}
	return nil
}

func writeReport(cfg config.Config, rep *model.Report, w io.Writer) error {
	if cfg.OutputFormat == "json" {
		n, err := output.WriteJSON(w, rep, output.JSONOptions{
			Compress: cfg.Compress,
			Level:    cfg.CompressionLevel,
		})
		if err != nil {
			return err
		}
		slog.Debug("report written", "format", "json", "compressed", cfg.Compress, "bytes", n)
		return nil
	}

	// Files never get color.
	color := cfg.Color && cfg.OutputPath == ""
	return output.WriteSummary(w, rep, output.SummaryOptions{Color: color})
}

func exitCode(s model.Status) int {
	if s == model.StatusFail {
		return exitFail
	}
	return exitOK
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	handlerLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		handlerLevel = slog.LevelDebug
	case "warn":
		handlerLevel = slog.LevelWarn
	case "error":
		handlerLevel = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: handlerLevel})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: handlerLevel})
	}
	return slog.New(handler)
}
