// Package source reads raw data from the host: external commands, procfs,
// sysfs and systemd. Readers return raw text or simple values; parsing lives
// in internal/parse.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	utilexec "k8s.io/utils/exec"
)

var (
	// ErrNotFound is returned when a command is not installed.
	ErrNotFound = errors.New("command not found")
	// ErrTimeout is returned when a command outlives its context deadline.
	ErrTimeout = errors.New("command timed out")
)

// Runner runs one external command and returns its stdout. On a non-zero
// exit the captured stdout is still returned together with the error, since
// tools like `systemctl is-active` report state through the exit code.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner is a Runner backed by k8s.io/utils/exec.
type ExecRunner struct {
	exec  utilexec.Interface
	paths map[string]string
}

// NewExecRunner returns an ExecRunner. paths overrides the binary used for a
// command name, e.g. {"nv-fabricmanager": "/usr/bin/nv-fabricmanager"}.
func NewExecRunner(e utilexec.Interface, paths map[string]string) *ExecRunner {
	if e == nil {
		e = utilexec.New()
	}
	return &ExecRunner{exec: e, paths: paths}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	bin := name
	if p, ok := r.paths[name]; ok && p != "" {
		bin = p
	}

	path, err := r.exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%s: %w", bin, ErrNotFound)
	}

	start := time.Now()
	out, err := r.exec.CommandContext(ctx, path, args...).Output()
	slog.Debug("command finished",
		"cmd", name,
		"args", args,
		"bytes", len(out),
		"duration", time.Since(start),
		"error", err,
	)
	if err == nil {
		return string(out), nil
	}

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return string(out), fmt.Errorf("%s: %w", name, ErrTimeout)
	}
	if errors.Is(err, utilexec.ErrExecutableNotFound) {
		return "", fmt.Errorf("%s: %w", bin, ErrNotFound)
	}
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), fmt.Errorf("%s exited with status %d: %w", name, exitErr.ExitStatus(), err)
	}
	return string(out), fmt.Errorf("%s: %w", name, err)
}

// ExitStatus returns the exit status carried by err, if any.
func ExitStatus(err error) (int, bool) {
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), true
	}
	return 0, false
}
