package errors

import (
	"fmt"
	"sync"
	"time"

	"github.com/kubeadapt/gpudiag/pkg/model"
)

// Code represents a typed data-quality issue code carried in the report.
type Code string

// Diagnostic issue codes.
const (
	ErrSourceUnavailable   Code = "SOURCE_UNAVAILABLE"
	ErrSourceTimeout       Code = "SOURCE_TIMEOUT"
	ErrParsePartial        Code = "PARSE_PARTIAL"
	ErrCorrelationMismatch Code = "CORRELATION_MISMATCH"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock uses the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// DiagError represents a typed diagnostic error with code, component, and optional wrapped error.
type DiagError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Component string `json:"component"`
	Timestamp int64  `json:"timestamp"`
	Err       error  `json:"-"`
}

// New builds a DiagError. When err is non-nil its text is appended to msg.
func New(code Code, component string, err error, msg string, args ...any) *DiagError {
	m := fmt.Sprintf(msg, args...)
	if err != nil {
		m = m + ": " + err.Error()
	}
	return &DiagError{Code: code, Component: component, Message: m, Err: err}
}

// Error implements the error interface.
func (e *DiagError) Error() string {
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As compatibility.
func (e *DiagError) Unwrap() error {
	return e.Err
}

type entry struct {
	err DiagError
	seq int
}

// Collector is a thread-safe store for the issues raised during one run.
// Issues are keyed by Code+Component+Message; re-reporting an identical issue
// refreshes its timestamp but keeps its original position.
type Collector struct {
	mu      sync.Mutex
	clock   Clock
	next    int
	entries map[string]entry // key = Code|Component|Message
}

// NewCollector creates a Collector with the given clock.
func NewCollector(clock Clock) *Collector {
	return &Collector{
		clock:   clock,
		entries: make(map[string]entry),
	}
}

func key(e DiagError) string {
	return string(e.Code) + "|" + e.Component + "|" + e.Message
}

// Report stores or refreshes an issue. A zero Timestamp is filled from the clock.
func (c *Collector) Report(err DiagError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err.Timestamp == 0 {
		err.Timestamp = c.clock.Now().UnixMilli()
	}
	k := key(err)
	if prev, ok := c.entries[k]; ok {
		c.entries[k] = entry{err: err, seq: prev.seq}
		return
	}
	c.entries[k] = entry{err: err, seq: c.next}
	c.next++
}

// Reportf is a shorthand for Report(*New(...)).
func (c *Collector) Reportf(code Code, component string, format string, args ...any) {
	c.Report(*New(code, component, nil, format, args...))
}

// Errors returns every reported issue in first-report order.
func (c *Collector) Errors() []DiagError {
	c.mu.Lock()
	defer c.mu.Unlock()

	ordered := make([]DiagError, len(c.entries))
	for _, e := range c.entries {
		ordered[e.seq] = e.err
	}
	return ordered
}

// Issues converts the reported issues into their report form.
func (c *Collector) Issues() []model.Issue {
	errs := c.Errors()
	issues := make([]model.Issue, 0, len(errs))
	for _, e := range errs {
		issues = append(issues, model.Issue{
			Code:      string(e.Code),
			Message:   e.Message,
			Component: e.Component,
			Timestamp: e.Timestamp,
		})
	}
	return issues
}

// Codes returns a deduplicated list of reported codes in first-report order.
func (c *Collector) Codes() []string {
	seen := make(map[Code]struct{})
	codes := make([]string, 0)
	for _, e := range c.Errors() {
		if _, ok := seen[e.Code]; !ok {
			seen[e.Code] = struct{}{}
			codes = append(codes, string(e.Code))
		}
	}
	return codes
}

// Clear removes all tracked issues.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
	c.next = 0
}
