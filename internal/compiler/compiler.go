package compiler

import (
	"context"
	"fmt"
	"time"

	"github.com/Norgate-AV/pbuild/internal/target"
)

// Severity levels reported by the bundler
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Compiler compiles a single target
type Compiler interface {
	Compile(ctx context.Context, t target.Target) Result
}

// Diagnostic is one message attached to a target's compilation
type Diagnostic struct {
	Severity string
	File     string
	Line     int
	Column   int
	Message  string
}

func (d Diagnostic) String() string {
	if d.File == "" {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}

	return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Column, d.Severity, d.Message)
}

// Result is the outcome of compiling one target in one pass
type Result struct {
	Target      target.Target
	Success     bool
	Diagnostics []Diagnostic
	Duration    time.Duration

	// Cached is set when outputs were restored instead of compiled
	Cached bool

	// Fatal is an environment or configuration problem that invalidates
	// the whole invocation rather than this target alone
	Fatal error
}

// Errors returns the error-level diagnostics
func (r Result) Errors() []Diagnostic {
	var errs []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}

	return errs
}

// Failed builds a failed result carrying a single error diagnostic
func Failed(t target.Target, format string, args ...any) Result {
	return Result{
		Target:      t,
		Diagnostics: []Diagnostic{{Severity: SeverityError, Message: fmt.Sprintf(format, args...)}},
	}
}
