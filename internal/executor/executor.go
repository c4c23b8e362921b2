// Package executor runs compilation passes over a target set, either once
// or repeatedly as a watch session.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/Norgate-AV/pbuild/internal/compiler"
	"github.com/Norgate-AV/pbuild/internal/target"
)

// State of an executor
type State int

const (
	Idle State = iota
	Building
	Succeeded
	Failed
	Watching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Watching:
		return "watching"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Report collects every target's result from one pass, in target order
type Report struct {
	Pass     int
	Results  []compiler.Result
	Duration time.Duration
}

// Failures returns the results of targets that did not build
func (r Report) Failures() []compiler.Result {
	var failed []compiler.Result
	for _, res := range r.Results {
		if !res.Success {
			failed = append(failed, res)
		}
	}

	return failed
}

// Succeeded reports whether the target with the given id built in this pass
func (r Report) Succeeded(id string) bool {
	for _, res := range r.Results {
		if res.Target.ID == id {
			return res.Success
		}
	}

	return false
}

// Err returns nil when every target built. Environment and configuration
// problems come first, joined with a *BuildError for the failed targets.
func (r Report) Err() error {
	failed := r.Failures()
	if len(failed) == 0 {
		return nil
	}

	var errs []error
	seen := make(map[string]bool)

	for _, res := range failed {
		if res.Fatal == nil || seen[res.Fatal.Error()] {
			continue
		}

		seen[res.Fatal.Error()] = true
		errs = append(errs, res.Fatal)
	}

	errs = append(errs, &BuildError{Failed: failed, Total: len(r.Results)})

	return errors.Join(errs...)
}

// BuildError lists the targets that failed in a pass
type BuildError struct {
	Failed []compiler.Result
	Total  int
}

func (e *BuildError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, res := range e.Failed {
		ids[i] = res.Target.ID
	}

	return fmt.Sprintf("%d of %d targets failed: %s", len(e.Failed), e.Total, strings.Join(ids, ", "))
}

// Executor drives a compiler over a target set
type Executor struct {
	compiler compiler.Compiler
	logger   *log.Logger
	jobs     int

	// OnPass runs after every completed pass, before the next one starts
	OnPass func(ctx context.Context, r Report)

	mu    sync.Mutex
	state State
	pass  int
}

// New creates an executor. jobs bounds concurrent compilations; zero or
// less runs every target at once.
func New(c compiler.Compiler, logger *log.Logger, jobs int) *Executor {
	return &Executor{
		compiler: c,
		logger:   logger,
		jobs:     jobs,
	}
}

// State returns the current state
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

func (e *Executor) setState(s State) {
	e.mu.Lock()
	from := e.state
	e.state = s
	e.mu.Unlock()

	if from != s {
		e.logger.Debug("State changed", "from", from, "to", s)
	}
}

// Build compiles every target concurrently and waits for all of them. A
// failing target never cancels its siblings.
func (e *Executor) Build(ctx context.Context, targets []target.Target) Report {
	e.setState(Building)

	e.mu.Lock()
	e.pass++
	pass := e.pass
	e.mu.Unlock()

	start := time.Now()
	results := make([]compiler.Result, len(targets))

	var g errgroup.Group
	if e.jobs > 0 {
		g.SetLimit(e.jobs)
	}

	for i, t := range targets {
		g.Go(func() error {
			results[i] = e.compiler.Compile(ctx, t)
			e.logResult(results[i])
			return nil
		})
	}

	_ = g.Wait()

	report := Report{
		Pass:     pass,
		Results:  results,
		Duration: time.Since(start),
	}

	if failed := report.Failures(); len(failed) > 0 {
		e.setState(Failed)
		e.logger.Error("Build failed", "pass", pass, "failed", len(failed), "targets", len(targets), "duration", report.Duration.Round(time.Millisecond))
	} else {
		e.setState(Succeeded)
		e.logger.Info("Build succeeded", "pass", pass, "targets", len(targets), "duration", report.Duration.Round(time.Millisecond))
	}

	if e.OnPass != nil {
		e.OnPass(ctx, report)
	}

	return report
}

// Watch runs an initial pass and then one full pass per change batch.
// Failed passes are reported and watching continues. It returns when ctx
// is cancelled or changes is closed.
func (e *Executor) Watch(ctx context.Context, targets []target.Target, changes <-chan []string) error {
	e.Build(ctx, targets)

	for {
		e.setState(Watching)

		select {
		case <-ctx.Done():
			e.setState(Idle)
			return nil

		case batch, ok := <-changes:
			if !ok {
				e.setState(Idle)
				return nil
			}

			e.logger.Info("Change detected, rebuilding", "files", len(batch))
			for _, file := range batch {
				e.logger.Debug("Changed", "file", file)
			}

			e.Build(ctx, targets)
		}
	}
}

func (e *Executor) logResult(res compiler.Result) {
	switch {
	case res.Cached:
		e.logger.Info("Restored", "target", res.Target.ID, "duration", res.Duration.Round(time.Millisecond))
	case res.Success:
		e.logger.Info("Built", "target", res.Target.ID, "duration", res.Duration.Round(time.Millisecond))
	default:
		e.logger.Error("Failed", "target", res.Target.ID, "errors", len(res.Errors()))
	}
}
