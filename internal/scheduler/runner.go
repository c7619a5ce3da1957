// Package scheduler drives agents through their lifecycle.
//
// Each agent gets a Runner that owns one goroutine:
//
//	Starting -> Running <-> Paused -> ShuttingDown -> Stopped
//	               |  ^
//	               v  |
//	          ErrorBackoff
//
// A failed or panicking cycle moves the runner into ErrorBackoff for a fixed
// cooldown. Stop is cooperative: it is observed at the top of the loop and
// during sleeps, and an in-flight cycle always completes. Cancelling the
// context passed to Run is the hard stop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skyherd/internal/config"
)

// State is a runner's lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StatePaused
	StateErrorBackoff
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateErrorBackoff:
		return "error_backoff"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker is the unit a Runner schedules.
type Worker interface {
	Name() string
	// Start prepares the worker. An error is fatal for this worker only.
	Start(ctx context.Context) error
	// RunCycle performs one unit of work. An error sends the runner into backoff.
	RunCycle(ctx context.Context) error
}

// CycleError reports a failed or panicking cycle.
type CycleError struct {
	Agent    string
	Cycle    int64
	Panicked bool
	Err      error
}

func (e *CycleError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("agent %s: cycle %d panicked: %v", e.Agent, e.Cycle, e.Err)
	}
	return fmt.Sprintf("agent %s: cycle %d failed: %v", e.Agent, e.Cycle, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// StartupError reports a worker that could not start.
type StartupError struct {
	Agent string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("agent %s failed to start: %v", e.Agent, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRand sets the runner's random source. It must not be shared.
func WithRand(rng *rand.Rand) RunnerOption { return func(r *Runner) { r.rng = rng } }

// WithLogger sets the runner's logger.
func WithLogger(l *zap.Logger) RunnerOption { return func(r *Runner) { r.logger = l } }

// Runner runs one Worker until stopped.
type Runner struct {
	worker Worker
	timing config.Timing
	rng    *rand.Rand
	logger *zap.Logger
	runID  string

	state    atomic.Int32
	paused   atomic.Bool
	cycles   atomic.Int64
	failures atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRunner builds a runner for w.
func NewRunner(w Worker, timing config.Timing, opts ...RunnerOption) *Runner {
	r := &Runner{
		worker: w,
		timing: timing,
		runID:  uuid.NewString(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.With(zap.String("run", r.runID))
	return r
}

// Name is the worker's name.
func (r *Runner) Name() string { return r.worker.Name() }

// State returns the current lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

// Cycles is the number of cycles started so far.
func (r *Runner) Cycles() int64 { return r.cycles.Load() }

// Failures is the number of cycles that ended in a CycleError.
func (r *Runner) Failures() int64 { return r.failures.Load() }

// Paused reports whether the runner has been asked to pause.
func (r *Runner) Paused() bool { return r.paused.Load() }

// Pause stops new cycles from starting. A running cycle completes.
func (r *Runner) Pause() {
	if !r.paused.Swap(true) {
		r.logger.Info("pause requested")
	}
}

// Resume lets cycles start again. It takes effect within one pause poll.
func (r *Runner) Resume() {
	if r.paused.Swap(false) {
		r.logger.Info("resume requested")
	}
}

// Stop asks the runner to exit after the current cycle or sleep.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("stop requested")
		close(r.stopCh)
	})
}

func (r *Runner) stopping() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *Runner) setState(s State) {
	if prev := State(r.state.Swap(int32(s))); prev != s {
		r.logger.Debug("state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Run starts the worker and loops until Stop or ctx cancellation. It returns
// a *StartupError if the worker cannot start, nil otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.setState(StateStarting)
	r.logger.Info("starting agent")
	if err := r.worker.Start(ctx); err != nil {
		r.setState(StateStopped)
		return &StartupError{Agent: r.worker.Name(), Err: err}
	}

	for !r.stopping() && ctx.Err() == nil {
		if r.paused.Load() {
			r.setState(StatePaused)
			if !r.wait(ctx, r.timing.PausePoll) {
				break
			}
			continue
		}

		r.setState(StateRunning)
		err := r.cycle(ctx)
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			r.failures.Add(1)
			r.setState(StateErrorBackoff)
			r.logger.Error("cycle failed, backing off", zap.Error(err), zap.Duration("backoff", r.timing.ErrorBackoff))
			if !r.wait(ctx, r.timing.ErrorBackoff) {
				break
			}
			continue
		}

		d := r.timing.Cycle.At(r.rng.Float64())
		r.logger.Info("sleeping until next cycle", zap.Duration("sleep", d))
		if !r.wait(ctx, d) {
			break
		}
	}

	r.setState(StateShuttingDown)
	r.logger.Info("agent shutting down", zap.Int64("cycles", r.Cycles()), zap.Int64("failures", r.Failures()))
	r.setState(StateStopped)
	return nil
}

// cycle runs one RunCycle and turns errors and panics into a CycleError.
func (r *Runner) cycle(ctx context.Context) (err error) {
	n := r.cycles.Add(1)
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("cycle panicked", zap.Any("panic", p), zap.Stack("stack"))
			err = &CycleError{Agent: r.worker.Name(), Cycle: n, Panicked: true, Err: fmt.Errorf("%v", p)}
		}
	}()

	if cerr := r.worker.RunCycle(ctx); cerr != nil {
		if errors.Is(cerr, context.Canceled) && ctx.Err() != nil {
			return cerr
		}
		return &CycleError{Agent: r.worker.Name(), Cycle: n, Err: cerr}
	}
	return nil
}

// wait sleeps for d. It returns false if the runner was stopped or ctx ended first.
func (r *Runner) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !r.stopping() && ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.stopCh:
		return false
	case <-t.C:
		return true
	}
}
