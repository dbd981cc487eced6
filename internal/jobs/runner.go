package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// StatusProcessing is the first event of every job that starts running
const StatusProcessing = "processing"

// DefaultJobTimeout bounds a work function when no timeout is configured
const DefaultJobTimeout = 3 * time.Minute

// Progress lets a work function publish status events for its own job
type Progress interface {
	Status(message string)
}

// WorkFunc is the opaque unit of work behind a job. It is invoked exactly once.
// The returned value becomes the payload of the completed event; a returned
// error becomes the failed event.
type WorkFunc func(ctx context.Context, progress Progress) (any, error)

// Runner executes work functions and drives their jobs to exactly one
// terminal event
type Runner struct {
	registry JobRegistry
	timeout  time.Duration
	logger   *slog.Logger
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithTimeout sets the per-job deadline. Zero disables it.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithRunnerLogger sets the runner's logger
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a runner bound to registry
func NewRunner(registry JobRegistry, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: registry,
		timeout:  DefaultJobTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type outcome struct {
	result any
	err    error
}

// Run executes work for jobID and blocks until the job is terminal. It returns
// the job's failure cause, or nil when the job succeeded. When ctx ends first
// the job fails as aborted and the work is abandoned.
func (r *Runner) Run(ctx context.Context, jobID string, work WorkFunc) error {
	if err := r.registry.MarkRunning(jobID); err != nil {
		r.logger.Error("Failed to start job", "job", jobID, "error", err)
		return err
	}

	run := &jobRun{jobID: jobID, registry: r.registry, logger: r.logger}
	run.Status(StatusProcessing)

	workCtx := ctx
	cancel := context.CancelFunc(func() {})
	if r.timeout > 0 {
		workCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	started := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Work function panicked", "job", jobID, "panic", p, "stack", string(debug.Stack()))
				done <- outcome{err: &WorkError{
					Description: fmt.Sprintf("work panicked: %v", p),
					Err:         ErrPanic,
				}}
			}
		}()
		result, err := work(workCtx, run)
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
		if out.err != nil && ctx.Err() == nil && errors.Is(workCtx.Err(), context.DeadlineExceeded) {
			out.err = r.timeoutError()
		}
	case <-workCtx.Done():
		if ctx.Err() != nil {
			out.err = fmt.Errorf("job aborted: %w", ctx.Err())
		} else {
			out.err = r.timeoutError()
		}
		r.logger.Warn("Abandoning work function", "job", jobID, "elapsed", time.Since(started), "error", out.err)
	}

	var evt Event
	if out.err != nil {
		var workErr *WorkError
		if ReasonOf(out.err) == ReasonWorkError && !errors.As(out.err, &workErr) {
			out.err = &WorkError{Description: out.err.Error(), Err: out.err}
		}
		evt = FailedEvent(out.err)
		r.logger.Info("Job failed", "job", jobID, "reason", evt.Reason, "error", evt.Error, "elapsed", time.Since(started))
	} else {
		evt = CompletedEvent(out.result)
		r.logger.Info("Job succeeded", "job", jobID, "elapsed", time.Since(started))
	}

	if err := run.finish(evt); err != nil {
		r.logger.Error("Failed to finish job", "job", jobID, "error", err)
		return err
	}
	return out.err
}

func (r *Runner) timeoutError() error {
	return fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
}

// jobRun serializes a job's progress events against its single terminal event.
// Status calls from abandoned work after termination are dropped.
type jobRun struct {
	jobID    string
	registry JobRegistry
	logger   *slog.Logger

	mu       sync.Mutex
	finished bool
}

func (j *jobRun) Status(message string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.finished {
		j.logger.Debug("Dropping status of finished job", "job", j.jobID, "message", message)
		return
	}
	if _, err := j.registry.Publish(j.jobID, StatusEvent(message)); err != nil {
		j.logger.Error("Failed to publish status", "job", j.jobID, "message", message, "error", err)
	}
}

func (j *jobRun) finish(evt Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.finished {
		return fmt.Errorf("job %s: already finished: %w", j.jobID, ErrInvalidTransition)
	}
	j.finished = true
	return j.registry.MarkTerminal(j.jobID, evt)
}
