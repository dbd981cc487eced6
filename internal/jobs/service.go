package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// Accepted is returned by Submit before any work has run
type Accepted struct {
	JobID  string
	Status types.JobStatus
}

// Service is the entrypoint to the job engine: submit work, subscribe to its
// events, inspect its status
type Service struct {
	registry *Store
	runner   *Runner
	logger   *slog.Logger
	slots    chan struct{}

	baseCtx context.Context
	abort   context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithMaxConcurrent bounds the number of jobs running at once. Jobs beyond the
// limit wait in Pending. Zero or less means unbounded.
func WithMaxConcurrent(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		} else {
			s.slots = nil
		}
	}
}

// WithServiceLogger sets the service logger
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService composes a registry and a runner
func NewService(registry *Store, runner *Runner, opts ...ServiceOption) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		registry: registry,
		runner:   runner,
		logger:   slog.Default(),
		baseCtx:  ctx,
		abort:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the underlying job registry
func (s *Service) Registry() *Store {
	return s.registry
}

// Submit registers jobID and schedules work in the background. It never waits
// for the work. An empty jobID gets a generated UUID.
func (s *Service) Submit(jobID string, work WorkFunc) (Accepted, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Accepted{}, ErrShuttingDown
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}

	if _, err := s.registry.Create(jobID); err != nil {
		return Accepted{}, err
	}

	s.wg.Add(1)
	go s.execute(jobID, work)

	s.logger.Debug("Job submitted", "job", jobID)
	return Accepted{JobID: jobID, Status: types.JobStatusPending}, nil
}

func (s *Service) execute(jobID string, work WorkFunc) {
	defer s.wg.Done()

	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
		case <-s.baseCtx.Done():
			s.abortPending(jobID)
			return
		}
	}

	_ = s.runner.Run(s.baseCtx, jobID, work)
}

// abortPending fails a job that never got a slot
func (s *Service) abortPending(jobID string) {
	if err := s.registry.MarkRunning(jobID); err != nil {
		s.logger.Error("Failed to abort pending job", "job", jobID, "error", err)
		return
	}
	evt := FailedEvent(fmt.Errorf("job aborted before start: %w", context.Canceled))
	if err := s.registry.MarkTerminal(jobID, evt); err != nil {
		s.logger.Error("Failed to abort pending job", "job", jobID, "error", err)
	}
}

// Subscribe attaches a new subscriber to the job's event channel
func (s *Service) Subscribe(jobID string) (*Subscription, error) {
	_, ch, err := s.registry.Get(jobID)
	if err != nil {
		return nil, err
	}
	return ch.Subscribe(), nil
}

// Status returns a snapshot of the job
func (s *Service) Status(jobID string) (types.JobView, error) {
	return s.registry.View(jobID)
}

// Shutdown stops accepting jobs and waits for in-flight ones. If ctx ends
// first, remaining jobs are failed as aborted before Shutdown returns.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.abort()
		return nil
	case <-ctx.Done():
		s.logger.Warn("Shutdown deadline reached, aborting running jobs")
		s.abort()
		<-done
		return ctx.Err()
	}
}
