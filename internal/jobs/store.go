package jobs

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// Observer sees every job creation and every published event. Calls happen
// while the job's entry is locked, in publish order, so implementations must
// not block and must not call back into the Store.
type Observer interface {
	JobCreated(view types.JobView)
	EventPublished(view types.JobView, evt Event)
}

// entry is the registry record of one job; mu serializes its transitions
type entry struct {
	mu         sync.Mutex
	id         string
	status     types.JobStatus
	channel    *EventChannel
	lastError  string
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

func (e *entry) view() types.JobView {
	return types.JobView{
		ID:          e.id,
		Status:      e.status,
		Events:      e.channel.Len(),
		Subscribers: e.channel.SubscriberCount(),
		Error:       e.lastError,
		CreatedAt:   e.createdAt,
		StartedAt:   e.startedAt,
		FinishedAt:  e.finishedAt,
	}
}

// Store manages job state in memory. It is the process-wide job registry.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*entry
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithLogger sets the logger used by the store and its event channels
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithObserver registers observers notified of job creation and events
func WithObserver(observers ...Observer) StoreOption {
	return func(s *Store) { s.observers = append(s.observers, observers...) }
}

// WithClock overrides the time source used for lifecycle timestamps
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a new empty job store
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		jobs:   make(map[string]*entry),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new Pending job. An existing id is never overwritten.
func (s *Store) Create(jobID string) (*EventChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; exists {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrDuplicateJob)
	}

	e := &entry{
		id:        jobID,
		status:    types.JobStatusPending,
		channel:   newEventChannel(jobID, s.logger),
		createdAt: s.now(),
	}
	s.jobs[jobID] = e

	view := e.view()
	for _, obs := range s.observers {
		obs.JobCreated(view)
	}

	return e.channel, nil
}

// Get retrieves a job's state and event channel
func (s *Store) Get(jobID string) (types.JobStatus, *EventChannel, error) {
	e, err := s.lookup(jobID)
	if err != nil {
		return "", nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.channel, nil
}

// View returns a snapshot of the job
func (s *Store) View(jobID string) (types.JobView, error) {
	e, err := s.lookup(jobID)
	if err != nil {
		return types.JobView{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view(), nil
}

// MarkRunning moves a job from Pending to Running
func (s *Store) MarkRunning(jobID string) error {
	e, err := s.lookup(jobID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != types.JobStatusPending {
		return fmt.Errorf("job %s: %s -> %s: %w", jobID, e.status, types.JobStatusRunning, ErrInvalidTransition)
	}
	e.status = types.JobStatusRunning
	e.startedAt = s.now()
	return nil
}

// Publish emits a status event for a Running job
func (s *Store) Publish(jobID string, evt Event) (Event, error) {
	if evt.IsTerminal() {
		return Event{}, fmt.Errorf("job %s: terminal %s must go through MarkTerminal: %w", jobID, evt.Kind, ErrInvalidTransition)
	}

	e, err := s.lookup(jobID)
	if err != nil {
		return Event{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != types.JobStatusRunning {
		return Event{}, fmt.Errorf("job %s: status event while %s: %w", jobID, e.status, ErrInvalidTransition)
	}
	return s.publishLocked(e, evt)
}

// MarkTerminal moves a Running job to Succeeded or Failed and publishes the
// terminal event in the same critical section
func (s *Store) MarkTerminal(jobID string, evt Event) error {
	var next types.JobStatus
	switch evt.Kind {
	case EventCompleted:
		next = types.JobStatusSucceeded
	case EventFailed:
		next = types.JobStatusFailed
	default:
		return fmt.Errorf("job %s: %s is not a terminal event: %w", jobID, evt.Kind, ErrInvalidTransition)
	}

	e, err := s.lookup(jobID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != types.JobStatusRunning {
		return fmt.Errorf("job %s: %s -> %s: %w", jobID, e.status, next, ErrInvalidTransition)
	}

	e.status = next
	e.finishedAt = s.now()
	e.lastError = evt.Error
	_, err = s.publishLocked(e, evt)
	return err
}

// publishLocked publishes evt on the entry's channel (must hold e.mu)
func (s *Store) publishLocked(e *entry, evt Event) (Event, error) {
	published, err := e.channel.Publish(evt)
	if err != nil {
		return Event{}, fmt.Errorf("job %s: %w", e.id, err)
	}

	if len(s.observers) > 0 {
		view := e.view()
		for _, obs := range s.observers {
			obs.EventPublished(view, published)
		}
	}
	return published, nil
}

// Evict removes a terminal job. Evicting an unknown job is a no-op.
func (s *Store) Evict(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.jobs[jobID]
	if !exists {
		return nil
	}

	e.mu.Lock()
	status := e.status
	e.mu.Unlock()

	if !status.IsTerminal() {
		return fmt.Errorf("job %s: evict while %s: %w", jobID, status, ErrInvalidTransition)
	}
	delete(s.jobs, jobID)
	return nil
}

// Sweep evicts terminal jobs finished at least retention ago with no
// subscriber left to drain, and any terminal job older than maxRetention.
// It returns the number of evicted jobs.
func (s *Store) Sweep(retention, maxRetention time.Duration) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.jobs {
		e.mu.Lock()
		terminal := e.status.IsTerminal()
		age := now.Sub(e.finishedAt)
		e.mu.Unlock()

		if !terminal || age < retention {
			continue
		}
		if e.channel.SubscriberCount() > 0 && age < maxRetention {
			continue
		}
		delete(s.jobs, id)
		evicted++
	}
	return evicted
}

// Len returns the number of registered jobs
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Store) lookup(jobID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	return e, nil
}
