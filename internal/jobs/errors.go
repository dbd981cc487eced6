package jobs

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateJob is returned when a job id is already registered
	ErrDuplicateJob = errors.New("job already exists")

	// ErrJobNotFound is returned for unknown or evicted job ids
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition signals a lifecycle call out of order. It indicates a bug
	// in the caller and is logged, never surfaced to external clients.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrTimeout is the cause of a job that exceeded its allotted time
	ErrTimeout = errors.New("job timed out")

	// ErrPanic is the cause of a job whose work function panicked
	ErrPanic = errors.New("job panicked")

	// ErrChannelClosed is returned when publishing to a finished event channel
	ErrChannelClosed = errors.New("event channel closed")

	// ErrShuttingDown is returned by Submit once the service stopped accepting jobs
	ErrShuttingDown = errors.New("job service is shutting down")
)

// FailureReason classifies why a job failed
type FailureReason string

const (
	ReasonWorkError FailureReason = "work_error"
	ReasonTimeout   FailureReason = "timeout"
	ReasonPanic     FailureReason = "panic"
	ReasonAborted   FailureReason = "aborted"
)

// WorkError is the failure of a work function. Description is what observers see.
type WorkError struct {
	Description string
	Err         error
}

func (e *WorkError) Error() string {
	return e.Description
}

func (e *WorkError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the failure reason for err
func ReasonOf(err error) FailureReason {
	switch {
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrPanic):
		return ReasonPanic
	case errors.Is(err, context.Canceled):
		return ReasonAborted
	default:
		return ReasonWorkError
	}
}

// describe returns the human readable description carried by a failed event
func describe(err error) string {
	var workErr *WorkError
	if errors.As(err, &workErr) && workErr.Description != "" {
		return workErr.Description
	}
	return err.Error()
}
