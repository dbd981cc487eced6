package jobs

import (
	"time"

	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// JobRegistry defines the lifecycle contract of the job registry
type JobRegistry interface {
	// Create registers a new Pending job and returns its event channel
	Create(jobID string) (*EventChannel, error)

	// Get retrieves a job's state and event channel
	Get(jobID string) (types.JobStatus, *EventChannel, error)

	// View returns a snapshot of the job
	View(jobID string) (types.JobView, error)

	// MarkRunning moves a job from Pending to Running
	MarkRunning(jobID string) error

	// Publish emits a non-terminal event for a Running job
	Publish(jobID string, evt Event) (Event, error)

	// MarkTerminal finishes a Running job with its terminal event
	MarkTerminal(jobID string, evt Event) error

	// Evict removes a terminal job
	Evict(jobID string) error

	// Sweep evicts terminal jobs past their retention window
	Sweep(retention, maxRetention time.Duration) int
}

var _ JobRegistry = (*Store)(nil)
