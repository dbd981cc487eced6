package types

import "time"

// JobStatus represents the current state of a plan generation job (K8s-style)
type JobStatus string

const (
	JobStatusPending   JobStatus = "Pending"
	JobStatusRunning   JobStatus = "Running"
	JobStatusSucceeded JobStatus = "Succeeded"
	JobStatusFailed    JobStatus = "Failed"
)

// IsTerminal reports whether no further transitions can follow the status
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// JobView is the externally visible snapshot of a job
type JobView struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Events      int       `json:"events"`
	Subscribers int       `json:"subscribers"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// SubmitResponse is returned as soon as a plan generation job has been accepted
type SubmitResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	GoalID    string `json:"goal_id"`
	StreamURL string `json:"stream_url"`
}
