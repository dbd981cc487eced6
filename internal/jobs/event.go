package jobs

import "time"

// EventKind is the tag of a job event, also used as the SSE event name
type EventKind string

const (
	EventStatus    EventKind = "status"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is one ordered unit of progress published about a job.
// Seq is assigned by the event channel and starts at 1.
type Event struct {
	Seq       uint64        `json:"seq"`
	Kind      EventKind     `json:"kind"`
	Message   string        `json:"message,omitempty"`
	Result    any           `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Reason    FailureReason `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// IsTerminal reports whether the event ends the job's event sequence
func (e Event) IsTerminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

// StatusEvent creates a progress event
func StatusEvent(message string) Event {
	return Event{Kind: EventStatus, Message: message, Timestamp: time.Now().UTC()}
}

// CompletedEvent creates the terminal success event
func CompletedEvent(result any) Event {
	return Event{Kind: EventCompleted, Result: result, Timestamp: time.Now().UTC()}
}

// FailedEvent creates the terminal failure event for err
func FailedEvent(err error) Event {
	return Event{
		Kind:      EventFailed,
		Error:     describe(err),
		Reason:    ReasonOf(err),
		Timestamp: time.Now().UTC(),
	}
}
