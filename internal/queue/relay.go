package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Jackyman666/momentum-ai-backend/internal/jobs"
	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// DefaultRelayBuffer is the number of events the relay holds before dropping
const DefaultRelayBuffer = 256

// RoutingKeyPrefix starts every relayed event's routing key
const RoutingKeyPrefix = "plans"

// RoutingKey returns the key an event of kind for goalID is published under
func RoutingKey(goalID string, kind jobs.EventKind) string {
	return fmt.Sprintf("%s.%s.%s", RoutingKeyPrefix, goalID, kind)
}

// RelayedEvent is the JSON body of a relayed job event
type RelayedEvent struct {
	GoalID string          `json:"goal_id"`
	Status types.JobStatus `json:"status"`
	Event  jobs.Event      `json:"event"`
}

// DropRecorder counts events the relay had to drop
type DropRecorder interface {
	RecordRelayDropped()
}

// Relay mirrors job events to a broker. It observes the job registry and
// never blocks a publisher: when its buffer is full the event is dropped.
type Relay struct {
	client  Client
	pending chan RelayedEvent
	drops   DropRecorder
	dropped atomic.Int64
	timeout time.Duration
	logger  *slog.Logger
}

var _ jobs.Observer = (*Relay)(nil)

// RelayOption configures a Relay
type RelayOption func(*Relay)

// WithBuffer sets the relay buffer size
func WithBuffer(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.pending = make(chan RelayedEvent, n)
		}
	}
}

// WithDropRecorder reports dropped events to rec
func WithDropRecorder(rec DropRecorder) RelayOption {
	return func(r *Relay) { r.drops = rec }
}

// WithRelayLogger sets the relay logger
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

// NewRelay creates a relay publishing through client
func NewRelay(client Client, opts ...RelayOption) *Relay {
	r := &Relay{
		client:  client,
		pending: make(chan RelayedEvent, DefaultRelayBuffer),
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JobCreated implements jobs.Observer
func (r *Relay) JobCreated(types.JobView) {}

// EventPublished implements jobs.Observer
func (r *Relay) EventPublished(view types.JobView, evt jobs.Event) {
	select {
	case r.pending <- RelayedEvent{GoalID: view.ID, Status: view.Status, Event: evt}:
	default:
		r.dropped.Add(1)
		if r.drops != nil {
			r.drops.RecordRelayDropped()
		}
		r.logger.Warn("Relay buffer full, dropping event", "goal", view.ID, "kind", evt.Kind, "seq", evt.Seq)
	}
}

// Dropped returns how many events were dropped so far
func (r *Relay) Dropped() int64 {
	return r.dropped.Load()
}

// Run publishes buffered events until ctx is cancelled, then flushes what
// is already buffered
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Event relay started")
	for {
		select {
		case evt := <-r.pending:
			r.publish(ctx, evt)
		case <-ctx.Done():
			r.flush()
			r.logger.Info("Event relay stopped")
			return nil
		}
	}
}

func (r *Relay) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	for {
		select {
		case evt := <-r.pending:
			r.publish(ctx, evt)
		default:
			return
		}
	}
}

func (r *Relay) publish(ctx context.Context, evt RelayedEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		r.logger.Error("Failed to marshal relayed event", "goal", evt.GoalID, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := RoutingKey(evt.GoalID, evt.Event.Kind)
	if err := r.client.Publish(pubCtx, key, body); err != nil {
		r.logger.Error("Failed to relay event", "routing_key", key, "error", err)
		return
	}
	r.logger.Debug("Relayed event", "routing_key", key, "seq", evt.Event.Seq)
}
