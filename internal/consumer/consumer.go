package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Jackyman666/momentum-ai-backend/internal/jobs"
	"github.com/Jackyman666/momentum-ai-backend/internal/queue"
	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// Submitter starts plan generation for a plan
type Submitter interface {
	Submit(ctx context.Context, plan types.Plan) (types.SubmitResponse, error)
}

// RequestRecorder counts consumed requests by result
type RequestRecorder interface {
	RecordPlanRequest(source, result string)
}

// RequestConsumer reads plan generation requests from a queue and submits
// them. Every message is acked once handled, including invalid ones and
// duplicates; a request refused during shutdown is left for redelivery.
type RequestConsumer struct {
	queueClient queue.Client
	queueName   string
	submitter   Submitter
	recorder    RequestRecorder
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewRequestConsumer creates a consumer for queueName
func NewRequestConsumer(queueClient queue.Client, queueName string, submitter Submitter, recorder RequestRecorder, logger *slog.Logger) *RequestConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestConsumer{
		queueClient: queueClient,
		queueName:   queueName,
		submitter:   submitter,
		recorder:    recorder,
		retryDelay:  time.Second,
		logger:      logger,
	}
}

// Run consumes until ctx is cancelled
func (c *RequestConsumer) Run(ctx context.Context) error {
	c.logger.Info("Starting request consumer", "queue", c.queueName)

	for {
		msg, err := c.queueClient.Receive(ctx, c.queueName)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Stopping request consumer", "queue", c.queueName)
				return nil
			}
			if errors.Is(err, queue.ErrClosed) {
				return err
			}
			c.logger.Error("Error receiving from queue", "queue", c.queueName, "error", err)
			select {
			case <-time.After(c.retryDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		body := msg.Body()
		c.logger.Debug("Received plan request", "queue", c.queueName, "body", string(body[:min(len(body), 200)]))

		if !c.handle(ctx, msg) {
			continue
		}
		if err := c.queueClient.Ack(ctx, msg); err != nil {
			c.logger.Error("Failed to ack message", "queue", c.queueName, "error", err)
		}
	}
}

// handle submits one request and reports whether the message should be acked
func (c *RequestConsumer) handle(ctx context.Context, msg queue.Message) bool {
	var plan types.Plan
	if err := json.Unmarshal(msg.Body(), &plan); err != nil {
		c.logger.Warn("Dropping malformed plan request", "queue", c.queueName, "error", err)
		c.record("malformed")
		return true
	}

	resp, err := c.submitter.Submit(ctx, plan)
	switch {
	case err == nil:
		c.logger.Info("Plan request accepted", "goal", resp.GoalID, "stream", resp.StreamURL)
		c.record("accepted")
		return true
	case errors.Is(err, types.ErrInvalidPlan):
		c.logger.Warn("Dropping invalid plan request", "goal", plan.GoalID, "error", err)
		c.record("invalid")
		return true
	case errors.Is(err, jobs.ErrDuplicateJob):
		c.logger.Warn("Plan already being generated", "goal", plan.GoalID)
		c.record("duplicate")
		return true
	case errors.Is(err, jobs.ErrShuttingDown), ctx.Err() != nil:
		c.logger.Info("Leaving plan request for redelivery", "goal", plan.GoalID)
		c.record("deferred")
		return false
	default:
		c.logger.Error("Failed to submit plan request", "goal", plan.GoalID, "error", err)
		c.record("error")
		return true
	}
}

func (c *RequestConsumer) record(result string) {
	if c.recorder != nil {
		c.recorder.RecordPlanRequest("queue", result)
	}
}
