package planner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Jackyman666/momentum-ai-backend/internal/jobs"
	"github.com/Jackyman666/momentum-ai-backend/internal/storage"
	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// StreamPath is the SSE route prefix a client follows after submitting
const StreamPath = "/plans/stream/"

// Planner is the facade the transports talk to. Generation runs as a
// background job keyed by goal id; reads and task edits go straight to the store.
type Planner struct {
	jobs      *jobs.Service
	generator *Generator
	store     storage.PlanStore
	logger    *slog.Logger
}

// New creates a planner
func New(service *jobs.Service, generator *Generator, store storage.PlanStore, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{jobs: service, generator: generator, store: store, logger: logger}
}

// Submit validates plan and starts its generation job. It returns as soon as
// the job is registered. A goal with a live job is rejected with
// jobs.ErrDuplicateJob.
func (p *Planner) Submit(ctx context.Context, plan types.Plan) (types.SubmitResponse, error) {
	if err := ctx.Err(); err != nil {
		return types.SubmitResponse{}, err
	}
	if err := plan.Validate(); err != nil {
		return types.SubmitResponse{}, err
	}

	accepted, err := p.jobs.Submit(plan.GoalID, p.generator.Work(plan))
	if err != nil {
		return types.SubmitResponse{}, fmt.Errorf("failed to submit plan %s: %w", plan.GoalID, err)
	}

	p.logger.Info("Plan generation accepted", "goal", accepted.JobID, "user", plan.UserID)
	return types.SubmitResponse{
		Success:   true,
		Message:   "Plan generation started",
		GoalID:    accepted.JobID,
		StreamURL: StreamPath + accepted.JobID,
	}, nil
}

// Job returns the generation job snapshot for a goal
func (p *Planner) Job(goalID string) (types.JobView, error) {
	return p.jobs.Status(goalID)
}

// Plan loads a persisted plan
func (p *Planner) Plan(ctx context.Context, goalID string) (*types.Plan, error) {
	return p.store.GetPlan(ctx, goalID)
}

// UpdateTask applies patch to a persisted task
func (p *Planner) UpdateTask(ctx context.Context, taskID string, patch types.TaskPatch) (*types.TaskContent, error) {
	return p.store.UpdateTask(ctx, taskID, patch)
}
