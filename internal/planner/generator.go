package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jackyman666/momentum-ai-backend/internal/jobs"
	"github.com/Jackyman666/momentum-ai-backend/internal/llm"
	"github.com/Jackyman666/momentum-ai-backend/internal/storage"
	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// Stage messages published while a plan is generated
const (
	StageStarting = "Starting plan generation with AI..."
	StageSaving   = "Saving plan"
)

// Generator turns a submitted plan into a job work function: prompt the
// model, parse its tasks, persist the plan
type Generator struct {
	llm          llm.Completer
	store        storage.PlanStore
	systemPrompt string
	prompt       PromptOptions
	now          func() time.Time
	logger       *slog.Logger
}

// GeneratorOption configures a Generator
type GeneratorOption func(*Generator)

// WithSystemPrompt overrides the default system prompt
func WithSystemPrompt(prompt string) GeneratorOption {
	return func(g *Generator) {
		if prompt != "" {
			g.systemPrompt = prompt
		}
	}
}

// WithTaskRange sets how many tasks the model is asked for
func WithTaskRange(min, max int) GeneratorOption {
	return func(g *Generator) {
		g.prompt.MinTasks = min
		g.prompt.MaxTasks = max
	}
}

// WithLogger sets the generator logger
func WithLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = logger }
}

// NewGenerator creates a plan generator
func NewGenerator(completer llm.Completer, store storage.PlanStore, opts ...GeneratorOption) *Generator {
	g := &Generator{
		llm:          completer,
		store:        store,
		systemPrompt: DefaultSystemPrompt,
		prompt:       PromptOptions{MinTasks: 3, MaxTasks: 12},
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Work returns the work function generating tasks for plan. The plan is
// copied, so the caller may reuse it.
func (g *Generator) Work(plan types.Plan) jobs.WorkFunc {
	return func(ctx context.Context, progress jobs.Progress) (any, error) {
		progress.Status(StageStarting)

		opts := g.prompt
		opts.Today = g.now()
		prompt := BuildPrompt(plan.GoalContent, opts)

		reply, err := g.llm.Complete(ctx, prompt, g.systemPrompt)
		if err != nil {
			return nil, &jobs.WorkError{Description: fmt.Sprintf("plan generation failed: %v", err), Err: err}
		}

		tasks, err := ParseTasks(reply)
		if err != nil {
			return nil, &jobs.WorkError{Description: fmt.Sprintf("could not read generated tasks: %v", err), Err: err}
		}

		result := plan
		result.TasksContent = append(append([]types.TaskContent(nil), plan.TasksContent...), tasks...)
		sortByStart(result.TasksContent)
		progress.Status(fmt.Sprintf("Generated %d tasks", len(tasks)))

		progress.Status(StageSaving)
		if err := g.store.SavePlan(ctx, &result); err != nil {
			return nil, &jobs.WorkError{Description: fmt.Sprintf("failed to save plan: %v", err), Err: err}
		}

		g.logger.Info("Plan generated", "goal", plan.GoalID, "tasks", len(result.TasksContent))
		return &result, nil
	}
}
