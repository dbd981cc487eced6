// Package storage persists generated plans and their tasks.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// ErrNotFound is returned for unknown goals and tasks
var ErrNotFound = errors.New("not found")

// GoalStatusActive is the status of a freshly saved goal
const GoalStatusActive = "active"

// PlanStore persists plans. SavePlan replaces any tasks already stored for
// the goal.
type PlanStore interface {
	SavePlan(ctx context.Context, plan *types.Plan) error
	GetPlan(ctx context.Context, goalID string) (*types.Plan, error)
	UpdateTask(ctx context.Context, taskID string, patch types.TaskPatch) (*types.TaskContent, error)
	Close()
}

// checkPlan validates what every store needs before writing a plan
func checkPlan(plan *types.Plan) error {
	if plan == nil {
		return fmt.Errorf("%w: nil plan", types.ErrInvalidPlan)
	}
	if _, err := uuid.Parse(plan.GoalID); err != nil {
		return fmt.Errorf("%w: goal_id must be a UUID", types.ErrInvalidPlan)
	}
	if _, err := uuid.Parse(plan.UserID); err != nil {
		return fmt.Errorf("%w: user_id must be a UUID", types.ErrInvalidPlan)
	}
	for _, task := range plan.TasksContent {
		if _, err := uuid.Parse(task.TaskID); err != nil {
			return fmt.Errorf("%w: task_id %q must be a UUID", types.ErrInvalidPlan, task.TaskID)
		}
		if err := task.ValidateDates(); err != nil {
			return fmt.Errorf("%w: %v", types.ErrInvalidPlan, err)
		}
	}
	return nil
}

// patchTask applies patch to task and revalidates the dates
func patchTask(task *types.TaskContent, patch types.TaskPatch) error {
	if patch.Empty() {
		return fmt.Errorf("%w: empty task update", types.ErrInvalidPlan)
	}
	updated := *task
	patch.Apply(&updated)
	if err := updated.ValidateDates(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidPlan, err)
	}
	*task = updated
	return nil
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func sortTasks(tasks []types.TaskContent) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].StartAt < tasks[j].StartAt
	})
}
