package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the layout used for task start and end dates
const DateLayout = "2006-01-02"

// ErrInvalidPlan is returned when a submitted plan fails validation
var ErrInvalidPlan = errors.New("invalid plan")

// GoalContent describes what the user wants to achieve
type GoalContent struct {
	Duration         string  `json:"duration"`
	CurrentSituation string  `json:"current_situation"`
	Task             string  `json:"task"`
	AttachmentID     *string `json:"attachment_id"`
}

// TaskContent is a single generated task, sorted by StartAt inside a plan
type TaskContent struct {
	TaskID          string `json:"task_id"`
	StartAt         string `json:"start_at"`
	EndAt           string `json:"end_at"`
	Title           string `json:"title"`
	ActionPlan      string `json:"action_plan"`
	ExpectedOutcome string `json:"expected_outcome"`
	Complete        bool   `json:"complete"`
}

// ValidateDates checks that both dates parse and the task does not end before it starts
func (t TaskContent) ValidateDates() error {
	start, err := time.Parse(DateLayout, t.StartAt)
	if err != nil {
		return fmt.Errorf("invalid start_at %q: %w", t.StartAt, err)
	}
	end, err := time.Parse(DateLayout, t.EndAt)
	if err != nil {
		return fmt.Errorf("invalid end_at %q: %w", t.EndAt, err)
	}
	if end.Before(start) {
		return fmt.Errorf("task %q ends (%s) before it starts (%s)", t.Title, t.EndAt, t.StartAt)
	}
	return nil
}

// Plan is both the submission payload and the generated result
type Plan struct {
	UserID       string        `json:"user_id"`
	GoalID       string        `json:"goal_id"`
	GoalContent  GoalContent   `json:"goal_content"`
	TasksContent []TaskContent `json:"tasks_content"`
}

// Validate checks the fields a plan generation request must carry, including
// any tasks the caller already attached
func (p *Plan) Validate() error {
	if _, err := uuid.Parse(p.UserID); err != nil {
		return fmt.Errorf("%w: user_id must be a UUID", ErrInvalidPlan)
	}
	if _, err := uuid.Parse(p.GoalID); err != nil {
		return fmt.Errorf("%w: goal_id must be a UUID", ErrInvalidPlan)
	}
	if strings.TrimSpace(p.GoalContent.Duration) == "" {
		return fmt.Errorf("%w: goal_content.duration is required", ErrInvalidPlan)
	}
	if strings.TrimSpace(p.GoalContent.CurrentSituation) == "" {
		return fmt.Errorf("%w: goal_content.current_situation is required", ErrInvalidPlan)
	}
	if strings.TrimSpace(p.GoalContent.Task) == "" {
		return fmt.Errorf("%w: goal_content.task is required", ErrInvalidPlan)
	}
	for i, task := range p.TasksContent {
		if _, err := uuid.Parse(task.TaskID); err != nil {
			return fmt.Errorf("%w: tasks_content[%d].task_id %q must be a UUID", ErrInvalidPlan, i, task.TaskID)
		}
		if err := task.ValidateDates(); err != nil {
			return fmt.Errorf("%w: tasks_content[%d]: %v", ErrInvalidPlan, i, err)
		}
	}
	return nil
}

// TaskPatch carries the optional fields of a task update
type TaskPatch struct {
	Title           *string `json:"title,omitempty"`
	StartAt         *string `json:"start_at,omitempty"`
	EndAt           *string `json:"end_at,omitempty"`
	ActionPlan      *string `json:"action_plan,omitempty"`
	ExpectedOutcome *string `json:"expected_outcome,omitempty"`
	Complete        *bool   `json:"complete,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.StartAt == nil && p.EndAt == nil &&
		p.ActionPlan == nil && p.ExpectedOutcome == nil && p.Complete == nil
}

// Apply copies the set fields of the patch onto task
func (p TaskPatch) Apply(task *TaskContent) {
	if p.Title != nil {
		task.Title = *p.Title
	}
	if p.StartAt != nil {
		task.StartAt = *p.StartAt
	}
	if p.EndAt != nil {
		task.EndAt = *p.EndAt
	}
	if p.ActionPlan != nil {
		task.ActionPlan = *p.ActionPlan
	}
	if p.ExpectedOutcome != nil {
		task.ExpectedOutcome = *p.ExpectedOutcome
	}
	if p.Complete != nil {
		task.Complete = *p.Complete
	}
}
