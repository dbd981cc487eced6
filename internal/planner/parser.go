package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// ErrNoTasks is returned when the model reply holds no usable task array
var ErrNoTasks = errors.New("no JSON task array found in LLM response")

// ParseTasks extracts the JSON array between the first '[' and the last ']'
// of a model reply. Tasks get a fresh UUID when theirs is missing or invalid,
// and come back sorted by start date.
func ParseTasks(text string) ([]types.TaskContent, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end < start {
		return nil, ErrNoTasks
	}

	var tasks []types.TaskContent
	if err := json.Unmarshal([]byte(text[start:end+1]), &tasks); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
	}
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}

	for i := range tasks {
		task := &tasks[i]
		if _, err := uuid.Parse(task.TaskID); err != nil {
			task.TaskID = uuid.NewString()
		}
		task.Title = strings.TrimSpace(task.Title)
		if task.Title == "" {
			return nil, fmt.Errorf("task %d has no title", i+1)
		}
		if err := task.ValidateDates(); err != nil {
			return nil, fmt.Errorf("task %d: %w", i+1, err)
		}
	}

	sortByStart(tasks)
	return tasks, nil
}

func sortByStart(tasks []types.TaskContent) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].StartAt < tasks[j].StartAt
	})
}
