package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Fake returns a canned task list without calling any provider. It is used
// for local development when no API key is configured.
type Fake struct {
	Tasks int
	Delay time.Duration
	Now   func() time.Time
}

func (f *Fake) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	n := f.Tasks
	if n <= 0 {
		n = 3
	}

	type task struct {
		StartAt         string `json:"start_at"`
		EndAt           string `json:"end_at"`
		Title           string `json:"title"`
		ActionPlan      string `json:"action_plan"`
		ExpectedOutcome string `json:"expected_outcome"`
	}

	start := now().UTC()
	tasks := make([]task, 0, n)
	for i := 0; i < n; i++ {
		from := start.AddDate(0, 0, 7*i)
		tasks = append(tasks, task{
			StartAt:         from.Format("2006-01-02"),
			EndAt:           from.AddDate(0, 0, 6).Format("2006-01-02"),
			Title:           fmt.Sprintf("Week %d milestone", i+1),
			ActionPlan:      fmt.Sprintf("Work through step %d of the goal", i+1),
			ExpectedOutcome: fmt.Sprintf("Step %d done", i+1),
		})
	}

	data, err := json.Marshal(tasks)
	if err != nil {
		return "", err
	}
	return "Here is your plan:\n" + string(data), nil
}
