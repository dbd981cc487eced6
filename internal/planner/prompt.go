package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// DefaultSystemPrompt frames the model as a planning assistant
const DefaultSystemPrompt = "You are a professional goal planning assistant. You help users break down " +
	"their goals into actionable tasks with realistic timelines."

// PromptOptions tunes the generated prompt
type PromptOptions struct {
	MinTasks int
	MaxTasks int
	Today    time.Time
}

// BuildPrompt renders the user prompt for a goal
func BuildPrompt(goal types.GoalContent, opts PromptOptions) string {
	minTasks, maxTasks := opts.MinTasks, opts.MaxTasks
	if minTasks <= 0 {
		minTasks = 3
	}
	if maxTasks < minTasks {
		maxTasks = minTasks
	}
	today := opts.Today
	if today.IsZero() {
		today = time.Now()
	}

	goalJSON, _ := json.MarshalIndent(goal, "", "  ")

	var b strings.Builder
	fmt.Fprintf(&b, "Based on the following goal, create an actionable plan to achieve it.\n\n")
	fmt.Fprintf(&b, "Goal Information:\n%s\n\n", goalJSON)
	fmt.Fprintf(&b, "Today is %s. Break the goal into %d-%d tasks ordered from first to last.\n\n",
		today.Format(types.DateLayout), minTasks, maxTasks)
	b.WriteString(`For each task provide:
- start_at: when to begin (YYYY-MM-DD)
- end_at: estimated completion date (YYYY-MM-DD)
- title: a clear, specific title
- action_plan: a detailed action plan
- expected_outcome: what is achieved once the task is done

Return your response as a JSON array with this exact structure:
[
  {"start_at": "YYYY-MM-DD", "end_at": "YYYY-MM-DD", "title": "...", "action_plan": "...", "expected_outcome": "..."}
]

IMPORTANT:
- Return ONLY a valid JSON array, no additional text
- Ensure start_at comes before end_at for each task
- Make the timelines realistic and fit the stated duration
`)
	return b.String()
}
