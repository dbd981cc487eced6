package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// MemoryStore keeps plans in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]types.Plan
	tasks map[string]string // task id -> goal id
}

// NewMemoryStore creates an empty in-memory plan store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans: make(map[string]types.Plan),
		tasks: make(map[string]string),
	}
}

func (s *MemoryStore) SavePlan(_ context.Context, plan *types.Plan) error {
	if err := checkPlan(plan); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.plans[plan.GoalID]; ok {
		for _, task := range old.TasksContent {
			delete(s.tasks, task.TaskID)
		}
	}

	stored := copyPlan(plan)
	sortTasks(stored.TasksContent)
	s.plans[plan.GoalID] = stored
	for _, task := range stored.TasksContent {
		s.tasks[task.TaskID] = plan.GoalID
	}
	return nil
}

func (s *MemoryStore) GetPlan(_ context.Context, goalID string) (*types.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[goalID]
	if !ok {
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	out := copyPlan(&plan)
	return &out, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, taskID string, patch types.TaskPatch) (*types.TaskContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	goalID, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	plan := s.plans[goalID]
	for i := range plan.TasksContent {
		if plan.TasksContent[i].TaskID != taskID {
			continue
		}
		if err := patchTask(&plan.TasksContent[i], patch); err != nil {
			return nil, err
		}
		updated := plan.TasksContent[i]
		sortTasks(plan.TasksContent)
		s.plans[goalID] = plan
		return &updated, nil
	}
	return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
}

func (s *MemoryStore) Close() {}

func copyPlan(plan *types.Plan) types.Plan {
	out := *plan
	out.TasksContent = append([]types.TaskContent(nil), plan.TasksContent...)
	if plan.GoalContent.AttachmentID != nil {
		id := *plan.GoalContent.AttachmentID
		out.GoalContent.AttachmentID = &id
	}
	return out
}
