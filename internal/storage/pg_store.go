package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS goal (
	goal_id      UUID PRIMARY KEY,
	user_id      UUID NOT NULL,
	title        TEXT NOT NULL,
	description  TEXT,
	requirements JSONB,
	status       TEXT NOT NULL DEFAULT 'active',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_goal_user_id ON goal (user_id);

CREATE TABLE IF NOT EXISTS task (
	task_id          UUID PRIMARY KEY,
	goal_id          UUID NOT NULL REFERENCES goal (goal_id) ON DELETE CASCADE,
	title            TEXT NOT NULL,
	start_at         DATE,
	end_at           DATE,
	action_plan      TEXT NOT NULL DEFAULT '',
	expected_outcome TEXT NOT NULL DEFAULT '',
	complete         BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_task_goal_id ON task (goal_id);
`

// PgStore persists plans in PostgreSQL
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore connects to PostgreSQL and makes sure the schema exists
func NewPgStore(ctx context.Context, connString string) (*PgStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Configure connection pool
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PgStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the goal and task tables when missing
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Close closes the database connection pool
func (s *PgStore) Close() {
	s.pool.Close()
}

// SavePlan upserts the goal and replaces its tasks in one transaction
func (s *PgStore) SavePlan(ctx context.Context, plan *types.Plan) error {
	if err := checkPlan(plan); err != nil {
		return err
	}

	requirements, err := json.Marshal(plan.GoalContent)
	if err != nil {
		return fmt.Errorf("failed to marshal goal content: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO goal (goal_id, user_id, title, description, requirements, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (goal_id) DO UPDATE
		SET title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    requirements = EXCLUDED.requirements,
		    updated_at = NOW()
	`, plan.GoalID, plan.UserID, plan.GoalContent.Task, plan.GoalContent.CurrentSituation, requirements, GoalStatusActive)
	if err != nil {
		return fmt.Errorf("failed to save goal: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM task WHERE goal_id = $1`, plan.GoalID); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, task := range plan.TasksContent {
		batch.Queue(`
			INSERT INTO task (task_id, goal_id, title, start_at, end_at, action_plan, expected_outcome, complete)
			VALUES ($1, $2, $3, $4::date, $5::date, $6, $7, $8)
		`, task.TaskID, plan.GoalID, task.Title, task.StartAt, task.EndAt, task.ActionPlan, task.ExpectedOutcome, task.Complete)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save tasks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit plan: %w", err)
	}
	return nil
}

// GetPlan loads a goal and its tasks ordered by start date
func (s *PgStore) GetPlan(ctx context.Context, goalID string) (*types.Plan, error) {
	if !isUUID(goalID) {
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	plan := &types.Plan{GoalID: goalID, TasksContent: []types.TaskContent{}}

	var requirements []byte
	err := s.pool.QueryRow(ctx, `
		SELECT user_id::text, requirements FROM goal WHERE goal_id = $1
	`, goalID).Scan(&plan.UserID, &requirements)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load goal: %w", err)
	}
	if len(requirements) > 0 {
		if err := json.Unmarshal(requirements, &plan.GoalContent); err != nil {
			return nil, fmt.Errorf("failed to decode goal content: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT task_id::text, title, COALESCE(to_char(start_at, 'YYYY-MM-DD'), ''),
		       COALESCE(to_char(end_at, 'YYYY-MM-DD'), ''), action_plan, expected_outcome, complete
		FROM task WHERE goal_id = $1
		ORDER BY start_at ASC NULLS LAST, task_id
	`, goalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var task types.TaskContent
		if err := rows.Scan(&task.TaskID, &task.Title, &task.StartAt, &task.EndAt,
			&task.ActionPlan, &task.ExpectedOutcome, &task.Complete); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		plan.TasksContent = append(plan.TasksContent, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return plan, nil
}

// UpdateTask applies patch to a stored task
func (s *PgStore) UpdateTask(ctx context.Context, taskID string, patch types.TaskPatch) (*types.TaskContent, error) {
	if !isUUID(taskID) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	task := types.TaskContent{TaskID: taskID}
	err = tx.QueryRow(ctx, `
		SELECT title, COALESCE(to_char(start_at, 'YYYY-MM-DD'), ''), COALESCE(to_char(end_at, 'YYYY-MM-DD'), ''),
		       action_plan, expected_outcome, complete
		FROM task WHERE task_id = $1
		FOR UPDATE
	`, taskID).Scan(&task.Title, &task.StartAt, &task.EndAt, &task.ActionPlan, &task.ExpectedOutcome, &task.Complete)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	if err := patchTask(&task, patch); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE task
		SET title = $2, start_at = $3::date, end_at = $4::date,
		    action_plan = $5, expected_outcome = $6, complete = $7
		WHERE task_id = $1
	`, taskID, task.Title, task.StartAt, task.EndAt, task.ActionPlan, task.ExpectedOutcome, task.Complete)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit task update: %w", err)
	}
	return &task, nil
}
