package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// goalRecord is the GORM model of a goal row
type goalRecord struct {
	GoalID       string `gorm:"primaryKey;size:36"`
	UserID       string `gorm:"size:36;not null;index"`
	Title        string `gorm:"not null"`
	Description  string
	Requirements string `gorm:"type:text"`
	Status       string `gorm:"size:16;not null;default:active"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Tasks        []taskRecord `gorm:"foreignKey:GoalID;constraint:OnDelete:CASCADE"`
}

func (goalRecord) TableName() string { return "goal" }

// taskRecord is the GORM model of a task row
type taskRecord struct {
	TaskID          string `gorm:"primaryKey;size:36"`
	GoalID          string `gorm:"size:36;not null;index"`
	Title           string `gorm:"not null"`
	StartAt         string `gorm:"size:10;index"`
	EndAt           string `gorm:"size:10"`
	ActionPlan      string
	ExpectedOutcome string
	Complete        bool `gorm:"not null;default:false"`
}

func (taskRecord) TableName() string { return "task" }

func (r taskRecord) content() types.TaskContent {
	return types.TaskContent{
		TaskID:          r.TaskID,
		StartAt:         r.StartAt,
		EndAt:           r.EndAt,
		Title:           r.Title,
		ActionPlan:      r.ActionPlan,
		ExpectedOutcome: r.ExpectedOutcome,
		Complete:        r.Complete,
	}
}

// GormStore persists plans through GORM, used with SQLite for local runs
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open GORM database
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenSQLite opens (or creates) a SQLite database file and migrates it
func OpenSQLite(ctx context.Context, path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	s := NewGormStore(db)
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&goalRecord{}, &taskRecord{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool
func (s *GormStore) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *GormStore) SavePlan(ctx context.Context, plan *types.Plan) error {
	if err := checkPlan(plan); err != nil {
		return err
	}

	requirements, err := json.Marshal(plan.GoalContent)
	if err != nil {
		return fmt.Errorf("failed to marshal goal content: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		goal := goalRecord{
			GoalID:       plan.GoalID,
			UserID:       plan.UserID,
			Title:        plan.GoalContent.Task,
			Description:  plan.GoalContent.CurrentSituation,
			Requirements: string(requirements),
			Status:       GoalStatusActive,
		}
		upsert := clause.OnConflict{
			Columns:   []clause.Column{{Name: "goal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "description", "requirements", "updated_at"}),
		}
		if err := tx.Clauses(upsert).Create(&goal).Error; err != nil {
			return fmt.Errorf("failed to save goal: %w", err)
		}

		if err := tx.Where("goal_id = ?", plan.GoalID).Delete(&taskRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear tasks: %w", err)
		}

		if len(plan.TasksContent) == 0 {
			return nil
		}
		records := make([]taskRecord, 0, len(plan.TasksContent))
		for _, task := range plan.TasksContent {
			records = append(records, taskRecord{
				TaskID:          task.TaskID,
				GoalID:          plan.GoalID,
				Title:           task.Title,
				StartAt:         task.StartAt,
				EndAt:           task.EndAt,
				ActionPlan:      task.ActionPlan,
				ExpectedOutcome: task.ExpectedOutcome,
				Complete:        task.Complete,
			})
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("failed to save tasks: %w", err)
		}
		return nil
	})
}

func (s *GormStore) GetPlan(ctx context.Context, goalID string) (*types.Plan, error) {
	var goal goalRecord
	err := s.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB { return db.Order("start_at ASC, task_id ASC") }).
		Where("goal_id = ?", goalID).
		First(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load goal: %w", err)
	}

	plan := &types.Plan{
		UserID:       goal.UserID,
		GoalID:       goal.GoalID,
		TasksContent: make([]types.TaskContent, 0, len(goal.Tasks)),
	}
	if goal.Requirements != "" {
		if err := json.Unmarshal([]byte(goal.Requirements), &plan.GoalContent); err != nil {
			return nil, fmt.Errorf("failed to decode goal content: %w", err)
		}
	}
	for _, task := range goal.Tasks {
		plan.TasksContent = append(plan.TasksContent, task.content())
	}
	return plan, nil
}

func (s *GormStore) UpdateTask(ctx context.Context, taskID string, patch types.TaskPatch) (*types.TaskContent, error) {
	var updated types.TaskContent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record taskRecord
		if err := tx.Where("task_id = ?", taskID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
			}
			return fmt.Errorf("failed to load task: %w", err)
		}

		task := record.content()
		if err := patchTask(&task, patch); err != nil {
			return err
		}

		err := tx.Model(&taskRecord{}).Where("task_id = ?", taskID).Updates(map[string]any{
			"title":            task.Title,
			"start_at":         task.StartAt,
			"end_at":           task.EndAt,
			"action_plan":      task.ActionPlan,
			"expected_outcome": task.ExpectedOutcome,
			"complete":         task.Complete,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
