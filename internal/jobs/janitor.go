package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultRetention     = 5 * time.Minute
	DefaultMaxRetention  = 30 * time.Minute
	DefaultSweepSchedule = "@every 30s"
)

// Janitor periodically evicts terminal jobs from the registry
type Janitor struct {
	registry     JobRegistry
	retention    time.Duration
	maxRetention time.Duration
	schedule     string
	logger       *slog.Logger
}

// JanitorOption configures a Janitor
type JanitorOption func(*Janitor)

// WithRetention sets how long terminal jobs are kept once drained, and the
// hard limit after which they go regardless of attached subscribers
func WithRetention(retention, maxRetention time.Duration) JanitorOption {
	return func(j *Janitor) {
		j.retention = retention
		j.maxRetention = maxRetention
	}
}

// WithSchedule sets the sweep schedule ("@every 30s" or a cron expression)
func WithSchedule(schedule string) JanitorOption {
	return func(j *Janitor) { j.schedule = schedule }
}

// WithJanitorLogger sets the janitor's logger
func WithJanitorLogger(logger *slog.Logger) JanitorOption {
	return func(j *Janitor) { j.logger = logger }
}

// NewJanitor creates a janitor for registry
func NewJanitor(registry JobRegistry, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		registry:     registry,
		retention:    DefaultRetention,
		maxRetention: DefaultMaxRetention,
		schedule:     DefaultSweepSchedule,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Sweep runs one eviction pass and returns the number of evicted jobs
func (j *Janitor) Sweep() int {
	n := j.registry.Sweep(j.retention, j.maxRetention)
	if n > 0 {
		j.logger.Debug("Evicted finished jobs", "count", n)
	}
	return n
}

// Run sweeps on schedule until ctx is done
func (j *Janitor) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() { j.Sweep() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", j.schedule, err)
	}

	j.logger.Info("Job janitor started", "schedule", j.schedule, "retention", j.retention, "maxRetention", j.maxRetention)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("Job janitor stopped")
	return nil
}
