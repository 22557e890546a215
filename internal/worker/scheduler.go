package worker

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs a task on a fixed interval until its context is cancelled.
// A tick that arrives while the previous run is still going is skipped.
type Scheduler struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
	logger   *slog.Logger
}

func NewScheduler(name string, interval time.Duration, logger *slog.Logger, task func(ctx context.Context) error) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{name: name, interval: interval, task: task, logger: logger}
}

// Run executes the task once immediately, then on every tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	if err := s.task(ctx); err != nil {
		s.logger.ErrorContext(ctx, "scheduled task failed",
			"module", "worker.scheduler",
			"layer", "worker",
			"operation", s.name,
			"outcome", "failure",
			"duration_ms", time.Since(started).Milliseconds(),
			"error", err,
		)
		return
	}
	s.logger.DebugContext(ctx, "scheduled task completed",
		"module", "worker.scheduler",
		"layer", "worker",
		"operation", s.name,
		"outcome", "success",
		"duration_ms", time.Since(started).Milliseconds(),
	)
}
