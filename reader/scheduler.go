package reader

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/liseuse/store"
)

// DueLister returns the active schedules whose time has been reached.
type DueLister func(ctx context.Context, now time.Time) ([]*store.Schedule, error)

// ScheduleAdvancer recomputes a triggered schedule (recur or deactivate).
type ScheduleAdvancer func(ctx context.Context, id string, now time.Time) (*store.Schedule, error)

// RunLauncher starts a reading run for a queue entry.
type RunLauncher func(ctx context.Context, queueEntryID string) error

// SchedulerConfig configures the schedule sweep.
type SchedulerConfig struct {
	// CheckInterval is how often to poll for due schedules. Default: 1 minute.
	CheckInterval time.Duration
}

func (c *SchedulerConfig) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
}

// Scheduler periodically triggers reading runs for due schedules.
type Scheduler struct {
	due     DueLister
	advance ScheduleAdvancer
	launch  RunLauncher
	config  SchedulerConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(due DueLister, advance ScheduleAdvancer, launch RunLauncher, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		due:     due,
		advance: advance,
		launch:  launch,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run polls for due schedules on a ticker. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	// Sweep once immediately on start.
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	now := s.now()
	due, err := s.due(ctx, now)
	if err != nil {
		s.logger.Error("scheduler: list due schedules", "error", err)
		return
	}

	for _, sc := range due {
		// Advance before launching so a failed run cannot re-trigger on
		// every sweep; daily and weekly fire again on their own cadence.
		if _, err := s.advance(ctx, sc.ID, now); err != nil {
			s.logger.Warn("scheduler: advance schedule", "schedule", sc.ID, "error", err)
			continue
		}
		if err := s.launch(ctx, sc.QueueEntryID); err != nil {
			s.logger.Warn("scheduler: launch run", "schedule", sc.ID, "queueEntry", sc.QueueEntryID, "error", err)
			continue
		}
		s.logger.Info("scheduler: triggered", "schedule", sc.ID, "queueEntry", sc.QueueEntryID, "repeat", sc.RepeatType)
	}
}
