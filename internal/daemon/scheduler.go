package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/kata-ci/staticbuild/internal/logfields"
)

// Scheduler wraps gocron for the periodic build trigger.
type Scheduler struct {
	scheduler gocron.Scheduler
	trigger   func(reason string)
}

// NewScheduler creates a scheduler that fires the given trigger.
func NewScheduler(trigger func(reason string)) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, trigger: trigger}, nil
}

// SchedulePeriodicRun registers a recurring build run at the given interval.
// Returns the job ID for later management.
func (s *Scheduler) SchedulePeriodicRun(interval time.Duration) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.fire),
		gocron.WithName("periodic-build"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create periodic build job: %w", err)
	}
	return job.ID().String(), nil
}

func (s *Scheduler) fire() {
	slog.Info("Scheduled build trigger fired", logfields.Status("periodic"))
	s.trigger("schedule")
}

// Start begins the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}
