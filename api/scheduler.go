/*
scheduler.go - Scheduled integrity sweeps

PURPOSE:
  Runs booking.Service.AuditIntegrity on a cron schedule and records each
  run through inventory.IntegrityLog for audit and UI display.

DESIGN:
  - robfig/cron with seconds precision, UTC
  - One sweep at a time; a manual run waits for a scheduled one
  - A panic inside a sweep marks the run failed instead of killing the process
  - Each run is saved as "running" first, then "completed" or "failed"

CONFIGURATION:
  scheduler.integrity_sweep in config.yaml, default "0 0 3 * * *"
  (every day at 03:00 UTC).

USAGE:
  sched := NewIntegrityScheduler(service, store)
  if err := sched.Start(cfg.Scheduler.IntegritySweep); err != nil { ... }
  defer sched.Stop()

SEE ALSO:
  - booking/integrity.go: The sweep itself
  - handlers.go: RunIntegrity endpoint (manual run)
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/warp/rental-engine/booking"
	"github.com/warp/rental-engine/inventory"
	"github.com/warp/rental-engine/logger"
)

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// IntegrityScheduler handles automated integrity sweeps.
type IntegrityScheduler struct {
	service *booking.Service
	runs    inventory.IntegrityLog
	log     *slog.Logger
	now     func() time.Time

	sweep sync.Mutex // held for the duration of a sweep

	mu   sync.Mutex
	cron *cron.Cron
}

func NewIntegrityScheduler(service *booking.Service, runs inventory.IntegrityLog) *IntegrityScheduler {
	return &IntegrityScheduler{
		service: service,
		runs:    runs,
		log:     logger.WithComponent("scheduler"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the sweep under the cron schedule and starts the cron loop.
// Calling Start on a running scheduler is a no-op.
func (s *IntegrityScheduler) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)
	if _, err := c.AddFunc(schedule, s.runScheduled); err != nil {
		return fmt.Errorf("invalid integrity sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c

	s.log.Info("integrity scheduler started", "schedule", schedule)
	return nil
}

// Stop waits for a running sweep to finish.
func (s *IntegrityScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.log.Info("integrity scheduler stopped")
}

// Running reports whether the cron loop is active.
func (s *IntegrityScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

func (s *IntegrityScheduler) runScheduled() {
	run, err := s.RunNow(context.Background())
	if err != nil {
		s.log.Error("scheduled integrity sweep failed", "run_id", run.ID, "error", err)
	}
}

// RunNow performs one sweep and returns its record. The record is returned
// even when the sweep fails.
func (s *IntegrityScheduler) RunNow(ctx context.Context) (inventory.IntegrityRun, error) {
	s.sweep.Lock()
	defer s.sweep.Unlock()

	run := inventory.IntegrityRun{
		ID:        uuid.NewString(),
		Status:    RunRunning,
		StartedAt: s.now(),
	}
	if err := s.runs.SaveIntegrityRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to record integrity run: %w", err)
	}

	report, sweepErr := runWithRecovery(ctx, s.service.AuditIntegrity)

	completed := s.now()
	run.CompletedAt = &completed
	if sweepErr != nil {
		run.Status = RunFailed
		run.Error = sweepErr.Error()
	} else {
		run.Status = RunCompleted
		run.BookingsChecked = report.BookingsChecked
		run.DriftFixed = report.DriftFixed
		run.Conflicts = len(report.Conflicts)
	}

	if err := s.runs.SaveIntegrityRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to record integrity run: %w", err)
	}

	s.log.Info("integrity sweep finished",
		"run_id", run.ID,
		"status", run.Status,
		"bookings_checked", run.BookingsChecked,
		"drift_fixed", run.DriftFixed,
		"conflicts", run.Conflicts)
	return run, sweepErr
}

func runWithRecovery(ctx context.Context, fn func(context.Context) (*booking.IntegrityReport, error)) (report *booking.IntegrityReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("integrity sweep panicked: %v", r)
		}
	}()
	return fn(ctx)
}
