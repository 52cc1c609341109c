package usecase

import (
	"context"
	"log/slog"
	"time"

	"RegAlertScanner/internal/domain"
	"RegAlertScanner/internal/ports"
)

// SyncScheduler wires the interval driver with the orchestrator.
// Scheduled syncs go through the same Run contract as manual ones, only
// the trigger tag differs.
type SyncScheduler struct {
	driver       ports.Scheduler
	orchestrator *Orchestrator
	sinceDays    int
	logger       *slog.Logger
}

// NewSyncScheduler returns a helper to start/stop recurring syncs.
func NewSyncScheduler(driver ports.Scheduler, orchestrator *Orchestrator, sinceDays int, logger *slog.Logger) *SyncScheduler {
	return &SyncScheduler{
		driver:       driver,
		orchestrator: orchestrator,
		sinceDays:    sinceDays,
		logger:       logger,
	}
}

// Start registers the all-sources sync with the provided driver.
func (s *SyncScheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.orchestrator == nil {
		return nil
	}

	job := func(trigger time.Time) {
		since := trigger.UTC().AddDate(0, 0, -s.sinceDays)
		_, err := s.orchestrator.Run(ctx, domain.ScopeAll, domain.TriggerScheduled, "scheduler", since)
		if err != nil && s.logger != nil {
			s.logger.Error("scheduled sync failed", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying driver.
func (s *SyncScheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
