package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/switchd/internal/config"
	"github.com/dokzlo13/switchd/internal/eventbus"
	"github.com/dokzlo13/switchd/internal/ledger"
	"github.com/dokzlo13/switchd/internal/scheduler"
)

// SchedulerService wraps the scheduler and related periodic tasks.
type SchedulerService struct {
	cfg       *config.Config
	Scheduler *scheduler.Scheduler
	ledger    *ledger.Ledger
}

// NewSchedulerService creates a new SchedulerService.
func NewSchedulerService(cfg *config.Config, bus *eventbus.Bus, l *ledger.Ledger) (*SchedulerService, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return &SchedulerService{
		cfg:       cfg,
		Scheduler: scheduler.New(bus, l, loc),
		ledger:    l,
	}, nil
}

// Start begins the scheduler and related periodic tasks.
func (s *SchedulerService) Start(ctx context.Context) {
	// Run boot recovery first
	s.Scheduler.RunBootRecovery()

	go func() {
		if err := s.Scheduler.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduler error")
		}
	}()

	go s.runLedgerCleanup(ctx)

	if interval := s.cfg.Log.PrintSchedule.Duration(); interval > 0 {
		go s.runSchedulePrinter(ctx, interval)
	}
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *SchedulerService) runLedgerCleanup(ctx context.Context) {
	retention := s.cfg.Ledger.Retention()
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// runSchedulePrinter logs today's transitions right away and then periodically.
func (s *SchedulerService) runSchedulePrinter(ctx context.Context, interval time.Duration) {
	printSchedule := func() {
		log.Info().Msg("\n" + s.Scheduler.FormatScheduleForDay(time.Now()))
	}
	printSchedule()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printSchedule()
		}
	}
}
