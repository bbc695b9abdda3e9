package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"catalog_syncer/internal/domain"
)

// Syncer runs one pass.
type Syncer interface {
	Sync(ctx context.Context) (*domain.SyncStats, error)
}

// Scheduler runs passes back to back: interval after a successful pass,
// cooldown after a failed or panicking one.
type Scheduler struct {
	syncer   Syncer
	interval time.Duration
	cooldown time.Duration
	logger   *slog.Logger
}

func NewScheduler(syncer Syncer, interval, cooldown time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		interval: interval,
		cooldown: cooldown,
		logger:   logger,
	}
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "cooldown", s.cooldown)

	for {
		wait := s.interval
		if err := s.runSync(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("sync failed, cooling down", "error", err, "cooldown", s.cooldown)
			wait = s.cooldown
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) runSync(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sync panicked: %v", p)
		}
	}()

	_, err = s.syncer.Sync(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
