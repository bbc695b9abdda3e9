package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"catalog_syncer/internal/domain"
	"catalog_syncer/internal/retry"
)

// DeletionService retires the videos the upstream catalogs report as removed.
type DeletionService struct {
	sources   []Source
	deletions DeletionStore
	views     ViewRefresher
	txManager TransactionManager
	cache     CacheInvalidator
	recorder  Recorder
	refresh   retry.Policy
	maxPages  int
	logger    *slog.Logger
}

func NewDeletionService(
	sources []Source,
	deletions DeletionStore,
	views ViewRefresher,
	txManager TransactionManager,
	cache CacheInvalidator,
	recorder Recorder,
	refresh retry.Policy,
	maxPages int,
	logger *slog.Logger,
) *DeletionService {
	return &DeletionService{
		sources:   sources,
		deletions: deletions,
		views:     views,
		txManager: txManager,
		cache:     cache,
		recorder:  recorder,
		refresh:   refresh,
		maxPages:  maxPages,
		logger:    logger.With("worker", "deletion"),
	}
}

func (s *DeletionService) Sync(ctx context.Context) (*domain.SyncStats, error) {
	startTime := time.Now()
	stats := &domain.SyncStats{Worker: "deletion"}

	var syncErr error
	for _, src := range s.sources {
		if ctx.Err() != nil {
			syncErr = ctx.Err()
			break
		}
		if err := s.syncSource(ctx, src, stats); err != nil {
			syncErr = fmt.Errorf("source %s: %w", src.ID(), err)
			break
		}
	}

	// Pages committed before a failure still have to reach the view.
	if stats.Deactivated > 0 {
		s.recorder.Deactivated(stats.Deactivated)
		if err := s.refreshView(ctx); err != nil {
			return stats, errors.Join(syncErr, err)
		}
		s.invalidateCache(ctx)
	}
	if syncErr != nil {
		return stats, syncErr
	}

	stats.Duration = time.Since(startTime)
	s.logger.Info("deletion sync completed",
		"pages", stats.Pages,
		"fetched", stats.Fetched,
		"deactivated", stats.Deactivated,
		"duration", stats.Duration,
	)
	return stats, nil
}

func (s *DeletionService) syncSource(ctx context.Context, src Source, stats *domain.SyncStats) error {
	logger := s.logger.With("source", src.ID())

	for page := 1; s.maxPages == 0 || page <= s.maxPages; page++ {
		if ctx.Err() != nil {
			return nil
		}

		deleted, err := src.FetchDeleted(ctx, page)
		if err != nil {
			return fmt.Errorf("fetch deleted page %d: %w", page, err)
		}
		if len(deleted) == 0 {
			logger.Debug("no more deleted videos", "page", page)
			return nil
		}

		deactivated, err := s.applyPage(ctx, deleted)
		if err != nil {
			return fmt.Errorf("apply deleted page %d: %w", page, err)
		}

		stats.Pages++
		stats.Fetched += len(deleted)
		stats.Deactivated += deactivated

		logger.Info("deleted page applied",
			"page", page,
			"reported", len(deleted),
			"deactivated", deactivated,
		)
	}
	return nil
}

// applyPage writes the markers of one page in a single transaction. A video
// is only deactivated the first time its marker is written.
func (s *DeletionService) applyPage(ctx context.Context, deleted []domain.DeletedVideo) (int, error) {
	var deactivated int
	err := s.txManager.WithTransaction(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		deactivated = 0
		for _, d := range deleted {
			if d.VideoID == "" {
				continue
			}
			marked, err := s.deletions.MarkDeleted(txCtx, d)
			if err != nil {
				return err
			}
			if !marked {
				continue
			}
			changed, err := s.deletions.Deactivate(txCtx, d.VideoID)
			if err != nil {
				return err
			}
			if changed {
				deactivated++
			}
		}
		return nil
	})
	return deactivated, err
}

func (s *DeletionService) refreshView(ctx context.Context) error {
	err := s.refresh.Do(ctx, s.views.Refresh, func(attempt int, wait time.Duration, err error) {
		s.logger.Warn("view refresh failed, retrying",
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
	})
	s.recorder.ViewRefreshed(err)
	if err != nil {
		return fmt.Errorf("refresh view: %w", err)
	}
	s.logger.Info("view refreshed")
	return nil
}

func (s *DeletionService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	n, err := s.cache.Invalidate(ctx)
	if err != nil {
		s.logger.Warn("failed to invalidate cache", "error", err)
		return
	}
	s.recorder.CacheInvalidated(n)
}
