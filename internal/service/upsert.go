package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"catalog_syncer/internal/domain"
)

// Upserter writes one video with its thumbnails, term links and category link
// in a single transaction.
type Upserter struct {
	videos     VideoStore
	terms      TermStore
	categories CategoryStore
	deletions  DeletionStore
	txManager  TransactionManager
}

func NewUpserter(
	videos VideoStore,
	terms TermStore,
	categories CategoryStore,
	deletions DeletionStore,
	txManager TransactionManager,
) *Upserter {
	return &Upserter{
		videos:     videos,
		terms:      terms,
		categories: categories,
		deletions:  deletions,
		txManager:  txManager,
	}
}

// Upsert inserts an unseen video or overwrites a known one. A new video whose
// id already carries a deletion marker is stored inactive; updates never
// touch the active flag.
func (u *Upserter) Upsert(ctx context.Context, v *domain.Video, opts domain.UpsertOptions) (domain.Outcome, error) {
	var outcome domain.Outcome

	err := u.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		exists, err := u.videos.Exists(txCtx, v.ID)
		if err != nil {
			return err
		}

		if !exists {
			deleted, err := u.deletions.IsDeleted(txCtx, v.ID)
			if err != nil {
				return err
			}
			inserted, err := u.videos.Insert(txCtx, v, !deleted)
			if err != nil {
				return err
			}
			// A concurrent worker may have created the row in between.
			exists = !inserted
		}

		switch {
		case !exists:
			outcome = domain.OutcomeInserted
		case opts.InsertOnly:
			outcome = domain.OutcomeSkipped
		default:
			if err := u.videos.Update(txCtx, v); err != nil {
				return err
			}
			outcome = domain.OutcomeUpdated
		}

		if outcome != domain.OutcomeSkipped {
			if err := u.writeChildren(txCtx, v); err != nil {
				return err
			}
		}

		if opts.CategoryID != 0 {
			if _, err := u.categories.LinkVideo(txCtx, v.ID, opts.CategoryID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert video %s: %w", v.ID, err)
	}

	return outcome, nil
}

func (u *Upserter) writeChildren(ctx context.Context, v *domain.Video) error {
	if err := u.videos.ReplaceThumbnails(ctx, v.ID, v.Thumbnails); err != nil {
		return err
	}

	ids, err := u.terms.Resolve(ctx, v.Tags)
	if err != nil {
		return err
	}

	termIDs := make([]int64, 0, len(v.Tags))
	for _, tag := range v.Tags {
		if id, ok := ids[tag]; ok {
			termIDs = append(termIDs, id)
		}
	}
	return u.videos.ReplaceTerms(ctx, v.ID, termIDs)
}

// PageProcessor applies every video of a page, one transaction each.
type PageProcessor struct {
	upserter     *Upserter
	videoTimeout time.Duration
	logger       *slog.Logger
}

func NewPageProcessor(upserter *Upserter, videoTimeout time.Duration, logger *slog.Logger) *PageProcessor {
	return &PageProcessor{
		upserter:     upserter,
		videoTimeout: videoTimeout,
		logger:       logger,
	}
}

// Process applies the videos in order. Each video runs detached from ctx
// cancellation, bounded by the per-video timeout, so the one in flight always
// commits or rolls back; once ctx is done no further video is started and
// Processed+Errors falls short of len(videos). Failed videos are logged and
// counted, the rest are still committed.
func (p *PageProcessor) Process(ctx context.Context, videos []domain.Video, opts domain.UpsertOptions) domain.PageStats {
	var stats domain.PageStats

	for i := range videos {
		if ctx.Err() != nil {
			p.logger.Info("page interrupted", "done", i, "videos", len(videos))
			break
		}
		v := &videos[i]

		videoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.videoTimeout)
		outcome, err := p.upserter.Upsert(videoCtx, v, opts)
		cancel()

		if err != nil {
			stats.Errors++
			stats.FailedIDs = append(stats.FailedIDs, v.ID)
			p.logger.Warn("failed to persist video",
				"video_id", v.ID,
				"error", err,
			)
			continue
		}

		stats.Record(outcome)
	}

	return stats
}
