package service

import (
	"context"
	"fmt"
	"log/slog"

	"catalog_syncer/internal/domain"
)

// PageHandler applies pages received from the message bus.
type PageHandler struct {
	processor  Processor
	cache      CacheInvalidator
	recorder   Recorder
	insertOnly bool
	logger     *slog.Logger
}

func NewPageHandler(processor Processor, cache CacheInvalidator, recorder Recorder, insertOnly bool, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		processor:  processor,
		cache:      cache,
		recorder:   recorder,
		insertOnly: insertOnly,
		logger:     logger.With("worker", "consumer"),
	}
}

// Handle returns an error when nothing of the page could be stored or when
// shutdown cut the page short, so the message is redelivered. Partial
// failures are logged and acknowledged.
func (h *PageHandler) Handle(ctx context.Context, msg *domain.PageMessage) error {
	logger := h.logger.With("message_id", msg.ID, "source", msg.Source, "page", msg.Page)

	if len(msg.Videos) == 0 {
		logger.Debug("empty page message")
		return nil
	}

	opts := domain.UpsertOptions{
		InsertOnly: h.insertOnly || msg.InsertOnly,
		CategoryID: msg.CategoryID,
	}
	stats := h.processor.Process(ctx, msg.Videos, opts)

	if done := stats.Processed + stats.Errors; done < len(msg.Videos) {
		return fmt.Errorf("page %d from %s: stopped after %d of %d videos: %w", msg.Page, msg.Worker, done, len(msg.Videos), ctx.Err())
	}
	if stats.Errors == len(msg.Videos) {
		return fmt.Errorf("page %d from %s: all %d videos failed", msg.Page, msg.Worker, len(msg.Videos))
	}

	h.recorder.PageApplied(msg.Worker, stats)
	logger.Info("page message applied",
		"new", stats.New,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
	)
	if stats.Errors > 0 {
		logger.Warn("page had failed videos", "video_ids", stats.FailedIDs)
	}

	if stats.Changed() && h.cache != nil {
		n, err := h.cache.Invalidate(context.WithoutCancel(ctx))
		if err != nil {
			logger.Warn("failed to invalidate cache", "error", err)
			return nil
		}
		h.recorder.CacheInvalidated(n)
	}
	return nil
}
