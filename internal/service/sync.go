package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"catalog_syncer/internal/config"
	"catalog_syncer/internal/domain"
)

// ErrTooManyFailures ends a page walk after max_failures consecutive failed
// pages.
var ErrTooManyFailures = errors.New("too many consecutive failures")

var errPageFailed = errors.New("no video of the page was stored")

// SyncDeps are the collaborators of a SyncService. Publisher is only used by
// bus-sink workers and Cache may be nil.
type SyncDeps struct {
	Source     Source
	Processor  Processor
	Videos     VideoStore
	Categories CategoryStore
	Progress   ProgressStore
	Runs       PageRunStore
	Publisher  Publisher
	Cache      CacheInvalidator
	Recorder   Recorder
}

// SyncService runs one pass of a sync worker over its source.
type SyncService struct {
	SyncDeps
	logger *slog.Logger
	config config.WorkerConfig
}

func NewSyncService(deps SyncDeps, logger *slog.Logger, cfg config.WorkerConfig) *SyncService {
	if cfg.Strategy == config.StrategyCutoff && cfg.Ordering == "" {
		cfg.Ordering = string(domain.OrderingNewest)
	}
	return &SyncService{
		SyncDeps: deps,
		logger:   logger.With("worker", cfg.Name, "source", deps.Source.ID()),
		config:   cfg,
	}
}

// walker describes one page walk.
type walker struct {
	categoryID    int64
	trackProgress bool
	// cutoff trims a page and reports whether the walk should stop after it.
	cutoff func([]domain.Video) ([]domain.Video, bool)
	logger *slog.Logger
}

func (s *SyncService) Sync(ctx context.Context) (*domain.SyncStats, error) {
	startTime := time.Now()
	s.logger.Info("starting sync",
		"source_name", s.Source.Name(),
		"strategy", s.config.Strategy,
		"sink", s.config.Sink,
		"concurrency", s.config.Concurrency,
		"max_pages", s.config.MaxPages,
	)

	acc := &statsAccumulator{stats: domain.SyncStats{Worker: s.config.Name}}

	var err error
	switch s.config.Strategy {
	case config.StrategyCategory:
		err = s.syncCategories(ctx, acc)
	case config.StrategyCutoff:
		err = s.syncCutoff(ctx, acc)
	default:
		err = s.syncForward(ctx, acc)
	}

	stats := acc.snapshot()
	stats.Duration = time.Since(startTime)

	if err != nil {
		return &stats, err
	}

	s.logger.Info("sync completed",
		"pages", stats.Pages,
		"fetched", stats.Fetched,
		"new", stats.New,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"published", stats.Published,
		"abandoned", stats.Abandoned,
		"duration", stats.Duration,
	)

	return &stats, nil
}

func (s *SyncService) syncCategories(ctx context.Context, acc *statsAccumulator) error {
	if err := s.seedCategories(ctx); err != nil {
		return err
	}

	cursors, err := s.Categories.List(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	if len(cursors) == 0 {
		s.logger.Warn("no categories to crawl")
		return nil
	}

	rand.Shuffle(len(cursors), func(i, j int) {
		cursors[i], cursors[j] = cursors[j], cursors[i]
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for _, c := range cursors {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return s.syncCategory(gctx, c, acc)
		})
	}

	return g.Wait()
}

func (s *SyncService) seedCategories(ctx context.Context) error {
	n, err := s.Categories.Count(ctx)
	if err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if n > 0 {
		return nil
	}

	categories, err := s.Source.FetchCategories(ctx)
	if err != nil {
		return fmt.Errorf("fetch categories: %w", err)
	}

	created, err := s.Categories.InsertMissing(ctx, categories)
	if err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}

	s.logger.Info("seeded categories", "fetched", len(categories), "created", created)
	return nil
}

func (s *SyncService) syncCategory(ctx context.Context, c domain.CategoryCursor, acc *statsAccumulator) error {
	logger := s.logger.With("category", c.Name, "category_id", c.ID)
	startPage := c.ResumePage()
	logger.Debug("crawling category", "start_page", startPage)

	err := s.walk(ctx, s.query(startPage, c.Name), walker{
		categoryID:    c.ID,
		trackProgress: true,
		logger:        logger,
	}, acc)
	if errors.Is(err, ErrTooManyFailures) {
		logger.Warn("abandoning category for this pass", "error", err)
		acc.abandon()
		return nil
	}
	return err
}

func (s *SyncService) syncForward(ctx context.Context, acc *statsAccumulator) error {
	w, categoryName, err := s.sequentialWalker(ctx)
	if err != nil {
		return err
	}
	return s.walk(ctx, s.query(1, categoryName), w, acc)
}

func (s *SyncService) syncCutoff(ctx context.Context, acc *statsAccumulator) error {
	w, categoryName, err := s.sequentialWalker(ctx)
	if err != nil {
		return err
	}

	watermark, ok, err := s.watermark(ctx)
	if err != nil {
		return err
	}
	if ok {
		w.logger.Info("syncing down to watermark", "watermark", watermark)
		w.cutoff = cutoffAt(watermark)
	} else {
		w.logger.Info("no watermark yet, walking every page")
	}

	return s.walk(ctx, s.query(1, categoryName), w, acc)
}

func (s *SyncService) sequentialWalker(ctx context.Context) (walker, string, error) {
	w := walker{logger: s.logger}
	if s.config.Category == "" {
		return w, "", nil
	}

	id, err := s.Categories.ResolveID(ctx, s.config.Category)
	if err != nil {
		return w, "", err
	}
	w.categoryID = id
	w.logger = s.logger.With("category", s.config.Category, "category_id", id)
	return w, s.config.Category, nil
}

func (s *SyncService) watermark(ctx context.Context) (time.Time, bool, error) {
	if s.config.Cutoff.Mode == config.CutoffFixed {
		t, err := s.config.Cutoff.SinceTime()
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}
	return s.Videos.LatestAddedAt(ctx, s.Source.Site())
}

// cutoffAt keeps the videos added after watermark. Videos with an unknown
// date never end the walk.
func cutoffAt(watermark time.Time) func([]domain.Video) ([]domain.Video, bool) {
	return func(videos []domain.Video) ([]domain.Video, bool) {
		for i, v := range videos {
			if v.AddedAtKnown && !v.AddedAt.After(watermark) {
				return videos[:i], true
			}
		}
		return videos, false
	}
}

func (s *SyncService) query(page int, category string) domain.PageQuery {
	return domain.PageQuery{
		Page:     page,
		Category: category,
		Ordering: domain.Ordering(s.config.Ordering),
		PageSize: s.config.PageSize,
	}
}

// walk fetches pages from q.Page upwards until pagination is exhausted, the
// context is done, the page budget is spent or the cutoff is reached. Fetch
// errors and pages on which every video failed count as consecutive
// failures; max_failures of them end the walk with ErrTooManyFailures.
func (s *SyncService) walk(ctx context.Context, q domain.PageQuery, w walker, acc *statsAccumulator) error {
	failures := 0
	for pages := 0; s.config.MaxPages == 0 || pages < s.config.MaxPages; {
		if ctx.Err() != nil {
			return nil
		}

		page, err := s.fetch(ctx, q)
		if errors.Is(err, domain.ErrPageExhausted) {
			w.logger.Info("pagination exhausted", "page", q.Page)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			w.logger.Warn("failed to fetch page",
				"page", q.Page,
				"failures", failures,
				"error", err,
			)
			if failures >= s.config.MaxFailures {
				return fmt.Errorf("page %d: %w", q.Page, ErrTooManyFailures)
			}
			if !sleep(ctx, s.config.FailureWait) {
				return nil
			}
			continue
		}

		videos, stop := page.Videos, false
		if w.cutoff != nil {
			videos, stop = w.cutoff(videos)
		}

		err = s.handlePage(ctx, q.Page, videos, w, acc)
		if errors.Is(err, errPageFailed) {
			failures++
			w.logger.Warn("every video of the page failed",
				"page", q.Page,
				"failures", failures,
				"error", err,
			)
			if failures >= s.config.MaxFailures {
				s.skipPage(ctx, q.Page, w)
				return fmt.Errorf("page %d: %w", q.Page, ErrTooManyFailures)
			}
			if !sleep(ctx, s.config.FailureWait) {
				return nil
			}
			continue
		}
		if err != nil {
			return err
		}
		failures = 0
		pages++
		acc.fetched(len(page.Videos))

		if stop {
			w.logger.Info("reached watermark", "page", q.Page)
			return nil
		}
		q.Page++
	}

	w.logger.Info("page budget spent", "max_pages", s.config.MaxPages)
	return nil
}

func (s *SyncService) fetch(ctx context.Context, q domain.PageQuery) (*domain.Page, error) {
	start := time.Now()
	page, err := s.Source.FetchPage(ctx, q)
	switch {
	case err == nil:
		s.Recorder.PageFetched(s.config.Name, time.Since(start))
	case !errors.Is(err, domain.ErrPageExhausted):
		s.Recorder.FetchFailed(s.config.Name)
	}
	return page, err
}

// handlePage applies one page and records its progress. It returns
// errPageFailed when no video of a non-empty page could be stored. A page cut
// short by shutdown leaves the progress untouched so it is read again.
func (s *SyncService) handlePage(ctx context.Context, number int, videos []domain.Video, w walker, acc *statsAccumulator) error {
	opts := domain.UpsertOptions{
		InsertOnly: s.config.InsertOnly,
		CategoryID: w.categoryID,
	}

	if s.config.Sink == config.SinkBus {
		return s.publish(ctx, number, videos, opts, acc)
	}

	run := domain.PageRun{
		Worker:    s.config.Name,
		Page:      number,
		StartedAt: time.Now(),
	}
	if w.categoryID != 0 {
		run.CategoryID = &w.categoryID
	}
	runID, err := s.Runs.Start(ctx, run)
	if err != nil {
		return err
	}

	stats := s.Processor.Process(ctx, videos, opts)
	interrupted := stats.Processed+stats.Errors < len(videos)

	// Whatever was committed must be accounted for even during shutdown.
	ctx = context.WithoutCancel(ctx)

	var pageErr error
	switch {
	case interrupted:
		pageErr = fmt.Errorf("page %d: stopped after %d of %d videos", number, stats.Processed+stats.Errors, len(videos))
	case len(videos) > 0 && stats.Errors == len(videos):
		pageErr = fmt.Errorf("page %d: all %d videos failed: %w", number, len(videos), errPageFailed)
	case w.trackProgress:
		if err := s.Progress.Record(ctx, w.categoryID, number, stats.Processed); err != nil {
			pageErr = err
		}
	}

	if err := s.Runs.Finish(ctx, runID, stats, pageErr); err != nil {
		w.logger.Error("failed to finish page run", "page", number, "error", err)
	}

	if !interrupted && pageErr != nil {
		return pageErr
	}

	s.Recorder.PageApplied(s.config.Name, stats)
	acc.add(stats)

	w.logger.Info("page processed",
		"page", number,
		"videos", len(videos),
		"new", stats.New,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"interrupted", interrupted,
	)
	if stats.Errors > 0 {
		w.logger.Warn("page had failed videos", "page", number, "video_ids", stats.FailedIDs)
	}

	if stats.Changed() {
		s.invalidateCache(ctx)
	}
	return nil
}

// skipPage moves the category cursor past a page that kept failing, so the
// next pass does not stall on it.
func (s *SyncService) skipPage(ctx context.Context, number int, w walker) {
	if !w.trackProgress {
		return
	}
	if err := s.Progress.Record(context.WithoutCancel(ctx), w.categoryID, number, 0); err != nil {
		w.logger.Error("failed to skip page", "page", number, "error", err)
		return
	}
	w.logger.Warn("skipped failing page", "page", number)
}

func (s *SyncService) publish(ctx context.Context, number int, videos []domain.Video, opts domain.UpsertOptions, acc *statsAccumulator) error {
	if len(videos) == 0 {
		return nil
	}

	msg := &domain.PageMessage{
		ID:          uuid.NewString(),
		Worker:      s.config.Name,
		Source:      s.Source.ID(),
		Page:        number,
		CategoryID:  opts.CategoryID,
		InsertOnly:  opts.InsertOnly,
		Videos:      videos,
		PublishedAt: time.Now().UTC(),
	}
	if err := s.Publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish page %d: %w", number, err)
	}

	acc.published(len(videos))
	return nil
}

func (s *SyncService) invalidateCache(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	n, err := s.Cache.Invalidate(ctx)
	if err != nil {
		s.logger.Warn("failed to invalidate cache", "error", err)
		return
	}
	s.Recorder.CacheInvalidated(n)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// statsAccumulator is shared by the category workers of one pass.
type statsAccumulator struct {
	mu    sync.Mutex
	stats domain.SyncStats
}

func (a *statsAccumulator) add(p domain.PageStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Add(p)
}

func (a *statsAccumulator) fetched(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Fetched += n
}

func (a *statsAccumulator) published(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Pages++
	a.stats.Published += n
}

func (a *statsAccumulator) abandon() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Abandoned++
}

func (a *statsAccumulator) snapshot() domain.SyncStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
