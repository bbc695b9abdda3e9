package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"catalog_syncer/internal/domain"
)

// Source is an upstream video catalog.
type Source interface {
	ID() string
	Name() string
	Site() domain.Site
	// FetchPage returns domain.ErrPageExhausted once pagination has ended.
	FetchPage(ctx context.Context, q domain.PageQuery) (*domain.Page, error)
	FetchCategories(ctx context.Context) ([]domain.Category, error)
	// FetchDeleted returns an empty list when there is nothing more to read.
	FetchDeleted(ctx context.Context, page int) ([]domain.DeletedVideo, error)
}

type VideoStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	Insert(ctx context.Context, v *domain.Video, active bool) (bool, error)
	Update(ctx context.Context, v *domain.Video) error
	ReplaceThumbnails(ctx context.Context, videoID string, thumbs []domain.Thumbnail) error
	ReplaceTerms(ctx context.Context, videoID string, termIDs []int64) error
	LatestAddedAt(ctx context.Context, site domain.Site) (time.Time, bool, error)
}

type TermStore interface {
	Resolve(ctx context.Context, labels []string) (map[string]int64, error)
}

type CategoryStore interface {
	InsertMissing(ctx context.Context, categories []domain.Category) (int, error)
	List(ctx context.Context) ([]domain.CategoryCursor, error)
	ResolveID(ctx context.Context, name string) (int64, error)
	LinkVideo(ctx context.Context, videoID string, categoryID int64) (bool, error)
	Count(ctx context.Context) (int, error)
}

type ProgressStore interface {
	Record(ctx context.Context, categoryID int64, page, processed int) error
}

type DeletionStore interface {
	MarkDeleted(ctx context.Context, d domain.DeletedVideo) (bool, error)
	Deactivate(ctx context.Context, videoID string) (bool, error)
	IsDeleted(ctx context.Context, videoID string) (bool, error)
}

type PageRunStore interface {
	Start(ctx context.Context, run domain.PageRun) (int64, error)
	Finish(ctx context.Context, id int64, stats domain.PageStats, runErr error) error
}

type ViewRefresher interface {
	Refresh(ctx context.Context) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Processor applies the videos of one page to the store.
type Processor interface {
	Process(ctx context.Context, videos []domain.Video, opts domain.UpsertOptions) domain.PageStats
}

type Publisher interface {
	Publish(ctx context.Context, msg *domain.PageMessage) error
	Close() error
}

// CacheInvalidator drops cached read pages after the catalog changed.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) (int, error)
}

type Recorder interface {
	PageFetched(worker string, took time.Duration)
	FetchFailed(worker string)
	PageApplied(worker string, stats domain.PageStats)
	Deactivated(n int)
	ViewRefreshed(err error)
	CacheInvalidated(keys int)
}
