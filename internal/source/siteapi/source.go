package siteapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"catalog_syncer/internal/domain"
	"catalog_syncer/internal/normalize"
	"catalog_syncer/internal/source"
)

const (
	SourceID   = "siteapi"
	SourceName = "Scraped site catalog"

	defaultPageSize = 60
)

// Source implements the catalog client for the scraped-site shaped upstream.
// It has no category list endpoint and a single, unpaginated deletion feed.
type Source struct {
	fetcher  *source.Fetcher
	baseURL  string
	pageSize int
	logger   *slog.Logger
}

func New(cfg source.Config, logger *slog.Logger) *Source {
	logger = logger.With("source", SourceID)
	return &Source{
		fetcher:  source.NewFetcher(cfg, logger),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pageSize: source.ClampPageSize(cfg.PageSize, defaultPageSize),
		logger:   logger,
	}
}

func (s *Source) ID() string {
	return SourceID
}

func (s *Source) Name() string {
	return SourceName
}

func (s *Source) Site() domain.Site {
	return domain.SiteScraped
}

func (s *Source) FetchPage(ctx context.Context, q domain.PageQuery) (*domain.Page, error) {
	query := "all"
	if q.Category != "" {
		query = q.Category
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(source.ClampPageSize(q.PageSize, s.pageSize)))
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("thumbsize", "big")
	params.Set("order", order(q.Ordering))
	params.Set("format", "json")

	var resp SearchResponse
	if err := s.fetcher.GetJSON(ctx, s.baseURL+"/video/search/?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", q.Page, err)
	}

	if len(resp.Videos) == 0 {
		if resp.TotalCount > 0 {
			s.logger.Info("end of pagination detected",
				"page", q.Page,
				"total_count", resp.TotalCount,
				"total_pages", resp.TotalPages,
			)
		}
		return nil, domain.ErrPageExhausted
	}

	videos := make([]domain.Video, 0, len(resp.Videos))
	for _, item := range resp.Videos {
		v := normalize.FromSite(item, s.Site())
		if v.ID == "" {
			s.logger.Warn("skipping video without id", "title", v.Title)
			continue
		}
		videos = append(videos, v)
	}

	return &domain.Page{
		Number: q.Page,
		Videos: videos,
		Total:  resp.TotalCount,
	}, nil
}

// FetchCategories returns nothing: this upstream has no category list.
func (s *Source) FetchCategories(ctx context.Context) ([]domain.Category, error) {
	return nil, nil
}

// FetchDeleted reads the plain-text removal list, one id per line. The feed
// is not paginated, so every page after the first is empty.
func (s *Source) FetchDeleted(ctx context.Context, page int) ([]domain.DeletedVideo, error) {
	if page > 1 {
		return nil, nil
	}

	text, err := s.fetcher.GetText(ctx, s.baseURL+"/video/removed/?format=TXT")
	if err != nil {
		return nil, fmt.Errorf("fetch deleted: %w", err)
	}

	var deleted []domain.DeletedVideo
	for _, line := range strings.Split(text, "\n") {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		deleted = append(deleted, domain.DeletedVideo{VideoID: id})
	}
	return deleted, nil
}

func order(o domain.Ordering) string {
	switch o {
	case domain.OrderingOldest:
		return "oldest"
	default:
		return "latest"
	}
}
