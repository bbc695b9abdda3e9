package searchapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"catalog_syncer/internal/domain"
	"catalog_syncer/internal/normalize"
	"catalog_syncer/internal/source"
)

const (
	SourceID   = "searchapi"
	SourceName = "Search API catalog"

	searchMethod     = "redtube.Videos.searchVideos"
	categoriesMethod = "redtube.Categories.getCategoriesList"
	deletedMethod    = "redtube.Videos.getDeletedVideos"
)

// Source implements the catalog client for the search API shaped upstream.
// The API has no page size parameter; it always serves its own fixed size.
type Source struct {
	fetcher *source.Fetcher
	baseURL string
	logger  *slog.Logger
}

func New(cfg source.Config, logger *slog.Logger) *Source {
	logger = logger.With("source", SourceID)
	return &Source{
		fetcher: source.NewFetcher(cfg, logger),
		baseURL: cfg.BaseURL,
		logger:  logger,
	}
}

func (s *Source) ID() string {
	return SourceID
}

func (s *Source) Name() string {
	return SourceName
}

func (s *Source) Site() domain.Site {
	return domain.SiteSearchAPI
}

// FetchPage returns domain.ErrPageExhausted when the upstream answers with an
// empty video list.
func (s *Source) FetchPage(ctx context.Context, q domain.PageQuery) (*domain.Page, error) {
	params := s.params(searchMethod)
	params.Set("thumbsize", "all")
	params.Set("page", strconv.Itoa(q.Page))
	if q.Ordering != domain.OrderingNone {
		params.Set("ordering", string(q.Ordering))
	}
	if q.Category != "" {
		params.Set("category", q.Category)
	}

	var resp SearchResponse
	if err := s.fetcher.GetJSON(ctx, s.url(params), &resp); err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", q.Page, err)
	}

	if len(resp.Videos) == 0 {
		if resp.Count > 0 {
			s.logger.Info("end of pagination detected",
				"page", q.Page,
				"category", q.Category,
				"count", resp.Count,
			)
		}
		return nil, domain.ErrPageExhausted
	}

	return &domain.Page{
		Number: q.Page,
		Videos: s.transform(resp.Videos),
		Total:  resp.Count,
	}, nil
}

func (s *Source) FetchCategories(ctx context.Context) ([]domain.Category, error) {
	var resp CategoriesResponse
	if err := s.fetcher.GetJSON(ctx, s.url(s.params(categoriesMethod)), &resp); err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}

	categories := make([]domain.Category, 0, len(resp.Categories))
	for _, c := range resp.Categories {
		if c.Category == "" {
			continue
		}
		categories = append(categories, domain.Category{ID: c.ID, Name: c.Category})
	}
	return categories, nil
}

func (s *Source) FetchDeleted(ctx context.Context, page int) ([]domain.DeletedVideo, error) {
	params := s.params(deletedMethod)
	params.Set("page", strconv.Itoa(page))

	var resp DeletedResponse
	if err := s.fetcher.GetJSON(ctx, s.url(params), &resp); err != nil {
		return nil, fmt.Errorf("fetch deleted page %d: %w", page, err)
	}

	deleted := make([]domain.DeletedVideo, 0, len(resp.Videos))
	for _, d := range resp.Videos {
		if d.VideoID == "" {
			continue
		}
		deleted = append(deleted, domain.DeletedVideo{VideoID: d.VideoID, URL: d.URL, EmbedURL: d.EmbedURL})
	}
	return deleted, nil
}

func (s *Source) params(method string) url.Values {
	params := url.Values{}
	params.Set("data", method)
	params.Set("output", "json")
	return params
}

func (s *Source) url(params url.Values) string {
	return s.baseURL + "?" + params.Encode()
}

func (s *Source) transform(items []VideoEnvelope) []domain.Video {
	videos := make([]domain.Video, 0, len(items))
	for _, item := range items {
		v := normalize.FromSearch(item.Video, s.Site())
		if v.ID == "" {
			s.logger.Warn("skipping video without id", "title", v.Title)
			continue
		}
		if !v.AddedAtKnown {
			s.logger.Debug("unparsable publish date",
				"video_id", v.ID,
				"publish_date", item.Video.PublishDate,
			)
		}
		videos = append(videos, v)
	}
	return videos
}
