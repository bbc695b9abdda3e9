package normalize

import (
	"strings"

	"catalog_syncer/internal/domain"
)

// SearchVideo is the item shape of the search API (site 1).
type SearchVideo struct {
	Duration     string        `json:"duration"`
	Views        int           `json:"views"`
	VideoID      string        `json:"video_id"`
	Rating       string        `json:"rating"`
	Ratings      int           `json:"ratings"`
	Title        string        `json:"title"`
	URL          string        `json:"url"`
	EmbedURL     string        `json:"embed_url"`
	DefaultThumb string        `json:"default_thumb"`
	Thumb        string        `json:"thumb"`
	PublishDate  string        `json:"publish_date"`
	Thumbs       []SearchThumb `json:"thumbs"`
	Tags         []SearchTag   `json:"tags"`
}

type SearchThumb struct {
	Size   string `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Src    string `json:"src"`
}

type SearchTag struct {
	TagName string `json:"tag_name"`
}

// SiteVideo is the item shape of the scraped-site API (site 2).
type SiteVideo struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Keywords     string      `json:"keywords"`
	Views        int         `json:"views"`
	Rate         string      `json:"rate"`
	URL          string      `json:"url"`
	Added        string      `json:"added"`
	LengthSec    int         `json:"length_sec"`
	LengthMin    string      `json:"length_min"`
	Embed        string      `json:"embed"`
	DefaultThumb *SiteThumb  `json:"default_thumb"`
	Thumbs       []SiteThumb `json:"thumbs"`
}

type SiteThumb struct {
	Size   string `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Src    string `json:"src"`
}

func FromSearch(v SearchVideo, site domain.Site) domain.Video {
	thumbs := make([]domain.Thumbnail, 0, len(v.Thumbs))
	for _, t := range v.Thumbs {
		thumbs = append(thumbs, domain.Thumbnail{Size: t.Size, Width: t.Width, Height: t.Height, Src: t.Src})
	}

	labels := make([]string, 0, len(v.Tags))
	for _, t := range v.Tags {
		labels = append(labels, t.TagName)
	}

	added, known := Date(v.PublishDate)

	return domain.Video{
		ID:              strings.TrimSpace(v.VideoID),
		Title:           strings.TrimSpace(v.Title),
		Views:           v.Views,
		Rating:          Rating(v.Rating),
		URL:             v.URL,
		AddedAt:         added,
		AddedAtKnown:    known,
		DurationSeconds: Duration(v.Duration),
		DurationText:    v.Duration,
		Embed:           v.EmbedURL,
		Site:            site,
		DefaultThumb:    defaultThumb(thumbs, v.DefaultThumb),
		Thumbnails:      thumbs,
		Tags:            Tags(labels),
	}
}

func FromSite(v SiteVideo, site domain.Site) domain.Video {
	thumbs := make([]domain.Thumbnail, 0, len(v.Thumbs))
	for _, t := range v.Thumbs {
		thumbs = append(thumbs, domain.Thumbnail{Size: t.Size, Width: t.Width, Height: t.Height, Src: t.Src})
	}

	var defaultSrc string
	if v.DefaultThumb != nil {
		defaultSrc = v.DefaultThumb.Src
	}
	def := defaultThumb(thumbs, defaultSrc)
	if len(thumbs) == 0 && v.DefaultThumb != nil {
		def = domain.Thumbnail{
			Size:      v.DefaultThumb.Size,
			Width:     v.DefaultThumb.Width,
			Height:    v.DefaultThumb.Height,
			Src:       v.DefaultThumb.Src,
			IsDefault: true,
		}
		if def.Size == "" {
			def.Size = FallbackThumbSize
		}
	}

	seconds := v.LengthSec
	if seconds <= 0 {
		seconds = Duration(v.LengthMin)
	}

	added, known := Date(v.Added)

	return domain.Video{
		ID:              strings.TrimSpace(v.ID),
		Title:           strings.TrimSpace(v.Title),
		Views:           v.Views,
		Rating:          Rating(v.Rate),
		URL:             v.URL,
		AddedAt:         added,
		AddedAtKnown:    known,
		DurationSeconds: seconds,
		DurationText:    v.LengthMin,
		Embed:           v.Embed,
		Site:            site,
		DefaultThumb:    def,
		Thumbnails:      thumbs,
		Tags:            SplitKeywords(v.Keywords),
	}
}
