package searchapi

import "catalog_syncer/internal/normalize"

// SearchResponse is the payload of the searchVideos call.
type SearchResponse struct {
	Videos []VideoEnvelope `json:"videos"`
	Count  int             `json:"count"`
}

type VideoEnvelope struct {
	Video normalize.SearchVideo `json:"video"`
}

type CategoriesResponse struct {
	Categories []APICategory `json:"categories"`
}

type APICategory struct {
	ID       int64  `json:"id"`
	Category string `json:"category"`
}

type DeletedResponse struct {
	Videos []APIDeleted `json:"videos"`
}

type APIDeleted struct {
	VideoID  string `json:"video_id"`
	URL      string `json:"url"`
	EmbedURL string `json:"embed_url"`
}
