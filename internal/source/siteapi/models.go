package siteapi

import "catalog_syncer/internal/normalize"

// SearchResponse is the payload of /video/search/.
type SearchResponse struct {
	Count      int                   `json:"count"`
	Start      int                   `json:"start"`
	PerPage    int                   `json:"per_page"`
	Page       int                   `json:"page"`
	TimeMS     int                   `json:"time_ms"`
	TotalCount int                   `json:"total_count"`
	TotalPages int                   `json:"total_pages"`
	Videos     []normalize.SiteVideo `json:"videos"`
}
