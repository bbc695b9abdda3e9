// Package normalize maps the upstream catalog shapes onto domain.Video.
// Nothing here returns an error: unparsable fields fall back to zero values.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"catalog_syncer/internal/domain"
)

// FallbackThumbSize is used as the default thumbnail size label when the
// upstream sends no thumbnails at all.
const FallbackThumbSize = "medium"

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Duration converts "MM:SS" into seconds. Anything that is not exactly two
// numeric parts yields 0.
func Duration(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0
	}
	minutes, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	seconds, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return minutes*60 + seconds
}

func Rating(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// Date parses an upstream timestamp. ok is false when no layout matched, in
// which case the zero time is returned.
func Date(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SplitKeywords splits a comma-delimited keyword string into tags.
func SplitKeywords(s string) []string {
	return Tags(strings.Split(s, ","))
}

// Tags trims labels, drops empties and removes duplicates keeping the first
// occurrence.
func Tags(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// defaultThumb picks the thumbnail matching src, else the first one, and marks
// it in thumbs.
func defaultThumb(thumbs []domain.Thumbnail, src string) domain.Thumbnail {
	if len(thumbs) == 0 {
		return domain.Thumbnail{Size: FallbackThumbSize, Src: src, IsDefault: true}
	}
	idx := 0
	if src != "" {
		for i, t := range thumbs {
			if t.Src == src {
				idx = i
				break
			}
		}
	}
	thumbs[idx].IsDefault = true
	return thumbs[idx]
}
