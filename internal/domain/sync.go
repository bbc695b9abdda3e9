package domain

import "time"

// Outcome of applying one video to the store.
type Outcome int

const (
	OutcomeInserted Outcome = iota + 1
	OutcomeUpdated
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// PageStats holds the result of processing one page of videos.
type PageStats struct {
	Processed int
	New       int
	Updated   int
	Skipped   int
	Errors    int
	FailedIDs []string
}

func (p *PageStats) Record(o Outcome) {
	p.Processed++
	switch o {
	case OutcomeInserted:
		p.New++
	case OutcomeUpdated:
		p.Updated++
	case OutcomeSkipped:
		p.Skipped++
	}
}

// Changed reports whether the page wrote anything readers can see.
func (p PageStats) Changed() bool {
	return p.New+p.Updated > 0
}

// SyncStats holds statistics about one full pass.
type SyncStats struct {
	Worker      string
	Pages       int
	Fetched     int
	New         int
	Updated     int
	Skipped     int
	Errors      int
	Published   int
	Deactivated int
	Abandoned   int
	Duration    time.Duration
}

func (s *SyncStats) Add(p PageStats) {
	s.Pages++
	s.New += p.New
	s.Updated += p.Updated
	s.Skipped += p.Skipped
	s.Errors += p.Errors
}

// PageRun is the audit row written for every processed page.
type PageRun struct {
	ID         int64
	Worker     string
	CategoryID *int64
	Page       int
	StartedAt  time.Time
}

// PageMessage carries one fetched page over the message bus.
type PageMessage struct {
	ID          string    `json:"id"`
	Worker      string    `json:"worker"`
	Source      string    `json:"source"`
	Page        int       `json:"page"`
	CategoryID  int64     `json:"category_id,omitempty"`
	InsertOnly  bool      `json:"insert_only"`
	Videos      []Video   `json:"videos"`
	PublishedAt time.Time `json:"published_at"`
}

// UpsertOptions tune how one video is applied to the store.
type UpsertOptions struct {
	// InsertOnly skips videos that already exist.
	InsertOnly bool
	// CategoryID links the video to a category when non-zero.
	CategoryID int64
}
