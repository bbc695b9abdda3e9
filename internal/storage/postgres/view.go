package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const catalogView = "videos_com_miniaturas"

type ViewRefresher struct {
	db *sqlx.DB
}

func NewViewRefresher(db *sqlx.DB) *ViewRefresher {
	return &ViewRefresher{db: db}
}

// Refresh rebuilds the read-side view without blocking readers.
func (r *ViewRefresher) Refresh(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY "+catalogView); err != nil {
		return fmt.Errorf("refresh %s: %w", catalogView, err)
	}
	return nil
}
