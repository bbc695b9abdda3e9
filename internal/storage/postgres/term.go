package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"catalog_syncer/internal/domain"
)

type TermStore struct {
	db *sqlx.DB
}

func NewTermStore(db *sqlx.DB) *TermStore {
	return &TermStore{db: db}
}

// Resolve returns the id of every label, creating the missing ones. Labels
// are inserted in sorted order so concurrent transactions lock rows in the
// same sequence.
func (s *TermStore) Resolve(ctx context.Context, labels []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(labels))
	if len(labels) == 0 {
		return ids, nil
	}

	sorted := make([]string, len(labels))
	copy(sorted, labels)
	sort.Strings(sorted)

	exec := Executor(ctx, s.db)

	_, err := exec.ExecContext(ctx, `
		INSERT INTO termos (termo)
		SELECT unnest($1::text[])
		ON CONFLICT (termo) DO NOTHING`,
		pq.Array(sorted),
	)
	if err != nil {
		return nil, fmt.Errorf("insert terms: %w", err)
	}

	var terms []domain.Term
	err = sqlx.SelectContext(ctx, exec, &terms,
		"SELECT id, termo FROM termos WHERE termo = ANY($1)", pq.Array(sorted),
	)
	if err != nil {
		return nil, fmt.Errorf("select terms: %w", err)
	}

	for _, t := range terms {
		ids[t.Label] = t.ID
	}
	return ids, nil
}
