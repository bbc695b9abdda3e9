package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"catalog_syncer/internal/domain"
)

type CategoryStore struct {
	db *sqlx.DB
}

func NewCategoryStore(db *sqlx.DB) *CategoryStore {
	return &CategoryStore{db: db}
}

// InsertMissing stores the categories that are not known yet and returns how
// many were created. Existing rows are left untouched.
func (s *CategoryStore) InsertMissing(ctx context.Context, categories []domain.Category) (int, error) {
	if len(categories) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(categories))
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
		names = append(names, c.Name)
	}

	res, err := Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO categorias (id, nome)
		SELECT * FROM unnest($1::int[], $2::text[])
		ON CONFLICT DO NOTHING`,
		pq.Array(ids), pq.Array(names),
	)
	if err != nil {
		return 0, fmt.Errorf("insert categories: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert categories: %w", err)
	}
	return int(n), nil
}

// List returns every category with the last page its crawl completed.
func (s *CategoryStore) List(ctx context.Context) ([]domain.CategoryCursor, error) {
	query := `
		SELECT c.id, c.nome, c.nome_traduzido, c.exibir_menu,
		       COALESCE(p.ultima_pagina, 0) AS ultima_pagina
		FROM categorias c
		LEFT JOIN categoria_progresso p ON p.categoria_id = c.id
		ORDER BY c.id`

	var cursors []domain.CategoryCursor
	if err := sqlx.SelectContext(ctx, Executor(ctx, s.db), &cursors, query); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cursors, nil
}

func (s *CategoryStore) ResolveID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, Executor(ctx, s.db), &id,
		"SELECT id FROM categorias WHERE nome = $1", name,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("category %q: %w", name, domain.ErrCategoryNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve category %q: %w", name, err)
	}
	return id, nil
}

// LinkVideo adds the video to the category if it is not there yet and
// reports whether a link was created.
func (s *CategoryStore) LinkVideo(ctx context.Context, videoID string, categoryID int64) (bool, error) {
	res, err := Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO video_categorias (video_id, categoria_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		videoID, categoryID,
	)
	if err != nil {
		return false, fmt.Errorf("link video %s to category %d: %w", videoID, categoryID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("link video %s to category %d: %w", videoID, categoryID, err)
	}
	return n == 1, nil
}

func (s *CategoryStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, Executor(ctx, s.db), &n, "SELECT COUNT(*) FROM categorias"); err != nil {
		return 0, fmt.Errorf("count categories: %w", err)
	}
	return n, nil
}
