package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type ProgressStore struct {
	db *sqlx.DB
}

func NewProgressStore(db *sqlx.DB) *ProgressStore {
	return &ProgressStore{db: db}
}

// Record marks page as the last completed page of the category and adds
// processed to its running total.
func (s *ProgressStore) Record(ctx context.Context, categoryID int64, page, processed int) error {
	query := `
		INSERT INTO categoria_progresso (categoria_id, ultima_pagina, ultima_atualizacao, videos_processados)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT (categoria_id) DO UPDATE SET
			ultima_pagina = EXCLUDED.ultima_pagina,
			ultima_atualizacao = EXCLUDED.ultima_atualizacao,
			videos_processados = categoria_progresso.videos_processados + EXCLUDED.videos_processados`

	if _, err := Executor(ctx, s.db).ExecContext(ctx, query, categoryID, page, processed); err != nil {
		return fmt.Errorf("record progress of category %d: %w", categoryID, err)
	}
	return nil
}
