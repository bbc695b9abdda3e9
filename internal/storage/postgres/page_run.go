package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"catalog_syncer/internal/domain"
)

const (
	runStatusRunning  = "em_andamento"
	runStatusFinished = "concluido"
	runStatusFailed   = "erro"
)

// PageRunStore writes the monitor row kept for every processed page.
type PageRunStore struct {
	db *sqlx.DB
}

func NewPageRunStore(db *sqlx.DB) *PageRunStore {
	return &PageRunStore{db: db}
}

func (s *PageRunStore) Start(ctx context.Context, run domain.PageRun) (int64, error) {
	var id int64
	err := Executor(ctx, s.db).QueryRowxContext(ctx, `
		INSERT INTO monitor_carga_videos (worker, categoria_id, pagina, iniciado_em, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		run.Worker, run.CategoryID, run.Page, run.StartedAt, runStatusRunning,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start page run: %w", err)
	}
	return id, nil
}

// Finish closes the run with the page counters. A non-nil runErr marks the
// run as failed.
func (s *PageRunStore) Finish(ctx context.Context, id int64, stats domain.PageStats, runErr error) error {
	status := runStatusFinished
	var message *string
	if runErr != nil {
		status = runStatusFailed
		msg := runErr.Error()
		message = &msg
	}

	_, err := Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE monitor_carga_videos SET
			finalizado_em = NOW(),
			videos_processados = $2,
			videos_novos = $3,
			videos_atualizados = $4,
			erros = $5,
			status = $6,
			mensagem_erro = $7
		WHERE id = $1`,
		id, stats.Processed, stats.New, stats.Updated, stats.Errors, status, message,
	)
	if err != nil {
		return fmt.Errorf("finish page run %d: %w", id, err)
	}
	return nil
}
