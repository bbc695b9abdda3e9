package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"catalog_syncer/internal/domain"
)

type DeletionStore struct {
	db *sqlx.DB
}

func NewDeletionStore(db *sqlx.DB) *DeletionStore {
	return &DeletionStore{db: db}
}

// MarkDeleted writes the deletion marker once. It reports false when the
// marker already existed.
func (s *DeletionStore) MarkDeleted(ctx context.Context, d domain.DeletedVideo) (bool, error) {
	var id string
	err := Executor(ctx, s.db).QueryRowxContext(ctx, `
		INSERT INTO videos_deletados (video_id, url, embed_url, deletado_em)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (video_id) DO NOTHING
		RETURNING video_id`,
		d.VideoID, d.URL, d.EmbedURL,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mark video %s deleted: %w", d.VideoID, err)
	}
	return true, nil
}

// Deactivate flips an active video to inactive and reports whether it did.
func (s *DeletionStore) Deactivate(ctx context.Context, videoID string) (bool, error) {
	var id string
	err := Executor(ctx, s.db).QueryRowxContext(ctx,
		"UPDATE videos SET ativo = FALSE, atualizado_em = NOW() WHERE id = $1 AND ativo RETURNING id",
		videoID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deactivate video %s: %w", videoID, err)
	}
	return true, nil
}

func (s *DeletionStore) IsDeleted(ctx context.Context, videoID string) (bool, error) {
	var deleted bool
	err := sqlx.GetContext(ctx, Executor(ctx, s.db), &deleted,
		"SELECT EXISTS (SELECT 1 FROM videos_deletados WHERE video_id = $1)", videoID,
	)
	if err != nil {
		return false, fmt.Errorf("check deletion marker of %s: %w", videoID, err)
	}
	return deleted, nil
}
