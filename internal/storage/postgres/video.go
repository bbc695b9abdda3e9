package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"catalog_syncer/internal/domain"
)

type VideoStore struct {
	db *sqlx.DB
}

func NewVideoStore(db *sqlx.DB) *VideoStore {
	return &VideoStore{db: db}
}

// Exists locks the video row when called inside a transaction, so two
// workers seeing the same id serialize on it.
func (s *VideoStore) Exists(ctx context.Context, id string) (bool, error) {
	var found string
	err := Executor(ctx, s.db).QueryRowxContext(ctx,
		"SELECT id FROM videos WHERE id = $1 FOR UPDATE", id,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check video %s: %w", id, err)
	}
	return true, nil
}

// Insert creates the video row. active is false for ids the upstream has
// already reported as deleted. It reports false when another transaction
// created the row first.
func (s *VideoStore) Insert(ctx context.Context, v *domain.Video, active bool) (bool, error) {
	query := `
		INSERT INTO videos (
			id, titulo, visualizacoes, avaliacao, url, data_adicionada,
			duracao_segundos, duracao_minutos, embed, site_id,
			default_thumb_size, default_thumb_width, default_thumb_height, default_thumb_src,
			ativo, atualizado_em
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW()
		)
		ON CONFLICT (id) DO NOTHING`

	res, err := Executor(ctx, s.db).ExecContext(ctx, query,
		v.ID,
		v.Title,
		v.Views,
		v.Rating,
		v.URL,
		v.AddedAt,
		v.DurationSeconds,
		v.DurationText,
		v.Embed,
		int(v.Site),
		v.DefaultThumb.Size,
		v.DefaultThumb.Width,
		v.DefaultThumb.Height,
		v.DefaultThumb.Src,
		active,
	)
	if err != nil {
		return false, fmt.Errorf("insert video %s: %w", v.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert video %s: %w", v.ID, err)
	}
	return n == 1, nil
}

// Update overwrites every column except ativo.
func (s *VideoStore) Update(ctx context.Context, v *domain.Video) error {
	query := `
		UPDATE videos SET
			titulo = $2,
			visualizacoes = $3,
			avaliacao = $4,
			url = $5,
			data_adicionada = $6,
			duracao_segundos = $7,
			duracao_minutos = $8,
			embed = $9,
			site_id = $10,
			default_thumb_size = $11,
			default_thumb_width = $12,
			default_thumb_height = $13,
			default_thumb_src = $14,
			atualizado_em = NOW()
		WHERE id = $1`

	_, err := Executor(ctx, s.db).ExecContext(ctx, query,
		v.ID,
		v.Title,
		v.Views,
		v.Rating,
		v.URL,
		v.AddedAt,
		v.DurationSeconds,
		v.DurationText,
		v.Embed,
		int(v.Site),
		v.DefaultThumb.Size,
		v.DefaultThumb.Width,
		v.DefaultThumb.Height,
		v.DefaultThumb.Src,
	)
	if err != nil {
		return fmt.Errorf("update video %s: %w", v.ID, err)
	}
	return nil
}

func (s *VideoStore) ReplaceThumbnails(ctx context.Context, videoID string, thumbs []domain.Thumbnail) error {
	exec := Executor(ctx, s.db)

	if _, err := exec.ExecContext(ctx, "DELETE FROM miniaturas WHERE video_id = $1", videoID); err != nil {
		return fmt.Errorf("delete thumbnails of %s: %w", videoID, err)
	}

	if len(thumbs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO miniaturas (video_id, tamanho, largura, altura, src, padrao) VALUES ")
	args := make([]any, 0, len(thumbs)*5+1)
	args = append(args, videoID)

	for i, t := range thumbs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*5 + 2
		sb.WriteString("($1")
		for j := 0; j < 5; j++ {
			sb.WriteString(", $")
			sb.WriteString(strconv.Itoa(base + j))
		}
		sb.WriteString(")")
		args = append(args, t.Size, t.Width, t.Height, t.Src, t.IsDefault)
	}

	if _, err := exec.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert thumbnails of %s: %w", videoID, err)
	}
	return nil
}

// ReplaceTerms swaps the term links of a video for termIDs.
func (s *VideoStore) ReplaceTerms(ctx context.Context, videoID string, termIDs []int64) error {
	exec := Executor(ctx, s.db)

	if _, err := exec.ExecContext(ctx, "DELETE FROM video_termos WHERE video_id = $1", videoID); err != nil {
		return fmt.Errorf("delete terms of %s: %w", videoID, err)
	}

	if len(termIDs) == 0 {
		return nil
	}

	_, err := exec.ExecContext(ctx, `
		INSERT INTO video_termos (video_id, termo_id)
		SELECT $1, unnest($2::int[])
		ON CONFLICT DO NOTHING`,
		videoID, pq.Array(termIDs),
	)
	if err != nil {
		return fmt.Errorf("link terms of %s: %w", videoID, err)
	}
	return nil
}

// LatestAddedAt returns the newest added-at date stored for site. ok is false
// when the site has no videos yet.
func (s *VideoStore) LatestAddedAt(ctx context.Context, site domain.Site) (time.Time, bool, error) {
	var latest sql.NullTime
	err := sqlx.GetContext(ctx, Executor(ctx, s.db), &latest,
		"SELECT MAX(data_adicionada) FROM videos WHERE site_id = $1", int(site),
	)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest added date: %w", err)
	}
	return latest.Time, latest.Valid, nil
}
