//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"catalog_syncer/internal/database"
	"catalog_syncer/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.Require().NoError(database.RunMigrations(connStr))
	// Applying twice is a no-op.
	s.Require().NoError(database.RunMigrations(connStr))

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx, `
		TRUNCATE videos, miniaturas, termos, video_termos, categorias, video_categorias,
		         categoria_progresso, videos_deletados, monitor_carga_videos
		RESTART IDENTITY CASCADE`)
	s.Require().NoError(err)
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func testVideo(id string) *domain.Video {
	return &domain.Video{
		ID:              id,
		Title:           "Video " + id,
		Views:           10,
		Rating:          4.5,
		URL:             "https://example.com/" + id,
		AddedAt:         time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		AddedAtKnown:    true,
		DurationSeconds: 754,
		DurationText:    "12:34",
		Site:            domain.SiteSearchAPI,
		DefaultThumb:    domain.Thumbnail{Size: "big", Width: 640, Height: 360, Src: "b.jpg", IsDefault: true},
		Thumbnails: []domain.Thumbnail{
			{Size: "small", Width: 160, Height: 90, Src: "s.jpg"},
			{Size: "big", Width: 640, Height: 360, Src: "b.jpg", IsDefault: true},
		},
	}
}

func (s *PostgresIntegrationSuite) count(query string, args ...any) int {
	var n int
	s.Require().NoError(s.db.GetContext(s.ctx, &n, query, args...))
	return n
}

func (s *PostgresIntegrationSuite) TestVideoStore_InsertAndUpdate() {
	store := NewVideoStore(s.db)
	v := testVideo("v1")

	exists, err := store.Exists(s.ctx, v.ID)
	s.NoError(err)
	s.False(exists)

	inserted, err := store.Insert(s.ctx, v, true)
	s.NoError(err)
	s.True(inserted)

	inserted, err = store.Insert(s.ctx, v, true)
	s.NoError(err)
	s.False(inserted)

	exists, err = store.Exists(s.ctx, v.ID)
	s.NoError(err)
	s.True(exists)

	v.Title = "Renamed"
	s.NoError(store.Update(s.ctx, v))

	var title string
	s.NoError(s.db.GetContext(s.ctx, &title, "SELECT titulo FROM videos WHERE id = $1", v.ID))
	s.Equal("Renamed", title)
}

func (s *PostgresIntegrationSuite) TestVideoStore_UpdateKeepsActiveFlag() {
	store := NewVideoStore(s.db)
	v := testVideo("v1")

	_, err := store.Insert(s.ctx, v, false)
	s.NoError(err)
	s.NoError(store.Update(s.ctx, v))

	s.Equal(0, s.count("SELECT COUNT(*) FROM videos WHERE ativo"))
}

func (s *PostgresIntegrationSuite) TestVideoStore_ReplaceThumbnails() {
	store := NewVideoStore(s.db)
	v := testVideo("v1")
	_, err := store.Insert(s.ctx, v, true)
	s.Require().NoError(err)

	s.NoError(store.ReplaceThumbnails(s.ctx, v.ID, v.Thumbnails))
	s.NoError(store.ReplaceThumbnails(s.ctx, v.ID, v.Thumbnails))
	s.Equal(2, s.count("SELECT COUNT(*) FROM miniaturas WHERE video_id = $1", v.ID))
	s.Equal(1, s.count("SELECT COUNT(*) FROM miniaturas WHERE video_id = $1 AND padrao", v.ID))

	s.NoError(store.ReplaceThumbnails(s.ctx, v.ID, nil))
	s.Equal(0, s.count("SELECT COUNT(*) FROM miniaturas WHERE video_id = $1", v.ID))
}

func (s *PostgresIntegrationSuite) TestVideoStore_LatestAddedAt() {
	store := NewVideoStore(s.db)

	_, ok, err := store.LatestAddedAt(s.ctx, domain.SiteSearchAPI)
	s.NoError(err)
	s.False(ok)

	older := testVideo("v1")
	older.AddedAt = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := testVideo("v2")
	for _, v := range []*domain.Video{older, newer} {
		_, err := store.Insert(s.ctx, v, true)
		s.Require().NoError(err)
	}

	latest, ok, err := store.LatestAddedAt(s.ctx, domain.SiteSearchAPI)
	s.NoError(err)
	s.True(ok)
	s.True(newer.AddedAt.Equal(latest))
}

func (s *PostgresIntegrationSuite) TestTermStore_Resolve() {
	store := NewTermStore(s.db)

	ids, err := store.Resolve(s.ctx, nil)
	s.NoError(err)
	s.Empty(ids)

	first, err := store.Resolve(s.ctx, []string{"b", "a"})
	s.NoError(err)
	s.Len(first, 2)

	second, err := store.Resolve(s.ctx, []string{"a", "c"})
	s.NoError(err)
	s.Equal(first["a"], second["a"])
	s.Equal(3, s.count("SELECT COUNT(*) FROM termos"))
}

func (s *PostgresIntegrationSuite) TestTermStore_ConcurrentResolveConverges() {
	store := NewTermStore(s.db)
	tm := NewTransactionManager(s.db)

	const workers = 8
	results := make([]map[string]int64, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tm.WithTransaction(s.ctx, func(ctx context.Context) error {
				ids, err := store.Resolve(ctx, []string{"shared", fmt.Sprintf("own-%d", i)})
				results[i] = ids
				return err
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		s.Require().NoError(errs[i])
		s.Equal(results[0]["shared"], results[i]["shared"])
	}
	s.Equal(1, s.count("SELECT COUNT(*) FROM termos WHERE termo = 'shared'"))
}

func (s *PostgresIntegrationSuite) TestVideoStore_ReplaceTerms() {
	videos := NewVideoStore(s.db)
	terms := NewTermStore(s.db)
	v := testVideo("v1")
	_, err := videos.Insert(s.ctx, v, true)
	s.Require().NoError(err)

	ids, err := terms.Resolve(s.ctx, []string{"x", "y"})
	s.Require().NoError(err)
	s.NoError(videos.ReplaceTerms(s.ctx, v.ID, []int64{ids["x"], ids["y"]}))
	s.NoError(videos.ReplaceTerms(s.ctx, v.ID, []int64{ids["y"]}))

	s.Equal(1, s.count("SELECT COUNT(*) FROM video_termos WHERE video_id = $1", v.ID))
	s.Equal(1, s.count("SELECT COUNT(*) FROM video_termos WHERE video_id = $1 AND termo_id = $2", v.ID, ids["y"]))
}

func (s *PostgresIntegrationSuite) TestCategoryStore() {
	store := NewCategoryStore(s.db)

	n, err := store.Count(s.ctx)
	s.NoError(err)
	s.Equal(0, n)

	created, err := store.InsertMissing(s.ctx, []domain.Category{{ID: 1, Name: "amateur"}, {ID: 2, Name: "outdoor"}})
	s.NoError(err)
	s.Equal(2, created)

	created, err = store.InsertMissing(s.ctx, []domain.Category{{ID: 2, Name: "outdoor"}, {ID: 3, Name: "vintage"}})
	s.NoError(err)
	s.Equal(1, created)

	id, err := store.ResolveID(s.ctx, "outdoor")
	s.NoError(err)
	s.Equal(int64(2), id)

	_, err = store.ResolveID(s.ctx, "missing")
	s.True(errors.Is(err, domain.ErrCategoryNotFound))

	s.NoError(NewProgressStore(s.db).Record(s.ctx, 2, 7, 10))

	cursors, err := store.List(s.ctx)
	s.NoError(err)
	s.Require().Len(cursors, 3)
	s.Equal("outdoor", cursors[1].Name)
	s.Equal(8, cursors[1].ResumePage())
	s.Equal(1, cursors[0].ResumePage())
}

func (s *PostgresIntegrationSuite) TestCategoryStore_LinkVideoIsAdditive() {
	store := NewCategoryStore(s.db)
	_, err := store.InsertMissing(s.ctx, []domain.Category{{ID: 1, Name: "amateur"}})
	s.Require().NoError(err)
	_, err = NewVideoStore(s.db).Insert(s.ctx, testVideo("v1"), true)
	s.Require().NoError(err)

	linked, err := store.LinkVideo(s.ctx, "v1", 1)
	s.NoError(err)
	s.True(linked)

	linked, err = store.LinkVideo(s.ctx, "v1", 1)
	s.NoError(err)
	s.False(linked)
}

func (s *PostgresIntegrationSuite) TestProgressStore() {
	categories := NewCategoryStore(s.db)
	_, err := categories.InsertMissing(s.ctx, []domain.Category{{ID: 5, Name: "c"}})
	s.Require().NoError(err)
	store := NewProgressStore(s.db)

	cursors, err := categories.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(cursors, 1)
	s.Equal(1, cursors[0].ResumePage())

	s.NoError(store.Record(s.ctx, 5, 1, 20))
	s.NoError(store.Record(s.ctx, 5, 2, 0))
	s.NoError(store.Record(s.ctx, 5, 3, 15))

	var processed int64
	s.NoError(s.db.GetContext(s.ctx, &processed,
		"SELECT videos_processados FROM categoria_progresso WHERE categoria_id = 5"))
	s.Equal(int64(35), processed)

	cursors, err = categories.List(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, cursors[0].LastPage)
	s.Equal(4, cursors[0].ResumePage())
}

func (s *PostgresIntegrationSuite) TestDeletionStore_AppliedTwice() {
	_, err := NewVideoStore(s.db).Insert(s.ctx, testVideo("v1"), true)
	s.Require().NoError(err)
	store := NewDeletionStore(s.db)
	d := domain.DeletedVideo{VideoID: "v1", URL: "u", EmbedURL: "e"}

	marked, err := store.MarkDeleted(s.ctx, d)
	s.NoError(err)
	s.True(marked)
	changed, err := store.Deactivate(s.ctx, "v1")
	s.NoError(err)
	s.True(changed)

	marked, err = store.MarkDeleted(s.ctx, d)
	s.NoError(err)
	s.False(marked)
	changed, err = store.Deactivate(s.ctx, "v1")
	s.NoError(err)
	s.False(changed)

	deleted, err := store.IsDeleted(s.ctx, "v1")
	s.NoError(err)
	s.True(deleted)
	s.Equal(1, s.count("SELECT COUNT(*) FROM videos_deletados"))
	s.Equal(0, s.count("SELECT COUNT(*) FROM videos WHERE ativo"))
}

func (s *PostgresIntegrationSuite) TestViewRefresher_HidesInactive() {
	videos := NewVideoStore(s.db)
	for _, id := range []string{"v1", "v2"} {
		v := testVideo(id)
		_, err := videos.Insert(s.ctx, v, true)
		s.Require().NoError(err)
		s.Require().NoError(videos.ReplaceThumbnails(s.ctx, id, v.Thumbnails))
	}
	_, err := NewDeletionStore(s.db).Deactivate(s.ctx, "v2")
	s.Require().NoError(err)

	s.NoError(NewViewRefresher(s.db).Refresh(s.ctx))

	s.Equal(1, s.count("SELECT COUNT(*) FROM videos_com_miniaturas"))
	s.Equal(2, s.count("SELECT json_array_length(miniaturas) FROM videos_com_miniaturas WHERE id = 'v1'"))
}

func (s *PostgresIntegrationSuite) TestPageRunStore() {
	store := NewPageRunStore(s.db)
	categoryID := int64(9)

	id, err := store.Start(s.ctx, domain.PageRun{Worker: "w", CategoryID: &categoryID, Page: 3, StartedAt: time.Now()})
	s.NoError(err)
	s.NoError(store.Finish(s.ctx, id, domain.PageStats{Processed: 10, New: 4, Updated: 5, Errors: 1}, nil))

	failed, err := store.Start(s.ctx, domain.PageRun{Worker: "w", Page: 4, StartedAt: time.Now()})
	s.NoError(err)
	s.NoError(store.Finish(s.ctx, failed, domain.PageStats{}, errors.New("boom")))

	s.Equal(1, s.count("SELECT COUNT(*) FROM monitor_carga_videos WHERE status = 'concluido' AND videos_novos = 4"))
	s.Equal(1, s.count("SELECT COUNT(*) FROM monitor_carga_videos WHERE status = 'erro' AND mensagem_erro = 'boom'"))
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	videos := NewVideoStore(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if _, err := videos.Insert(ctx, testVideo("v1"), true); err != nil {
			return err
		}
		return errors.New("abort")
	})
	s.Error(err)
	s.Equal(0, s.count("SELECT COUNT(*) FROM videos"))
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	videos := NewVideoStore(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		_, err := videos.Insert(ctx, testVideo("v1"), true)
		return err
	})
	s.NoError(err)
	s.Equal(1, s.count("SELECT COUNT(*) FROM videos"))
}
