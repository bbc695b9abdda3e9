//go:build integration

package service

import (
	"context"
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
	pgstore "catalog_syncer/internal/storage/postgres"
)

type PipelineIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
	processor *PageProcessor
}

func (s *PipelineIntegrationSuite) SetupSuite() {
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

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db

	upserter := NewUpserter(
		pgstore.NewVideoStore(db),
		pgstore.NewTermStore(db),
		pgstore.NewCategoryStore(db),
		pgstore.NewDeletionStore(db),
		pgstore.NewTransactionManager(db),
	)
	s.processor = NewPageProcessor(upserter, 10*time.Second, testLogger())
}

func (s *PipelineIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PipelineIntegrationSuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx, `
		TRUNCATE videos, miniaturas, termos, video_termos, categorias, video_categorias,
		         categoria_progresso, videos_deletados, monitor_carga_videos
		RESTART IDENTITY CASCADE`)
	s.Require().NoError(err)
}

func TestPipelineIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PipelineIntegrationSuite))
}

func (s *PipelineIntegrationSuite) count(query string) int {
	var n int
	s.Require().NoError(s.db.GetContext(s.ctx, &n, query))
	return n
}

func (s *PipelineIntegrationSuite) pageVideos() []domain.Video {
	return []domain.Video{
		{
			ID:         "v1",
			Title:      "First",
			Site:       domain.SiteSearchAPI,
			Thumbnails: []domain.Thumbnail{{Size: "small", Src: "1s"}, {Size: "big", Src: "1b", IsDefault: true}},
			Tags:       []string{"outdoor", "amateur"},
		},
		{
			ID:         "v2",
			Title:      "Second",
			Site:       domain.SiteSearchAPI,
			Thumbnails: []domain.Thumbnail{{Size: "big", Src: "2b", IsDefault: true}},
			Tags:       []string{"outdoor"},
		},
	}
}

func (s *PipelineIntegrationSuite) TestPageReplayIsIdempotent() {
	first := s.processor.Process(s.ctx, s.pageVideos(), domain.UpsertOptions{})
	s.Equal(2, first.New)

	second := s.processor.Process(s.ctx, s.pageVideos(), domain.UpsertOptions{})
	s.Equal(2, second.Updated)
	s.Equal(0, second.Errors)

	s.Equal(2, s.count("SELECT COUNT(*) FROM videos"))
	s.Equal(3, s.count("SELECT COUNT(*) FROM miniaturas"))
	s.Equal(2, s.count("SELECT COUNT(*) FROM termos"))
	s.Equal(3, s.count("SELECT COUNT(*) FROM video_termos"))
}

func (s *PipelineIntegrationSuite) TestDeletedVideoIsNotRevived() {
	deletions := pgstore.NewDeletionStore(s.db)
	_, err := deletions.MarkDeleted(s.ctx, domain.DeletedVideo{VideoID: "v1"})
	s.Require().NoError(err)

	stats := s.processor.Process(s.ctx, s.pageVideos(), domain.UpsertOptions{})
	s.Equal(2, stats.New)
	s.Equal(1, s.count("SELECT COUNT(*) FROM videos WHERE ativo"))

	stats = s.processor.Process(s.ctx, s.pageVideos(), domain.UpsertOptions{})
	s.Equal(2, stats.Updated)
	s.Equal(0, s.count("SELECT COUNT(*) FROM videos WHERE id = 'v1' AND ativo"))
}

func (s *PipelineIntegrationSuite) TestCategoryLinksAreAdditive() {
	_, err := pgstore.NewCategoryStore(s.db).InsertMissing(s.ctx, []domain.Category{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}})
	s.Require().NoError(err)

	s.processor.Process(s.ctx, s.pageVideos(), domain.UpsertOptions{CategoryID: 1})
	s.processor.Process(s.ctx, s.pageVideos(), domain.UpsertOptions{CategoryID: 2, InsertOnly: true})
	s.processor.Process(s.ctx, s.pageVideos(), domain.UpsertOptions{CategoryID: 2})

	s.Equal(4, s.count("SELECT COUNT(*) FROM video_categorias"))
}
