package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"catalog_syncer/internal/domain"
	"catalog_syncer/internal/retry"
	"catalog_syncer/internal/service/mocks"
)

type DeletionServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	source    *mocks.MockSource
	deletions *mocks.MockDeletionStore
	views     *mocks.MockViewRefresher
	txManager *mocks.MockTransactionManager
	cache     *mocks.MockCacheInvalidator
	recorder  *mocks.MockRecorder

	service *DeletionService
}

func (s *DeletionServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.source = mocks.NewMockSource(s.ctrl)
	s.deletions = mocks.NewMockDeletionStore(s.ctrl)
	s.views = mocks.NewMockViewRefresher(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.cache = mocks.NewMockCacheInvalidator(s.ctrl)
	s.recorder = mocks.NewMockRecorder(s.ctrl)

	s.source.EXPECT().ID().Return("searchapi").AnyTimes()
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	).AnyTimes()

	s.service = NewDeletionService(
		[]Source{s.source},
		s.deletions,
		s.views,
		s.txManager,
		s.cache,
		s.recorder,
		retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		10,
		testLogger(),
	)
}

func (s *DeletionServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestDeletionServiceTestSuite(t *testing.T) {
	suite.Run(t, new(DeletionServiceTestSuite))
}

func (s *DeletionServiceTestSuite) TestSync_DeactivatesAndRefreshes() {
	ctx := context.Background()
	fresh := domain.DeletedVideo{VideoID: "v1", URL: "u1"}
	known := domain.DeletedVideo{VideoID: "v2", URL: "u2"}
	unstored := domain.DeletedVideo{VideoID: "v3"}

	s.source.EXPECT().FetchDeleted(gomock.Any(), 1).Return([]domain.DeletedVideo{fresh, known, {}}, nil)
	s.source.EXPECT().FetchDeleted(gomock.Any(), 2).Return([]domain.DeletedVideo{unstored}, nil)
	s.source.EXPECT().FetchDeleted(gomock.Any(), 3).Return(nil, nil)

	s.deletions.EXPECT().MarkDeleted(gomock.Any(), fresh).Return(true, nil)
	s.deletions.EXPECT().Deactivate(gomock.Any(), "v1").Return(true, nil)
	s.deletions.EXPECT().MarkDeleted(gomock.Any(), known).Return(false, nil)
	s.deletions.EXPECT().MarkDeleted(gomock.Any(), unstored).Return(true, nil)
	s.deletions.EXPECT().Deactivate(gomock.Any(), "v3").Return(false, nil)

	s.recorder.EXPECT().Deactivated(1)
	s.views.EXPECT().Refresh(gomock.Any()).Return(nil)
	s.recorder.EXPECT().ViewRefreshed(nil)
	s.cache.EXPECT().Invalidate(gomock.Any()).Return(4, nil)
	s.recorder.EXPECT().CacheInvalidated(4)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(2, stats.Pages)
	s.Equal(1, stats.Deactivated)
}

func (s *DeletionServiceTestSuite) TestSync_AppliedTwiceDeactivatesOnce() {
	ctx := context.Background()
	d := domain.DeletedVideo{VideoID: "v1"}

	s.source.EXPECT().FetchDeleted(gomock.Any(), 1).Return([]domain.DeletedVideo{d}, nil).Times(2)
	s.source.EXPECT().FetchDeleted(gomock.Any(), 2).Return(nil, nil).Times(2)

	gomock.InOrder(
		s.deletions.EXPECT().MarkDeleted(gomock.Any(), d).Return(true, nil),
		s.deletions.EXPECT().MarkDeleted(gomock.Any(), d).Return(false, nil),
	)
	s.deletions.EXPECT().Deactivate(gomock.Any(), "v1").Return(true, nil).Times(1)
	s.recorder.EXPECT().Deactivated(1).Times(1)
	s.views.EXPECT().Refresh(gomock.Any()).Return(nil).Times(1)
	s.recorder.EXPECT().ViewRefreshed(nil).Times(1)
	s.cache.EXPECT().Invalidate(gomock.Any()).Return(0, nil).Times(1)
	s.recorder.EXPECT().CacheInvalidated(0).Times(1)

	first, err := s.service.Sync(ctx)
	s.NoError(err)
	s.Equal(1, first.Deactivated)

	second, err := s.service.Sync(ctx)
	s.NoError(err)
	s.Equal(0, second.Deactivated)
}

func (s *DeletionServiceTestSuite) TestSync_RetriesViewRefresh() {
	ctx := context.Background()
	d := domain.DeletedVideo{VideoID: "v1"}

	s.source.EXPECT().FetchDeleted(gomock.Any(), 1).Return([]domain.DeletedVideo{d}, nil)
	s.source.EXPECT().FetchDeleted(gomock.Any(), 2).Return(nil, nil)
	s.deletions.EXPECT().MarkDeleted(gomock.Any(), d).Return(true, nil)
	s.deletions.EXPECT().Deactivate(gomock.Any(), "v1").Return(true, nil)
	s.recorder.EXPECT().Deactivated(1)

	gomock.InOrder(
		s.views.EXPECT().Refresh(gomock.Any()).Return(errors.New("lock timeout")),
		s.views.EXPECT().Refresh(gomock.Any()).Return(errors.New("lock timeout")),
		s.views.EXPECT().Refresh(gomock.Any()).Return(nil),
	)
	s.recorder.EXPECT().ViewRefreshed(nil)
	s.cache.EXPECT().Invalidate(gomock.Any()).Return(1, nil)
	s.recorder.EXPECT().CacheInvalidated(1)

	_, err := s.service.Sync(ctx)

	s.NoError(err)
}

func (s *DeletionServiceTestSuite) TestSync_RefreshGivesUp() {
	ctx := context.Background()
	d := domain.DeletedVideo{VideoID: "v1"}

	s.source.EXPECT().FetchDeleted(gomock.Any(), 1).Return([]domain.DeletedVideo{d}, nil)
	s.source.EXPECT().FetchDeleted(gomock.Any(), 2).Return(nil, nil)
	s.deletions.EXPECT().MarkDeleted(gomock.Any(), d).Return(true, nil)
	s.deletions.EXPECT().Deactivate(gomock.Any(), "v1").Return(true, nil)
	s.recorder.EXPECT().Deactivated(1)
	s.views.EXPECT().Refresh(gomock.Any()).Return(errors.New("lock timeout")).Times(3)
	s.recorder.EXPECT().ViewRefreshed(gomock.Not(nil))

	_, err := s.service.Sync(ctx)

	s.Error(err)
	s.Contains(err.Error(), "refresh view")
}

func (s *DeletionServiceTestSuite) TestSync_NothingDeleted() {
	s.source.EXPECT().FetchDeleted(gomock.Any(), 1).Return(nil, nil)

	stats, err := s.service.Sync(context.Background())

	s.NoError(err)
	s.Equal(0, stats.Pages)
}

func (s *DeletionServiceTestSuite) TestSync_FetchError() {
	s.source.EXPECT().FetchDeleted(gomock.Any(), 1).Return(nil, errors.New("api down"))

	_, err := s.service.Sync(context.Background())

	s.Error(err)
	s.Contains(err.Error(), "source searchapi")
}

func (s *DeletionServiceTestSuite) TestSync_StoreErrorRollsBackPage() {
	d := domain.DeletedVideo{VideoID: "v1"}

	s.source.EXPECT().FetchDeleted(gomock.Any(), 1).Return([]domain.DeletedVideo{d}, nil)
	s.deletions.EXPECT().MarkDeleted(gomock.Any(), d).Return(true, nil)
	s.deletions.EXPECT().Deactivate(gomock.Any(), "v1").Return(false, errors.New("deadlock"))

	stats, err := s.service.Sync(context.Background())

	s.Error(err)
	s.Equal(0, stats.Deactivated)
}

func (s *DeletionServiceTestSuite) TestSync_RefreshesAfterLaterPageFails() {
	d := domain.DeletedVideo{VideoID: "v1"}

	s.source.EXPECT().FetchDeleted(gomock.Any(), 1).Return([]domain.DeletedVideo{d}, nil)
	s.deletions.EXPECT().MarkDeleted(gomock.Any(), d).Return(true, nil)
	s.deletions.EXPECT().Deactivate(gomock.Any(), "v1").Return(true, nil)
	s.source.EXPECT().FetchDeleted(gomock.Any(), 2).Return(nil, errors.New("api down"))
	s.recorder.EXPECT().Deactivated(1)
	s.views.EXPECT().Refresh(gomock.Any()).Return(nil)
	s.recorder.EXPECT().ViewRefreshed(nil)
	s.cache.EXPECT().Invalidate(gomock.Any()).Return(3, nil)
	s.recorder.EXPECT().CacheInvalidated(3)

	stats, err := s.service.Sync(context.Background())

	s.Error(err)
	s.Contains(err.Error(), "fetch deleted page 2")
	s.Equal(1, stats.Deactivated)
}
