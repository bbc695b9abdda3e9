package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"catalog_syncer/internal/domain"
	"catalog_syncer/internal/service/mocks"
)

type PageHandlerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	processor *mocks.MockProcessor
	cache     *mocks.MockCacheInvalidator
	recorder  *mocks.MockRecorder
}

func (s *PageHandlerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.processor = mocks.NewMockProcessor(s.ctrl)
	s.cache = mocks.NewMockCacheInvalidator(s.ctrl)
	s.recorder = mocks.NewMockRecorder(s.ctrl)
	s.recorder.EXPECT().PageApplied(gomock.Any(), gomock.Any()).AnyTimes()
	s.recorder.EXPECT().CacheInvalidated(gomock.Any()).AnyTimes()
}

func (s *PageHandlerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestPageHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(PageHandlerTestSuite))
}

func pageMessage(ids ...string) *domain.PageMessage {
	msg := &domain.PageMessage{ID: "m1", Worker: "w", Source: "searchapi", Page: 3, CategoryID: 4}
	for _, id := range ids {
		msg.Videos = append(msg.Videos, domain.Video{ID: id})
	}
	return msg
}

func (s *PageHandlerTestSuite) TestHandle_PartialFailureIsAcked() {
	handler := NewPageHandler(s.processor, s.cache, s.recorder, true, testLogger())
	msg := pageMessage("a", "b")

	s.processor.EXPECT().Process(gomock.Any(), msg.Videos, domain.UpsertOptions{InsertOnly: true, CategoryID: 4}).
		Return(domain.PageStats{Processed: 1, New: 1, Errors: 1, FailedIDs: []string{"b"}})
	s.cache.EXPECT().Invalidate(gomock.Any()).Return(2, nil)

	s.NoError(handler.Handle(context.Background(), msg))
}

func (s *PageHandlerTestSuite) TestHandle_AllFailedIsRedelivered() {
	handler := NewPageHandler(s.processor, s.cache, s.recorder, false, testLogger())
	msg := pageMessage("a", "b")

	s.processor.EXPECT().Process(gomock.Any(), msg.Videos, domain.UpsertOptions{CategoryID: 4}).
		Return(domain.PageStats{Errors: 2})

	s.Error(handler.Handle(context.Background(), msg))
}

func (s *PageHandlerTestSuite) TestHandle_EmptyPage() {
	handler := NewPageHandler(s.processor, nil, s.recorder, false, testLogger())

	s.NoError(handler.Handle(context.Background(), pageMessage()))
}

func (s *PageHandlerTestSuite) TestHandle_UnchangedPageKeepsCache() {
	handler := NewPageHandler(s.processor, s.cache, s.recorder, false, testLogger())
	msg := pageMessage("a")

	s.processor.EXPECT().Process(gomock.Any(), msg.Videos, gomock.Any()).Return(domain.PageStats{Processed: 1, Skipped: 1})

	s.NoError(handler.Handle(context.Background(), msg))
}

func (s *PageHandlerTestSuite) TestHandle_InterruptedPageIsRedelivered() {
	handler := NewPageHandler(s.processor, s.cache, s.recorder, false, testLogger())
	msg := pageMessage("a", "b", "c")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.processor.EXPECT().Process(gomock.Any(), msg.Videos, gomock.Any()).Return(domain.PageStats{Processed: 1, New: 1})

	err := handler.Handle(ctx, msg)

	s.ErrorIs(err, context.Canceled)
}
