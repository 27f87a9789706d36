package questions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/triviagame/internal/dependencies/mocks"
	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/testutil"
)

type stubSource struct {
	questions []model.Question
	err       error
	count     int
	deadline  bool
}

func (s *stubSource) Fetch(ctx context.Context, count int) ([]model.Question, error) {
	s.count = count
	_, s.deadline = ctx.Deadline()
	return s.questions, s.err
}

type FetcherSuite struct {
	suite.Suite
	source  *stubSource
	bus     *mocks.RecordingPublisher
	fetcher *Fetcher
	ctx     context.Context
}

func TestFetcherSuite(t *testing.T) {
	suite.Run(t, new(FetcherSuite))
}

func (s *FetcherSuite) SetupTest() {
	s.source = &stubSource{}
	s.bus = mocks.NewRecordingPublisher()
	s.fetcher = NewFetcher(s.source, s.bus, 7, time.Second, testutil.NopLogger())
	s.ctx = context.Background()
}

func (s *FetcherSuite) TestPublishesIndexedQuestions() {
	qs := testutil.Questions(3)
	for i := range qs {
		qs[i].Index = 42
		qs[i].OpenedAt = model.TimePtr(testutil.Epoch)
	}
	s.source.questions = qs

	s.Require().NoError(s.fetcher.HandleMessage(s.ctx, model.FetchQuestions{GameID: "g1", Count: 3}))

	msgs := s.bus.Messages()
	s.Require().Len(msgs, 1)
	fetched, ok := msgs[0].(model.QuestionsFetched)
	s.Require().True(ok)
	s.Equal(model.GameID("g1"), fetched.GameID)
	s.Require().Len(fetched.Questions, 3)
	for i, q := range fetched.Questions {
		s.Equal(i, q.Index)
		s.Nil(q.OpenedAt)
	}
	s.Equal(3, s.source.count)
	s.True(s.source.deadline)
}

func (s *FetcherSuite) TestDefaultCount() {
	s.source.questions = testutil.Questions(1)
	s.fetcher.Fetch(s.ctx, model.FetchQuestions{GameID: "g1"})
	s.Equal(7, s.source.count)
}

func (s *FetcherSuite) TestSourceErrorPublishesFailure() {
	s.source.err = errors.New("upstream 503")

	s.Require().NoError(s.fetcher.HandleMessage(s.ctx, model.FetchQuestions{GameID: "g1"}))
	s.Equal([]model.Message{model.FetchQuestionsFailed{GameID: "g1", Reason: "upstream 503"}}, s.bus.Messages())
}

func (s *FetcherSuite) TestEmptyResultPublishesFailure() {
	msg := s.fetcher.Fetch(s.ctx, model.FetchQuestions{GameID: "g1"})
	failed, ok := msg.(model.FetchQuestionsFailed)
	s.Require().True(ok)
	s.Equal(model.ErrNoQuestions.Error(), failed.Reason)
}

func (s *FetcherSuite) TestRejectsOtherMessages() {
	err := s.fetcher.HandleMessage(s.ctx, model.StartGame{GameID: "g1"})
	s.ErrorIs(err, model.ErrUnknownMessageType)
}

func (s *FetcherSuite) TestPublishErrorIsReturned() {
	s.source.questions = testutil.Questions(1)
	s.bus.Err = errors.New("bus down")
	s.Error(s.fetcher.HandleMessage(s.ctx, model.FetchQuestions{GameID: "g1"}))
}
