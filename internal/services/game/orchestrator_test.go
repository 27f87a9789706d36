package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/triviagame/internal/dependencies/mocks"
	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/scheduler"
	schedmemory "github.com/mcoot/triviagame/internal/scheduler/memory"
	"github.com/mcoot/triviagame/internal/storage"
	"github.com/mcoot/triviagame/internal/storage/memory"
	"github.com/mcoot/triviagame/internal/testutil"
)

// flakyStore fails the next conflicts saves with ErrVersionConflict, running
// interleave first so a competing writer can change the game in between
type flakyStore struct {
	storage.SagaStore
	mu         sync.Mutex
	conflicts  int
	interleave func()
	saves      int
}

func (f *flakyStore) Save(ctx context.Context, g *model.Game, expected storage.Version) (storage.Version, error) {
	f.mu.Lock()
	f.saves++
	if f.conflicts > 0 {
		f.conflicts--
		hook := f.interleave
		f.interleave = nil
		f.mu.Unlock()
		if hook != nil {
			hook()
		}
		return storage.NoVersion, storage.ErrVersionConflict
	}
	f.mu.Unlock()
	return f.SagaStore.Save(ctx, g, expected)
}

type failingScheduler struct {
	scheduler.Scheduler
	err error
}

func (f *failingScheduler) Schedule(ctx context.Context, t model.Timer) error {
	if f.err != nil {
		return f.err
	}
	return f.Scheduler.Schedule(ctx, t)
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []model.Notification
}

func (r *recordingNotifier) Notify(n model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingNotifier) types() []model.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.NotificationType
	for _, n := range r.items {
		out = append(out, n.Type)
	}
	return out
}

type OrchestratorSuite struct {
	suite.Suite
	ctx       context.Context
	clock     *mocks.MockClock
	store     *flakyStore
	bus       *mocks.RecordingPublisher
	scheduler *failingScheduler
	timers    *schedmemory.Scheduler
	notifier  *recordingNotifier
	orch      *Orchestrator
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = mocks.NewMockClock(testutil.Epoch)
	s.store = &flakyStore{SagaStore: memory.New()}
	s.bus = mocks.NewRecordingPublisher()
	s.timers = schedmemory.New(s.bus, s.clock, scheduler.DefaultConfig(), testutil.NopLogger())
	s.scheduler = &failingScheduler{Scheduler: s.timers}
	s.notifier = &recordingNotifier{}

	cfg := DefaultConfig()
	cfg.ConflictBackoff = time.Millisecond
	s.orch = NewOrchestrator(s.store, s.bus, s.scheduler, s.notifier, s.clock, mocks.NewMockRandom(),
		DefaultSettings(), cfg, testutil.NopLogger())
}

func (s *OrchestratorSuite) handle(msg model.Message) Decision {
	s.T().Helper()
	d, err := s.orch.Handle(s.ctx, msg)
	s.Require().NoError(err)
	return d
}

func (s *OrchestratorSuite) load() (*model.Game, storage.Version) {
	s.T().Helper()
	g, v, err := s.store.Load(s.ctx, "g1")
	s.Require().NoError(err)
	return g, v
}

func (s *OrchestratorSuite) startedGame(questions int) {
	s.handle(model.CreateGame{GameID: "g1", Name: "Quiz"})
	s.handle(model.AddParticipant{GameID: "g1", Participant: testutil.Participant("p1")})
	s.handle(model.StartGame{GameID: "g1"})
	s.handle(model.QuestionsFetched{GameID: "g1", Questions: testutil.Questions(questions)})
}

func (s *OrchestratorSuite) TestCreateGamePersists() {
	d := s.handle(model.CreateGame{GameID: "g1", Name: "Quiz"})
	s.Equal(OutcomeApplied, d.Outcome)

	g, v := s.load()
	s.Equal(model.PhaseLobbyOpen, g.State)
	s.Equal(testutil.Epoch, g.CreatedAt)
	s.Equal(storage.Version(1), v)
}

func (s *OrchestratorSuite) TestIgnoredMessagesAreNotPersisted() {
	s.handle(model.CreateGame{GameID: "g1"})
	_, before := s.load()

	d := s.handle(model.CloseCurrentQuestion{GameID: "g1"})
	s.Equal(OutcomeIgnored, d.Outcome)

	_, after := s.load()
	s.Equal(before, after)
}

func (s *OrchestratorSuite) TestUnknownGameIsNoOp() {
	d := s.handle(model.StartGame{GameID: "missing"})
	s.Equal(OutcomeNotFound, d.Outcome)

	_, _, err := s.store.Load(s.ctx, "missing")
	s.ErrorIs(err, model.ErrGameNotFound)
}

func (s *OrchestratorSuite) TestStartGamePublishesFetchRequest() {
	s.handle(model.CreateGame{GameID: "g1"})
	s.handle(model.StartGame{GameID: "g1"})

	s.Equal([]model.Message{model.FetchQuestions{GameID: "g1", Count: 10}}, s.bus.Messages())

	g, _ := s.load()
	s.Equal(model.PhaseFetchQuestionsPending, g.State)
	s.Empty(g.Outbox)
}

func (s *OrchestratorSuite) TestTimersDriveTheRound() {
	s.startedGame(2)
	s.Equal([]model.TimerToken{"g1/CloseCurrentQuestion/0"}, s.timers.Pending())
	s.bus.Reset()

	s.clock.Advance(model.DefaultAnswerTime)
	n, err := s.timers.FireDue(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	msgs := s.bus.Messages()
	s.Require().Len(msgs, 1)
	s.handle(msgs[0])

	g, _ := s.load()
	s.Equal(model.PhaseQuestionResult, g.State)
	s.Equal([]model.TimerToken{"g1/NextQuestion/0"}, s.timers.Pending())
}

func (s *OrchestratorSuite) TestConflictReloadsAndReapplies() {
	s.handle(model.CreateGame{GameID: "g1"})

	// a competing writer adds p2 between our load and save
	s.store.conflicts = 1
	s.store.interleave = func() {
		g, v, err := s.store.SagaStore.Load(s.ctx, "g1")
		s.Require().NoError(err)
		g.Participants = append(g.Participants, testutil.Participant("p2"))
		_, err = s.store.SagaStore.Save(s.ctx, g, v)
		s.Require().NoError(err)
	}

	s.handle(model.AddParticipant{GameID: "g1", Participant: testutil.Participant("p1")})

	g, _ := s.load()
	s.Len(g.Participants, 2)
	s.NotNil(g.GetParticipant("p1"))
	s.NotNil(g.GetParticipant("p2"))
}

func (s *OrchestratorSuite) TestTooManyConflicts() {
	s.handle(model.CreateGame{GameID: "g1"})
	s.store.conflicts = 100

	_, err := s.orch.Handle(s.ctx, model.StartGame{GameID: "g1"})
	s.ErrorIs(err, model.ErrTooManyConflicts)
	s.Empty(s.bus.Messages())
}

func (s *OrchestratorSuite) TestDispatchFailureLeavesOutboxForNextMessage() {
	s.handle(model.CreateGame{GameID: "g1"})
	s.handle(model.AddParticipant{GameID: "g1", Participant: testutil.Participant("p1")})
	s.handle(model.StartGame{GameID: "g1"})

	s.scheduler.err = errors.New("scheduler down")
	_, err := s.orch.Handle(s.ctx, model.QuestionsFetched{GameID: "g1", Questions: testutil.Questions(1)})
	s.Error(err)

	// state and pending effect were saved together
	g, _ := s.load()
	s.Equal(model.PhaseQuestionOpen, g.State)
	s.Require().Len(g.Outbox, 1)
	s.Empty(s.timers.Pending())

	// the redelivered message is a no-op but repairs the outbox
	s.scheduler.err = nil
	d := s.handle(model.QuestionsFetched{GameID: "g1", Questions: testutil.Questions(1)})
	s.Equal(OutcomeIgnored, d.Outcome)

	g, _ = s.load()
	s.Empty(g.Outbox)
	s.Equal([]model.TimerToken{"g1/CloseCurrentQuestion/0"}, s.timers.Pending())
}

func (s *OrchestratorSuite) TestParticipantState() {
	s.startedGame(1)

	resp, err := s.orch.ParticipantState(s.ctx, "g1", "p1")
	s.Require().NoError(err)
	s.Equal(model.PhaseQuestionOpen, resp.State)
	s.Require().NotNil(resp.CurrentQuestion)

	_, err = s.orch.ParticipantState(s.ctx, "missing", "p1")
	s.ErrorIs(err, model.ErrGameNotFound)
}

func (s *OrchestratorSuite) TestHandleMessagePublishesQueryResponse() {
	s.handle(model.CreateGame{GameID: "g1"})
	s.bus.Reset()

	s.Require().NoError(s.orch.HandleMessage(s.ctx, model.GetParticipantState{GameID: "g1", ParticipantID: "p1"}))

	msgs := s.bus.Messages()
	s.Require().Len(msgs, 1)
	resp, ok := msgs[0].(model.ParticipantStateResponse)
	s.Require().True(ok)
	s.Equal(model.PhaseLobbyOpen, resp.State)
}

func (s *OrchestratorSuite) TestNotifications() {
	s.startedGame(1)
	s.handle(model.AnswerQuestion{GameID: "g1", ParticipantID: "p1", QuestionIndex: 0, Answer: "right-0"})
	// duplicates do not notify
	s.handle(model.AnswerQuestion{GameID: "g1", ParticipantID: "p1", QuestionIndex: 0, Answer: "right-0"})

	s.Equal([]model.NotificationType{
		model.NotificationPhaseChanged,      // created
		model.NotificationParticipantJoined, // p1
		model.NotificationPhaseChanged,      // fetch pending
		model.NotificationPhaseChanged,      // question open
		model.NotificationAnswerRecorded,
	}, s.notifier.types())
}
