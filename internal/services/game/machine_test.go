package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/triviagame/internal/dependencies/mocks"
	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/testutil"
)

type MachineSuite struct {
	suite.Suite
	now time.Time
	env Env
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineSuite))
}

func (s *MachineSuite) SetupTest() {
	s.now = testutil.Epoch
	s.env = Env{Now: s.now, Settings: DefaultSettings(), Random: mocks.NewMockRandom()}
}

func (s *MachineSuite) at(d time.Duration) Env {
	env := s.env
	env.Now = s.now.Add(d)
	return env
}

// apply runs msg and requires the transition to be applied
func (s *MachineSuite) apply(g *model.Game, msg model.Message, env Env) Decision {
	s.T().Helper()
	d := Apply(g, msg, env)
	s.Require().Equal(OutcomeApplied, d.Outcome, d.Reason)
	s.Require().True(d.Changed)
	return d
}

func (s *MachineSuite) ignored(g *model.Game, msg model.Message, env Env) {
	s.T().Helper()
	d := Apply(g, msg, env)
	s.Equal(OutcomeIgnored, d.Outcome)
	s.False(d.Changed)
	s.Empty(d.Effects)
	s.Same(g, d.Game)
}

func (s *MachineSuite) lobby(participants ...string) *model.Game {
	g := s.apply(nil, model.CreateGame{GameID: "g1", Name: "Quiz", CreatedAt: s.now}, s.env).Game
	for _, p := range participants {
		g = s.apply(g, model.AddParticipant{GameID: "g1", Participant: testutil.Participant(p)}, s.env).Game
	}
	return g
}

func (s *MachineSuite) open(questions int, participants ...string) *model.Game {
	g := s.lobby(participants...)
	g = s.apply(g, model.StartGame{GameID: "g1"}, s.env).Game
	return s.apply(g, model.QuestionsFetched{GameID: "g1", Questions: testutil.Questions(questions)}, s.env).Game
}

func (s *MachineSuite) TestCreateGame() {
	d := s.apply(nil, model.CreateGame{GameID: "g1", Name: "Quiz", CreatedAt: s.now.Add(-time.Minute)}, s.env)

	g := d.Game
	s.Equal(model.GameID("g1"), g.ID)
	s.Equal("Quiz", g.Name)
	s.Equal(model.PhaseLobbyOpen, g.State)
	s.Empty(g.Participants)
	s.Empty(g.Questions)
	s.Nil(g.CurrentQuestionIndex)
	s.Equal(s.now.Add(-time.Minute), g.CreatedAt)
	s.Equal(model.DefaultAnswerTime, g.AnswerTime)
	s.Equal(model.DefaultShowResultTime, g.ShowResultTime)
	s.Empty(d.Effects)
}

func (s *MachineSuite) TestCreateGameWithDurations() {
	d := s.apply(nil, model.CreateGame{GameID: "g1", AnswerTimeSeconds: 4, ShowResultTimeSeconds: 2}, s.env)
	s.Equal(4*time.Second, d.Game.AnswerTime)
	s.Equal(2*time.Second, d.Game.ShowResultTime)
	s.Equal(s.now, d.Game.CreatedAt)
}

func (s *MachineSuite) TestCreateGameTwiceIsIgnored() {
	g := s.lobby("p1")
	s.ignored(g, model.CreateGame{GameID: "g1", Name: "Other"}, s.env)
}

func (s *MachineSuite) TestUnknownGame() {
	d := Apply(nil, model.StartGame{GameID: "nope"}, s.env)
	s.Equal(OutcomeNotFound, d.Outcome)
	s.False(d.Changed)
	s.Nil(d.Game)

	d = Apply(nil, model.GetParticipantState{GameID: "nope", ParticipantID: "p1"}, s.env)
	s.Equal(OutcomeNotFound, d.Outcome)
	s.Nil(d.Response)
}

func (s *MachineSuite) TestAddParticipantIsIdempotent() {
	g := s.lobby("p1")
	s.ignored(g, model.AddParticipant{GameID: "g1", Participant: testutil.Participant("p1")}, s.env)

	g = s.apply(g, model.AddParticipant{GameID: "g1", Participant: testutil.Participant("p2")}, s.env).Game
	s.Len(g.Participants, 2)
	s.Equal(model.ParticipantID("p1"), g.Participants[0].ID)
	s.Equal(model.ParticipantID("p2"), g.Participants[1].ID)
}

func (s *MachineSuite) TestAddParticipantWithoutID() {
	g := s.lobby()
	s.ignored(g, model.AddParticipant{GameID: "g1"}, s.env)
}

func (s *MachineSuite) TestAddParticipantAfterLobbyIsIgnored() {
	g := s.lobby("p1")
	g = s.apply(g, model.StartGame{GameID: "g1"}, s.env).Game
	s.ignored(g, model.AddParticipant{GameID: "g1", Participant: testutil.Participant("p2")}, s.env)
}

func (s *MachineSuite) TestApplyDoesNotMutateInput() {
	g := s.lobby("p1")
	_ = s.apply(g, model.AddParticipant{GameID: "g1", Participant: testutil.Participant("p2")}, s.env)
	s.Len(g.Participants, 1)
}

func (s *MachineSuite) TestStartGameRequestsQuestionsOnce() {
	g := s.lobby("p1")
	d := s.apply(g, model.StartGame{GameID: "g1"}, s.env)

	s.Equal(model.PhaseFetchQuestionsPending, d.Game.State)
	s.Equal([]model.Effect{model.FetchQuestionsEffect("g1", 10)}, d.Effects)

	s.ignored(d.Game, model.StartGame{GameID: "g1"}, s.env)
}

func (s *MachineSuite) TestQuestionsFetchedOpensFirstQuestion() {
	g := s.lobby("p1")
	g = s.apply(g, model.StartGame{GameID: "g1"}, s.env).Game

	d := s.apply(g, model.QuestionsFetched{GameID: "g1", Questions: testutil.Questions(3)}, s.at(time.Second))

	g = d.Game
	s.Equal(model.PhaseQuestionOpen, g.State)
	s.Require().NotNil(g.CurrentQuestionIndex)
	s.Equal(0, *g.CurrentQuestionIndex)
	s.Len(g.Questions, 3)
	s.Require().NotNil(g.Questions[0].OpenedAt)
	s.Equal(s.now.Add(time.Second), *g.Questions[0].OpenedAt)
	s.Nil(g.Questions[1].OpenedAt)

	timer := model.NewTimer("g1", model.MessageCloseCurrentQuestion, 0, model.DefaultAnswerTime)
	s.Equal([]model.Effect{model.ScheduleEffect(timer)}, d.Effects)
	s.Require().NotNil(g.CloseQuestionTimer)
	s.Equal(timer.Token, *g.CloseQuestionTimer)
}

func (s *MachineSuite) TestQuestionsFetchedReindexes() {
	g := s.lobby("p1")
	g = s.apply(g, model.StartGame{GameID: "g1"}, s.env).Game
	qs := testutil.Questions(2)
	qs[0].Index, qs[1].Index = 7, 7

	g = s.apply(g, model.QuestionsFetched{GameID: "g1", Questions: qs}, s.env).Game
	s.Equal(0, g.Questions[0].Index)
	s.Equal(1, g.Questions[1].Index)
}

func (s *MachineSuite) TestDuplicateQuestionsFetchedIsIgnored() {
	g := s.open(2, "p1")
	s.ignored(g, model.QuestionsFetched{GameID: "g1", Questions: testutil.Questions(5)}, s.env)
}

func (s *MachineSuite) TestEmptyQuestionsFetchedIsIgnored() {
	g := s.lobby("p1")
	g = s.apply(g, model.StartGame{GameID: "g1"}, s.env).Game
	s.ignored(g, model.QuestionsFetched{GameID: "g1"}, s.env)
}

func (s *MachineSuite) TestFetchFailureSchedulesRetry() {
	g := s.lobby("p1")
	g = s.apply(g, model.StartGame{GameID: "g1"}, s.env).Game

	d := s.apply(g, model.FetchQuestionsFailed{GameID: "g1", Reason: "timeout"}, s.env)
	g = d.Game
	s.Equal(model.PhaseFetchQuestionsPending, g.State)
	s.Equal(1, g.FetchAttempts)
	s.Equal("timeout", g.LastFetchError)
	s.False(g.FetchStalled)

	timer := model.NewTimer("g1", model.MessageRetryFetchQuestions, 1, DefaultSettings().FetchRetryDelay)
	s.Equal([]model.Effect{model.ScheduleEffect(timer)}, d.Effects)

	// redelivered failure for the same attempt
	s.ignored(g, model.FetchQuestionsFailed{GameID: "g1", Reason: "timeout"}, s.env)

	d = s.apply(g, model.RetryFetchQuestions{GameID: "g1", Attempt: model.IntPtr(1)}, s.env)
	s.Equal([]model.Effect{model.FetchQuestionsEffect("g1", 10)}, d.Effects)
	s.Nil(d.Game.FetchRetryTimer)

	// redelivered retry timer
	s.ignored(d.Game, model.RetryFetchQuestions{GameID: "g1", Attempt: model.IntPtr(1)}, s.env)
}

func (s *MachineSuite) TestFetchStallsAfterMaxAttempts() {
	g := s.lobby("p1")
	g = s.apply(g, model.StartGame{GameID: "g1"}, s.env).Game

	for attempt := 1; attempt < DefaultSettings().MaxFetchAttempts; attempt++ {
		g = s.apply(g, model.FetchQuestionsFailed{GameID: "g1", Reason: "down"}, s.env).Game
		g = s.apply(g, model.RetryFetchQuestions{GameID: "g1", Attempt: model.IntPtr(attempt)}, s.env).Game
	}

	d := s.apply(g, model.FetchQuestionsFailed{GameID: "g1", Reason: "still down"}, s.env)
	s.Empty(d.Effects)
	s.True(d.Game.FetchStalled)
	s.Equal(DefaultSettings().MaxFetchAttempts, d.Game.FetchAttempts)
	s.Equal(model.PhaseFetchQuestionsPending, d.Game.State)

	s.ignored(d.Game, model.FetchQuestionsFailed{GameID: "g1"}, s.env)
}

func (s *MachineSuite) TestStaleRetryTimerIsIgnored() {
	g := s.lobby("p1")
	g = s.apply(g, model.StartGame{GameID: "g1"}, s.env).Game
	g = s.apply(g, model.FetchQuestionsFailed{GameID: "g1"}, s.env).Game
	g = s.apply(g, model.RetryFetchQuestions{GameID: "g1", Attempt: model.IntPtr(1)}, s.env).Game
	g = s.apply(g, model.FetchQuestionsFailed{GameID: "g1"}, s.env).Game

	s.ignored(g, model.RetryFetchQuestions{GameID: "g1", Attempt: model.IntPtr(1)}, s.env)
}

func (s *MachineSuite) TestQuestionsFetchedCancelsPendingRetry() {
	g := s.lobby("p1")
	g = s.apply(g, model.StartGame{GameID: "g1"}, s.env).Game
	g = s.apply(g, model.FetchQuestionsFailed{GameID: "g1", Reason: "slow"}, s.env).Game
	retry := *g.FetchRetryTimer

	d := s.apply(g, model.QuestionsFetched{GameID: "g1", Questions: testutil.Questions(1)}, s.env)
	s.Require().Len(d.Effects, 2)
	s.Equal(model.CancelEffect("g1", retry), d.Effects[0])
	s.Equal(model.EffectSchedule, d.Effects[1].Kind)
	s.Nil(d.Game.FetchRetryTimer)
	s.Empty(d.Game.LastFetchError)
}

func (s *MachineSuite) TestAnswerQuestion() {
	g := s.open(2, "p1", "p2")
	ts := s.now.Add(800 * time.Millisecond)

	d := s.apply(g, model.AnswerQuestion{GameID: "g1", ParticipantID: "p1", QuestionIndex: 0, Answer: "right-0", Timestamp: ts}, s.env)
	s.Equal([]model.QuestionResponse{{
		GameID: "g1", ParticipantID: "p1", QuestionIndex: 0, Answer: "right-0", SubmittedAt: ts,
	}}, d.Game.Responses)
	s.Empty(d.Effects)
}

func (s *MachineSuite) TestDuplicateAnswerIsIgnored() {
	g := s.open(2, "p1")
	g = s.apply(g, model.AnswerQuestion{GameID: "g1", ParticipantID: "p1", QuestionIndex: 0, Answer: "right-0", Timestamp: s.now}, s.env).Game

	s.ignored(g, model.AnswerQuestion{GameID: "g1", ParticipantID: "p1", QuestionIndex: 0, Answer: "wrong-0-a", Timestamp: s.now}, s.env)
	s.Len(g.Responses, 1)
	s.Equal("right-0", g.Responses[0].Answer)
}

func (s *MachineSuite) TestAnswerGuards() {
	g := s.open(2, "p1")

	// not the current question
	s.ignored(g, model.AnswerQuestion{GameID: "g1", ParticipantID: "p1", QuestionIndex: 1, Answer: "right-1"}, s.env)
	// not a participant
	s.ignored(g, model.AnswerQuestion{GameID: "g1", ParticipantID: "stranger", QuestionIndex: 0, Answer: "right-0"}, s.env)
	// not open
	lobby := s.lobby("p1")
	s.ignored(lobby, model.AnswerQuestion{GameID: "g1", ParticipantID: "p1", QuestionIndex: 0, Answer: "x"}, s.env)
}

func (s *MachineSuite) TestAnswerWithoutTimestampUsesNow() {
	g := s.open(1, "p1")
	g = s.apply(g, model.AnswerQuestion{GameID: "g1", ParticipantID: "p1", QuestionIndex: 0, Answer: "x"}, s.at(time.Second)).Game
	s.Equal(s.now.Add(time.Second), g.Responses[0].SubmittedAt)
}

func (s *MachineSuite) TestCloseQuestionScoresAndSchedulesNext() {
	cg := s.apply(nil, model.CreateGame{GameID: "g1", AnswerTimeSeconds: 4}, s.env).Game
	for _, p := range []string{"p1", "p2", "p3"} {
		cg = s.apply(cg, model.AddParticipant{GameID: "g1", Participant: testutil.Participant(p)}, s.env).Game
	}
	cg = s.apply(cg, model.StartGame{GameID: "g1"}, s.env).Game
	g := s.apply(cg, model.QuestionsFetched{GameID: "g1", Questions: testutil.Questions(2)}, s.env).Game

	g = s.apply(g, model.AnswerQuestion{GameID: "g1", ParticipantID: "p1", QuestionIndex: 0, Answer: "right-0", Timestamp: s.now.Add(800 * time.Millisecond)}, s.env).Game
	g = s.apply(g, model.AnswerQuestion{GameID: "g1", ParticipantID: "p2", QuestionIndex: 0, Answer: "wrong-0-b", Timestamp: s.now.Add(3300 * time.Millisecond)}, s.env).Game

	d := s.apply(g, model.CloseCurrentQuestion{GameID: "g1", QuestionIndex: model.IntPtr(0)}, s.at(4*time.Second))
	g = d.Game

	s.Equal(model.PhaseQuestionResult, g.State)
	s.Equal(s.now.Add(4*time.Second), *g.Questions[0].ClosedAt)
	s.Equal([]model.QuestionResponseScore{
		{GameID: "g1", ParticipantID: "p1", QuestionIndex: 0, Score: 4},
		{GameID: "g1", ParticipantID: "p2", QuestionIndex: 0, Score: -1},
	}, g.Scores)
	s.Nil(g.CloseQuestionTimer)

	timer := model.NewTimer("g1", model.MessageNextQuestion, 0, model.DefaultShowResultTime)
	s.Equal([]model.Effect{model.ScheduleEffect(timer)}, d.Effects)
	s.Equal(timer.Token, *g.NextQuestionTimer)

	// redelivered close timer
	s.ignored(g, model.CloseCurrentQuestion{GameID: "g1", QuestionIndex: model.IntPtr(0)}, s.env)
}

func (s *MachineSuite) TestNextQuestionOpensFollowingQuestion() {
	g := s.open(2, "p1")
	g = s.apply(g, model.CloseCurrentQuestion{GameID: "g1"}, s.at(10*time.Second)).Game

	d := s.apply(g, model.NextQuestion{GameID: "g1", QuestionIndex: model.IntPtr(0)}, s.at(15*time.Second))
	g = d.Game
	s.Equal(model.PhaseQuestionOpen, g.State)
	s.Equal(1, *g.CurrentQuestionIndex)
	s.Equal(s.now.Add(15*time.Second), *g.Questions[1].OpenedAt)
	s.Nil(g.NextQuestionTimer)

	// every opened question gets its own close timer
	timer := model.NewTimer("g1", model.MessageCloseCurrentQuestion, 1, model.DefaultAnswerTime)
	s.Equal([]model.Effect{model.ScheduleEffect(timer)}, d.Effects)

	// the previous round's timers no longer apply
	s.ignored(g, model.CloseCurrentQuestion{GameID: "g1", QuestionIndex: model.IntPtr(0)}, s.env)
	s.ignored(g, model.NextQuestion{GameID: "g1", QuestionIndex: model.IntPtr(0)}, s.env)
}

func (s *MachineSuite) TestLastQuestionFinishesGame() {
	g := s.open(1, "p1")
	g = s.apply(g, model.CloseCurrentQuestion{GameID: "g1"}, s.env).Game
	s.Equal(model.PhaseQuestionResult, g.State)

	d := s.apply(g, model.NextQuestion{GameID: "g1"}, s.env)
	s.Equal(model.PhaseFinal, d.Game.State)
	s.Equal(0, *d.Game.CurrentQuestionIndex)
	s.Empty(d.Effects)

	s.ignored(d.Game, model.NextQuestion{GameID: "g1"}, s.env)
	s.ignored(d.Game, model.CloseCurrentQuestion{GameID: "g1"}, s.env)
	s.ignored(d.Game, model.AnswerQuestion{GameID: "g1", ParticipantID: "p1", QuestionIndex: 0}, s.env)
}

func (s *MachineSuite) TestCloseInWrongStateIsIgnored() {
	g := s.lobby("p1")
	s.ignored(g, model.CloseCurrentQuestion{GameID: "g1"}, s.env)
	s.ignored(g, model.NextQuestion{GameID: "g1"}, s.env)
}

func (s *MachineSuite) TestQueryIsReadOnly() {
	g := s.open(1, "p1")
	d := Apply(g, model.GetParticipantState{GameID: "g1", ParticipantID: "p1"}, s.env)

	s.Equal(OutcomeQuery, d.Outcome)
	s.False(d.Changed)
	s.Require().NotNil(d.Response)
	s.Equal(model.PhaseQuestionOpen, d.Response.State)
	s.Require().Len(d.Effects, 1)
	s.Equal(model.EffectRespond, d.Effects[0].Kind)
	s.False(d.Effects[0].Durable())
}

func (s *MachineSuite) TestUpdatedAtTracksTransitions() {
	g := s.lobby()
	d := s.apply(g, model.StartGame{GameID: "g1"}, s.at(time.Minute))
	s.Equal(s.now.Add(time.Minute), d.Game.UpdatedAt)
}
