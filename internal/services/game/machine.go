package game

import (
	"time"

	"github.com/mcoot/triviagame/internal/dependencies/random"
	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/services/scoring"
)

// Settings are the service-wide knobs the transitions depend on
type Settings struct {
	QuestionCount    int           `yaml:"question_count" env:"QUESTION_COUNT"`
	MaxFetchAttempts int           `yaml:"max_fetch_attempts" env:"MAX_FETCH_ATTEMPTS"`
	FetchRetryDelay  time.Duration `yaml:"fetch_retry_delay" env:"FETCH_RETRY_DELAY"`
}

// DefaultSettings returns the default game settings
func DefaultSettings() Settings {
	return Settings{
		QuestionCount:    10,
		MaxFetchAttempts: 3,
		FetchRetryDelay:  5 * time.Second,
	}
}

// Env is everything a transition may read besides the game and the message
type Env struct {
	Now      time.Time
	Settings Settings
	Random   random.Random
}

// Outcome classifies what a transition did
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"   // State changed
	OutcomeIgnored  Outcome = "ignored"   // Message does not apply in the current state
	OutcomeQuery    Outcome = "query"     // Read-only projection
	OutcomeNotFound Outcome = "not_found" // No game with that id
)

// Decision is the result of applying one message to a game
type Decision struct {
	Game     *model.Game
	Effects  []model.Effect
	Changed  bool
	Response *model.ParticipantStateResponse
	Outcome  Outcome

	// Reason explains an ignored message, for logs
	Reason string
}

// Apply runs one message through the game state machine.
// g is nil when no game exists for the message's id. Apply never mutates g;
// a changed game is returned as a copy in the decision.
func Apply(g *model.Game, msg model.Message, env Env) Decision {
	if create, ok := msg.(model.CreateGame); ok {
		return applyCreate(g, create, env)
	}

	if g == nil {
		return Decision{Outcome: OutcomeNotFound, Reason: "unknown game"}
	}

	if q, ok := msg.(model.GetParticipantState); ok {
		resp := Project(g, q.ParticipantID, env.Random)
		return Decision{
			Game:     g,
			Effects:  []model.Effect{model.RespondEffect(resp)},
			Response: &resp,
			Outcome:  OutcomeQuery,
		}
	}

	t := &transition{game: g.Clone(), env: env}
	switch m := msg.(type) {
	case model.AddParticipant:
		t.addParticipant(m)
	case model.StartGame:
		t.startGame()
	case model.QuestionsFetched:
		t.questionsFetched(m)
	case model.FetchQuestionsFailed:
		t.fetchFailed(m)
	case model.RetryFetchQuestions:
		t.retryFetch(m)
	case model.AnswerQuestion:
		t.answer(m)
	case model.CloseCurrentQuestion:
		t.closeQuestion(m)
	case model.NextQuestion:
		t.nextQuestion(m)
	default:
		t.ignore("message type not handled by the game")
	}
	return t.decision(g)
}

func applyCreate(g *model.Game, m model.CreateGame, env Env) Decision {
	if g != nil {
		return Decision{Game: g, Outcome: OutcomeIgnored, Reason: "game already exists"}
	}

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = env.Now
	}
	game := model.NewGame(
		m.GameID,
		m.Name,
		createdAt,
		time.Duration(m.AnswerTimeSeconds)*time.Second,
		time.Duration(m.ShowResultTimeSeconds)*time.Second,
	)
	game.UpdatedAt = env.Now
	return Decision{Game: game, Changed: true, Outcome: OutcomeApplied}
}

// transition accumulates the changes of one Apply call on a private copy
type transition struct {
	game    *model.Game
	env     Env
	effects []model.Effect
	ignored string
}

func (t *transition) ignore(reason string) {
	t.ignored = reason
}

func (t *transition) inState(p model.Phase) bool {
	if t.game.State != p {
		t.ignore("game is " + string(t.game.State) + ", not " + string(p))
		return false
	}
	return true
}

func (t *transition) decision(original *model.Game) Decision {
	if t.ignored != "" {
		return Decision{Game: original, Outcome: OutcomeIgnored, Reason: t.ignored}
	}
	t.game.UpdatedAt = t.env.Now
	return Decision{
		Game:    t.game,
		Effects: t.effects,
		Changed: true,
		Outcome: OutcomeApplied,
	}
}

func (t *transition) addParticipant(m model.AddParticipant) {
	if !t.inState(model.PhaseLobbyOpen) {
		return
	}
	if m.Participant.ID == "" {
		t.ignore("participant has no id")
		return
	}
	if t.game.GetParticipant(m.Participant.ID) != nil {
		t.ignore("participant already joined")
		return
	}
	t.game.Participants = append(t.game.Participants, m.Participant)
}

func (t *transition) startGame() {
	if !t.inState(model.PhaseLobbyOpen) {
		return
	}
	t.game.State = model.PhaseFetchQuestionsPending
	t.game.FetchAttempts = 0
	t.effects = append(t.effects, model.FetchQuestionsEffect(t.game.ID, t.env.Settings.QuestionCount))
}

func (t *transition) questionsFetched(m model.QuestionsFetched) {
	if !t.inState(model.PhaseFetchQuestionsPending) {
		return
	}
	if len(m.Questions) == 0 {
		t.ignore("no questions in response")
		return
	}

	questions := make([]model.Question, len(m.Questions))
	for i, q := range m.Questions {
		q.Index = i
		q.IncorrectAnswers = append([]string{}, q.IncorrectAnswers...)
		q.OpenedAt = nil
		q.ClosedAt = nil
		questions[i] = q
	}
	t.game.Questions = questions

	if t.game.FetchRetryTimer != nil {
		t.effects = append(t.effects, model.CancelEffect(t.game.ID, *t.game.FetchRetryTimer))
		t.game.FetchRetryTimer = nil
	}
	t.game.FetchStalled = false
	t.game.LastFetchError = ""

	t.openQuestion(0)
}

func (t *transition) fetchFailed(m model.FetchQuestionsFailed) {
	if !t.inState(model.PhaseFetchQuestionsPending) {
		return
	}
	if t.game.FetchStalled {
		t.ignore("question fetch already given up")
		return
	}
	if t.game.FetchRetryTimer != nil {
		t.ignore("retry already scheduled for this failure")
		return
	}

	t.game.FetchAttempts++
	t.game.LastFetchError = m.Reason

	if t.game.FetchAttempts >= t.env.Settings.MaxFetchAttempts {
		t.game.FetchStalled = true
		return
	}

	timer := model.NewTimer(t.game.ID, model.MessageRetryFetchQuestions, t.game.FetchAttempts, t.env.Settings.FetchRetryDelay)
	t.game.FetchRetryTimer = &timer.Token
	t.effects = append(t.effects, model.ScheduleEffect(timer))
}

func (t *transition) retryFetch(m model.RetryFetchQuestions) {
	if !t.inState(model.PhaseFetchQuestionsPending) {
		return
	}
	if t.game.FetchStalled || t.game.FetchRetryTimer == nil {
		t.ignore("no retry pending")
		return
	}
	if m.Attempt != nil && *t.game.FetchRetryTimer != model.NewTimerToken(t.game.ID, model.MessageRetryFetchQuestions, *m.Attempt) {
		t.ignore("retry timer belongs to another attempt")
		return
	}
	t.game.FetchRetryTimer = nil
	t.effects = append(t.effects, model.FetchQuestionsEffect(t.game.ID, t.env.Settings.QuestionCount))
}

func (t *transition) answer(m model.AnswerQuestion) {
	if !t.inState(model.PhaseQuestionOpen) {
		return
	}
	if m.QuestionIndex != *t.game.CurrentQuestionIndex {
		t.ignore("answer is not for the current question")
		return
	}
	if t.game.GetParticipant(m.ParticipantID) == nil {
		t.ignore("answer from unknown participant")
		return
	}
	if t.game.HasResponse(m.ParticipantID, m.QuestionIndex) {
		t.ignore("participant already answered")
		return
	}

	submittedAt := m.Timestamp
	if submittedAt.IsZero() {
		submittedAt = t.env.Now
	}
	t.game.Responses = append(t.game.Responses, model.QuestionResponse{
		GameID:        t.game.ID,
		ParticipantID: m.ParticipantID,
		QuestionIndex: m.QuestionIndex,
		Answer:        m.Answer,
		SubmittedAt:   submittedAt,
	})
}

func (t *transition) closeQuestion(m model.CloseCurrentQuestion) {
	if !t.inState(model.PhaseQuestionOpen) {
		return
	}
	idx := *t.game.CurrentQuestionIndex
	if m.QuestionIndex != nil && *m.QuestionIndex != idx {
		t.ignore("close timer belongs to another question")
		return
	}

	q := &t.game.Questions[idx]
	q.ClosedAt = model.TimePtr(t.env.Now)
	t.game.Scores = append(t.game.Scores, scoring.ScoreQuestion(t.game, q)...)
	t.game.State = model.PhaseQuestionResult
	t.game.CloseQuestionTimer = nil

	timer := model.NewTimer(t.game.ID, model.MessageNextQuestion, idx, t.game.ShowResultTime)
	t.game.NextQuestionTimer = &timer.Token
	t.effects = append(t.effects, model.ScheduleEffect(timer))
}

func (t *transition) nextQuestion(m model.NextQuestion) {
	if !t.inState(model.PhaseQuestionResult) {
		return
	}
	idx := *t.game.CurrentQuestionIndex
	if m.QuestionIndex != nil && *m.QuestionIndex != idx {
		t.ignore("next timer belongs to another question")
		return
	}

	t.game.NextQuestionTimer = nil
	if !t.game.HasAnotherQuestion() {
		t.game.State = model.PhaseFinal
		return
	}
	t.openQuestion(idx + 1)
}

// openQuestion makes idx the current question and schedules its close timer
func (t *transition) openQuestion(idx int) {
	t.game.CurrentQuestionIndex = model.IntPtr(idx)
	t.game.Questions[idx].OpenedAt = model.TimePtr(t.env.Now)
	t.game.State = model.PhaseQuestionOpen

	timer := model.NewTimer(t.game.ID, model.MessageCloseCurrentQuestion, idx, t.game.AnswerTime)
	t.game.CloseQuestionTimer = &timer.Token
	t.effects = append(t.effects, model.ScheduleEffect(timer))
}
