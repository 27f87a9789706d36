package model

import "time"

// GameID uniquely identifies a game and correlates every message for it
type GameID string

// Phase represents the current phase of a game
type Phase string

const (
	PhaseLobbyOpen             Phase = "LobbyOpen"             // Accepting participants
	PhaseFetchQuestionsPending Phase = "FetchQuestionsPending" // Waiting on the question source
	PhaseQuestionOpen          Phase = "QuestionOpen"          // Current question accepting answers
	PhaseQuestionResult        Phase = "QuestionResult"        // Current question closed and scored
	PhaseFinal                 Phase = "Final"                 // Game complete
)

// Default per-game round durations
const (
	DefaultAnswerTime     = 10 * time.Second
	DefaultShowResultTime = 5 * time.Second
)

// Game is the persisted saga state for one trivia game
type Game struct {
	ID        GameID
	Name      string
	State     Phase
	CreatedAt time.Time
	UpdatedAt time.Time

	// CurrentQuestionIndex is nil until questions have been fetched
	CurrentQuestionIndex *int

	Participants []Participant
	Questions    []Question
	Responses    []QuestionResponse
	Scores       []QuestionResponseScore

	// Round timing
	AnswerTime     time.Duration
	ShowResultTime time.Duration

	// Pending timers (nil when nothing is scheduled)
	CloseQuestionTimer *TimerToken
	NextQuestionTimer  *TimerToken
	FetchRetryTimer    *TimerToken

	// Question fetch tracking
	FetchAttempts  int
	LastFetchError string
	FetchStalled   bool

	// Outbox holds effects persisted with this state that have not been dispatched yet
	Outbox []Effect
}

// NewGame creates a game in the lobby with the given round durations.
// Zero durations fall back to the defaults.
func NewGame(id GameID, name string, createdAt time.Time, answerTime, showResultTime time.Duration) *Game {
	if answerTime <= 0 {
		answerTime = DefaultAnswerTime
	}
	if showResultTime <= 0 {
		showResultTime = DefaultShowResultTime
	}
	return &Game{
		ID:             id,
		Name:           name,
		State:          PhaseLobbyOpen,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
		Participants:   []Participant{},
		Questions:      []Question{},
		Responses:      []QuestionResponse{},
		Scores:         []QuestionResponseScore{},
		AnswerTime:     answerTime,
		ShowResultTime: showResultTime,
	}
}

// CurrentQuestion returns the question at the current index, or nil
func (g *Game) CurrentQuestion() *Question {
	if g.CurrentQuestionIndex == nil {
		return nil
	}
	idx := *g.CurrentQuestionIndex
	if idx < 0 || idx >= len(g.Questions) {
		return nil
	}
	return &g.Questions[idx]
}

// HasAnotherQuestion returns true if a question follows the current one
func (g *Game) HasAnotherQuestion() bool {
	if g.CurrentQuestionIndex == nil {
		return false
	}
	return *g.CurrentQuestionIndex+1 < len(g.Questions)
}

// GetParticipant returns the participant with the given ID, or nil if not found
func (g *Game) GetParticipant(id ParticipantID) *Participant {
	for i := range g.Participants {
		if g.Participants[i].ID == id {
			return &g.Participants[i]
		}
	}
	return nil
}

// HasResponse returns true if the participant already answered the question
func (g *Game) HasResponse(participantID ParticipantID, questionIndex int) bool {
	for _, r := range g.Responses {
		if r.ParticipantID == participantID && r.QuestionIndex == questionIndex {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the game
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	if g.CurrentQuestionIndex != nil {
		idx := *g.CurrentQuestionIndex
		c.CurrentQuestionIndex = &idx
	}
	c.Participants = append([]Participant{}, g.Participants...)
	c.Questions = make([]Question, len(g.Questions))
	for i, q := range g.Questions {
		c.Questions[i] = q.clone()
	}
	c.Responses = append([]QuestionResponse{}, g.Responses...)
	c.Scores = append([]QuestionResponseScore{}, g.Scores...)
	c.CloseQuestionTimer = cloneToken(g.CloseQuestionTimer)
	c.NextQuestionTimer = cloneToken(g.NextQuestionTimer)
	c.FetchRetryTimer = cloneToken(g.FetchRetryTimer)
	if g.Outbox != nil {
		c.Outbox = append([]Effect{}, g.Outbox...)
	}
	return &c
}

func cloneToken(t *TimerToken) *TimerToken {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}
