package response

import (
	"time"

	"github.com/mcoot/triviagame/internal/model"
)

// CreateGameResponse is returned as soon as CreateGame is published
type CreateGameResponse struct {
	GameID string `json:"game_id"`
}

// Accepted acknowledges a command that was published for asynchronous handling
type Accepted struct {
	GameID        string `json:"game_id"`
	ParticipantID string `json:"participant_id,omitempty"`
	Message       string `json:"message"`
}

// Question is the participant-facing view of the open question
type Question struct {
	Index   int      `json:"index"`
	Text    string   `json:"text"`
	Answers []string `json:"answers"`
}

// Response is one of the requester's own answers
type Response struct {
	QuestionIndex int       `json:"question_index"`
	Answer        string    `json:"answer"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Score is the points for one of the requester's answers
type Score struct {
	QuestionIndex int `json:"question_index"`
	Score         int `json:"score"`
}

// ParticipantState is the private view of a game for one participant
type ParticipantState struct {
	GameID               string     `json:"game_id"`
	State                string     `json:"state"`
	CurrentQuestionIndex *int       `json:"current_question_index"`
	CurrentQuestion      *Question  `json:"current_question"`
	Responses            []Response `json:"responses"`
	Scores               []Score    `json:"scores"`
	TotalScore           int        `json:"total_score"`
	FetchAttempts        int        `json:"fetch_attempts,omitempty"`
	LastFetchError       string     `json:"last_fetch_error,omitempty"`
	Stalled              bool       `json:"stalled,omitempty"`
}

// ParticipantStateFromModel converts model.ParticipantStateResponse
func ParticipantStateFromModel(s *model.ParticipantStateResponse) ParticipantState {
	var question *Question
	if s.CurrentQuestion != nil {
		question = &Question{
			Index:   s.CurrentQuestion.Index,
			Text:    s.CurrentQuestion.Text,
			Answers: s.CurrentQuestion.Answers,
		}
	}

	responses := make([]Response, len(s.Responses))
	for i, r := range s.Responses {
		responses[i] = Response{
			QuestionIndex: r.QuestionIndex,
			Answer:        r.Answer,
			SubmittedAt:   r.SubmittedAt,
		}
	}

	scores := make([]Score, len(s.Scores))
	for i, sc := range s.Scores {
		scores[i] = Score{QuestionIndex: sc.QuestionIndex, Score: sc.Score}
	}

	return ParticipantState{
		GameID:               string(s.GameID),
		State:                string(s.State),
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		CurrentQuestion:      question,
		Responses:            responses,
		Scores:               scores,
		TotalScore:           s.TotalScore,
		FetchAttempts:        s.FetchAttempts,
		LastFetchError:       s.LastFetchError,
		Stalled:              s.Stalled,
	}
}
