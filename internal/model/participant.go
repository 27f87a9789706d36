package model

import (
	"fmt"
	"time"
)

// ParticipantID uniquely identifies a participant within the system
type ParticipantID string

// Participant is a player in a game. Participants are never removed.
type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"displayName"`
	Email       string        `json:"email,omitempty"`
}

// Validate checks the fields a participant must carry to join a game
func (p Participant) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidParticipant)
	}
	if p.DisplayName == "" {
		return fmt.Errorf("%w: display name is required", ErrInvalidParticipant)
	}
	return nil
}

// QuestionResponse is a participant's answer submission.
// At most one is retained per (ParticipantID, QuestionIndex).
type QuestionResponse struct {
	GameID        GameID        `json:"gameId"`
	ParticipantID ParticipantID `json:"participantId"`
	QuestionIndex int           `json:"questionIndex"`
	Answer        string        `json:"answer"`
	SubmittedAt   time.Time     `json:"submittedAt"`
}

// QuestionResponseScore is the points awarded for one response when its question closed
type QuestionResponseScore struct {
	GameID        GameID        `json:"gameId"`
	ParticipantID ParticipantID `json:"participantId"`
	QuestionIndex int           `json:"questionIndex"`
	Score         int           `json:"score"`
}
