package model

import (
	"fmt"
	"time"
)

// TimerToken is an opaque handle to a scheduled message.
// Tokens are derived from the game, kind and round, so scheduling the
// same logical timer twice yields the same token.
type TimerToken string

// NewTimerToken builds the token for a timer of the given kind and sequence number
func NewTimerToken(gameID GameID, kind MessageType, seq int) TimerToken {
	return TimerToken(fmt.Sprintf("%s/%s/%d", gameID, kind, seq))
}

// Timer describes a message to deliver after a delay
type Timer struct {
	Token  TimerToken    `json:"token"`
	GameID GameID        `json:"gameId"`
	Kind   MessageType   `json:"kind"`
	Seq    int           `json:"seq"`
	Delay  time.Duration `json:"delay"`
}

// NewTimer builds a timer whose token is derived from gameID, kind and seq
func NewTimer(gameID GameID, kind MessageType, seq int, delay time.Duration) Timer {
	return Timer{
		Token:  NewTimerToken(gameID, kind, seq),
		GameID: gameID,
		Kind:   kind,
		Seq:    seq,
		Delay:  delay,
	}
}

// EffectKind identifies what the host must do for an effect
type EffectKind string

const (
	EffectSchedule       EffectKind = "schedule"        // Schedule Timer
	EffectCancel         EffectKind = "cancel"          // Cancel Token
	EffectFetchQuestions EffectKind = "fetch_questions" // Publish a FetchQuestions request
	EffectRespond        EffectKind = "respond"         // Reply to the caller with Response
)

// Effect is an instruction produced by a transition and executed by the host
type Effect struct {
	Kind     EffectKind                `json:"kind"`
	GameID   GameID                    `json:"gameId"`
	Timer    *Timer                    `json:"timer,omitempty"`
	Token    TimerToken                `json:"token,omitempty"`
	Count    int                       `json:"count,omitempty"`
	Response *ParticipantStateResponse `json:"response,omitempty"`
}

// Durable reports whether the effect must be persisted in the outbox.
// Responses go straight back to the caller.
func (e Effect) Durable() bool {
	return e.Kind != EffectRespond
}

// ScheduleEffect creates an effect scheduling the given timer
func ScheduleEffect(t Timer) Effect {
	return Effect{Kind: EffectSchedule, GameID: t.GameID, Timer: &t}
}

// CancelEffect creates an effect cancelling a previously scheduled timer
func CancelEffect(gameID GameID, token TimerToken) Effect {
	return Effect{Kind: EffectCancel, GameID: gameID, Token: token}
}

// FetchQuestionsEffect creates an effect requesting questions for a game
func FetchQuestionsEffect(gameID GameID, count int) Effect {
	return Effect{Kind: EffectFetchQuestions, GameID: gameID, Count: count}
}

// RespondEffect creates an effect replying with a participant state
func RespondEffect(resp ParticipantStateResponse) Effect {
	return Effect{Kind: EffectRespond, GameID: resp.GameID, Response: &resp}
}
