package model

import "time"

// NotificationType identifies a live update pushed to watchers of a game
type NotificationType string

const (
	NotificationPhaseChanged      NotificationType = "phase_changed"
	NotificationParticipantJoined NotificationType = "participant_joined"
	NotificationAnswerRecorded    NotificationType = "answer_recorded"
	NotificationFetchFailed       NotificationType = "fetch_failed"
)

// Notification describes a persisted change to a game.
// It carries no answers or scores, so it is safe to broadcast to every watcher.
type Notification struct {
	Type                 NotificationType `json:"type"`
	GameID               GameID           `json:"gameId"`
	State                Phase            `json:"state"`
	CurrentQuestionIndex *int             `json:"currentQuestionIndex"`
	ParticipantCount     int              `json:"participantCount"`
	Timestamp            time.Time        `json:"timestamp"`
}
