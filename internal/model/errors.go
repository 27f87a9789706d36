package model

import "errors"

// Common errors used across the application
var (
	// Game errors
	ErrGameNotFound = errors.New("game not found")

	// Participant errors
	ErrInvalidParticipant = errors.New("invalid participant")

	// Message errors
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidMessage     = errors.New("invalid message")

	// Concurrency errors
	ErrTooManyConflicts = errors.New("too many concurrent updates to game")

	// Question source errors
	ErrNoQuestions = errors.New("question source returned no questions")
)
