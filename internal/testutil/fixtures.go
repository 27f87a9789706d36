package testutil

import (
	"fmt"
	"time"

	"github.com/mcoot/triviagame/internal/model"
)

// Epoch is the fixed start time used by clock-driven tests
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Questions returns n indexed questions whose correct answer is "right-<i>"
func Questions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			Index:            i,
			Text:             fmt.Sprintf("Question %d?", i),
			CorrectAnswer:    fmt.Sprintf("right-%d", i),
			IncorrectAnswers: []string{fmt.Sprintf("wrong-%d-a", i), fmt.Sprintf("wrong-%d-b", i), fmt.Sprintf("wrong-%d-c", i)},
			Category:         "general",
			Difficulty:       "easy",
		}
	}
	return qs
}

// Participant returns a participant with a display name derived from id
func Participant(id string) model.Participant {
	return model.Participant{
		ID:          model.ParticipantID(id),
		DisplayName: "Player " + id,
		Email:       id + "@example.com",
	}
}
