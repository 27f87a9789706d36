package model

import "time"

// Question is a single trivia question.
// Immutable once fetched except for OpenedAt and ClosedAt.
type Question struct {
	Index            int        `json:"index"`
	Text             string     `json:"text"`
	CorrectAnswer    string     `json:"correctAnswer"`
	IncorrectAnswers []string   `json:"incorrectAnswers"`
	Category         string     `json:"category,omitempty"`
	Difficulty       string     `json:"difficulty,omitempty"`
	OpenedAt         *time.Time `json:"openedAt,omitempty"`
	ClosedAt         *time.Time `json:"closedAt,omitempty"`
}

// Answers returns the distinct candidate answers: distractors first, then the correct answer
func (q *Question) Answers() []string {
	seen := make(map[string]bool, len(q.IncorrectAnswers)+1)
	answers := make([]string, 0, len(q.IncorrectAnswers)+1)
	for _, a := range append(append([]string{}, q.IncorrectAnswers...), q.CorrectAnswer) {
		if seen[a] {
			continue
		}
		seen[a] = true
		answers = append(answers, a)
	}
	return answers
}

// IsCorrect reports whether answer matches the correct answer
func (q *Question) IsCorrect(answer string) bool {
	return answer == q.CorrectAnswer
}

func (q Question) clone() Question {
	c := q
	c.IncorrectAnswers = append([]string{}, q.IncorrectAnswers...)
	if q.OpenedAt != nil {
		c.OpenedAt = TimePtr(*q.OpenedAt)
	}
	if q.ClosedAt != nil {
		c.ClosedAt = TimePtr(*q.ClosedAt)
	}
	return c
}

// ParticipantQuestion is the participant-facing view of a question.
// It never carries the correct answer.
type ParticipantQuestion struct {
	Index   int      `json:"index"`
	Text    string   `json:"text"`
	Answers []string `json:"answers"`
}
