// Package scoring computes per-question points for trivia answers.
package scoring

import (
	"time"

	"github.com/mcoot/triviagame/internal/model"
)

// Point bands. A correct answer earns up to MaxCorrect points, losing one
// for each elapsed quarter of the round. An incorrect answer costs
// MaxPenalty points, recovering one for each elapsed half.
const (
	MaxCorrect     = 4
	CorrectBands   = 4
	MaxPenalty     = 2
	IncorrectBands = 2
)

// Score computes the points for one answer.
// ok is false when the answer falls outside [openedAt, closedAt) or the
// round has no duration, in which case the answer is treated as absent.
func Score(openedAt, closedAt, submittedAt time.Time, correct bool) (points int, ok bool) {
	d := closedAt.Sub(openedAt)
	if d <= 0 {
		return 0, false
	}
	if submittedAt.Before(openedAt) || !submittedAt.Before(closedAt) {
		return 0, false
	}

	t := submittedAt.Sub(openedAt)

	// floor(t / (D/n)) == floor(n*t / D) for t in [0, D); integer nanoseconds keep it exact
	if correct {
		return MaxCorrect - band(t, d, CorrectBands), true
	}
	return -MaxPenalty + band(t, d, IncorrectBands), true
}

// band returns floor(n*t/d) for 0 <= t < d
func band(t, d time.Duration, n int64) int {
	return int(int64(t) * n / int64(d))
}

// ScoreQuestion scores every participant's response to a closed question.
// Participants without a valid response get no entry.
func ScoreQuestion(g *model.Game, q *model.Question) []model.QuestionResponseScore {
	if q == nil || q.OpenedAt == nil || q.ClosedAt == nil {
		return nil
	}

	var scores []model.QuestionResponseScore
	for _, p := range g.Participants {
		resp := findResponse(g.Responses, p.ID, q.Index)
		if resp == nil {
			continue
		}

		points, ok := Score(*q.OpenedAt, *q.ClosedAt, resp.SubmittedAt, q.IsCorrect(resp.Answer))
		if !ok {
			continue
		}

		scores = append(scores, model.QuestionResponseScore{
			GameID:        g.ID,
			ParticipantID: p.ID,
			QuestionIndex: q.Index,
			Score:         points,
		})
	}
	return scores
}

// Total sums the scores belonging to one participant
func Total(scores []model.QuestionResponseScore, participantID model.ParticipantID) int {
	total := 0
	for _, s := range scores {
		if s.ParticipantID == participantID {
			total += s.Score
		}
	}
	return total
}

func findResponse(responses []model.QuestionResponse, participantID model.ParticipantID, questionIndex int) *model.QuestionResponse {
	for i := range responses {
		if responses[i].ParticipantID == participantID && responses[i].QuestionIndex == questionIndex {
			return &responses[i]
		}
	}
	return nil
}
