package game

import (
	"github.com/mcoot/triviagame/internal/dependencies/random"
	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/services/scoring"
)

// Project builds one participant's view of a game.
// Only that participant's responses and scores are included, and the current
// question is shown (without its correct answer) only while it is open.
func Project(g *model.Game, participantID model.ParticipantID, rnd random.Random) model.ParticipantStateResponse {
	resp := model.ParticipantStateResponse{
		GameID:         g.ID,
		State:          g.State,
		Responses:      []model.QuestionResponse{},
		Scores:         []model.QuestionResponseScore{},
		FetchAttempts:  g.FetchAttempts,
		LastFetchError: g.LastFetchError,
		Stalled:        g.FetchStalled,
	}
	if g.CurrentQuestionIndex != nil {
		resp.CurrentQuestionIndex = model.IntPtr(*g.CurrentQuestionIndex)
	}

	if g.State == model.PhaseQuestionOpen {
		if q := g.CurrentQuestion(); q != nil {
			answers := q.Answers()
			if rnd != nil {
				random.Shuffle(rnd, answers)
			}
			resp.CurrentQuestion = &model.ParticipantQuestion{
				Index:   q.Index,
				Text:    q.Text,
				Answers: answers,
			}
		}
	}

	for _, r := range g.Responses {
		if r.ParticipantID == participantID {
			resp.Responses = append(resp.Responses, r)
		}
	}
	for _, s := range g.Scores {
		if s.ParticipantID == participantID {
			resp.Scores = append(resp.Scores, s)
		}
	}
	resp.TotalScore = scoring.Total(resp.Scores, participantID)
	return resp
}
