// Package questions adapts external question providers to the game.
package questions

import (
	"context"

	"github.com/mcoot/triviagame/internal/model"
)

// Source produces trivia questions.
// Returned questions need not be indexed; the Fetcher assigns indices.
type Source interface {
	Fetch(ctx context.Context, count int) ([]model.Question, error)
}
