package storage

import (
	"context"
	"errors"

	"github.com/mcoot/triviagame/internal/model"
)

// ErrVersionConflict is returned by Save when the stored version no longer matches
var ErrVersionConflict = errors.New("saga version conflict")

// Version is the optimistic concurrency token of a stored game.
// NoVersion means the game has never been saved.
type Version int64

const NoVersion Version = 0

// SagaStore persists one Game per GameID with compare-and-swap semantics
type SagaStore interface {
	// Load returns the game and its current version, or model.ErrGameNotFound
	Load(ctx context.Context, id model.GameID) (*model.Game, Version, error)

	// Save writes the game if the stored version equals expected.
	// Use NoVersion to insert a new game. Returns the new version,
	// or ErrVersionConflict if another writer got there first.
	Save(ctx context.Context, game *model.Game, expected Version) (Version, error)

	// Close releases any underlying connections
	Close() error
}
