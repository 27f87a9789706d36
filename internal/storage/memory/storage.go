package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/storage"
)

type record struct {
	data    []byte
	version storage.Version
}

// Storage is an in-memory implementation of the saga store.
// Games are kept serialized so callers never share state with the store.
type Storage struct {
	mu    sync.RWMutex
	games map[model.GameID]record
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		games: make(map[model.GameID]record),
	}
}

// Ensure Storage implements the interface
var _ storage.SagaStore = (*Storage)(nil)

func (s *Storage) Load(ctx context.Context, id model.GameID) (*model.Game, storage.Version, error) {
	s.mu.RLock()
	rec, ok := s.games[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.NoVersion, model.ErrGameNotFound
	}

	var game model.Game
	if err := json.Unmarshal(rec.data, &game); err != nil {
		return nil, storage.NoVersion, fmt.Errorf("decode game %s: %w", id, err)
	}
	return &game, rec.version, nil
}

func (s *Storage) Save(ctx context.Context, game *model.Game, expected storage.Version) (storage.Version, error) {
	data, err := json.Marshal(game)
	if err != nil {
		return storage.NoVersion, fmt.Errorf("encode game %s: %w", game.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.games[game.ID].version
	if current != expected {
		return current, storage.ErrVersionConflict
	}

	next := current + 1
	s.games[game.ID] = record{data: data, version: next}
	return next, nil
}

func (s *Storage) Close() error {
	return nil
}
