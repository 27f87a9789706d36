package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/storage"
)

// Storage is a Redis-backed saga store.
// Each game is a hash holding the JSON document and its version;
// saves are a WATCH/MULTI compare-and-swap on the version field.
type Storage struct {
	client *redis.Client
	cfg    Config
}

// Connect opens a client from cfg and verifies the connection.
// The client is shared by the store, the stream bus and the timer scheduler.
func Connect(cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	client, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Redis storage with an existing client
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.SagaStore = (*Storage)(nil)

func (s *Storage) Load(ctx context.Context, id model.GameID) (*model.Game, storage.Version, error) {
	fields, err := s.client.HMGet(ctx, gameKey(s.cfg.KeyPrefix, id), fieldVersion, fieldData).Result()
	if err != nil {
		return nil, storage.NoVersion, err
	}
	if fields[0] == nil || fields[1] == nil {
		return nil, storage.NoVersion, model.ErrGameNotFound
	}

	var version int64
	if _, err := fmt.Sscan(fields[0].(string), &version); err != nil {
		return nil, storage.NoVersion, fmt.Errorf("parse version of game %s: %w", id, err)
	}

	var game model.Game
	if err := json.Unmarshal([]byte(fields[1].(string)), &game); err != nil {
		return nil, storage.NoVersion, fmt.Errorf("decode game %s: %w", id, err)
	}
	return &game, storage.Version(version), nil
}

func (s *Storage) Save(ctx context.Context, game *model.Game, expected storage.Version) (storage.Version, error) {
	data, err := json.Marshal(game)
	if err != nil {
		return storage.NoVersion, fmt.Errorf("encode game %s: %w", game.ID, err)
	}

	key := gameKey(s.cfg.KeyPrefix, game.ID)
	next := expected + 1

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Int64()
		if errors.Is(err, redis.Nil) {
			current = int64(storage.NoVersion)
		} else if err != nil {
			return err
		}
		if storage.Version(current) != expected {
			return storage.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldVersion, int64(next),
				fieldState, string(game.State),
				fieldData, data,
			)
			if s.cfg.GameTTL > 0 {
				pipe.Expire(ctx, key, s.cfg.GameTTL)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return storage.NoVersion, storage.ErrVersionConflict
	}
	if err != nil {
		return storage.NoVersion, err
	}
	return next, nil
}
