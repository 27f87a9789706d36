// Package postgres provides a Postgres-backed saga store.
// Games are JSONB documents guarded by a version column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/storage"
	"github.com/mcoot/triviagame/internal/storage/postgres/migrations"
)

// Store persists games in Postgres
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements the interface
var _ storage.SagaStore = (*Store)(nil)

// Open connects to Postgres at url
func Open(ctx context.Context, url string) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres url not configured")
	}
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool), nil
}

// NewWithPool creates a store over an existing pool
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the schema migrations to the database at url
func Migrate(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("postgres url not configured")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(url)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks a pooled connection is usable
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Load(ctx context.Context, id model.GameID) (*model.Game, storage.Version, error) {
	var (
		version int64
		raw     []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT version, data FROM games WHERE id = $1`, string(id),
	).Scan(&version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.NoVersion, model.ErrGameNotFound
	}
	if err != nil {
		return nil, storage.NoVersion, fmt.Errorf("load game %s: %w", id, err)
	}

	var game model.Game
	if err := json.Unmarshal(raw, &game); err != nil {
		return nil, storage.NoVersion, fmt.Errorf("decode game %s: %w", id, err)
	}
	return &game, storage.Version(version), nil
}

func (s *Store) Save(ctx context.Context, game *model.Game, expected storage.Version) (storage.Version, error) {
	data, err := json.Marshal(game)
	if err != nil {
		return storage.NoVersion, fmt.Errorf("encode game %s: %w", game.ID, err)
	}
	next := expected + 1

	var sqlText string
	if expected == storage.NoVersion {
		sqlText = `INSERT INTO games (id, version, state, data, updated_at)
			VALUES ($1, $2, $3, $4::jsonb, now())
			ON CONFLICT (id) DO NOTHING`
	} else {
		sqlText = `UPDATE games SET version = $2, state = $3, data = $4::jsonb, updated_at = now()
			WHERE id = $1 AND version = $5`
	}

	args := []any{string(game.ID), int64(next), string(game.State), string(data)}
	if expected != storage.NoVersion {
		args = append(args, int64(expected))
	}

	tag, err := s.pool.Exec(ctx, sqlText, args...)
	if err != nil {
		return storage.NoVersion, fmt.Errorf("save game %s: %w", game.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.NoVersion, storage.ErrVersionConflict
	}
	return next, nil
}
