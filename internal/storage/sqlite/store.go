// Package sqlite provides a SQLite-backed saga store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mcoot/triviagame/internal/dependencies/clock"
	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/storage"
	"github.com/mcoot/triviagame/internal/storage/sqlite/migrations"
)

const migrationTable = "schema_migrations"

// Store persists games as versioned JSON rows
type Store struct {
	sqlDB *sql.DB
	clock clock.Clock
}

// Ensure Store implements the interface
var _ storage.SagaStore = (*Store)(nil)

// Open opens a SQLite saga store and applies embedded migrations.
// Row timestamps are read from clk.
func Open(path string, clk clock.Clock) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS, clk); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, clock: clk}, nil
}

// Close closes the SQLite handle
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database handle is usable
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) Load(ctx context.Context, id model.GameID) (*model.Game, storage.Version, error) {
	var (
		version int64
		data    string
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT version, data FROM games WHERE id = ?`, string(id),
	).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NoVersion, model.ErrGameNotFound
	}
	if err != nil {
		return nil, storage.NoVersion, fmt.Errorf("load game %s: %w", id, err)
	}

	var game model.Game
	if err := json.Unmarshal([]byte(data), &game); err != nil {
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
	now := s.clock.Now().UTC().UnixMilli()

	var res sql.Result
	if expected == storage.NoVersion {
		res, err = s.sqlDB.ExecContext(ctx,
			`INSERT INTO games (id, version, state, data, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			string(game.ID), int64(next), string(game.State), string(data), now,
		)
	} else {
		res, err = s.sqlDB.ExecContext(ctx,
			`UPDATE games SET version = ?, state = ?, data = ?, updated_at = ?
			 WHERE id = ? AND version = ?`,
			int64(next), string(game.State), string(data), now,
			string(game.ID), int64(expected),
		)
	}
	if err != nil {
		return storage.NoVersion, fmt.Errorf("save game %s: %w", game.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return storage.NoVersion, fmt.Errorf("save game %s: %w", game.ID, err)
	}
	if rows == 0 {
		return storage.NoVersion, storage.ErrVersionConflict
	}
	return next, nil
}

// applyMigrations executes each embedded migration at most once
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS, clk clock.Clock) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`, migrationTable)); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var applied int
		if err := sqlDB.QueryRow(
			fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE name = ?", migrationTable), file,
		).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied > 0 {
			continue
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			fmt.Sprintf("INSERT INTO %s (name, applied_at) VALUES (?, ?)", migrationTable),
			file, clk.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upSection returns the SQL between the Up and Down markers
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start == -1 {
		return content
	}
	content = content[start+len(up):]
	if end := strings.Index(content, down); end != -1 {
		content = content[:end]
	}
	return content
}
