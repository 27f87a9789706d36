// Package config loads service configuration from defaults, an optional
// YAML file and TRIVIA_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/mcoot/triviagame/internal/api"
	"github.com/mcoot/triviagame/internal/messaging"
	redisbus "github.com/mcoot/triviagame/internal/messaging/redis"
	"github.com/mcoot/triviagame/internal/scheduler"
	"github.com/mcoot/triviagame/internal/services/game"
	redisstorage "github.com/mcoot/triviagame/internal/storage/redis"
	"github.com/mcoot/triviagame/internal/telemetry"
)

// EnvPrefix prefixes every environment variable the service reads
const EnvPrefix = "TRIVIA_"

// Backend kinds
const (
	KindMemory   = "memory"
	KindRedis    = "redis"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Question source kinds
const (
	SourceBank      = "bank"
	SourceTriviaAPI = "triviaapi"
	SourceOpenTDB   = "opentdb"
)

// StoreConfig selects the saga store
type StoreConfig struct {
	Kind        string `yaml:"kind" env:"KIND"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	PostgresURL string `yaml:"postgres_url" env:"POSTGRES_URL"`
}

// BusConfig selects the message bus and scheduler backend
type BusConfig struct {
	Kind     string           `yaml:"kind" env:"KIND"`
	Delivery messaging.Config `yaml:"delivery" envPrefix:"DELIVERY_"`
	Redis    redisbus.Config  `yaml:"redis" envPrefix:"REDIS_"`
}

// QuestionsConfig selects where questions come from
type QuestionsConfig struct {
	Source       string        `yaml:"source" env:"SOURCE"`
	BankPath     string        `yaml:"bank_path" env:"BANK_PATH"`
	TriviaAPIURL string        `yaml:"trivia_api_url" env:"TRIVIA_API_URL"`
	OpenTDBURL   string        `yaml:"opentdb_url" env:"OPENTDB_URL"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Config is the full service configuration
type Config struct {
	LogLevel     string              `yaml:"log_level" env:"LOG_LEVEL"`
	Server       api.ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Store        StoreConfig         `yaml:"store" envPrefix:"STORE_"`
	Bus          BusConfig           `yaml:"bus" envPrefix:"BUS_"`
	Scheduler    scheduler.Config    `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Redis        redisstorage.Config `yaml:"redis" envPrefix:"REDIS_"`
	Game         game.Settings       `yaml:"game" envPrefix:"GAME_"`
	Orchestrator game.Config         `yaml:"orchestrator" envPrefix:"ORCHESTRATOR_"`
	Questions    QuestionsConfig     `yaml:"questions" envPrefix:"QUESTIONS_"`
	Telemetry    telemetry.Config    `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// Default returns an in-process configuration needing no external services
func Default() Config {
	return Config{
		LogLevel: "info",
		Server:   api.DefaultServerConfig(),
		Store: StoreConfig{
			Kind:       KindMemory,
			SQLitePath: "trivia.db",
		},
		Bus: BusConfig{
			Kind:     KindMemory,
			Delivery: messaging.DefaultConfig(),
			Redis:    redisbus.DefaultConfig(),
		},
		Scheduler:    scheduler.DefaultConfig(),
		Redis:        redisstorage.DefaultConfig(),
		Game:         game.DefaultSettings(),
		Orchestrator: game.DefaultConfig(),
		Questions: QuestionsConfig{
			Source:       SourceBank,
			TriviaAPIURL: "https://the-trivia-api.com",
			OpenTDBURL:   "https://opentdb.com",
			Timeout:      10 * time.Second,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load builds the configuration. path may be empty to skip the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the factory cannot wire
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Kind {
	case KindMemory, KindRedis:
	case KindSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite store"))
		}
	case KindPostgres:
		if c.Store.PostgresURL == "" {
			errs = append(errs, errors.New("store.postgres_url is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store kind %q", c.Store.Kind))
	}

	switch c.Bus.Kind {
	case KindMemory, KindRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown bus kind %q", c.Bus.Kind))
	}

	if c.UsesRedis() && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required when a redis backend is selected"))
	}

	switch c.Questions.Source {
	case SourceBank, SourceTriviaAPI, SourceOpenTDB:
	default:
		errs = append(errs, fmt.Errorf("unknown question source %q", c.Questions.Source))
	}

	if c.Game.QuestionCount <= 0 {
		errs = append(errs, errors.New("game.question_count must be positive"))
	}
	if c.Game.MaxFetchAttempts <= 0 {
		errs = append(errs, errors.New("game.max_fetch_attempts must be positive"))
	}
	if c.Orchestrator.MaxApplyAttempts <= 0 {
		errs = append(errs, errors.New("orchestrator.max_apply_attempts must be positive"))
	}
	if c.Bus.Delivery.Workers <= 0 {
		errs = append(errs, errors.New("bus.delivery.workers must be positive"))
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// UsesRedis reports whether any backend needs the shared Redis client
func (c Config) UsesRedis() bool {
	return c.Store.Kind == KindRedis || c.Bus.Kind == KindRedis
}

// ParseLevel maps a log level name to a slog level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewLogger creates the service's JSON logger at the configured level
func (c Config) NewLogger() *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
