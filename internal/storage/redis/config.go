package redis

import "time"

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string `yaml:"url" env:"URL"`

	// Pool settings
	PoolSize     int `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`

	// KeyPrefix namespaces every key written by the service
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`

	// GameTTL expires finished and abandoned games; zero keeps them forever
	GameTTL time.Duration `yaml:"game_ttl" env:"GAME_TTL"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:          "redis://localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "trivia",
	}
}
