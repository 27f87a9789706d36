// Package scheduler defines the delayed delivery boundary.
// Timers are identified by deterministic tokens; scheduling a token that is
// already pending is a no-op, so replayed effects never double-schedule.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcoot/triviagame/internal/messaging"
	"github.com/mcoot/triviagame/internal/model"
)

// Scheduler delivers timer messages to the bus after their delay
type Scheduler interface {
	Schedule(ctx context.Context, timer model.Timer) error
	Cancel(ctx context.Context, token model.TimerToken) error
}

// Config holds scheduler polling settings
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	Batch        int64         `yaml:"batch" env:"BATCH"`

	// Lease is how long a claimed timer may stay unpublished before a
	// poller puts it back. Only durable schedulers use it.
	Lease time.Duration `yaml:"lease" env:"LEASE"`
}

// DefaultConfig returns sensible defaults for scheduler polling
func DefaultConfig() Config {
	return Config{
		PollInterval: 100 * time.Millisecond,
		Batch:        100,
		Lease:        30 * time.Second,
	}
}

// Deliver publishes the message a fired timer carries
func Deliver(ctx context.Context, pub messaging.Publisher, logger *slog.Logger, timer model.Timer) error {
	msg, err := model.TimerMessage(timer)
	if err != nil {
		return err
	}
	logger.Debug("timer fired",
		slog.String("game_id", string(timer.GameID)),
		slog.String("token", string(timer.Token)),
		slog.String("kind", string(timer.Kind)),
	)
	return pub.Publish(ctx, msg)
}

// Poll calls fire every interval until ctx is cancelled
func Poll(ctx context.Context, interval time.Duration, logger *slog.Logger, fire func(context.Context) (int, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fire(ctx); err != nil && ctx.Err() == nil {
				logger.Error("firing due timers failed", slog.String("error", err.Error()))
			}
		}
	}
}
