// Package redis provides a message bus on Redis Streams.
// Messages are consumed through a consumer group and acknowledged after a
// successful handle; failed messages stay pending and are reclaimed after
// ClaimIdle until they exceed MaxDeliveries, then move to a dead-letter stream.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/triviagame/internal/dependencies/clock"
	"github.com/mcoot/triviagame/internal/messaging"
	"github.com/mcoot/triviagame/internal/model"
)

const fieldEnvelope = "envelope"

// Config holds stream and consumer group settings
type Config struct {
	Stream     string        `yaml:"stream" env:"STREAM"`
	Group      string        `yaml:"group" env:"GROUP"`
	Consumer   string        `yaml:"consumer" env:"CONSUMER"`
	Batch      int64         `yaml:"batch" env:"BATCH"`
	Block      time.Duration `yaml:"block" env:"BLOCK"`
	ClaimIdle  time.Duration `yaml:"claim_idle" env:"CLAIM_IDLE"`
	MaxLen     int64         `yaml:"max_len" env:"MAX_LEN"`
	DeadLetter string        `yaml:"dead_letter" env:"DEAD_LETTER"`
}

// DefaultConfig returns sensible defaults for the stream bus
func DefaultConfig() Config {
	return Config{
		Stream:     "trivia:messages",
		Group:      "trivia",
		Consumer:   DefaultConsumer(),
		Batch:      16,
		Block:      2 * time.Second,
		ClaimIdle:  30 * time.Second,
		MaxLen:     100000,
		DeadLetter: "trivia:messages:dead",
	}
}

// DefaultConsumer names this process within the consumer group as
// <hostname>-<pid>, so pending entries stay attributed to the instance
// that read them
func DefaultConsumer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "trivia"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Bus is a Redis Streams message bus
type Bus struct {
	client   *redis.Client
	cfg      Config
	delivery messaging.Config
	clock    clock.Clock
	logger   *slog.Logger

	lastClaim time.Time
}

// Ensure Bus implements the interface
var _ messaging.Bus = (*Bus)(nil)

// New creates a stream bus over an existing client
func New(client *redis.Client, cfg Config, delivery messaging.Config, clk clock.Clock, logger *slog.Logger) *Bus {
	if cfg.Consumer == "" {
		cfg.Consumer = DefaultConsumer()
	}
	if delivery.Workers <= 0 {
		delivery.Workers = 1
	}
	if delivery.MaxDeliveries <= 0 {
		delivery.MaxDeliveries = 1
	}
	return &Bus{
		client:   client,
		cfg:      cfg,
		delivery: delivery,
		clock:    clk,
		logger:   logger,
	}
}

func (b *Bus) Publish(ctx context.Context, msg model.Message) error {
	env, err := messaging.NewEnvelope(msg, b.clock.Now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Stream,
		MaxLen: b.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{fieldEnvelope: data},
	}).Err()
}

// EnsureGroup creates the consumer group if it does not exist
func (b *Bus) EnsureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.cfg.Stream, b.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Run polls the stream until ctx is cancelled
func (b *Bus) Run(ctx context.Context, h messaging.EnvelopeHandler) error {
	if err := b.EnsureGroup(ctx); err != nil {
		return err
	}
	b.lastClaim = b.clock.Now()

	for ctx.Err() == nil {
		if _, err := b.PollOnce(ctx, h); err != nil && ctx.Err() == nil {
			b.logger.Error("stream poll failed", slog.String("error", err.Error()))
			sleep(ctx, time.Second)
			continue
		}

		if b.clock.Now().Sub(b.lastClaim) >= b.cfg.ClaimIdle {
			b.lastClaim = b.clock.Now()
			if _, err := b.ReclaimOnce(ctx, h); err != nil && ctx.Err() == nil {
				b.logger.Error("stream reclaim failed", slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// PollOnce reads one batch of new messages and handles them.
// Returns the number of messages read.
func (b *Bus) PollOnce(ctx context.Context, h messaging.EnvelopeHandler) (int, error) {
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		Streams:  []string{b.cfg.Stream, ">"},
		Count:    b.cfg.Batch,
		Block:    b.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return len(messages), b.handleAll(ctx, h, messages)
}

// ReclaimOnce takes over messages left pending longer than ClaimIdle,
// dead-lettering those that have used up their deliveries.
func (b *Bus) ReclaimOnce(ctx context.Context, h messaging.EnvelopeHandler) (int, error) {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: b.cfg.Stream,
		Group:  b.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  b.cfg.Batch,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var retry []string
	for _, p := range pending {
		if p.Idle < b.cfg.ClaimIdle {
			continue
		}
		if p.RetryCount >= int64(b.delivery.MaxDeliveries) {
			if err := b.deadLetter(ctx, p.ID, p.RetryCount); err != nil {
				return 0, err
			}
			continue
		}
		retry = append(retry, p.ID)
	}
	if len(retry) == 0 {
		return 0, nil
	}

	claimed, err := b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   b.cfg.Stream,
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		MinIdle:  b.cfg.ClaimIdle,
		Messages: retry,
	}).Result()
	if err != nil {
		return 0, err
	}
	return len(claimed), b.handleAll(ctx, h, claimed)
}

// handleAll handles a batch with entries for the same game in stream order
// and different games in parallel
func (b *Bus) handleAll(ctx context.Context, h messaging.EnvelopeHandler, messages []redis.XMessage) error {
	var (
		order  []model.GameID
		byGame = map[model.GameID][]entry{}
	)
	for _, m := range messages {
		env, err := decode(m)
		if err != nil {
			b.logger.Warn("dropping malformed stream entry",
				slog.String("entry_id", m.ID),
				slog.String("error", err.Error()),
			)
			if err := b.client.XAck(ctx, b.cfg.Stream, b.cfg.Group, m.ID).Err(); err != nil {
				return err
			}
			continue
		}
		if _, ok := byGame[env.GameID]; !ok {
			order = append(order, env.GameID)
		}
		byGame[env.GameID] = append(byGame[env.GameID], entry{id: m.ID, env: env})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.delivery.Workers)
	for _, id := range order {
		entries := byGame[id]
		g.Go(func() error {
			for _, e := range entries {
				if err := b.handle(gctx, h, e); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

type entry struct {
	id  string
	env model.Envelope
}

// handle processes one stream entry; only Redis failures are returned
func (b *Bus) handle(ctx context.Context, h messaging.EnvelopeHandler, e entry) error {
	if err := h(ctx, e.env); err != nil {
		// left pending for ReclaimOnce
		b.logger.Warn("message handling failed",
			slog.String("entry_id", e.id),
			slog.String("message_id", e.env.ID),
			slog.String("type", string(e.env.Type)),
			slog.String("game_id", string(e.env.GameID)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return b.client.XAck(ctx, b.cfg.Stream, b.cfg.Group, e.id).Err()
}

func (b *Bus) deadLetter(ctx context.Context, id string, deliveries int64) error {
	entries, err := b.client.XRangeN(ctx, b.cfg.Stream, id, id, 1).Result()
	if err != nil {
		return err
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: b.cfg.DeadLetter,
				Values: e.Values,
			})
		}
		pipe.XAck(ctx, b.cfg.Stream, b.cfg.Group, id)
		return nil
	})
	if err != nil {
		return err
	}

	b.logger.Error("message dead-lettered",
		slog.String("entry_id", id),
		slog.Int64("deliveries", deliveries),
	)
	return nil
}

func decode(m redis.XMessage) (model.Envelope, error) {
	raw, ok := m.Values[fieldEnvelope].(string)
	if !ok {
		return model.Envelope{}, fmt.Errorf("entry %s has no %s field", m.ID, fieldEnvelope)
	}
	var env model.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return model.Envelope{}, fmt.Errorf("decode entry %s: %w", m.ID, err)
	}
	return env, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Close is a no-op; the shared client is closed by its owner
func (b *Bus) Close() error {
	return nil
}
