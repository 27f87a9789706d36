// Package redis provides a durable timer scheduler on a Redis sorted set.
// Pending timers survive restarts. A poller claims a due timer by moving it
// into an in-flight set under a lease, and only drops it once the message is
// published; leases that run out are put back, so a poller that dies mid-fire
// delays a timer rather than losing it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/triviagame/internal/dependencies/clock"
	"github.com/mcoot/triviagame/internal/messaging"
	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/scheduler"
)

// scheduleScript adds a timer unless it is already pending or in flight.
// KEYS: timers, inflight, payload. ARGV: token, due, encoded timer.
var scheduleScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[2], ARGV[1]) then
	return 0
end
redis.call('ZADD', KEYS[1], 'NX', ARGV[2], ARGV[1])
redis.call('HSETNX', KEYS[3], ARGV[1], ARGV[3])
return 1
`)

// moveScript moves a token between sorted sets if it is still in the first.
// KEYS: from, to. ARGV: token, score.
var moveScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
	return 1
end
return 0
`)

// Scheduler stores timers in Redis and fires them from FireDue
type Scheduler struct {
	client *redis.Client
	prefix string
	pub    messaging.Publisher
	clock  clock.Clock
	cfg    scheduler.Config
	logger *slog.Logger
}

// Ensure Scheduler implements the interface
var _ scheduler.Scheduler = (*Scheduler)(nil)

// New creates a Redis scheduler publishing to pub
func New(client *redis.Client, prefix string, pub messaging.Publisher, clk clock.Clock, cfg scheduler.Config, logger *slog.Logger) *Scheduler {
	if cfg.Lease <= 0 {
		cfg.Lease = scheduler.DefaultConfig().Lease
	}
	return &Scheduler{
		client: client,
		prefix: prefix,
		pub:    pub,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
	}
}

// timersKey is the sorted set of tokens scored by due time in unix milliseconds
func (s *Scheduler) timersKey() string {
	return fmt.Sprintf("%s:timers", s.prefix)
}

// inflightKey is the sorted set of claimed tokens scored by lease deadline
func (s *Scheduler) inflightKey() string {
	return fmt.Sprintf("%s:timers:inflight", s.prefix)
}

// payloadKey is the hash of token to encoded timer
func (s *Scheduler) payloadKey() string {
	return fmt.Sprintf("%s:timers:payload", s.prefix)
}

func (s *Scheduler) Schedule(ctx context.Context, timer model.Timer) error {
	data, err := json.Marshal(timer)
	if err != nil {
		return fmt.Errorf("encode timer %s: %w", timer.Token, err)
	}
	due := s.clock.Now().Add(timer.Delay).UnixMilli()

	keys := []string{s.timersKey(), s.inflightKey(), s.payloadKey()}
	return scheduleScript.Run(ctx, s.client, keys, string(timer.Token), due, data).Err()
}

func (s *Scheduler) Cancel(ctx context.Context, token model.TimerToken) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.timersKey(), string(token))
		pipe.ZRem(ctx, s.inflightKey(), string(token))
		pipe.HDel(ctx, s.payloadKey(), string(token))
		return nil
	})
	return err
}

// FireDue puts back expired leases, then publishes up to Batch timers whose
// due time has passed
func (s *Scheduler) FireDue(ctx context.Context) (int, error) {
	if err := s.requeueExpired(ctx); err != nil {
		return 0, err
	}

	now := s.clock.Now().UnixMilli()
	tokens, err := s.client.ZRangeByScore(ctx, s.timersKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: s.cfg.Batch,
	}).Result()
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, token := range tokens {
		ok, err := s.fire(ctx, token)
		if err != nil {
			return fired, err
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

// requeueExpired makes timers whose lease ran out due again
func (s *Scheduler) requeueExpired(ctx context.Context) error {
	now := s.clock.Now().UnixMilli()
	tokens, err := s.client.ZRangeByScore(ctx, s.inflightKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: s.cfg.Batch,
	}).Result()
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if err := s.requeue(ctx, token); err != nil {
			return err
		}
		s.logger.Warn("timer lease expired, requeued", slog.String("token", token))
	}
	return nil
}

// claim moves a due token into the in-flight set.
// It reports false when another poller got there first.
func (s *Scheduler) claim(ctx context.Context, token string) (bool, error) {
	deadline := s.clock.Now().Add(s.cfg.Lease).UnixMilli()
	n, err := moveScript.Run(ctx, s.client, []string{s.timersKey(), s.inflightKey()}, token, deadline).Int()
	return n == 1, err
}

// requeue moves an in-flight token back to the pending set, due now
func (s *Scheduler) requeue(ctx context.Context, token string) error {
	now := s.clock.Now().UnixMilli()
	return moveScript.Run(ctx, s.client, []string{s.inflightKey(), s.timersKey()}, token, now).Err()
}

// forget drops a claimed token and its payload
func (s *Scheduler) forget(ctx context.Context, token string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.inflightKey(), token)
		pipe.HDel(ctx, s.payloadKey(), token)
		return nil
	})
	return err
}

// fire claims one token and publishes it.
// On publish failure the timer is put back, due immediately. The bookkeeping
// after the publish ignores cancellation of ctx so shutdown cannot strand a
// claimed timer.
func (s *Scheduler) fire(ctx context.Context, token string) (bool, error) {
	claimed, err := s.claim(ctx, token)
	if err != nil || !claimed {
		return false, err
	}
	settle := context.WithoutCancel(ctx)

	data, err := s.client.HGet(ctx, s.payloadKey(), token).Bytes()
	if errors.Is(err, redis.Nil) {
		s.logger.Warn("timer without payload", slog.String("token", token))
		return false, s.forget(settle, token)
	}
	if err != nil {
		return false, errors.Join(err, s.requeue(settle, token))
	}

	var timer model.Timer
	if err := json.Unmarshal(data, &timer); err != nil {
		s.logger.Warn("dropping undecodable timer", slog.String("token", token), slog.String("error", err.Error()))
		return false, s.forget(settle, token)
	}

	if err := scheduler.Deliver(ctx, s.pub, s.logger, timer); err != nil {
		return false, errors.Join(err, s.requeue(settle, token))
	}
	return true, s.forget(settle, token)
}

// Pending returns the number of timers waiting to fire, claimed ones included
func (s *Scheduler) Pending(ctx context.Context) (int64, error) {
	var waiting, inflight *redis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.ZCard(ctx, s.timersKey())
		inflight = pipe.ZCard(ctx, s.inflightKey())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return waiting.Val() + inflight.Val(), nil
}

// Run fires due timers every PollInterval until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	return scheduler.Poll(ctx, s.cfg.PollInterval, s.logger, s.FireDue)
}
