// Package memory provides an in-process message bus backed by a channel.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/triviagame/internal/dependencies/clock"
	"github.com/mcoot/triviagame/internal/messaging"
	"github.com/mcoot/triviagame/internal/model"
)

const bufferSize = 1024

// Bus delivers messages to a pool of workers.
// Failed deliveries are retried in place with exponential backoff and
// dead-lettered after MaxDeliveries attempts.
type Bus struct {
	cfg    messaging.Config
	clock  clock.Clock
	logger *slog.Logger

	queue  chan model.Envelope
	closed chan struct{}
	once   sync.Once

	mu          sync.Mutex
	deadLetters []model.Envelope
	inflight    sync.WaitGroup
}

// Ensure Bus implements the interface
var _ messaging.Bus = (*Bus)(nil)

// New creates a new in-memory bus
func New(cfg messaging.Config, clk clock.Clock, logger *slog.Logger) *Bus {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 1
	}
	return &Bus{
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		queue:  make(chan model.Envelope, bufferSize),
		closed: make(chan struct{}),
	}
}

func (b *Bus) Publish(ctx context.Context, msg model.Message) error {
	env, err := messaging.NewEnvelope(msg, b.clock.Now())
	if err != nil {
		return err
	}

	select {
	case <-b.closed:
		return messaging.ErrClosed
	default:
	}

	b.inflight.Add(1)
	select {
	case b.queue <- env:
		return nil
	case <-b.closed:
		b.inflight.Done()
		return messaging.ErrClosed
	case <-ctx.Done():
		b.inflight.Done()
		return ctx.Err()
	}
}

// Run starts the worker pool and blocks until ctx is cancelled or the bus is closed
func (b *Bus) Run(ctx context.Context, h messaging.EnvelopeHandler) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < b.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-b.closed:
					return nil
				case env := <-b.queue:
					b.deliver(ctx, h, env)
					b.inflight.Done()
				}
			}
		})
	}
	return g.Wait()
}

func (b *Bus) deliver(ctx context.Context, h messaging.EnvelopeHandler, env model.Envelope) {
	attempt := 0
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.cfg.RedeliveryBackoff

	err := backoff.Retry(func() error {
		attempt++
		return h(ctx, env)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(b.cfg.MaxDeliveries-1)), ctx))
	if err == nil {
		return
	}

	b.logger.Error("message dead-lettered",
		slog.String("message_id", env.ID),
		slog.String("type", string(env.Type)),
		slog.String("game_id", string(env.GameID)),
		slog.Int("deliveries", attempt),
		slog.String("error", err.Error()),
	)
	b.mu.Lock()
	b.deadLetters = append(b.deadLetters, env)
	b.mu.Unlock()
}

// DeadLetters returns the envelopes that exhausted their deliveries
func (b *Bus) DeadLetters() []model.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Envelope{}, b.deadLetters...)
}

// Drain blocks until every published message has been handled.
// Messages published by handlers while draining are waited on too.
func (b *Bus) Drain() {
	b.inflight.Wait()
}

func (b *Bus) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}
