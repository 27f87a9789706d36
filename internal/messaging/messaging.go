// Package messaging defines the message bus boundary.
// Delivery is at-least-once; consumers must tolerate duplicates and reordering.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mcoot/triviagame/internal/model"
)

// Publisher puts messages on the bus
type Publisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

// EnvelopeHandler processes one delivered envelope.
// Returning an error asks the bus to redeliver.
type EnvelopeHandler func(ctx context.Context, env model.Envelope) error

// Bus is a Publisher that can also drive consumers
type Bus interface {
	Publisher

	// Run delivers messages to h until ctx is cancelled
	Run(ctx context.Context, h EnvelopeHandler) error

	Close() error
}

// Handler processes one decoded message
type Handler func(ctx context.Context, msg model.Message) error

// Config holds delivery settings shared by bus implementations
type Config struct {
	Workers           int           `yaml:"workers" env:"WORKERS"`
	MaxDeliveries     int           `yaml:"max_deliveries" env:"MAX_DELIVERIES"`
	RedeliveryBackoff time.Duration `yaml:"redelivery_backoff" env:"REDELIVERY_BACKOFF"`
}

// DefaultConfig returns sensible defaults for delivery
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		MaxDeliveries:     5,
		RedeliveryBackoff: 100 * time.Millisecond,
	}
}

// NewEnvelope seals msg with a fresh message ID
func NewEnvelope(msg model.Message, publishedAt time.Time) (model.Envelope, error) {
	return model.Seal(uuid.NewString(), msg, publishedAt)
}

// Router dispatches envelopes to handlers by message type
type Router struct {
	handlers map[model.MessageType]Handler
	logger   *slog.Logger
}

// NewRouter creates an empty router
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		handlers: make(map[model.MessageType]Handler),
		logger:   logger,
	}
}

// Handle registers h for the given message types
func (r *Router) Handle(h Handler, types ...model.MessageType) {
	for _, t := range types {
		r.handlers[t] = h
	}
}

// Deliver decodes env and calls the matching handler.
// Undecodable and unrouted messages are logged and dropped; redelivery would not help them.
func (r *Router) Deliver(ctx context.Context, env model.Envelope) error {
	msg, err := env.Open()
	if err != nil {
		r.logger.Warn("dropping undecodable message",
			slog.String("message_id", env.ID),
			slog.String("type", string(env.Type)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	h, ok := r.handlers[env.Type]
	if !ok {
		r.logger.Debug("no handler for message",
			slog.String("message_id", env.ID),
			slog.String("type", string(env.Type)),
			slog.String("game_id", string(env.GameID)),
		)
		return nil
	}

	if err := h(ctx, msg); err != nil {
		return fmt.Errorf("handle %s for game %s: %w", env.Type, env.GameID, err)
	}
	return nil
}

// ErrClosed is returned when publishing to a closed bus
var ErrClosed = errors.New("bus closed")
