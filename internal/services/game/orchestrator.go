package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcoot/triviagame/internal/dependencies/clock"
	"github.com/mcoot/triviagame/internal/dependencies/random"
	"github.com/mcoot/triviagame/internal/messaging"
	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/scheduler"
	"github.com/mcoot/triviagame/internal/storage"
)

const tracerName = "github.com/mcoot/triviagame/internal/services/game"

// Notifier receives a notification for every persisted change
type Notifier interface {
	Notify(n model.Notification)
}

// Config holds orchestrator retry settings
type Config struct {
	// MaxApplyAttempts bounds load-apply-save rounds lost to concurrent writers
	MaxApplyAttempts int           `yaml:"max_apply_attempts" env:"MAX_APPLY_ATTEMPTS"`
	ConflictBackoff  time.Duration `yaml:"conflict_backoff" env:"CONFLICT_BACKOFF"`
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		MaxApplyAttempts: 5,
		ConflictBackoff:  10 * time.Millisecond,
	}
}

// Orchestrator hosts the game state machine: it loads the saga, applies a
// message, saves the result with compare-and-swap and dispatches effects.
// Durable effects are saved in the game's outbox with the new state and
// cleared once dispatched, so a crash between the two is repaired by the
// next message for the game.
type Orchestrator struct {
	store     storage.SagaStore
	bus       messaging.Publisher
	scheduler scheduler.Scheduler
	notifier  Notifier
	clock     clock.Clock
	random    random.Random
	settings  Settings
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewOrchestrator creates a new Orchestrator. notifier may be nil.
func NewOrchestrator(
	store storage.SagaStore,
	bus messaging.Publisher,
	sched scheduler.Scheduler,
	notifier Notifier,
	clock clock.Clock,
	random random.Random,
	settings Settings,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.MaxApplyAttempts <= 0 {
		cfg.MaxApplyAttempts = 1
	}
	return &Orchestrator{
		store:     store,
		bus:       bus,
		scheduler: sched,
		notifier:  notifier,
		clock:     clock,
		random:    random,
		settings:  settings,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// Handle applies one message to its game and returns the decision
func (o *Orchestrator) Handle(ctx context.Context, msg model.Message) (Decision, error) {
	gameID := msg.CorrelationID()
	ctx, span := o.tracer.Start(ctx, "game.Handle", trace.WithAttributes(
		attribute.String("game.id", string(gameID)),
		attribute.String("message.type", string(msg.Type())),
	))
	defer span.End()

	logger := o.logger.With(
		slog.String("game_id", string(gameID)),
		slog.String("message_type", string(msg.Type())),
	)

	var (
		decision Decision
		attempts int
	)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.cfg.ConflictBackoff

	err := backoff.Retry(func() error {
		attempts++
		d, err := o.applyOnce(ctx, msg, logger)
		if errors.Is(err, storage.ErrVersionConflict) {
			logger.Debug("version conflict, reapplying", slog.Int("attempt", attempts))
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		decision = d
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(o.cfg.MaxApplyAttempts-1)), ctx))

	span.SetAttributes(attribute.Int("apply.attempts", attempts))
	if errors.Is(err, storage.ErrVersionConflict) {
		err = fmt.Errorf("%w: %s after %d attempts", model.ErrTooManyConflicts, gameID, attempts)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("failed to apply message", slog.String("error", err.Error()))
		return Decision{}, err
	}

	span.SetAttributes(attribute.String("outcome", string(decision.Outcome)))
	switch decision.Outcome {
	case OutcomeApplied:
		logger.Info("message applied",
			slog.String("state", string(decision.Game.State)),
			slog.Int("effects", len(decision.Effects)),
		)
	case OutcomeIgnored, OutcomeNotFound:
		logger.Debug("message ignored", slog.String("reason", decision.Reason))
	}
	return decision, nil
}

// applyOnce is one load-apply-save round. It returns storage.ErrVersionConflict
// when another writer saved the game first.
func (o *Orchestrator) applyOnce(ctx context.Context, msg model.Message, logger *slog.Logger) (Decision, error) {
	g, version, err := o.load(ctx, msg.CorrelationID())
	if err != nil {
		return Decision{}, err
	}

	if g != nil && len(g.Outbox) > 0 {
		logger.Info("dispatching leftover outbox", slog.Int("effects", len(g.Outbox)))
		if version, err = o.flush(ctx, g, version); err != nil {
			return Decision{}, err
		}
	}

	d := Apply(g, msg, Env{Now: o.clock.Now(), Settings: o.settings, Random: o.random})
	if !d.Changed {
		return d, nil
	}

	next := d.Game
	next.Outbox = durable(d.Effects)
	version, err = o.store.Save(ctx, next, version)
	if err != nil {
		return Decision{}, err
	}

	if len(next.Outbox) > 0 {
		if _, err := o.flush(ctx, next, version); err != nil && !errors.Is(err, storage.ErrVersionConflict) {
			return Decision{}, err
		}
	}

	o.notify(g, next)
	return d, nil
}

func (o *Orchestrator) load(ctx context.Context, id model.GameID) (*model.Game, storage.Version, error) {
	g, version, err := o.store.Load(ctx, id)
	if errors.Is(err, model.ErrGameNotFound) {
		return nil, storage.NoVersion, nil
	}
	if err != nil {
		return nil, storage.NoVersion, fmt.Errorf("load game %s: %w", id, err)
	}
	return g, version, nil
}

// flush dispatches g's outbox and saves g with the outbox cleared.
// A conflict on that save means another writer now owns the outbox; effects
// are idempotent so dispatching them twice is harmless.
func (o *Orchestrator) flush(ctx context.Context, g *model.Game, version storage.Version) (storage.Version, error) {
	if err := o.dispatch(ctx, g.Outbox); err != nil {
		return version, err
	}
	g.Outbox = nil
	return o.store.Save(ctx, g, version)
}

func (o *Orchestrator) dispatch(ctx context.Context, effects []model.Effect) error {
	for _, e := range effects {
		var err error
		switch e.Kind {
		case model.EffectSchedule:
			err = o.scheduler.Schedule(ctx, *e.Timer)
		case model.EffectCancel:
			err = o.scheduler.Cancel(ctx, e.Token)
		case model.EffectFetchQuestions:
			err = o.bus.Publish(ctx, model.FetchQuestions{GameID: e.GameID, Count: e.Count})
		}
		if err != nil {
			return fmt.Errorf("dispatch %s effect for game %s: %w", e.Kind, e.GameID, err)
		}
	}
	return nil
}

func durable(effects []model.Effect) []model.Effect {
	var out []model.Effect
	for _, e := range effects {
		if e.Durable() {
			out = append(out, e)
		}
	}
	return out
}

func (o *Orchestrator) notify(before, after *model.Game) {
	if o.notifier == nil {
		return
	}

	n := model.Notification{
		GameID:               after.ID,
		State:                after.State,
		CurrentQuestionIndex: after.CurrentQuestionIndex,
		ParticipantCount:     len(after.Participants),
		Timestamp:            after.UpdatedAt,
	}
	switch {
	case before == nil || before.State != after.State ||
		!equalIndex(before.CurrentQuestionIndex, after.CurrentQuestionIndex):
		n.Type = model.NotificationPhaseChanged
	case len(after.Participants) > len(before.Participants):
		n.Type = model.NotificationParticipantJoined
	case len(after.Responses) > len(before.Responses):
		n.Type = model.NotificationAnswerRecorded
	case after.FetchAttempts > before.FetchAttempts:
		n.Type = model.NotificationFetchFailed
	default:
		return
	}
	o.notifier.Notify(n)
}

func equalIndex(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// HandleMessage is the bus entry point. Query responses are published back
// on the bus for request/response callers.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg model.Message) error {
	d, err := o.Handle(ctx, msg)
	if err != nil {
		return err
	}
	for _, e := range d.Effects {
		if e.Kind == model.EffectRespond && e.Response != nil {
			if err := o.bus.Publish(ctx, *e.Response); err != nil {
				return fmt.Errorf("publish response for game %s: %w", e.GameID, err)
			}
		}
	}
	return nil
}

// ParticipantState answers GetParticipantState synchronously
func (o *Orchestrator) ParticipantState(ctx context.Context, gameID model.GameID, participantID model.ParticipantID) (*model.ParticipantStateResponse, error) {
	d, err := o.Handle(ctx, model.GetParticipantState{GameID: gameID, ParticipantID: participantID})
	if err != nil {
		return nil, err
	}
	if d.Outcome == OutcomeNotFound || d.Response == nil {
		return nil, model.ErrGameNotFound
	}
	return d.Response, nil
}

// Messages lists the message types the orchestrator consumes
func Messages() []model.MessageType {
	return []model.MessageType{
		model.MessageCreateGame,
		model.MessageAddParticipant,
		model.MessageStartGame,
		model.MessageQuestionsFetched,
		model.MessageFetchQuestionsFailed,
		model.MessageRetryFetchQuestions,
		model.MessageAnswerQuestion,
		model.MessageCloseCurrentQuestion,
		model.MessageNextQuestion,
		model.MessageGetParticipantState,
	}
}
