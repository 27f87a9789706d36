// Package factory wires the service's components from configuration.
package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/triviagame/internal/api"
	"github.com/mcoot/triviagame/internal/config"
	"github.com/mcoot/triviagame/internal/dependencies/clock"
	"github.com/mcoot/triviagame/internal/dependencies/random"
	"github.com/mcoot/triviagame/internal/messaging"
	memorybus "github.com/mcoot/triviagame/internal/messaging/memory"
	redisbus "github.com/mcoot/triviagame/internal/messaging/redis"
	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/scheduler"
	memoryscheduler "github.com/mcoot/triviagame/internal/scheduler/memory"
	redisscheduler "github.com/mcoot/triviagame/internal/scheduler/redis"
	"github.com/mcoot/triviagame/internal/services/game"
	"github.com/mcoot/triviagame/internal/services/questions"
	"github.com/mcoot/triviagame/internal/services/questions/opentdb"
	"github.com/mcoot/triviagame/internal/services/questions/triviaapi"
	"github.com/mcoot/triviagame/internal/storage"
	"github.com/mcoot/triviagame/internal/storage/memory"
	"github.com/mcoot/triviagame/internal/storage/postgres"
	redisstorage "github.com/mcoot/triviagame/internal/storage/redis"
	"github.com/mcoot/triviagame/internal/storage/sqlite"
	"github.com/mcoot/triviagame/internal/web/sse"
)

// hubCleanupInterval is how often hubs nobody is watching are dropped
const hubCleanupInterval = time.Minute

// RunnableScheduler is a scheduler with its own polling loop
type RunnableScheduler interface {
	scheduler.Scheduler
	Run(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// App contains all wired application components
type App struct {
	Config config.Config
	Logger *slog.Logger

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Infrastructure
	Store     storage.SagaStore
	Bus       messaging.Bus
	Scheduler RunnableScheduler
	Source    questions.Source

	// Services
	Orchestrator *game.Orchestrator
	Fetcher      *questions.Fetcher
	Router       *messaging.Router
	HubManager   *sse.HubManager
	Broadcaster  *sse.Broadcaster
	Handler      http.Handler

	healthChecks map[string]api.HealthCheck
	closers      []io.Closer
}

// Dependencies are the pieces New chooses from configuration
type Dependencies struct {
	Store     storage.SagaStore
	Bus       messaging.Bus
	Scheduler RunnableScheduler
	Source    questions.Source
	Clock     clock.Clock
	Random    random.Random
}

// New creates an application with every backend chosen by cfg
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clk := clock.New()
	rnd := random.New()

	var (
		closers      []io.Closer
		redisClient  *redis.Client
		healthChecks = map[string]api.HealthCheck{}
	)
	fail := func(err error) (*App, error) {
		_ = closeAll(closers, logger)
		return nil, err
	}

	if cfg.UsesRedis() {
		client, err := redisstorage.Connect(cfg.Redis)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		redisClient = client
		healthChecks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	store, err := newStore(ctx, cfg, redisClient, clk)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return fail(err)
	}
	switch {
	case cfg.Store.Kind == config.KindRedis:
		// the redis store owns the shared client
		closers = append(closers, store)
	case redisClient != nil:
		closers = append(closers, redisClient, store)
	default:
		closers = append(closers, store)
	}
	if p, ok := store.(pinger); ok {
		healthChecks["store"] = p.Ping
	}

	var (
		bus   messaging.Bus
		sched RunnableScheduler
	)
	switch cfg.Bus.Kind {
	case config.KindRedis:
		streamBus := redisbus.New(redisClient, cfg.Bus.Redis, cfg.Bus.Delivery, clk, logger.With(slog.String("component", "bus")))
		if err := streamBus.EnsureGroup(ctx); err != nil {
			return fail(fmt.Errorf("create consumer group: %w", err))
		}
		bus = streamBus
		sched = redisscheduler.New(redisClient, cfg.Redis.KeyPrefix, bus, clk, cfg.Scheduler, logger.With(slog.String("component", "scheduler")))
	default:
		bus = memorybus.New(cfg.Bus.Delivery, clk, logger.With(slog.String("component", "bus")))
		sched = memoryscheduler.New(bus, clk, cfg.Scheduler, logger.With(slog.String("component", "scheduler")))
	}
	closers = append(closers, bus)

	source, err := newSource(cfg.Questions, rnd)
	if err != nil {
		return fail(err)
	}

	app := newWithDependencies(cfg, Dependencies{
		Store:     store,
		Bus:       bus,
		Scheduler: sched,
		Source:    source,
		Clock:     clk,
		Random:    rnd,
	}, logger, healthChecks)
	app.closers = closers
	return app, nil
}

func newStore(ctx context.Context, cfg config.Config, client *redis.Client, clk clock.Clock) (storage.SagaStore, error) {
	switch cfg.Store.Kind {
	case config.KindRedis:
		return redisstorage.NewWithClient(client, cfg.Redis), nil
	case config.KindSQLite:
		return sqlite.Open(cfg.Store.SQLitePath, clk)
	case config.KindPostgres:
		if err := postgres.Migrate(ctx, cfg.Store.PostgresURL); err != nil {
			return nil, err
		}
		return postgres.Open(ctx, cfg.Store.PostgresURL)
	case config.KindMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}

func newSource(cfg config.QuestionsConfig, rnd random.Random) (questions.Source, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Source {
	case config.SourceTriviaAPI:
		return triviaapi.NewClient(httpClient, cfg.TriviaAPIURL), nil
	case config.SourceOpenTDB:
		return opentdb.NewClient(httpClient, cfg.OpenTDBURL), nil
	case config.SourceBank:
		if cfg.BankPath == "" {
			return questions.NewBank(rnd)
		}
		bank := questions.NewBankWithQuestions(rnd, nil)
		if err := bank.LoadFromFile(cfg.BankPath); err != nil {
			return nil, err
		}
		return bank, nil
	default:
		return nil, fmt.Errorf("unknown question source %q", cfg.Source)
	}
}

// newWithDependencies wires services over the given infrastructure
func newWithDependencies(cfg config.Config, deps Dependencies, logger *slog.Logger, healthChecks map[string]api.HealthCheck) *App {
	hubManager := sse.NewHubManager(logger)
	broadcaster := sse.NewBroadcaster(hubManager, logger)

	orchestrator := game.NewOrchestrator(
		deps.Store,
		deps.Bus,
		deps.Scheduler,
		broadcaster,
		deps.Clock,
		deps.Random,
		cfg.Game,
		cfg.Orchestrator,
		logger.With(slog.String("component", "orchestrator")),
	)
	fetcher := questions.NewFetcher(
		deps.Source,
		deps.Bus,
		cfg.Game.QuestionCount,
		cfg.Questions.Timeout,
		logger.With(slog.String("component", "questions")),
	)

	router := messaging.NewRouter(logger.With(slog.String("component", "router")))
	router.Handle(orchestrator.HandleMessage, game.Messages()...)
	router.Handle(fetcher.HandleMessage, model.MessageFetchQuestions)

	handler := api.NewRouter(api.RouterConfig{
		Logger:       logger,
		Publisher:    deps.Bus,
		Querier:      orchestrator,
		HubManager:   hubManager,
		Clock:        deps.Clock,
		HealthChecks: healthChecks,
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Clock:        deps.Clock,
		Random:       deps.Random,
		Store:        deps.Store,
		Bus:          deps.Bus,
		Scheduler:    deps.Scheduler,
		Source:       deps.Source,
		Orchestrator: orchestrator,
		Fetcher:      fetcher,
		Router:       router,
		HubManager:   hubManager,
		Broadcaster:  broadcaster,
		Handler:      handler,
		healthChecks: healthChecks,
	}
}

// RunWorkers consumes the bus and fires timers until ctx is cancelled
func (a *App) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Bus.Run(ctx, a.Router.Deliver)
	})
	g.Go(func() error {
		return a.Scheduler.Run(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(hubCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.HubManager.CleanupEmptyHubs()
			}
		}
	})

	return ignoreCancel(g.Wait())
}

// Serve runs the HTTP server alongside the workers until ctx is cancelled
func (a *App) Serve(ctx context.Context) error {
	server := api.NewServer(a.Handler, a.Config.Server, a.Logger)
	server.RegisterOnShutdown(a.HubManager.CloseAll)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})
	g.Go(func() error {
		return a.RunWorkers(ctx)
	})
	return ignoreCancel(g.Wait())
}

// Close releases every backend connection
func (a *App) Close() error {
	a.HubManager.CloseAll()
	return closeAll(a.closers, a.Logger)
}

func closeAll(closers []io.Closer, logger *slog.Logger) error {
	var errs []error
	// reverse order of creation
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Warn("close failed", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
