package factory

import (
	"github.com/mcoot/triviagame/internal/config"
	"github.com/mcoot/triviagame/internal/dependencies/mocks"
	memorybus "github.com/mcoot/triviagame/internal/messaging/memory"
	memoryscheduler "github.com/mcoot/triviagame/internal/scheduler/memory"
	"github.com/mcoot/triviagame/internal/services/questions"
	"github.com/mcoot/triviagame/internal/storage/memory"
	"github.com/mcoot/triviagame/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom

	// In-memory backends, exposed so tests can step them
	MemoryStore     *memory.Storage
	MemoryBus       *memorybus.Bus
	MemoryScheduler *memoryscheduler.Scheduler
}

// NewTestApp creates an App on in-memory backends with a mocked clock and
// random source. A nil source serves testutil questions from a bank.
func NewTestApp(cfg config.Config, source questions.Source) *TestApp {
	logger := testutil.NopLogger()
	mockClock := mocks.NewMockClock(testutil.Epoch)
	mockRandom := mocks.NewMockRandom()

	if source == nil {
		source = questions.NewBankWithQuestions(mockRandom, testutil.Questions(cfg.Game.QuestionCount))
	}

	store := memory.New()
	bus := memorybus.New(cfg.Bus.Delivery, mockClock, logger)
	sched := memoryscheduler.New(bus, mockClock, cfg.Scheduler, logger)

	app := newWithDependencies(cfg, Dependencies{
		Store:     store,
		Bus:       bus,
		Scheduler: sched,
		Source:    source,
		Clock:     mockClock,
		Random:    mockRandom,
	}, logger, nil)

	return &TestApp{
		App:             app,
		MockClock:       mockClock,
		MockRandom:      mockRandom,
		MemoryStore:     store,
		MemoryBus:       bus,
		MemoryScheduler: sched,
	}
}
