// Package memory provides an in-process timer scheduler.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mcoot/triviagame/internal/dependencies/clock"
	"github.com/mcoot/triviagame/internal/messaging"
	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/scheduler"
)

type entry struct {
	timer model.Timer
	due   time.Time
}

// Scheduler keeps pending timers in memory and fires them from FireDue.
// Due times come from the injected clock so tests can step time manually.
type Scheduler struct {
	mu      sync.Mutex
	pending map[model.TimerToken]entry

	pub    messaging.Publisher
	clock  clock.Clock
	cfg    scheduler.Config
	logger *slog.Logger
}

// Ensure Scheduler implements the interface
var _ scheduler.Scheduler = (*Scheduler)(nil)

// New creates a new in-memory scheduler publishing to pub
func New(pub messaging.Publisher, clk clock.Clock, cfg scheduler.Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pending: make(map[model.TimerToken]entry),
		pub:     pub,
		clock:   clk,
		cfg:     cfg,
		logger:  logger,
	}
}

func (s *Scheduler) Schedule(ctx context.Context, timer model.Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[timer.Token]; ok {
		return nil
	}
	s.pending[timer.Token] = entry{timer: timer, due: s.clock.Now().Add(timer.Delay)}
	return nil
}

func (s *Scheduler) Cancel(ctx context.Context, token model.TimerToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, token)
	return nil
}

// Pending returns the tokens still waiting to fire, ordered by due time
func (s *Scheduler) Pending() []model.TimerToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.sortedLocked()
	tokens := make([]model.TimerToken, len(entries))
	for i, e := range entries {
		tokens[i] = e.timer.Token
	}
	return tokens
}

// FireDue publishes every timer whose due time has passed.
// A timer that fails to publish stays pending for the next call.
func (s *Scheduler) FireDue(ctx context.Context) (int, error) {
	now := s.clock.Now()

	s.mu.Lock()
	var due []entry
	for _, e := range s.sortedLocked() {
		if e.due.After(now) {
			break
		}
		due = append(due, e)
		delete(s.pending, e.timer.Token)
	}
	s.mu.Unlock()

	for i, e := range due {
		if err := scheduler.Deliver(ctx, s.pub, s.logger, e.timer); err != nil {
			s.mu.Lock()
			for _, rest := range due[i:] {
				s.pending[rest.timer.Token] = rest
			}
			s.mu.Unlock()
			return i, err
		}
	}
	return len(due), nil
}

// Run fires due timers every PollInterval until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	return scheduler.Poll(ctx, s.cfg.PollInterval, s.logger, s.FireDue)
}

func (s *Scheduler) sortedLocked() []entry {
	entries := make([]entry, 0, len(s.pending))
	for _, e := range s.pending {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].due.Equal(entries[j].due) {
			return entries[i].timer.Token < entries[j].timer.Token
		}
		return entries[i].due.Before(entries[j].due)
	})
	return entries
}
