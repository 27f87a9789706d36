package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/triviagame/internal/dependencies/mocks"
	"github.com/mcoot/triviagame/internal/messaging"
	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/testutil"
)

type BusSuite struct {
	suite.Suite
	bus    *Bus
	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

func TestBusSuite(t *testing.T) {
	suite.Run(t, new(BusSuite))
}

func (s *BusSuite) SetupTest() {
	cfg := messaging.DefaultConfig()
	cfg.MaxDeliveries = 3
	cfg.RedeliveryBackoff = time.Millisecond
	s.bus = New(cfg, mocks.NewMockClock(testutil.Epoch), testutil.NopLogger())
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

func (s *BusSuite) TearDownTest() {
	s.cancel()
	_ = s.bus.Close()
	if s.done != nil {
		<-s.done
	}
}

func (s *BusSuite) run(h messaging.EnvelopeHandler) {
	s.done = make(chan error, 1)
	go func() { s.done <- s.bus.Run(s.ctx, h) }()
}

func (s *BusSuite) TestDeliversPublishedMessages() {
	var mu sync.Mutex
	var got []model.GameID
	s.run(func(ctx context.Context, env model.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, env.GameID)
		return nil
	})

	s.Require().NoError(s.bus.Publish(s.ctx, model.StartGame{GameID: "g1"}))
	s.Require().NoError(s.bus.Publish(s.ctx, model.StartGame{GameID: "g2"}))
	s.bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	s.ElementsMatch([]model.GameID{"g1", "g2"}, got)
}

func (s *BusSuite) TestEnvelopeCarriesTypeAndTimestamp() {
	received := make(chan model.Envelope, 1)
	s.run(func(ctx context.Context, env model.Envelope) error {
		received <- env
		return nil
	})

	s.Require().NoError(s.bus.Publish(s.ctx, model.StartGame{GameID: "g1"}))
	env := <-received
	s.Equal(model.MessageStartGame, env.Type)
	s.Equal(testutil.Epoch, env.PublishedAt)
	s.NotEmpty(env.ID)
}

func (s *BusSuite) TestRedeliversUntilSuccess() {
	var calls atomic.Int32
	s.run(func(ctx context.Context, env model.Envelope) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	s.Require().NoError(s.bus.Publish(s.ctx, model.StartGame{GameID: "g1"}))
	s.bus.Drain()

	s.Equal(int32(3), calls.Load())
	s.Empty(s.bus.DeadLetters())
}

func (s *BusSuite) TestDeadLettersAfterMaxDeliveries() {
	var calls atomic.Int32
	s.run(func(ctx context.Context, env model.Envelope) error {
		calls.Add(1)
		return errors.New("always fails")
	})

	s.Require().NoError(s.bus.Publish(s.ctx, model.StartGame{GameID: "g1"}))
	s.bus.Drain()

	s.Equal(int32(3), calls.Load())
	dead := s.bus.DeadLetters()
	s.Require().Len(dead, 1)
	s.Equal(model.GameID("g1"), dead[0].GameID)
}

func (s *BusSuite) TestPublishAfterClose() {
	s.Require().NoError(s.bus.Close())
	err := s.bus.Publish(s.ctx, model.StartGame{GameID: "g1"})
	s.ErrorIs(err, messaging.ErrClosed)
}
