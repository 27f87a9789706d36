// Package storagetest holds the conformance suite every SagaStore adapter runs.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/storage"
	"github.com/mcoot/triviagame/internal/testutil"
)

// SagaStoreSuite exercises the SagaStore contract.
// Adapters embed it and set NewStore in SetupTest.
type SagaStoreSuite struct {
	suite.Suite
	Store storage.SagaStore
	Ctx   context.Context
}

func (s *SagaStoreSuite) game(id model.GameID) *model.Game {
	return model.NewGame(id, "Friday Quiz", testutil.Epoch, 0, 0)
}

func (s *SagaStoreSuite) TestLoadNotFound() {
	_, _, err := s.Store.Load(s.Ctx, "missing")
	s.ErrorIs(err, model.ErrGameNotFound)
}

func (s *SagaStoreSuite) TestSaveAndLoadRoundTrip() {
	g := s.game("game-1")
	g.Participants = append(g.Participants, testutil.Participant("p1"))
	g.Questions = testutil.Questions(2)
	g.CurrentQuestionIndex = model.IntPtr(0)
	g.Questions[0].OpenedAt = model.TimePtr(testutil.Epoch.Add(time.Second))
	g.State = model.PhaseQuestionOpen
	token := model.NewTimerToken(g.ID, model.MessageCloseCurrentQuestion, 0)
	g.CloseQuestionTimer = &token
	g.Outbox = []model.Effect{model.ScheduleEffect(model.Timer{
		Token:  token,
		GameID: g.ID,
		Kind:   model.MessageCloseCurrentQuestion,
		Delay:  g.AnswerTime,
	})}

	v, err := s.Store.Save(s.Ctx, g, storage.NoVersion)
	s.Require().NoError(err)
	s.NotEqual(storage.NoVersion, v)

	loaded, loadedVersion, err := s.Store.Load(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(v, loadedVersion)
	s.Equal(g.Name, loaded.Name)
	s.Equal(model.PhaseQuestionOpen, loaded.State)
	s.Equal(g.Participants, loaded.Participants)
	s.Require().NotNil(loaded.CurrentQuestionIndex)
	s.Equal(0, *loaded.CurrentQuestionIndex)
	s.Require().NotNil(loaded.Questions[0].OpenedAt)
	s.True(g.Questions[0].OpenedAt.Equal(*loaded.Questions[0].OpenedAt))
	s.Nil(loaded.Questions[1].OpenedAt)
	s.Equal(g.AnswerTime, loaded.AnswerTime)
	s.Require().NotNil(loaded.CloseQuestionTimer)
	s.Equal(token, *loaded.CloseQuestionTimer)
	s.Require().Len(loaded.Outbox, 1)
	s.Equal(model.EffectSchedule, loaded.Outbox[0].Kind)
	s.Equal(g.AnswerTime, loaded.Outbox[0].Timer.Delay)
}

func (s *SagaStoreSuite) TestSaveAdvancesVersion() {
	g := s.game("game-1")
	v1, err := s.Store.Save(s.Ctx, g, storage.NoVersion)
	s.Require().NoError(err)

	g.State = model.PhaseFetchQuestionsPending
	v2, err := s.Store.Save(s.Ctx, g, v1)
	s.Require().NoError(err)
	s.Greater(v2, v1)

	loaded, v, err := s.Store.Load(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(v2, v)
	s.Equal(model.PhaseFetchQuestionsPending, loaded.State)
}

func (s *SagaStoreSuite) TestInsertConflictsWhenGameExists() {
	_, err := s.Store.Save(s.Ctx, s.game("game-1"), storage.NoVersion)
	s.Require().NoError(err)

	_, err = s.Store.Save(s.Ctx, s.game("game-1"), storage.NoVersion)
	s.ErrorIs(err, storage.ErrVersionConflict)
}

func (s *SagaStoreSuite) TestStaleVersionConflicts() {
	g := s.game("game-1")
	v1, err := s.Store.Save(s.Ctx, g, storage.NoVersion)
	s.Require().NoError(err)

	g.State = model.PhaseFetchQuestionsPending
	_, err = s.Store.Save(s.Ctx, g, v1)
	s.Require().NoError(err)

	// second writer still holds v1
	g.State = model.PhaseFinal
	_, err = s.Store.Save(s.Ctx, g, v1)
	s.ErrorIs(err, storage.ErrVersionConflict)

	loaded, _, err := s.Store.Load(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(model.PhaseFetchQuestionsPending, loaded.State)
}

func (s *SagaStoreSuite) TestUpdateOfMissingGameConflicts() {
	_, err := s.Store.Save(s.Ctx, s.game("game-1"), storage.Version(3))
	s.ErrorIs(err, storage.ErrVersionConflict)
}

func (s *SagaStoreSuite) TestConcurrentWritersOnlyOneWins() {
	g := s.game("game-1")
	v, err := s.Store.Save(s.Ctx, g, storage.NoVersion)
	s.Require().NoError(err)

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := g.Clone()
			c.Participants = append(c.Participants, testutil.Participant(string(rune('a'+i))))
			_, err := s.Store.Save(s.Ctx, c, v)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		s.ErrorIs(err, storage.ErrVersionConflict)
	}
	s.Equal(1, wins)
}

func (s *SagaStoreSuite) TestGamesAreIndependent() {
	_, err := s.Store.Save(s.Ctx, s.game("game-1"), storage.NoVersion)
	s.Require().NoError(err)
	_, err = s.Store.Save(s.Ctx, s.game("game-2"), storage.NoVersion)
	s.Require().NoError(err)

	g1, _, err := s.Store.Load(s.Ctx, "game-1")
	s.Require().NoError(err)
	g2, _, err := s.Store.Load(s.Ctx, "game-2")
	s.Require().NoError(err)
	s.Equal(model.GameID("game-1"), g1.ID)
	s.Equal(model.GameID("game-2"), g2.ID)
}
