package questions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcoot/triviagame/internal/messaging"
	"github.com/mcoot/triviagame/internal/model"
)

// Fetcher answers FetchQuestions requests from a Source.
// Every request produces exactly one reply: QuestionsFetched on success,
// FetchQuestionsFailed on error or an empty result.
type Fetcher struct {
	source  Source
	bus     messaging.Publisher
	count   int
	timeout time.Duration
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher. count is used when a request does not name one.
func NewFetcher(source Source, bus messaging.Publisher, count int, timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		source:  source,
		bus:     bus,
		count:   count,
		timeout: timeout,
		logger:  logger,
	}
}

// HandleMessage is the bus entry point for FetchQuestions
func (f *Fetcher) HandleMessage(ctx context.Context, msg model.Message) error {
	req, ok := msg.(model.FetchQuestions)
	if !ok {
		return fmt.Errorf("%w: fetcher cannot handle %s", model.ErrUnknownMessageType, msg.Type())
	}
	return f.bus.Publish(ctx, f.Fetch(ctx, req))
}

// Fetch calls the source and builds the reply message
func (f *Fetcher) Fetch(ctx context.Context, req model.FetchQuestions) model.Message {
	count := req.Count
	if count <= 0 {
		count = f.count
	}

	fetchCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	logger := f.logger.With(slog.String("game_id", string(req.GameID)))

	qs, err := f.source.Fetch(fetchCtx, count)
	if err == nil && len(qs) == 0 {
		err = model.ErrNoQuestions
	}
	if err != nil {
		logger.Warn("question fetch failed", slog.String("error", err.Error()))
		return model.FetchQuestionsFailed{GameID: req.GameID, Reason: err.Error()}
	}

	for i := range qs {
		qs[i].Index = i
		qs[i].OpenedAt = nil
		qs[i].ClosedAt = nil
	}
	logger.Info("questions fetched", slog.Int("count", len(qs)))
	return model.QuestionsFetched{GameID: req.GameID, Questions: qs}
}
