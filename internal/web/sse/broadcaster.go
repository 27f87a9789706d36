package sse

import (
	"encoding/json"
	"log/slog"

	"github.com/mcoot/triviagame/internal/model"
)

// Broadcaster pushes game notifications to the watchers of each game
type Broadcaster struct {
	hubManager *HubManager
	logger     *slog.Logger
}

// NewBroadcaster creates a new Broadcaster
func NewBroadcaster(hubManager *HubManager, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		hubManager: hubManager,
		logger:     logger.With(slog.String("component", "sse-broadcaster")),
	}
}

// Notify sends the notification to the game's hub, if anyone is watching.
// The event name is the notification type.
func (b *Broadcaster) Notify(n model.Notification) {
	hub := b.hubManager.GetHub(n.GameID)
	if hub == nil {
		return
	}

	data, err := json.Marshal(n)
	if err != nil {
		b.logger.Error("sse failed to encode notification",
			slog.String("game_id", string(n.GameID)),
			slog.Any("error", err))
		return
	}
	hub.BroadcastEvent(string(n.Type), string(data))
}
