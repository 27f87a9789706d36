package sse

import (
	"net/http"
	"time"

	"github.com/mcoot/triviagame/internal/model"
)

const (
	// Time between keepalive comments
	pingPeriod = 30 * time.Second

	sendBufferSize = 64
)

// Client is one connected event stream
type Client struct {
	hub           *Hub
	participantID model.ParticipantID
	send          chan []byte
	connectedAt   time.Time
}

// NewClient creates a new SSE client. participantID may be empty for spectators.
func NewClient(hub *Hub, participantID model.ParticipantID) *Client {
	return &Client{
		hub:           hub,
		participantID: participantID,
		send:          make(chan []byte, sendBufferSize),
		connectedAt:   time.Now(),
	}
}

// ServeSSE streams hub events to the response until the request ends or the hub closes
func ServeSSE(w http.ResponseWriter, r *http.Request, hub *Hub, participantID model.ParticipantID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	client := NewClient(hub, participantID)
	if !hub.Register(client) {
		http.Error(w, "Game stream closed", http.StatusGone)
		return
	}
	defer hub.Unregister(client)

	_, _ = w.Write([]byte("event: connected\ndata: {\"gameId\":\"" + string(hub.gameID) + "\"}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			if _, err := w.Write(message); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
