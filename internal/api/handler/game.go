package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mcoot/triviagame/internal/api/request"
	"github.com/mcoot/triviagame/internal/api/response"
	"github.com/mcoot/triviagame/internal/dependencies/clock"
	"github.com/mcoot/triviagame/internal/messaging"
	"github.com/mcoot/triviagame/internal/model"
	"github.com/mcoot/triviagame/internal/web/sse"
)

// StateQuerier answers participant state queries synchronously
type StateQuerier interface {
	ParticipantState(ctx context.Context, gameID model.GameID, participantID model.ParticipantID) (*model.ParticipantStateResponse, error)
}

// GameHandler handles game endpoints. Commands are published to the bus and
// acknowledged with 202; only the state query waits for the saga.
type GameHandler struct {
	publisher  messaging.Publisher
	querier    StateQuerier
	hubManager *sse.HubManager
	clock      clock.Clock
}

// NewGameHandler creates a new game handler
func NewGameHandler(publisher messaging.Publisher, querier StateQuerier, hubManager *sse.HubManager, clk clock.Clock) *GameHandler {
	return &GameHandler{
		publisher:  publisher,
		querier:    querier,
		hubManager: hubManager,
		clock:      clk,
	}
}

// Create handles GET /game/create?name=
func (h *GameHandler) Create(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	answerTime, err := optionalSeconds(q.Get("answer_time"))
	if err != nil {
		WriteError(w, NewInvalidRequestError("answer_time must be a positive number of seconds"))
		return
	}
	showResultTime, err := optionalSeconds(q.Get("show_result_time"))
	if err != nil {
		WriteError(w, NewInvalidRequestError("show_result_time must be a positive number of seconds"))
		return
	}

	msg := model.CreateGame{
		GameID:                model.GameID(uuid.NewString()),
		Name:                  q.Get("name"),
		CreatedAt:             h.clock.Now(),
		AnswerTimeSeconds:     answerTime,
		ShowResultTimeSeconds: showResultTime,
	}
	if err := h.publisher.Publish(r.Context(), msg); err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.CreateGameResponse{GameID: string(msg.GameID)})
}

// AddParticipant handles POST /game/{id}/participants
func (h *GameHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	gameID := model.GameID(mux.Vars(r)["id"])

	var req request.AddParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	participant := model.Participant{
		ID:          model.ParticipantID(req.ID),
		DisplayName: req.DisplayName,
		Email:       req.Email,
	}
	if err := participant.Validate(); err != nil {
		WriteError(w, err)
		return
	}

	msg := model.AddParticipant{GameID: gameID, Participant: participant}
	if err := h.publisher.Publish(r.Context(), msg); err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusAccepted, response.Accepted{
		GameID:        string(gameID),
		ParticipantID: req.ID,
		Message:       string(msg.Type()),
	})
}

// Start handles POST /game/{id}/start
func (h *GameHandler) Start(w http.ResponseWriter, r *http.Request) {
	gameID := model.GameID(mux.Vars(r)["id"])

	msg := model.StartGame{GameID: gameID}
	if err := h.publisher.Publish(r.Context(), msg); err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusAccepted, response.Accepted{GameID: string(gameID), Message: string(msg.Type())})
}

// Answer handles POST /game/{id}/answers.
// The submission time is taken from the server clock, never the client.
func (h *GameHandler) Answer(w http.ResponseWriter, r *http.Request) {
	gameID := model.GameID(mux.Vars(r)["id"])

	var req request.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}
	if req.ParticipantID == "" {
		WriteError(w, NewInvalidRequestError("participant_id is required"))
		return
	}
	if req.QuestionIndex == nil || *req.QuestionIndex < 0 {
		WriteError(w, NewInvalidRequestError("question_index is required"))
		return
	}

	msg := model.AnswerQuestion{
		GameID:        gameID,
		ParticipantID: model.ParticipantID(req.ParticipantID),
		QuestionIndex: *req.QuestionIndex,
		Answer:        req.Answer,
		Timestamp:     h.clock.Now(),
	}
	if err := h.publisher.Publish(r.Context(), msg); err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusAccepted, response.Accepted{
		GameID:        string(gameID),
		ParticipantID: req.ParticipantID,
		Message:       string(msg.Type()),
	})
}

// State handles GET /game/{id}/participants/{pid}/state
func (h *GameHandler) State(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	state, err := h.querier.ParticipantState(r.Context(), model.GameID(vars["id"]), model.ParticipantID(vars["pid"]))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.ParticipantStateFromModel(state))
}

// Events handles GET /game/{id}/events?participant=
func (h *GameHandler) Events(w http.ResponseWriter, r *http.Request) {
	gameID := model.GameID(mux.Vars(r)["id"])

	// 404 before opening a stream for a game that doesn't exist
	if _, err := h.querier.ParticipantState(r.Context(), gameID, ""); err != nil {
		WriteError(w, err)
		return
	}

	hub := h.hubManager.GetOrCreateHub(gameID)
	sse.ServeSSE(w, r, hub, model.ParticipantID(r.URL.Query().Get("participant")))
}

func optionalSeconds(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("non-positive duration %d", n)
	}
	return n, nil
}
