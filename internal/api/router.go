package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/triviagame/internal/api/handler"
	"github.com/mcoot/triviagame/internal/api/middleware"
	"github.com/mcoot/triviagame/internal/api/response"
	"github.com/mcoot/triviagame/internal/dependencies/clock"
	"github.com/mcoot/triviagame/internal/messaging"
	"github.com/mcoot/triviagame/internal/web/sse"
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger       *slog.Logger
	Publisher    messaging.Publisher
	Querier      handler.StateQuerier
	HubManager   *sse.HubManager
	Clock        clock.Clock
	HealthChecks map[string]HealthCheck
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	gameHandler := handler.NewGameHandler(cfg.Publisher, cfg.Querier, cfg.HubManager, cfg.Clock)

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Tracing())
	r.Use(middleware.Logging(cfg.Logger))

	games := r.PathPrefix("/game").Subrouter()
	games.HandleFunc("/create", gameHandler.Create).Methods(http.MethodGet)
	games.HandleFunc("/{id}/participants", gameHandler.AddParticipant).Methods(http.MethodPost)
	games.HandleFunc("/{id}/start", gameHandler.Start).Methods(http.MethodPost)
	games.HandleFunc("/{id}/answers", gameHandler.Answer).Methods(http.MethodPost)
	games.HandleFunc("/{id}/participants/{pid}/state", gameHandler.State).Methods(http.MethodGet)
	games.HandleFunc("/{id}/events", gameHandler.Events).Methods(http.MethodGet)

	r.HandleFunc("/health", healthHandler(cfg.HealthChecks)).Methods(http.MethodGet)

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK

		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
			for name, check := range checks {
				if err := check(r.Context()); err != nil {
					resp.Checks[name] = err.Error()
					resp.Status = "degraded"
					status = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}

		response.JSON(w, status, resp)
	}
}
