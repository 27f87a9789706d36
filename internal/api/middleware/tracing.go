package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcoot/triviagame/internal/middleware"
)

const tracerName = "github.com/mcoot/triviagame/internal/api"

// Tracing starts a server span per request, named by the matched route template
func Tracing() func(http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := r.Method + " " + routeTemplate(r)
			ctx, span := tracer.Start(r.Context(), name,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
				))
			defer span.End()

			if id := mux.Vars(r)["id"]; id != "" {
				span.SetAttributes(attribute.String("game.id", id))
			}

			wrapped := middleware.WrapResponseWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", wrapped.Status()))
			if wrapped.Status() >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(wrapped.Status()))
			}
		})
	}
}

// Logging logs each request with its route template
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return middleware.Logging(logger, routeTemplate)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}
