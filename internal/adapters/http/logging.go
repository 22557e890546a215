package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const serviceName = "M15-Settlement-Engine"

func adapterLogger() *slog.Logger {
	return slog.Default().With("service", serviceName, "module", "http", "layer", "adapter")
}

// callerFields identifies who made the request, when the auth middleware has run.
func callerFields(ctx context.Context) []any {
	fields := []any{"request_id", requestIDFromContext(ctx)}
	if actor := actorFromContext(ctx); actor.SubjectID != "" {
		fields = append(fields, "subject_id", actor.SubjectID, "role", actor.Role)
	}
	return fields
}

func logOperationFailure(ctx context.Context, operation string, statusCode int, code, message string, err error) {
	fields := append([]any{
		"operation", operation,
		"outcome", "failure",
		"status_code", statusCode,
		"error_code", code,
		"message", message,
	}, callerFields(ctx)...)
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	level := slog.LevelWarn
	if statusCode >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	adapterLogger().Log(ctx, level, "settlement api call failed", fields...)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// accessLog writes one line per request keyed by the chi route pattern.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		adapterLogger().InfoContext(r.Context(), "http request served",
			"operation", "serve_http",
			"outcome", outcomeForStatus(rec.status),
			"method", r.Method,
			"route", route,
			"status_code", rec.status,
			"duration_ms", time.Since(started).Milliseconds(),
			"request_id", requestIDFromContext(r.Context()),
		)
	})
}

func outcomeForStatus(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "failure"
	case status >= http.StatusBadRequest:
		return "rejected"
	default:
		return "success"
	}
}
