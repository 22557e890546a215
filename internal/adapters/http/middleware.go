package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/application"
)

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRequestID rejects API mutations without a caller-supplied X-Request-Id.
// Gateway callbacks are mounted outside it.
func requireRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMutatingMethod(r.Method) && strings.TrimSpace(r.Header.Get("X-Request-Id")) == "" {
			writeError(w, http.StatusBadRequest, "missing_request_id", "X-Request-Id is required for mutating operations", requestIDFromContext(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isMutatingMethod(method string) bool {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func authMiddleware(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				logOperationFailure(r.Context(), "authenticate", http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", requestIDFromContext(r.Context()))
				return
			}
			subject, role, err := verifier.Verify(strings.TrimSpace(authHeader[len("bearer "):]))
			if err != nil {
				logOperationFailure(r.Context(), "authenticate", http.StatusUnauthorized, "unauthorized", "invalid bearer token", err)
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token", requestIDFromContext(r.Context()))
				return
			}
			actor := application.Actor{
				SubjectID:      subject,
				Role:           role,
				RequestID:      requestIDFromContext(r.Context()),
				IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
			}
			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func actorFromContext(ctx context.Context) application.Actor {
	if value := ctx.Value(actorKey); value != nil {
		if actor, ok := value.(application.Actor); ok {
			return actor
		}
	}
	return application.Actor{}
}

func requestIDFromContext(ctx context.Context) string {
	if value := ctx.Value(requestIDKey); value != nil {
		if requestID, ok := value.(string); ok {
			return requestID
		}
	}
	return ""
}
