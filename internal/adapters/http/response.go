package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, contracts.SuccessResponse{
		Status:  "success",
		Message: message,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	writeJSON(w, status, contracts.ErrorResponse{
		Status: "error",
		Error: contracts.ErrorPayload{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	})
}

func writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status, code := mapDomainError(err)
	message := err.Error()
	if status >= 500 {
		message = "internal error"
	}
	logOperationFailure(ctx, operation, status, code, message, err)
	writeError(w, status, code, message, requestIDFromContext(ctx))
}

func mapDomainError(err error) (status int, code string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrUnknownGateway):
		return http.StatusNotFound, "unknown_gateway"
	case errors.Is(err, domain.ErrIdempotencyRequired):
		return http.StatusBadRequest, "idempotency_key_required"
	case errors.Is(err, domain.ErrMilestoneSumMismatch):
		return http.StatusUnprocessableEntity, "milestone_sum_mismatch"
	case errors.Is(err, domain.ErrUnsupportedCurrency):
		return http.StatusUnprocessableEntity, "unsupported_currency"
	case errors.Is(err, domain.ErrUnsupportedEventType):
		return http.StatusBadRequest, "unsupported_event_type"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, domain.ErrPaymentMethodRequired):
		return http.StatusUnprocessableEntity, "payment_method_required"
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict"
	case errors.Is(err, domain.ErrChargeInFlight):
		return http.StatusConflict, "charge_in_flight"
	case errors.Is(err, domain.ErrMilestonesExist):
		return http.StatusConflict, "milestones_exist"
	case errors.Is(err, domain.ErrCampaignNotActive):
		return http.StatusConflict, "campaign_not_active"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrLocked):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "gateway_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
