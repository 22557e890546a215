package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

// ChargeMilestone answers 202 with the pending transaction when the gateway could
// not be reached; the sweep settles it by status lookup.
func (h *Handler) ChargeMilestone(w http.ResponseWriter, r *http.Request) {
	txn, err := h.service.ChargeMilestone(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "milestone_id"))
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) && txn.TransactionID != "" {
			logOperationFailure(r.Context(), "charge_milestone", http.StatusAccepted, "gateway_unavailable", "charge pending gateway confirmation", err)
			writeSuccess(w, http.StatusAccepted, "charge pending gateway confirmation", txn)
			return
		}
		writeMappedError(r.Context(), w, "charge_milestone", err)
		return
	}
	status := http.StatusOK
	if txn.Status == domain.TransactionStatusPending || txn.Status == domain.TransactionStatusProcessing {
		status = http.StatusAccepted
	}
	writeSuccess(w, status, "charge submitted", txn)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.service.GetTransaction(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "transaction_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_transaction", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", txn)
}

func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor.Role != application.RoleAdmin {
		writeMappedError(r.Context(), w, "run_sweep", domain.ErrForbidden)
		return
	}
	report, err := h.service.RunSweep(r.Context())
	if err != nil {
		writeMappedError(r.Context(), w, "run_sweep", err)
		return
	}
	writeSuccess(w, http.StatusOK, "sweep completed", report)
}
