package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	payout, err := h.service.GetPayout(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "payout_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_payout", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", payout)
}

func (h *Handler) ReleasePayout(w http.ResponseWriter, r *http.Request) {
	payout, err := h.service.ReleasePayout(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "payout_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "release_payout", err)
		return
	}
	writeSuccess(w, http.StatusOK, "payout released", payout)
}

func (h *Handler) VoidPayout(w http.ResponseWriter, r *http.Request) {
	var req contracts.VoidPayoutRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeMappedError(r.Context(), w, "void_payout", err)
		return
	}
	payout, err := h.service.VoidPayout(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "payout_id"), req.Reason)
	if err != nil {
		writeMappedError(r.Context(), w, "void_payout", err)
		return
	}
	writeSuccess(w, http.StatusOK, "payout voided", payout)
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req contracts.RequestWithdrawalRequest
	if err := decodeBody(r, &req); err != nil {
		writeMappedError(r.Context(), w, "request_withdrawal", err)
		return
	}
	withdrawal, err := h.service.RequestWithdrawal(r.Context(), actorFromContext(r.Context()), application.RequestWithdrawalInput{
		InfluencerID:  req.InfluencerID,
		AmountInPence: req.AmountInPence,
		BankAccountID: req.BankAccountID,
		Currency:      req.Currency,
	})
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) && withdrawal.WithdrawalID != "" {
			logOperationFailure(r.Context(), "request_withdrawal", http.StatusAccepted, "gateway_unavailable", "withdrawal pending gateway confirmation", err)
			writeSuccess(w, http.StatusAccepted, "withdrawal pending gateway confirmation", withdrawal)
			return
		}
		writeMappedError(r.Context(), w, "request_withdrawal", err)
		return
	}
	status := http.StatusCreated
	if withdrawal.Status == domain.WithdrawalStatusPending {
		status = http.StatusAccepted
	}
	writeSuccess(w, status, "withdrawal requested", withdrawal)
}

func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawal, err := h.service.GetWithdrawal(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "withdrawal_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_withdrawal", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", withdrawal)
}

func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := h.service.ListWithdrawals(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "influencer_id"), r.URL.Query().Get("currency"))
	if err != nil {
		writeMappedError(r.Context(), w, "list_withdrawals", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", withdrawals)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetBalance(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "influencer_id"), r.URL.Query().Get("currency"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_balance", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", balance)
}
