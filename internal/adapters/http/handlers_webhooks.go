package http

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

// ReceiveWebhook acknowledges every recorded delivery with 2xx so the provider
// stops retrying; 202 means the delivery is stored but not yet applied.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")
	gateway, err := h.gateways.ByName(domain.GatewayName(gatewayName))
	if err != nil {
		writeMappedError(r.Context(), w, "receive_webhook", err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeMappedError(r.Context(), w, "receive_webhook", domain.ErrInvalidInput)
		return
	}
	outcome, err := h.service.HandleWebhook(r.Context(), gatewayName, body, r.Header.Get(gateway.SignatureHeader()))
	if err != nil {
		writeMappedError(r.Context(), w, "receive_webhook", err)
		return
	}
	status := http.StatusOK
	if outcome == domain.WebhookOutcomePending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, contracts.WebhookAck{Outcome: outcome})
}
