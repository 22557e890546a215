package http

import (
	"net/http"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

type Handler struct {
	service  *application.Service
	gateways ports.GatewaySelector
}

func NewHandler(service *application.Service, gateways ports.GatewaySelector) *Handler {
	return &Handler{service: service, gateways: gateways}
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, "", map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, "", map[string]string{"status": "ready"})
}
