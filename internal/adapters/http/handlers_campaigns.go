package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

func (h *Handler) RegisterCampaign(w http.ResponseWriter, r *http.Request) {
	var req contracts.RegisterCampaignRequest
	if err := decodeBody(r, &req); err != nil {
		writeMappedError(r.Context(), w, "register_campaign", err)
		return
	}
	campaign, err := h.service.RegisterCampaign(r.Context(), actorFromContext(r.Context()), application.RegisterCampaignInput{
		CampaignID:         req.CampaignID,
		BrandID:            req.BrandID,
		InfluencerID:       req.InfluencerID,
		TotalAmountInPence: req.TotalAmountInPence,
		Currency:           req.Currency,
		PaymentType:        domain.PaymentType(req.PaymentType),
		IsRecurringEnabled: req.IsRecurringEnabled,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "register_campaign", err)
		return
	}
	writeSuccess(w, http.StatusCreated, "campaign registered", campaign)
}

func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.service.GetCampaign(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "campaign_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_campaign", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", campaign)
}

func (h *Handler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	var req contracts.CancelCampaignRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeMappedError(r.Context(), w, "cancel_campaign", err)
		return
	}
	campaign, err := h.service.CancelCampaign(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "campaign_id"), req.Reason)
	if err != nil {
		writeMappedError(r.Context(), w, "cancel_campaign", err)
		return
	}
	writeSuccess(w, http.StatusOK, "campaign cancelled", campaign)
}

func (h *Handler) CreateMilestones(w http.ResponseWriter, r *http.Request) {
	var req contracts.CreateMilestonesRequest
	if err := decodeBody(r, &req); err != nil {
		writeMappedError(r.Context(), w, "create_milestones", err)
		return
	}
	milestones, err := h.service.CreateMilestones(r.Context(), actorFromContext(r.Context()), application.CreateMilestonesInput{
		CampaignID:   chi.URLParam(r, "campaign_id"),
		Count:        req.Count,
		Amounts:      req.Amounts,
		DueDates:     req.DueDates,
		FirstDueDate: req.FirstDueDate,
		DueInterval:  intervalFromDays(req.IntervalDays),
	})
	if err != nil {
		writeMappedError(r.Context(), w, "create_milestones", err)
		return
	}
	writeSuccess(w, http.StatusCreated, "milestones created", milestones)
}

func (h *Handler) ListMilestones(w http.ResponseWriter, r *http.Request) {
	milestones, err := h.service.ListMilestones(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "campaign_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "list_milestones", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", milestones)
}
