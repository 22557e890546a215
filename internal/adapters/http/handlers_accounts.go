package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

func (h *Handler) RegisterBankAccount(w http.ResponseWriter, r *http.Request) {
	var req contracts.RegisterBankAccountRequest
	if err := decodeBody(r, &req); err != nil {
		writeMappedError(r.Context(), w, "register_bank_account", err)
		return
	}
	account, err := h.service.RegisterBankAccount(r.Context(), actorFromContext(r.Context()), application.RegisterBankAccountInput{
		InfluencerID:  req.InfluencerID,
		AccountName:   req.AccountName,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		Currency:      req.Currency,
		Gateway:       domain.GatewayName(req.Gateway),
		RecipientRef:  req.RecipientRef,
		IsDefault:     req.IsDefault,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "register_bank_account", err)
		return
	}
	writeSuccess(w, http.StatusCreated, "bank account registered", account)
}

func (h *Handler) SavePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req contracts.SavePaymentMethodRequest
	if err := decodeBody(r, &req); err != nil {
		writeMappedError(r.Context(), w, "save_payment_method", err)
		return
	}
	method, err := h.service.SavePaymentMethod(r.Context(), actorFromContext(r.Context()), application.SavePaymentMethodInput{
		UserID:    req.UserID,
		Gateway:   domain.GatewayName(req.Gateway),
		Token:     req.Token,
		Brand:     req.Brand,
		Last4:     req.Last4,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "save_payment_method", err)
		return
	}
	writeSuccess(w, http.StatusCreated, "payment method saved", method)
}

func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.ListSettings(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		writeMappedError(r.Context(), w, "list_settings", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", settings)
}

func (h *Handler) GetSetting(w http.ResponseWriter, r *http.Request) {
	setting, err := h.service.GetSetting(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "key"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_setting", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", setting)
}

func (h *Handler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req contracts.UpdateSettingRequest
	if err := decodeBody(r, &req); err != nil {
		writeMappedError(r.Context(), w, "update_setting", err)
		return
	}
	setting, err := h.service.UpdateSetting(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "key"), req.Value)
	if err != nil {
		writeMappedError(r.Context(), w, "update_setting", err)
		return
	}
	writeSuccess(w, http.StatusOK, "setting updated", setting)
}
