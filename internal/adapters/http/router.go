package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func NewRouter(handler *Handler, verifier *TokenVerifier) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLog)

	r.Get("/healthz", handler.Healthz)
	r.Get("/readyz", handler.Readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/{gateway}", handler.ReceiveWebhook)

		r.Group(func(r chi.Router) {
			r.Use(requireRequestID)
			r.Use(authMiddleware(verifier))

			r.Post("/campaigns", handler.RegisterCampaign)
			r.Get("/campaigns/{campaign_id}", handler.GetCampaign)
			r.Post("/campaigns/{campaign_id}/cancel", handler.CancelCampaign)
			r.Post("/campaigns/{campaign_id}/milestones", handler.CreateMilestones)
			r.Get("/campaigns/{campaign_id}/milestones", handler.ListMilestones)

			r.Post("/milestones/{milestone_id}/charge", handler.ChargeMilestone)
			r.Get("/transactions/{transaction_id}", handler.GetTransaction)

			r.Get("/payouts/{payout_id}", handler.GetPayout)
			r.Post("/payouts/{payout_id}/release", handler.ReleasePayout)
			r.Post("/payouts/{payout_id}/void", handler.VoidPayout)

			r.Post("/withdrawals", handler.RequestWithdrawal)
			r.Get("/withdrawals/{withdrawal_id}", handler.GetWithdrawal)
			r.Get("/influencers/{influencer_id}/withdrawals", handler.ListWithdrawals)
			r.Get("/influencers/{influencer_id}/balance", handler.GetBalance)

			r.Post("/bank-accounts", handler.RegisterBankAccount)
			r.Post("/payment-methods", handler.SavePaymentMethod)

			r.Get("/settings", handler.ListSettings)
			r.Get("/settings/{key}", handler.GetSetting)
			r.Put("/settings/{key}", handler.UpdateSetting)

			r.Post("/admin/sweep", handler.RunSweep)
		})
	})

	return r
}
