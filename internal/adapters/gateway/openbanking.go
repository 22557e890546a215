package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

const openBankingSignatureHeader = "X-OB-Signature"

// OpenBankingGateway initiates account-to-account payments; the payer usually
// authorises in their banking app, so charges start out processing with a redirect.
type OpenBankingGateway struct {
	client *client
	secret string
}

func NewOpenBankingGateway(cfg Config) *OpenBankingGateway {
	return &OpenBankingGateway{
		client: newClient(domain.GatewayOpenBanking, cfg),
		secret: cfg.WebhookSecret,
	}
}

type openBankingAmount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

type openBankingResource struct {
	ID            string `json:"id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	AuthURI       string `json:"auth_uri,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (g *OpenBankingGateway) Name() domain.GatewayName { return domain.GatewayOpenBanking }

func (g *OpenBankingGateway) SignatureHeader() string { return openBankingSignatureHeader }

func (g *OpenBankingGateway) headers(idempotencyKey string) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + g.client.apiKey}
	if idempotencyKey != "" {
		h["X-Idempotency-Key"] = idempotencyKey
	}
	return h
}

func (g *OpenBankingGateway) InitiateCharge(ctx context.Context, req ports.ChargeRequest) (ports.ChargeResult, error) {
	body := map[string]any{
		"amount":          openBankingAmount{Value: req.AmountMinor, Currency: strings.ToUpper(req.Currency)},
		"reference":       req.IdempotencyKey,
		"payer_mandate":   req.PayerInstrument,
		"remittance_info": req.Description,
	}
	var payment openBankingResource
	if err := g.client.doJSON(ctx, http.MethodPost, "/payments", g.headers(req.IdempotencyKey), body, &payment); err != nil {
		return ports.ChargeResult{}, err
	}
	return ports.ChargeResult{
		GatewayRef:    payment.ID,
		Status:        openBankingStatus(payment.Status),
		RedirectURL:   payment.AuthURI,
		FailureReason: payment.FailureReason,
	}, nil
}

func (g *OpenBankingGateway) GetChargeStatus(ctx context.Context, idempotencyKey string) (ports.ChargeResult, error) {
	var payment openBankingResource
	path := "/payments/reference/" + url.PathEscape(idempotencyKey)
	if err := g.client.doJSON(ctx, http.MethodGet, path, g.headers(""), nil, &payment); err != nil {
		if isNotFound(err) {
			return ports.ChargeResult{Status: domain.GatewayStatusNotFound}, nil
		}
		return ports.ChargeResult{}, err
	}
	return ports.ChargeResult{
		GatewayRef:    payment.ID,
		Status:        openBankingStatus(payment.Status),
		RedirectURL:   payment.AuthURI,
		FailureReason: payment.FailureReason,
	}, nil
}

func (g *OpenBankingGateway) InitiatePayout(ctx context.Context, req ports.PayoutRequest) (ports.PayoutResult, error) {
	body := map[string]any{
		"amount":          openBankingAmount{Value: req.AmountMinor, Currency: strings.ToUpper(req.Currency)},
		"reference":       req.IdempotencyKey,
		"beneficiary_id":  req.RecipientRef,
		"remittance_info": req.Narration,
	}
	var payout openBankingResource
	if err := g.client.doJSON(ctx, http.MethodPost, "/payouts", g.headers(req.IdempotencyKey), body, &payout); err != nil {
		return ports.PayoutResult{}, err
	}
	return ports.PayoutResult{
		GatewayRef:    payout.ID,
		Status:        openBankingStatus(payout.Status),
		FailureReason: payout.FailureReason,
	}, nil
}

func (g *OpenBankingGateway) GetPayoutStatus(ctx context.Context, idempotencyKey string) (ports.PayoutResult, error) {
	var payout openBankingResource
	path := "/payouts/reference/" + url.PathEscape(idempotencyKey)
	if err := g.client.doJSON(ctx, http.MethodGet, path, g.headers(""), nil, &payout); err != nil {
		if isNotFound(err) {
			return ports.PayoutResult{Status: domain.GatewayStatusNotFound}, nil
		}
		return ports.PayoutResult{}, err
	}
	return ports.PayoutResult{
		GatewayRef:    payout.ID,
		Status:        openBankingStatus(payout.Status),
		FailureReason: payout.FailureReason,
	}, nil
}

// VerifyWebhookSignature expects base64(HMAC-SHA256(secret, body)).
func (g *OpenBankingGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	if g.secret == "" || signatureHeader == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureHeader))
	if err != nil {
		return false
	}
	return hmac.Equal(got, computeHMAC(sha256.New, g.secret, rawBody))
}

type openBankingWebhook struct {
	EventID   string              `json:"event_id"`
	EventType string              `json:"event_type"`
	Resource  openBankingResource `json:"resource"`
}

func (g *OpenBankingGateway) ParseWebhook(rawBody []byte) (ports.WebhookEvent, error) {
	var hook openBankingWebhook
	if err := json.Unmarshal(rawBody, &hook); err != nil {
		return ports.WebhookEvent{}, fmt.Errorf("decode open banking webhook: %w", err)
	}
	event := ports.WebhookEvent{
		EventID:       hook.EventID,
		EventType:     hook.EventType,
		GatewayRef:    hook.Resource.ID,
		Reference:     hook.Resource.Reference,
		Status:        openBankingStatus(hook.Resource.Status),
		FailureReason: hook.Resource.FailureReason,
	}
	switch hook.EventType {
	case "payment.status_changed":
		event.Kind = domain.OperationCharge
	case "payout.status_changed":
		event.Kind = domain.OperationPayout
	default:
		return event, unsupportedEvent(domain.GatewayOpenBanking, hook.EventType)
	}
	return event, nil
}

func openBankingStatus(status string) domain.GatewayStatus {
	switch strings.ToUpper(status) {
	case "EXECUTED", "SETTLED":
		return domain.GatewayStatusSucceeded
	case "FAILED", "REJECTED":
		return domain.GatewayStatusFailed
	case "CANCELLED", "EXPIRED":
		return domain.GatewayStatusCancelled
	case "RETURNED":
		return domain.GatewayStatusReversed
	default:
		return domain.GatewayStatusProcessing
	}
}

var _ ports.Gateway = (*OpenBankingGateway)(nil)
