package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

const localBankSignatureHeader = "X-Localbank-Signature"

// LocalBankGateway is the domestic rail: tokenised authorisations for charges and
// bank transfers to registered recipients for payouts. The reference we send is the
// provider's idempotency key.
type LocalBankGateway struct {
	client *client
	secret string
}

func NewLocalBankGateway(cfg Config) *LocalBankGateway {
	return &LocalBankGateway{
		client: newClient(domain.GatewayLocalBank, cfg),
		secret: cfg.WebhookSecret,
	}
}

type localBankEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    localBankRecord `json:"data"`
}

type localBankRecord struct {
	ID              json.Number `json:"id"`
	Reference       string      `json:"reference"`
	TransferCode    string      `json:"transfer_code"`
	Status          string      `json:"status"`
	GatewayResponse string      `json:"gateway_response"`
	Reason          string      `json:"reason"`
}

func (g *LocalBankGateway) Name() domain.GatewayName { return domain.GatewayLocalBank }

func (g *LocalBankGateway) SignatureHeader() string { return localBankSignatureHeader }

func (g *LocalBankGateway) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + g.client.apiKey}
}

func (g *LocalBankGateway) InitiateCharge(ctx context.Context, req ports.ChargeRequest) (ports.ChargeResult, error) {
	body := map[string]any{
		"amount":             req.AmountMinor,
		"currency":           strings.ToUpper(req.Currency),
		"authorization_code": req.PayerInstrument,
		"reference":          req.IdempotencyKey,
		"metadata":           map[string]string{"description": req.Description},
	}
	var env localBankEnvelope
	if err := g.client.doJSON(ctx, http.MethodPost, "/transaction/charge_authorization", g.headers(), body, &env); err != nil {
		return ports.ChargeResult{}, err
	}
	return g.chargeResult(env)
}

func (g *LocalBankGateway) GetChargeStatus(ctx context.Context, idempotencyKey string) (ports.ChargeResult, error) {
	var env localBankEnvelope
	path := "/transaction/verify/" + url.PathEscape(idempotencyKey)
	if err := g.client.doJSON(ctx, http.MethodGet, path, g.headers(), nil, &env); err != nil {
		if isNotFound(err) {
			return ports.ChargeResult{Status: domain.GatewayStatusNotFound}, nil
		}
		return ports.ChargeResult{}, err
	}
	return g.chargeResult(env)
}

func (g *LocalBankGateway) chargeResult(env localBankEnvelope) (ports.ChargeResult, error) {
	if !env.Status {
		return ports.ChargeResult{}, &domain.GatewayError{
			Gateway: domain.GatewayLocalBank,
			Code:    "rejected",
			Message: env.Message,
		}
	}
	return ports.ChargeResult{
		GatewayRef:    env.Data.ID.String(),
		Status:        localBankChargeStatus(env.Data.Status),
		FailureReason: env.Data.GatewayResponse,
	}, nil
}

func (g *LocalBankGateway) InitiatePayout(ctx context.Context, req ports.PayoutRequest) (ports.PayoutResult, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    req.AmountMinor,
		"currency":  strings.ToUpper(req.Currency),
		"recipient": req.RecipientRef,
		"reference": req.IdempotencyKey,
		"reason":    req.Narration,
	}
	var env localBankEnvelope
	if err := g.client.doJSON(ctx, http.MethodPost, "/transfer", g.headers(), body, &env); err != nil {
		return ports.PayoutResult{}, err
	}
	return g.payoutResult(env)
}

func (g *LocalBankGateway) GetPayoutStatus(ctx context.Context, idempotencyKey string) (ports.PayoutResult, error) {
	var env localBankEnvelope
	path := "/transfer/verify/" + url.PathEscape(idempotencyKey)
	if err := g.client.doJSON(ctx, http.MethodGet, path, g.headers(), nil, &env); err != nil {
		if isNotFound(err) {
			return ports.PayoutResult{Status: domain.GatewayStatusNotFound}, nil
		}
		return ports.PayoutResult{}, err
	}
	return g.payoutResult(env)
}

func (g *LocalBankGateway) payoutResult(env localBankEnvelope) (ports.PayoutResult, error) {
	if !env.Status {
		return ports.PayoutResult{}, &domain.GatewayError{
			Gateway: domain.GatewayLocalBank,
			Code:    "rejected",
			Message: env.Message,
		}
	}
	return ports.PayoutResult{
		GatewayRef:    env.Data.TransferCode,
		Status:        localBankTransferStatus(env.Data.Status),
		FailureReason: env.Data.Reason,
	}, nil
}

// VerifyWebhookSignature expects hex(HMAC-SHA512(secret, body)).
func (g *LocalBankGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	if g.secret == "" || signatureHeader == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signatureHeader))
	if err != nil {
		return false
	}
	return hmac.Equal(got, computeHMAC(sha512.New, g.secret, rawBody))
}

type localBankWebhook struct {
	Event string          `json:"event"`
	Data  localBankRecord `json:"data"`
}

// ParseWebhook leaves EventID empty: the provider does not send one, so
// deliveries are deduplicated on a digest of the body.
func (g *LocalBankGateway) ParseWebhook(rawBody []byte) (ports.WebhookEvent, error) {
	var hook localBankWebhook
	if err := json.Unmarshal(rawBody, &hook); err != nil {
		return ports.WebhookEvent{}, fmt.Errorf("decode local bank webhook: %w", err)
	}
	event := ports.WebhookEvent{
		EventType: hook.Event,
		Reference: hook.Data.Reference,
	}
	switch hook.Event {
	case "charge.success":
		event.Kind = domain.OperationCharge
		event.GatewayRef = hook.Data.ID.String()
		event.Status = domain.GatewayStatusSucceeded
	case "charge.failed":
		event.Kind = domain.OperationCharge
		event.GatewayRef = hook.Data.ID.String()
		event.Status = domain.GatewayStatusFailed
		event.FailureReason = hook.Data.GatewayResponse
	case "transfer.success", "transfer.failed", "transfer.reversed":
		event.Kind = domain.OperationPayout
		event.GatewayRef = hook.Data.TransferCode
		event.Status = localBankTransferStatus(strings.TrimPrefix(hook.Event, "transfer."))
		event.FailureReason = hook.Data.Reason
	default:
		return event, unsupportedEvent(domain.GatewayLocalBank, hook.Event)
	}
	return event, nil
}

func localBankChargeStatus(status string) domain.GatewayStatus {
	switch status {
	case "success":
		return domain.GatewayStatusSucceeded
	case "failed":
		return domain.GatewayStatusFailed
	case "abandoned", "reversed":
		return domain.GatewayStatusCancelled
	default:
		return domain.GatewayStatusProcessing
	}
}

func localBankTransferStatus(status string) domain.GatewayStatus {
	switch status {
	case "success":
		return domain.GatewayStatusSucceeded
	case "failed":
		return domain.GatewayStatusFailed
	case "reversed":
		return domain.GatewayStatusReversed
	case "abandoned":
		return domain.GatewayStatusCancelled
	default:
		return domain.GatewayStatusProcessing
	}
}

var _ ports.Gateway = (*LocalBankGateway)(nil)
