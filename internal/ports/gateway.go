package ports

import (
	"context"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

type ChargeRequest struct {
	AmountMinor     int64
	Currency        string
	PayerInstrument string
	IdempotencyKey  string
	Description     string
}

type ChargeResult struct {
	GatewayRef    string
	Status        domain.GatewayStatus
	RedirectURL   string
	FailureReason string
}

type PayoutRequest struct {
	AmountMinor    int64
	Currency       string
	RecipientRef   string
	IdempotencyKey string
	Narration      string
}

type PayoutResult struct {
	GatewayRef    string
	Status        domain.GatewayStatus
	FailureReason string
}

// WebhookEvent is the provider-neutral view of a parsed gateway callback.
// Reference carries our idempotency key when the provider echoes it back.
type WebhookEvent struct {
	EventID       string
	EventType     string
	Kind          domain.Operation
	GatewayRef    string
	Reference     string
	Status        domain.GatewayStatus
	FailureReason string
}

// Gateway is implemented once per payment provider.
type Gateway interface {
	Name() domain.GatewayName
	SignatureHeader() string
	InitiateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	InitiatePayout(ctx context.Context, req PayoutRequest) (PayoutResult, error)
	GetChargeStatus(ctx context.Context, idempotencyKey string) (ChargeResult, error)
	GetPayoutStatus(ctx context.Context, idempotencyKey string) (PayoutResult, error)
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool
	ParseWebhook(rawBody []byte) (WebhookEvent, error)
}

type SelectionInput struct {
	Currency         string
	Operation        domain.Operation
	PreferredGateway domain.GatewayName
}

type GatewaySelector interface {
	Select(input SelectionInput) (Gateway, error)
	ByName(name domain.GatewayName) (Gateway, error)
}
