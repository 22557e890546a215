package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

const (
	cardSignatureHeader    = "Card-Signature"
	cardSignatureTolerance = 5 * time.Minute
)

// CardGateway talks to the card processor: payment intents for charges and
// connected-account transfers for payouts.
type CardGateway struct {
	client *client
	secret string
	nowFn  func() time.Time
}

func NewCardGateway(cfg Config) *CardGateway {
	return &CardGateway{
		client: newClient(domain.GatewayCard, cfg),
		secret: cfg.WebhookSecret,
		nowFn:  time.Now,
	}
}

type cardIntent struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error,omitempty"`
	NextAction *struct {
		RedirectToURL struct {
			URL string `json:"url"`
		} `json:"redirect_to_url"`
	} `json:"next_action,omitempty"`
	Metadata map[string]string `json:"metadata"`
}

type cardTransfer struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	FailureMessage string            `json:"failure_message"`
	Metadata       map[string]string `json:"metadata"`
}

func (g *CardGateway) Name() domain.GatewayName { return domain.GatewayCard }

func (g *CardGateway) SignatureHeader() string { return cardSignatureHeader }

func (g *CardGateway) headers(idempotencyKey string) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + g.client.apiKey}
	if idempotencyKey != "" {
		h["Idempotency-Key"] = idempotencyKey
	}
	return h
}

func (g *CardGateway) InitiateCharge(ctx context.Context, req ports.ChargeRequest) (ports.ChargeResult, error) {
	body := map[string]any{
		"amount":         req.AmountMinor,
		"currency":       strings.ToLower(req.Currency),
		"payment_method": req.PayerInstrument,
		"confirm":        true,
		"off_session":    true,
		"description":    req.Description,
		"metadata":       map[string]string{"reference": req.IdempotencyKey},
	}
	var intent cardIntent
	if err := g.client.doJSON(ctx, http.MethodPost, "/v1/payment_intents", g.headers(req.IdempotencyKey), body, &intent); err != nil {
		return ports.ChargeResult{}, err
	}
	return cardChargeResult(intent), nil
}

func (g *CardGateway) GetChargeStatus(ctx context.Context, idempotencyKey string) (ports.ChargeResult, error) {
	var intent cardIntent
	path := "/v1/payment_intents/by_reference/" + url.PathEscape(idempotencyKey)
	if err := g.client.doJSON(ctx, http.MethodGet, path, g.headers(""), nil, &intent); err != nil {
		if isNotFound(err) {
			return ports.ChargeResult{Status: domain.GatewayStatusNotFound}, nil
		}
		return ports.ChargeResult{}, err
	}
	return cardChargeResult(intent), nil
}

func (g *CardGateway) InitiatePayout(ctx context.Context, req ports.PayoutRequest) (ports.PayoutResult, error) {
	body := map[string]any{
		"amount":      req.AmountMinor,
		"currency":    strings.ToLower(req.Currency),
		"destination": req.RecipientRef,
		"description": req.Narration,
		"metadata":    map[string]string{"reference": req.IdempotencyKey},
	}
	var transfer cardTransfer
	if err := g.client.doJSON(ctx, http.MethodPost, "/v1/transfers", g.headers(req.IdempotencyKey), body, &transfer); err != nil {
		return ports.PayoutResult{}, err
	}
	return ports.PayoutResult{
		GatewayRef:    transfer.ID,
		Status:        cardTransferStatus(transfer.Status),
		FailureReason: transfer.FailureMessage,
	}, nil
}

func (g *CardGateway) GetPayoutStatus(ctx context.Context, idempotencyKey string) (ports.PayoutResult, error) {
	var transfer cardTransfer
	path := "/v1/transfers/by_reference/" + url.PathEscape(idempotencyKey)
	if err := g.client.doJSON(ctx, http.MethodGet, path, g.headers(""), nil, &transfer); err != nil {
		if isNotFound(err) {
			return ports.PayoutResult{Status: domain.GatewayStatusNotFound}, nil
		}
		return ports.PayoutResult{}, err
	}
	return ports.PayoutResult{
		GatewayRef:    transfer.ID,
		Status:        cardTransferStatus(transfer.Status),
		FailureReason: transfer.FailureMessage,
	}, nil
}

// VerifyWebhookSignature checks a "t=<unix>,v1=<hex>" header where v1 is
// HMAC-SHA256 over "<t>.<body>". Stale timestamps are rejected.
func (g *CardGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	if g.secret == "" || signatureHeader == "" {
		return false
	}
	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(signatureHeader, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || len(signatures) == 0 {
		return false
	}
	age := g.nowFn().Sub(time.Unix(unix, 0))
	if age > cardSignatureTolerance || age < -cardSignatureTolerance {
		return false
	}
	expected := computeHMAC(sha256.New, g.secret, []byte(timestamp), []byte("."), rawBody)
	for _, candidate := range signatures {
		got, err := hex.DecodeString(candidate)
		if err == nil && hmac.Equal(got, expected) {
			return true
		}
	}
	return false
}

type cardWebhook struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (g *CardGateway) ParseWebhook(rawBody []byte) (ports.WebhookEvent, error) {
	var hook cardWebhook
	if err := json.Unmarshal(rawBody, &hook); err != nil {
		return ports.WebhookEvent{}, fmt.Errorf("decode card webhook: %w", err)
	}
	event := ports.WebhookEvent{EventID: hook.ID, EventType: hook.Type}
	kind, _, _ := strings.Cut(hook.Type, ".")
	switch kind {
	case "payment_intent":
		var intent cardIntent
		if err := json.Unmarshal(hook.Data.Object, &intent); err != nil {
			return ports.WebhookEvent{}, fmt.Errorf("decode card payment intent: %w", err)
		}
		status, ok := cardIntentEventStatus(hook.Type)
		if !ok {
			return event, unsupportedEvent(domain.GatewayCard, hook.Type)
		}
		event.Kind = domain.OperationCharge
		event.GatewayRef = intent.ID
		event.Reference = intent.Metadata["reference"]
		event.Status = status
		if intent.LastPaymentError != nil {
			event.FailureReason = intent.LastPaymentError.Message
		}
	case "transfer":
		var transfer cardTransfer
		if err := json.Unmarshal(hook.Data.Object, &transfer); err != nil {
			return ports.WebhookEvent{}, fmt.Errorf("decode card transfer: %w", err)
		}
		status, ok := cardTransferEventStatus(hook.Type)
		if !ok {
			return event, unsupportedEvent(domain.GatewayCard, hook.Type)
		}
		event.Kind = domain.OperationPayout
		event.GatewayRef = transfer.ID
		event.Reference = transfer.Metadata["reference"]
		event.Status = status
		event.FailureReason = transfer.FailureMessage
	default:
		return event, unsupportedEvent(domain.GatewayCard, hook.Type)
	}
	return event, nil
}

func cardChargeResult(intent cardIntent) ports.ChargeResult {
	out := ports.ChargeResult{GatewayRef: intent.ID, Status: cardIntentStatus(intent.Status)}
	if intent.NextAction != nil {
		out.RedirectURL = intent.NextAction.RedirectToURL.URL
	}
	if intent.LastPaymentError != nil {
		out.FailureReason = intent.LastPaymentError.Message
	}
	return out
}

func cardIntentStatus(status string) domain.GatewayStatus {
	switch status {
	case "succeeded":
		return domain.GatewayStatusSucceeded
	case "canceled":
		return domain.GatewayStatusCancelled
	case "requires_payment_method":
		return domain.GatewayStatusFailed
	default:
		return domain.GatewayStatusProcessing
	}
}

func cardIntentEventStatus(eventType string) (domain.GatewayStatus, bool) {
	switch eventType {
	case "payment_intent.succeeded":
		return domain.GatewayStatusSucceeded, true
	case "payment_intent.payment_failed":
		return domain.GatewayStatusFailed, true
	case "payment_intent.canceled":
		return domain.GatewayStatusCancelled, true
	case "payment_intent.processing", "payment_intent.requires_action":
		return domain.GatewayStatusProcessing, true
	default:
		return "", false
	}
}

func cardTransferStatus(status string) domain.GatewayStatus {
	switch status {
	case "paid":
		return domain.GatewayStatusSucceeded
	case "failed":
		return domain.GatewayStatusFailed
	case "canceled":
		return domain.GatewayStatusCancelled
	case "reversed":
		return domain.GatewayStatusReversed
	default:
		return domain.GatewayStatusProcessing
	}
}

func cardTransferEventStatus(eventType string) (domain.GatewayStatus, bool) {
	switch eventType {
	case "transfer.paid":
		return domain.GatewayStatusSucceeded, true
	case "transfer.failed":
		return domain.GatewayStatusFailed, true
	case "transfer.canceled":
		return domain.GatewayStatusCancelled, true
	case "transfer.reversed":
		return domain.GatewayStatusReversed, true
	case "transfer.created", "transfer.updated":
		return domain.GatewayStatusProcessing, true
	default:
		return "", false
	}
}

var _ ports.Gateway = (*CardGateway)(nil)
