package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

// HandleWebhook authenticates a gateway callback, records it durably and applies it.
// The returned outcome is one of the domain.WebhookOutcome values. Deliveries that were
// already processed return their stored outcome without touching any state; an error
// means the delivery was not recorded and the provider should retry.
func (s *Service) HandleWebhook(ctx context.Context, gatewayName string, rawBody []byte, signature string) (string, error) {
	gateway, err := s.gateways.ByName(domain.GatewayName(gatewayName))
	if err != nil {
		return "", err
	}
	if !gateway.VerifyWebhookSignature(rawBody, signature) {
		s.logger.WarnContext(ctx, "webhook signature rejected",
			"module", "application.webhooks",
			"layer", "application",
			"operation", "handle_webhook",
			"outcome", "rejected",
			"gateway", gatewayName,
		)
		return "", domain.ErrInvalidSignature
	}

	now := s.nowFn()
	event, parseErr := gateway.ParseWebhook(rawBody)
	if parseErr != nil && !errors.Is(parseErr, domain.ErrUnsupportedEventType) {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, parseErr)
	}
	providerEventID := event.EventID
	if providerEventID == "" {
		sum := sha256.Sum256(rawBody)
		providerEventID = hex.EncodeToString(sum[:])
	}
	record, duplicate, err := s.webhooks.Record(ctx, ports.WebhookRecord{
		WebhookEventID:  uuid.NewString(),
		Gateway:         gateway.Name(),
		ProviderEventID: providerEventID,
		EventType:       event.EventType,
		Reference:       firstNonEmpty(event.Reference, event.GatewayRef),
		SignatureValid:  true,
		Payload:         rawBody,
		Outcome:         domain.WebhookOutcomePending,
		ReceivedAt:      now,
	})
	if err != nil {
		return "", err
	}
	if duplicate && record.Outcome != domain.WebhookOutcomePending {
		s.logger.InfoContext(ctx, "duplicate webhook delivery",
			"module", "application.webhooks",
			"layer", "application",
			"operation", "handle_webhook",
			"outcome", "duplicate",
			"gateway", gatewayName,
			"provider_event_id", providerEventID,
			"stored_outcome", record.Outcome,
		)
		return record.Outcome, nil
	}
	if parseErr != nil {
		if err := s.webhooks.MarkOutcome(ctx, record.WebhookEventID, domain.WebhookOutcomeIgnored, "unsupported event type", now); err != nil {
			return "", err
		}
		return domain.WebhookOutcomeIgnored, nil
	}
	outcome, err := s.processWebhook(ctx, gateway, record, event)
	if err != nil {
		// The delivery is durably recorded; the sweep replays it.
		return domain.WebhookOutcomePending, nil
	}
	return outcome, nil
}

// ReplayPendingWebhooks re-applies recorded deliveries whose processing never finished.
func (s *Service) ReplayPendingWebhooks(ctx context.Context) (int, error) {
	pending, err := s.webhooks.ListPending(ctx, s.nowFn().Add(-s.cfg.WebhookReplayAfter), s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	replayed := 0
	for _, record := range pending {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		gateway, err := s.gateways.ByName(record.Gateway)
		if err != nil {
			_ = s.webhooks.MarkOutcome(ctx, record.WebhookEventID, domain.WebhookOutcomeIgnored, err.Error(), s.nowFn())
			continue
		}
		event, err := gateway.ParseWebhook(record.Payload)
		if err != nil {
			_ = s.webhooks.MarkOutcome(ctx, record.WebhookEventID, domain.WebhookOutcomeIgnored, err.Error(), s.nowFn())
			continue
		}
		if _, err := s.processWebhook(ctx, gateway, record, event); err != nil {
			continue
		}
		replayed++
	}
	return replayed, nil
}

func (s *Service) processWebhook(ctx context.Context, gateway ports.Gateway, record ports.WebhookRecord, event ports.WebhookEvent) (string, error) {
	outcome, detail, err := s.applyWebhook(ctx, gateway, record, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "webhook apply failed; left pending",
			"module", "application.webhooks",
			"layer", "application",
			"operation", "apply_webhook",
			"outcome", "failure",
			"gateway", string(gateway.Name()),
			"webhook_event_id", record.WebhookEventID,
			"error", err,
		)
		return "", err
	}
	if err := s.webhooks.MarkOutcome(ctx, record.WebhookEventID, outcome, detail, s.nowFn()); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "webhook processed",
		"module", "application.webhooks",
		"layer", "application",
		"operation", "apply_webhook",
		"outcome", outcome,
		"gateway", string(gateway.Name()),
		"event_type", event.EventType,
		"reference", firstNonEmpty(event.Reference, event.GatewayRef),
	)
	return outcome, nil
}

func (s *Service) applyWebhook(ctx context.Context, gateway ports.Gateway, record ports.WebhookRecord, event ports.WebhookEvent) (string, string, error) {
	switch event.Kind {
	case domain.OperationCharge:
		return s.applyChargeWebhook(ctx, gateway, record, event)
	case domain.OperationPayout:
		return s.applyPayoutWebhook(ctx, gateway, record, event)
	default:
		return domain.WebhookOutcomeIgnored, "unknown event kind", nil
	}
}

func (s *Service) applyChargeWebhook(ctx context.Context, gateway ports.Gateway, record ports.WebhookRecord, event ports.WebhookEvent) (string, string, error) {
	txn, err := s.findTransaction(ctx, gateway.Name(), event)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.recordUnmatched(ctx, record, event)
		}
		return "", "", err
	}
	switch event.Status {
	case domain.GatewayStatusSucceeded:
		if !txn.Completable() {
			return domain.WebhookOutcomeNoop, "transaction already completed", nil
		}
		if !txn.InFlight() {
			s.logger.WarnContext(ctx, "gateway reports success for a failed charge; settling it",
				"module", "application.webhooks",
				"layer", "application",
				"operation", "apply_webhook",
				"outcome", "late_success",
				"transaction_reference", txn.TransactionReference,
				"transaction_status", string(txn.Status),
			)
		}
		result, err := s.completeCharge(ctx, txn, event.GatewayRef, "", record.Payload)
		if err != nil {
			return "", "", err
		}
		if !result.Applied {
			return domain.WebhookOutcomeNoop, "transaction already settled", nil
		}
		if result.Orphaned {
			return domain.WebhookOutcomeApplied, "orphaned charge", nil
		}
		return domain.WebhookOutcomeApplied, "", nil
	case domain.GatewayStatusFailed, domain.GatewayStatusCancelled:
		code := "declined"
		if event.Status == domain.GatewayStatusCancelled {
			code = "cancelled"
		}
		result, err := s.failCharge(ctx, txn, code, event.FailureReason, record.Payload)
		if err != nil {
			return "", "", err
		}
		if !result.Applied {
			return domain.WebhookOutcomeNoop, "transaction already settled", nil
		}
		return domain.WebhookOutcomeApplied, "", nil
	case domain.GatewayStatusProcessing:
		applied := false
		if txn.Status == domain.TransactionStatusPending {
			applied, err = s.transactions.MarkProcessing(ctx, txn.TransactionID, event.GatewayRef, txn.RedirectURL, s.nowFn())
			if err != nil {
				return "", "", err
			}
		}
		if err := s.transactions.SaveWebhookPayload(ctx, txn.TransactionID, record.Payload, s.nowFn()); err != nil {
			return "", "", err
		}
		if !applied {
			return domain.WebhookOutcomeNoop, "", nil
		}
		return domain.WebhookOutcomeApplied, "", nil
	default:
		return domain.WebhookOutcomeIgnored, fmt.Sprintf("status %q", event.Status), nil
	}
}

func (s *Service) applyPayoutWebhook(ctx context.Context, gateway ports.Gateway, record ports.WebhookRecord, event ports.WebhookEvent) (string, string, error) {
	withdrawal, err := s.findWithdrawal(ctx, gateway.Name(), event)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.recordUnmatched(ctx, record, event)
		}
		return "", "", err
	}
	inFlight := []domain.WithdrawalStatus{domain.WithdrawalStatusPending, domain.WithdrawalStatusProcessing}
	var (
		applied bool
		detail  string
	)
	switch event.Status {
	case domain.GatewayStatusSucceeded:
		_, applied, err = s.transitionWithdrawal(ctx, withdrawal, inFlight, domain.WithdrawalStatusCompleted, event.GatewayRef, "")
	case domain.GatewayStatusFailed, domain.GatewayStatusCancelled:
		_, applied, err = s.transitionWithdrawal(ctx, withdrawal, inFlight, domain.WithdrawalStatusFailed, event.GatewayRef, firstNonEmpty(event.FailureReason, "transfer failed"))
	case domain.GatewayStatusReversed:
		from := append(inFlight, domain.WithdrawalStatusCompleted)
		_, applied, err = s.transitionWithdrawal(ctx, withdrawal, from, domain.WithdrawalStatusFailed, event.GatewayRef, firstNonEmpty(event.FailureReason, "transfer reversed"))
		detail = "reversed"
	case domain.GatewayStatusProcessing:
		_, applied, err = s.transitionWithdrawal(ctx, withdrawal, []domain.WithdrawalStatus{domain.WithdrawalStatusPending}, domain.WithdrawalStatusProcessing, event.GatewayRef, "")
	default:
		return domain.WebhookOutcomeIgnored, fmt.Sprintf("status %q", event.Status), nil
	}
	if err != nil {
		return "", "", err
	}
	if !applied {
		return domain.WebhookOutcomeNoop, fmt.Sprintf("withdrawal is %s", withdrawal.Status), nil
	}
	return domain.WebhookOutcomeApplied, detail, nil
}

func (s *Service) findTransaction(ctx context.Context, gateway domain.GatewayName, event ports.WebhookEvent) (domain.Transaction, error) {
	if event.GatewayRef != "" {
		txn, err := s.transactions.GetByGatewayPaymentID(ctx, gateway, event.GatewayRef)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Transaction{}, err
		}
	}
	if event.Reference == "" {
		return domain.Transaction{}, domain.ErrNotFound
	}
	txn, err := s.transactions.GetByReference(ctx, event.Reference)
	if err != nil {
		return domain.Transaction{}, err
	}
	if txn.Gateway != gateway {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return txn, nil
}

func (s *Service) findWithdrawal(ctx context.Context, gateway domain.GatewayName, event ports.WebhookEvent) (domain.Withdrawal, error) {
	if event.Reference != "" {
		w, err := s.withdrawals.GetByReference(ctx, event.Reference)
		if err == nil {
			if w.PaymentGateway != gateway {
				return domain.Withdrawal{}, domain.ErrNotFound
			}
			return w, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Withdrawal{}, err
		}
	}
	if event.GatewayRef == "" {
		return domain.Withdrawal{}, domain.ErrNotFound
	}
	return s.withdrawals.GetByTransferCode(ctx, gateway, event.GatewayRef)
}

// recordUnmatched keeps a verified delivery that references nothing we know about.
// The gateway still receives a success response so it stops retrying.
func (s *Service) recordUnmatched(ctx context.Context, record ports.WebhookRecord, event ports.WebhookEvent) (string, string, error) {
	now := s.nowFn()
	outboxEvent, err := s.newOutboxEvent(domain.EventWebhookUnmatched, "data.webhook_event_id", record.WebhookEventID, contracts.WebhookUnmatchedPayload{
		WebhookEventID:  record.WebhookEventID,
		Gateway:         string(record.Gateway),
		ProviderEventID: record.ProviderEventID,
		EventType:       event.EventType,
		GatewayRef:      event.GatewayRef,
		Reference:       event.Reference,
		OccurredAt:      now.Format(time.RFC3339),
	}, now)
	if err != nil {
		return "", "", err
	}
	if err := s.outbox.Enqueue(ctx, outboxEvent); err != nil {
		return "", "", err
	}
	s.logger.WarnContext(ctx, "webhook references unknown record",
		"module", "application.webhooks",
		"layer", "application",
		"operation", "apply_webhook",
		"outcome", domain.WebhookOutcomeUnmatched,
		"gateway", string(record.Gateway),
		"gateway_ref", event.GatewayRef,
		"reference", event.Reference,
	)
	return domain.WebhookOutcomeUnmatched, "no matching transaction or withdrawal", nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
