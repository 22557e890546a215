package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

func authorize(actor Actor, ownerID string) error {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.ErrUnauthorized
	}
	switch actor.Role {
	case RoleAdmin, RoleSystem:
		return nil
	}
	if ownerID != "" && actor.SubjectID == ownerID {
		return nil
	}
	return domain.ErrForbidden
}

func requireAdmin(actor Actor) error {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.ErrUnauthorized
	}
	if actor.Role != RoleAdmin && actor.Role != RoleSystem {
		return domain.ErrForbidden
	}
	return nil
}

func hashPayload(value interface{}) string {
	blob, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

func (s *Service) newOutboxEvent(eventType, partitionKeyPath, partitionKey string, data interface{}, at time.Time) (ports.OutboxEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return ports.OutboxEvent{}, err
	}
	eventID := uuid.New()
	envelope := contracts.EventEnvelope{
		EventID:          eventID.String(),
		EventType:        eventType,
		OccurredAt:       at,
		PartitionKeyPath: partitionKeyPath,
		PartitionKey:     partitionKey,
		SourceService:    s.cfg.ServiceName,
		TraceID:          uuid.NewString(),
		SchemaVersion:    "v1",
		Data:             raw,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return ports.OutboxEvent{}, err
	}
	return ports.OutboxEvent{
		EventID:      eventID,
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      payload,
		OccurredAt:   at,
	}, nil
}

func milestonePayload(m domain.PaymentMilestone, at time.Time) contracts.MilestonePayload {
	out := contracts.MilestonePayload{
		MilestoneID:     m.MilestoneID,
		CampaignID:      m.CampaignID,
		MilestoneNumber: m.MilestoneNumber,
		AmountInPence:   m.AmountInPence,
		Currency:        m.Currency,
		Status:          string(m.Status),
		ChargeAttempts:  m.ChargeAttempts,
		FailureMessage:  m.FailureMessage,
		OccurredAt:      at.Format(time.RFC3339),
	}
	if m.TransactionID != nil {
		out.TransactionID = *m.TransactionID
	}
	return out
}

func transactionPayload(txn domain.Transaction, at time.Time) contracts.TransactionPayload {
	out := contracts.TransactionPayload{
		TransactionID:        txn.TransactionID,
		TransactionReference: txn.TransactionReference,
		CampaignID:           txn.CampaignID,
		Gateway:              string(txn.Gateway),
		TotalAmountInPence:   txn.TotalAmountInPence,
		Currency:             txn.Currency,
		Status:               string(txn.Status),
		FailureCode:          txn.FailureCode,
		FailureMessage:       txn.FailureMessage,
		OccurredAt:           at.Format(time.RFC3339),
	}
	if txn.MilestoneID != nil {
		out.MilestoneID = *txn.MilestoneID
	}
	if txn.GatewayPaymentID != nil {
		out.GatewayPaymentID = *txn.GatewayPaymentID
	}
	return out
}

func payoutPayload(p domain.InfluencerPayout, reason string, at time.Time) contracts.PayoutPayload {
	return contracts.PayoutPayload{
		PayoutID:           p.PayoutID,
		CampaignID:         p.CampaignID,
		InfluencerID:       p.InfluencerID,
		MilestoneID:        p.MilestoneID,
		GrossAmountInPence: p.GrossAmountInPence,
		PlatformFeeInPence: p.PlatformFeeInPence,
		NetAmountInPence:   p.NetAmountInPence,
		Currency:           p.Currency,
		Status:             string(p.Status),
		Reason:             reason,
		OccurredAt:         at.Format(time.RFC3339),
	}
}

func withdrawalPayload(w domain.Withdrawal, at time.Time) contracts.WithdrawalPayload {
	return contracts.WithdrawalPayload{
		WithdrawalID:  w.WithdrawalID,
		Reference:     w.Reference,
		InfluencerID:  w.InfluencerID,
		AmountInPence: w.AmountInPence,
		Currency:      w.Currency,
		Gateway:       string(w.PaymentGateway),
		Status:        string(w.Status),
		FailureReason: w.FailureReason,
		OccurredAt:    at.Format(time.RFC3339),
	}
}

// retryGateway runs a gateway call with exponential backoff. Only retryable gateway
// errors are retried; the same idempotency key travels with every attempt.
func retryGateway[T any](ctx context.Context, s *Service, operation string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := s.cfg.GatewayRetry.MaxAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := call(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !domain.IsRetryableGatewayError(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}
		delay := s.cfg.GatewayRetry.BaseDelay * time.Duration(1<<(attempt-1))
		s.logger.WarnContext(ctx, "gateway call failed; retrying",
			"module", "application.gateway_retry",
			"layer", "application",
			"operation", operation,
			"outcome", "retry",
			"attempt", attempt,
			"backoff", delay.String(),
			"error", err,
		)
		if sleepErr := s.sleepFn(ctx, delay); sleepErr != nil {
			return zero, sleepErr
		}
	}
	return zero, lastErr
}

type pendingEvent struct {
	eventType        string
	partitionKeyPath string
	partitionKey     string
	data             interface{}
}

func (s *Service) buildEvents(at time.Time, drafts ...pendingEvent) ([]ports.OutboxEvent, error) {
	out := make([]ports.OutboxEvent, 0, len(drafts))
	for _, draft := range drafts {
		event, err := s.newOutboxEvent(draft.eventType, draft.partitionKeyPath, draft.partitionKey, draft.data, at)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}
