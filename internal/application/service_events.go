package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

// HandleDomainEvent consumes campaign lifecycle events from the marketplace.
// Events are deduplicated by event_id; a booked campaign is registered and its
// milestone plan created, a cancelled one has its open milestones cancelled.
func (s *Service) HandleDomainEvent(ctx context.Context, event contracts.EventEnvelope) error {
	switch event.EventType {
	case domain.EventCampaignBooked, domain.EventCampaignCancelled:
	default:
		return domain.ErrUnsupportedEventType
	}
	if err := validateDomainEventEnvelope(event, event.EventType, "data.campaign_id"); err != nil {
		return err
	}

	now := s.nowFn()
	dup, err := s.eventDedup.IsDuplicate(ctx, event.EventID, now)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}

	actor := systemActor
	actor.RequestID = event.TraceID
	switch event.EventType {
	case domain.EventCampaignBooked:
		err = s.applyCampaignBooked(ctx, actor, event)
	case domain.EventCampaignCancelled:
		var payload contracts.CampaignCancelledPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return fmt.Errorf("decode campaign.cancelled payload: %w", err)
		}
		_, err = s.CancelCampaign(ctx, actor, payload.CampaignID, payload.Reason)
	}
	if err != nil {
		return err
	}
	return s.eventDedup.MarkProcessed(ctx, event.EventID, event.EventType, now.Add(s.cfg.EventDedupTTL))
}

func (s *Service) applyCampaignBooked(ctx context.Context, actor Actor, event contracts.EventEnvelope) error {
	var payload contracts.CampaignBookedPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return fmt.Errorf("decode campaign.booked payload: %w", err)
	}
	campaign, err := s.RegisterCampaign(ctx, actor, RegisterCampaignInput{
		CampaignID:         payload.CampaignID,
		BrandID:            payload.BrandID,
		InfluencerID:       payload.InfluencerID,
		TotalAmountInPence: payload.TotalAmountInPence,
		Currency:           payload.Currency,
		PaymentType:        domain.PaymentType(strings.ToUpper(strings.TrimSpace(payload.PaymentType))),
		IsRecurringEnabled: payload.IsRecurringEnabled,
	})
	if err != nil {
		return err
	}
	if campaign.Status != domain.CampaignStatusDraft {
		return nil
	}

	input := CreateMilestonesInput{
		CampaignID:  campaign.CampaignID,
		Count:       payload.MilestoneCount,
		Amounts:     payload.MilestoneAmounts,
		DueInterval: time.Duration(payload.IntervalDays) * 24 * time.Hour,
	}
	if input.Count <= 0 && len(input.Amounts) == 0 {
		input.Count = 1
	}
	if payload.FirstDueDate != "" {
		first, err := time.Parse(time.RFC3339, payload.FirstDueDate)
		if err != nil {
			return fmt.Errorf("%w: first_due_date", domain.ErrInvalidInput)
		}
		input.FirstDueDate = first
	}
	for _, raw := range payload.DueDates {
		due, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("%w: due_dates", domain.ErrInvalidInput)
		}
		input.DueDates = append(input.DueDates, due)
	}
	if _, err := s.CreateMilestones(ctx, actor, input); err != nil && !errors.Is(err, domain.ErrMilestonesExist) {
		return err
	}
	return nil
}

func validateDomainEventEnvelope(event contracts.EventEnvelope, expectedEventType, expectedPartitionPath string) error {
	if strings.TrimSpace(event.EventID) == "" {
		return fmt.Errorf("%w: missing event_id", domain.ErrInvalidInput)
	}
	if event.EventType != expectedEventType {
		return fmt.Errorf("%w: unsupported event_type %s", domain.ErrInvalidInput, event.EventType)
	}
	if event.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(event.SourceService) == "" {
		return fmt.Errorf("%w: missing source_service", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(event.SchemaVersion) == "" {
		return fmt.Errorf("%w: missing schema_version", domain.ErrInvalidInput)
	}
	if len(event.Data) == 0 {
		return fmt.Errorf("%w: missing data payload", domain.ErrInvalidInput)
	}
	if event.PartitionKeyPath != expectedPartitionPath {
		return fmt.Errorf("%w: expected partition_key_path %s", domain.ErrInvalidInput, expectedPartitionPath)
	}
	field := strings.TrimPrefix(event.PartitionKeyPath, "data.")
	var payload map[string]interface{}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return fmt.Errorf("%w: invalid data payload", domain.ErrInvalidInput)
	}
	value, ok := payload[field]
	if !ok {
		return fmt.Errorf("%w: partition key field %s missing from payload", domain.ErrInvalidInput, field)
	}
	if fmt.Sprint(value) != event.PartitionKey {
		return fmt.Errorf("%w: partition key invariant failed", domain.ErrInvalidInput)
	}
	return nil
}
