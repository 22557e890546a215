package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

func (s *Service) GetPayout(ctx context.Context, actor Actor, payoutID string) (domain.InfluencerPayout, error) {
	payout, err := s.payouts.GetByID(ctx, payoutID)
	if err != nil {
		return domain.InfluencerPayout{}, err
	}
	if err := authorize(actor, payout.InfluencerID); err != nil {
		return domain.InfluencerPayout{}, err
	}
	return payout, nil
}

// ReleasePayout makes a PENDING_RELEASE payout withdrawable.
func (s *Service) ReleasePayout(ctx context.Context, actor Actor, payoutID string) (domain.InfluencerPayout, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.InfluencerPayout{}, err
	}
	payout, err := s.payouts.GetByID(ctx, payoutID)
	if err != nil {
		return domain.InfluencerPayout{}, err
	}
	if payout.Status == domain.PayoutStatusReleased {
		return payout, nil
	}
	if payout.Status != domain.PayoutStatusPendingRelease {
		return domain.InfluencerPayout{}, fmt.Errorf("%w: payout is %s", domain.ErrInvalidTransition, payout.Status)
	}
	now := s.nowFn()
	released := payout
	released.Status = domain.PayoutStatusReleased
	released.ReleasedAt = &now
	event, err := s.newOutboxEvent(domain.EventPayoutReleased, "data.payout_id", payout.PayoutID, payoutPayload(released, "", now), now)
	if err != nil {
		return domain.InfluencerPayout{}, err
	}
	updated, applied, err := s.settlement.ReleasePayout(ctx, payoutID, now, []ports.OutboxEvent{event})
	if err != nil {
		return domain.InfluencerPayout{}, err
	}
	if !applied && updated.Status != domain.PayoutStatusReleased {
		return domain.InfluencerPayout{}, fmt.Errorf("%w: payout is %s", domain.ErrInvalidTransition, updated.Status)
	}
	s.logger.InfoContext(ctx, "payout released",
		"module", "application.payouts",
		"layer", "application",
		"operation", "release_payout",
		"outcome", outcomeLabel(applied, "success", "noop"),
		"payout_id", payoutID,
	)
	return updated, nil
}

// VoidPayout takes back a payout that has not been released, e.g. after a charge dispute.
func (s *Service) VoidPayout(ctx context.Context, actor Actor, payoutID, reason string) (domain.InfluencerPayout, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.InfluencerPayout{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.InfluencerPayout{}, fmt.Errorf("%w: reason is required", domain.ErrInvalidInput)
	}
	payout, err := s.payouts.GetByID(ctx, payoutID)
	if err != nil {
		return domain.InfluencerPayout{}, err
	}
	if payout.Status == domain.PayoutStatusFailed {
		return payout, nil
	}
	if payout.Status != domain.PayoutStatusPendingRelease {
		return domain.InfluencerPayout{}, fmt.Errorf("%w: payout is %s", domain.ErrInvalidTransition, payout.Status)
	}
	now := s.nowFn()
	voided := payout
	voided.Status = domain.PayoutStatusFailed
	voided.FailureReason = reason
	event, err := s.newOutboxEvent(domain.EventPayoutVoided, "data.payout_id", payout.PayoutID, payoutPayload(voided, reason, now), now)
	if err != nil {
		return domain.InfluencerPayout{}, err
	}
	updated, applied, err := s.settlement.VoidPayout(ctx, payoutID, reason, now, []ports.OutboxEvent{event})
	if err != nil {
		return domain.InfluencerPayout{}, err
	}
	if !applied && updated.Status != domain.PayoutStatusFailed {
		return domain.InfluencerPayout{}, fmt.Errorf("%w: payout is %s", domain.ErrInvalidTransition, updated.Status)
	}
	s.logger.InfoContext(ctx, "payout voided",
		"module", "application.payouts",
		"layer", "application",
		"operation", "void_payout",
		"outcome", outcomeLabel(applied, "success", "noop"),
		"payout_id", payoutID,
		"reason", reason,
	)
	return updated, nil
}
