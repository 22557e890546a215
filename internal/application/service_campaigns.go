package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

// RegisterCampaign records a booked engagement in DRAFT. Re-registering an identical
// campaign returns the stored one so booking events can be replayed.
func (s *Service) RegisterCampaign(ctx context.Context, actor Actor, input RegisterCampaignInput) (domain.Campaign, error) {
	if err := authorize(actor, input.BrandID); err != nil {
		return domain.Campaign{}, err
	}
	currency, err := domain.NormalizeCurrency(input.Currency)
	if err != nil {
		return domain.Campaign{}, err
	}
	now := s.nowFn()
	campaign := domain.Campaign{
		CampaignID:         strings.TrimSpace(input.CampaignID),
		BrandID:            strings.TrimSpace(input.BrandID),
		InfluencerID:       strings.TrimSpace(input.InfluencerID),
		TotalAmountInPence: input.TotalAmountInPence,
		Currency:           currency,
		PaymentType:        input.PaymentType,
		IsRecurringEnabled: input.IsRecurringEnabled,
		Status:             domain.CampaignStatusDraft,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if campaign.CampaignID == "" {
		campaign.CampaignID = uuid.NewString()
	}
	if err := domain.ValidateCampaign(campaign); err != nil {
		return domain.Campaign{}, err
	}
	if err := s.campaigns.Create(ctx, campaign); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Campaign{}, err
		}
		existing, getErr := s.campaigns.GetByID(ctx, campaign.CampaignID)
		if getErr != nil {
			return domain.Campaign{}, getErr
		}
		if existing.TotalAmountInPence != campaign.TotalAmountInPence || existing.Currency != campaign.Currency ||
			existing.BrandID != campaign.BrandID || existing.InfluencerID != campaign.InfluencerID {
			return domain.Campaign{}, domain.ErrConflict
		}
		return existing, nil
	}
	return campaign, nil
}

func (s *Service) GetCampaign(ctx context.Context, actor Actor, campaignID string) (domain.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	if err := authorizeCampaign(actor, campaign); err != nil {
		return domain.Campaign{}, err
	}
	return campaign, nil
}

// CreateMilestones splits the campaign total into its payment schedule and activates
// the campaign. A plan that does not sum to the total is rejected and the campaign stays DRAFT.
func (s *Service) CreateMilestones(ctx context.Context, actor Actor, input CreateMilestonesInput) ([]domain.PaymentMilestone, error) {
	campaign, err := s.campaigns.GetByID(ctx, input.CampaignID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, campaign.BrandID); err != nil {
		return nil, err
	}
	switch campaign.Status {
	case domain.CampaignStatusDraft:
	case domain.CampaignStatusActive, domain.CampaignStatusCompleted:
		return nil, domain.ErrMilestonesExist
	default:
		return nil, domain.ErrCampaignNotActive
	}

	amounts, err := s.planAmounts(campaign, input)
	if err != nil {
		return nil, err
	}
	dueDates, err := s.planDueDates(len(amounts), input)
	if err != nil {
		return nil, err
	}
	brandPct, err := s.brandFeePercentage(ctx)
	if err != nil {
		return nil, err
	}

	now := s.nowFn()
	milestones := make([]domain.PaymentMilestone, 0, len(amounts))
	for i, amount := range amounts {
		milestones = append(milestones, domain.PaymentMilestone{
			MilestoneID:        uuid.NewString(),
			CampaignID:         campaign.CampaignID,
			MilestoneNumber:    i + 1,
			AmountInPence:      amount,
			PlatformFeeInPence: domain.ComputeFee(amount, brandPct),
			Currency:           campaign.Currency,
			DueDate:            dueDates[i],
			Status:             domain.MilestoneStatusPending,
			AutoChargeEnabled:  campaign.IsRecurringEnabled,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}
	if _, err := s.campaigns.ActivateWithMilestones(ctx, campaign.CampaignID, milestones, now); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "campaign milestones created",
		"module", "application.milestones",
		"layer", "application",
		"operation", "create_milestones",
		"outcome", "success",
		"campaign_id", campaign.CampaignID,
		"milestone_count", len(milestones),
	)
	return milestones, nil
}

func (s *Service) planAmounts(campaign domain.Campaign, input CreateMilestonesInput) ([]int64, error) {
	if campaign.PaymentType == domain.PaymentTypeOneOff {
		if input.Count > 1 || len(input.Amounts) > 1 {
			return nil, fmt.Errorf("%w: one-off campaigns have a single milestone", domain.ErrInvalidInput)
		}
		if len(input.Amounts) == 1 {
			if err := domain.ValidateMilestoneAmounts(campaign.TotalAmountInPence, input.Amounts); err != nil {
				return nil, err
			}
		}
		return []int64{campaign.TotalAmountInPence}, nil
	}
	if len(input.Amounts) > 0 {
		if err := domain.ValidateMilestoneAmounts(campaign.TotalAmountInPence, input.Amounts); err != nil {
			return nil, err
		}
		return append([]int64(nil), input.Amounts...), nil
	}
	return domain.SplitAmount(campaign.TotalAmountInPence, input.Count, s.cfg.SplitRemainder)
}

func (s *Service) planDueDates(n int, input CreateMilestonesInput) ([]time.Time, error) {
	if len(input.DueDates) > 0 {
		if len(input.DueDates) != n {
			return nil, fmt.Errorf("%w: %d due dates for %d milestones", domain.ErrInvalidInput, len(input.DueDates), n)
		}
		out := make([]time.Time, n)
		for i, d := range input.DueDates {
			if d.IsZero() {
				return nil, fmt.Errorf("%w: milestone %d has no due date", domain.ErrInvalidInput, i+1)
			}
			if i > 0 && d.Before(input.DueDates[i-1]) {
				return nil, fmt.Errorf("%w: due dates must be ascending", domain.ErrInvalidInput)
			}
			out[i] = d.UTC()
		}
		return out, nil
	}
	first := input.FirstDueDate
	if first.IsZero() {
		first = s.nowFn()
	}
	interval := input.DueInterval
	if interval <= 0 {
		interval = s.cfg.DefaultDueInterval
	}
	out := make([]time.Time, n)
	for i := range out {
		out[i] = first.UTC().Add(time.Duration(i) * interval)
	}
	return out, nil
}

func (s *Service) ListMilestones(ctx context.Context, actor Actor, campaignID string) ([]domain.PaymentMilestone, error) {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := authorizeCampaign(actor, campaign); err != nil {
		return nil, err
	}
	return s.milestones.ListByCampaign(ctx, campaignID)
}

// CancelCampaign cancels every open milestone. Milestones already PAID keep their payouts.
func (s *Service) CancelCampaign(ctx context.Context, actor Actor, campaignID, reason string) (domain.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	if err := authorize(actor, campaign.BrandID); err != nil {
		return domain.Campaign{}, err
	}
	if campaign.Status == domain.CampaignStatusCancelled {
		return campaign, nil
	}
	updated, cancelled, err := s.campaigns.Cancel(ctx, campaignID, s.nowFn())
	if err != nil {
		return domain.Campaign{}, err
	}
	s.logger.InfoContext(ctx, "campaign cancelled",
		"module", "application.milestones",
		"layer", "application",
		"operation", "cancel_campaign",
		"outcome", "success",
		"campaign_id", campaignID,
		"cancelled_milestones", len(cancelled),
		"reason", reason,
	)
	return updated, nil
}

func authorizeCampaign(actor Actor, campaign domain.Campaign) error {
	if err := authorize(actor, campaign.BrandID); err == nil {
		return nil
	}
	return authorize(actor, campaign.InfluencerID)
}
