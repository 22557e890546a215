package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type campaignRepository struct {
	db *gorm.DB
}

func (r *campaignRepository) Create(ctx context.Context, campaign domain.Campaign) error {
	row := toCampaignModel(campaign)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *campaignRepository) GetByID(ctx context.Context, campaignID string) (domain.Campaign, error) {
	var row campaignModel
	if err := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Take(&row).Error; err != nil {
		return domain.Campaign{}, mapNotFound(err)
	}
	return toDomainCampaign(row), nil
}

func (r *campaignRepository) ActivateWithMilestones(ctx context.Context, campaignID string, milestones []domain.PaymentMilestone, at time.Time) (domain.Campaign, error) {
	var out domain.Campaign
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row campaignModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("campaign_id = ?", campaignID).
			Take(&row).Error; err != nil {
			return mapNotFound(err)
		}
		switch domain.CampaignStatus(row.Status) {
		case domain.CampaignStatusDraft:
		case domain.CampaignStatusActive, domain.CampaignStatusCompleted:
			return domain.ErrMilestonesExist
		default:
			return domain.ErrCampaignNotActive
		}
		amounts := make([]int64, 0, len(milestones))
		for _, m := range milestones {
			amounts = append(amounts, m.AmountInPence)
		}
		if err := domain.ValidateMilestoneAmounts(row.TotalAmountInPence, amounts); err != nil {
			return err
		}
		rows := make([]milestoneModel, 0, len(milestones))
		for _, m := range milestones {
			rows = append(rows, toMilestoneModel(m))
		}
		if err := tx.Create(&rows).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrMilestonesExist
			}
			return err
		}
		res := tx.Model(&campaignModel{}).
			Where("campaign_id = ? AND status = ?", campaignID, string(domain.CampaignStatusDraft)).
			Updates(map[string]any{
				"status":     string(domain.CampaignStatusActive),
				"updated_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: campaign %s left DRAFT concurrently", domain.ErrConflict, campaignID)
		}
		row.Status = string(domain.CampaignStatusActive)
		row.UpdatedAt = at
		out = toDomainCampaign(row)
		return nil
	})
	return out, err
}

// Cancel locks open milestones before the campaign row, the same order the charge path uses.
func (r *campaignRepository) Cancel(ctx context.Context, campaignID string, at time.Time) (domain.Campaign, []domain.PaymentMilestone, error) {
	var (
		campaign  domain.Campaign
		cancelled []domain.PaymentMilestone
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open []milestoneModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("campaign_id = ? AND status IN ?", campaignID, openMilestoneStatuses()).
			Order("milestone_number ASC").
			Find(&open).Error; err != nil {
			return err
		}
		var row campaignModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("campaign_id = ?", campaignID).
			Take(&row).Error; err != nil {
			return mapNotFound(err)
		}
		switch domain.CampaignStatus(row.Status) {
		case domain.CampaignStatusCancelled:
			campaign = toDomainCampaign(row)
			return nil
		case domain.CampaignStatusCompleted:
			return fmt.Errorf("%w: campaign is COMPLETED", domain.ErrInvalidTransition)
		}
		if len(open) > 0 {
			if err := tx.Model(&milestoneModel{}).
				Where("campaign_id = ? AND status IN ?", campaignID, openMilestoneStatuses()).
				Updates(map[string]any{
					"status":     string(domain.MilestoneStatusCancelled),
					"updated_at": at,
				}).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&campaignModel{}).
			Where("campaign_id = ?", campaignID).
			Updates(map[string]any{
				"status":     string(domain.CampaignStatusCancelled),
				"updated_at": at,
			}).Error; err != nil {
			return err
		}
		row.Status = string(domain.CampaignStatusCancelled)
		row.UpdatedAt = at
		campaign = toDomainCampaign(row)
		for _, m := range open {
			m.Status = string(domain.MilestoneStatusCancelled)
			m.UpdatedAt = at
			cancelled = append(cancelled, toDomainMilestone(m))
		}
		return nil
	})
	return campaign, cancelled, err
}

func openMilestoneStatuses() []string {
	return []string{string(domain.MilestoneStatusPending), string(domain.MilestoneStatusOverdue)}
}

func inFlightTransactionStatuses() []string {
	return []string{string(domain.TransactionStatusPending), string(domain.TransactionStatusProcessing)}
}

var _ ports.CampaignRepository = (*campaignRepository)(nil)
