package postgres

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type milestoneRepository struct {
	db *gorm.DB
}

func (r *milestoneRepository) GetByID(ctx context.Context, milestoneID string) (domain.PaymentMilestone, error) {
	var row milestoneModel
	if err := r.db.WithContext(ctx).Where("milestone_id = ?", milestoneID).Take(&row).Error; err != nil {
		return domain.PaymentMilestone{}, mapNotFound(err)
	}
	return toDomainMilestone(row), nil
}

func (r *milestoneRepository) ListByCampaign(ctx context.Context, campaignID string) ([]domain.PaymentMilestone, error) {
	var rows []milestoneModel
	if err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("milestone_number ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.PaymentMilestone, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainMilestone(row))
	}
	return out, nil
}

func (r *milestoneRepository) MarkOverdue(ctx context.Context, now time.Time, limit int) ([]domain.PaymentMilestone, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []milestoneModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND due_date < ?", string(domain.MilestoneStatusPending), now).
			Order("due_date ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.MilestoneID)
		}
		return tx.Model(&milestoneModel{}).
			Where("milestone_id IN ? AND status = ?", ids, string(domain.MilestoneStatusPending)).
			Updates(map[string]any{
				"status":     string(domain.MilestoneStatusOverdue),
				"updated_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.PaymentMilestone, 0, len(rows))
	for _, row := range rows {
		row.Status = string(domain.MilestoneStatusOverdue)
		row.UpdatedAt = now
		out = append(out, toDomainMilestone(row))
	}
	return out, nil
}

func (r *milestoneRepository) ListChargeable(ctx context.Context, query ports.ChargeableQuery) ([]domain.PaymentMilestone, error) {
	var rows []milestoneModel
	if err := r.db.WithContext(ctx).
		Model(&milestoneModel{}).
		Select("payment_milestones.*").
		Joins("JOIN campaigns ON campaigns.campaign_id = payment_milestones.campaign_id").
		Where("payment_milestones.status IN ?", openMilestoneStatuses()).
		Where("payment_milestones.due_date <= ?", query.Now).
		Where("payment_milestones.auto_charge_enabled = ?", true).
		Where("payment_milestones.charge_attempts < ?", query.MaxAttempts).
		Where("campaigns.status = ?", string(domain.CampaignStatusActive)).
		Order("payment_milestones.due_date ASC").
		Limit(query.Limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.PaymentMilestone, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainMilestone(row))
	}
	return out, nil
}

var _ ports.MilestoneRepository = (*milestoneRepository)(nil)
