package postgres

import (
	"context"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"gorm.io/gorm"
)

type payoutRepository struct {
	db *gorm.DB
}

func (r *payoutRepository) GetByID(ctx context.Context, payoutID string) (domain.InfluencerPayout, error) {
	var row payoutModel
	if err := r.db.WithContext(ctx).Where("payout_id = ?", payoutID).Take(&row).Error; err != nil {
		return domain.InfluencerPayout{}, mapNotFound(err)
	}
	return toDomainPayout(row), nil
}

func (r *payoutRepository) GetByMilestone(ctx context.Context, milestoneID string) (domain.InfluencerPayout, error) {
	var row payoutModel
	if err := r.db.WithContext(ctx).Where("milestone_id = ?", milestoneID).Take(&row).Error; err != nil {
		return domain.InfluencerPayout{}, mapNotFound(err)
	}
	return toDomainPayout(row), nil
}

func (r *payoutRepository) ListByInfluencer(ctx context.Context, influencerID, currency string) ([]domain.InfluencerPayout, error) {
	query := r.db.WithContext(ctx).Where("influencer_id = ?", influencerID)
	if currency != "" {
		query = query.Where("currency = ?", currency)
	}
	var rows []payoutModel
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.InfluencerPayout, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainPayout(row))
	}
	return out, nil
}

var _ ports.PayoutRepository = (*payoutRepository)(nil)
