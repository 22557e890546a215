package postgres

import (
	"context"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"gorm.io/gorm"
)

type withdrawalRepository struct {
	db *gorm.DB
}

func (r *withdrawalRepository) GetByID(ctx context.Context, withdrawalID string) (domain.Withdrawal, error) {
	return r.take(ctx, "withdrawal_id = ?", withdrawalID)
}

func (r *withdrawalRepository) GetByReference(ctx context.Context, reference string) (domain.Withdrawal, error) {
	return r.take(ctx, "reference = ?", reference)
}

func (r *withdrawalRepository) GetByTransferCode(ctx context.Context, gateway domain.GatewayName, transferCode string) (domain.Withdrawal, error) {
	return r.take(ctx, "payment_gateway = ? AND transfer_code = ?", string(gateway), transferCode)
}

func (r *withdrawalRepository) take(ctx context.Context, query string, args ...any) (domain.Withdrawal, error) {
	var row withdrawalModel
	if err := r.db.WithContext(ctx).Where(query, args...).Take(&row).Error; err != nil {
		return domain.Withdrawal{}, mapNotFound(err)
	}
	return toDomainWithdrawal(row), nil
}

func (r *withdrawalRepository) ListByInfluencer(ctx context.Context, influencerID, currency string) ([]domain.Withdrawal, error) {
	query := r.db.WithContext(ctx).Where("influencer_id = ?", influencerID)
	if currency != "" {
		query = query.Where("currency = ?", currency)
	}
	var rows []withdrawalModel
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainWithdrawals(rows), nil
}

func (r *withdrawalRepository) ListStuck(ctx context.Context, query ports.StuckWithdrawalQuery) ([]domain.Withdrawal, error) {
	var rows []withdrawalModel
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{
			string(domain.WithdrawalStatusPending),
			string(domain.WithdrawalStatusProcessing),
		}, query.UpdatedBefore).
		Order("updated_at ASC").
		Limit(query.Limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainWithdrawals(rows), nil
}

func toDomainWithdrawals(rows []withdrawalModel) []domain.Withdrawal {
	out := make([]domain.Withdrawal, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainWithdrawal(row))
	}
	return out
}

var _ ports.WithdrawalRepository = (*withdrawalRepository)(nil)
