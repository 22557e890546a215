package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type transactionRepository struct {
	db *gorm.DB
}

// CreateForMilestone locks the milestone row so the in-flight check and the insert are
// one step; the partial unique index on in-flight transactions backs it up.
func (r *transactionRepository) CreateForMilestone(ctx context.Context, txn domain.Transaction, at time.Time) error {
	if txn.MilestoneID == nil {
		return fmt.Errorf("%w: milestone_id is required", domain.ErrInvalidInput)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var milestone milestoneModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("milestone_id = ?", *txn.MilestoneID).
			Take(&milestone).Error; err != nil {
			return mapNotFound(err)
		}
		if !toDomainMilestone(milestone).IsOpen() {
			return fmt.Errorf("%w: milestone is %s", domain.ErrInvalidTransition, milestone.Status)
		}
		var inFlight int64
		if err := tx.Model(&transactionModel{}).
			Where("milestone_id = ? AND transaction_status IN ?", *txn.MilestoneID, inFlightTransactionStatuses()).
			Count(&inFlight).Error; err != nil {
			return err
		}
		if inFlight > 0 {
			return domain.ErrChargeInFlight
		}
		row := toTransactionModel(txn)
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrChargeInFlight
			}
			return err
		}
		return tx.Model(&milestoneModel{}).
			Where("milestone_id = ?", *txn.MilestoneID).
			Updates(map[string]any{
				"charge_attempts": gorm.Expr("charge_attempts + 1"),
				"last_attempt_at": at,
				"updated_at":      at,
			}).Error
	})
}

func (r *transactionRepository) GetByID(ctx context.Context, transactionID string) (domain.Transaction, error) {
	return r.take(ctx, "transaction_id = ?", transactionID)
}

func (r *transactionRepository) GetByReference(ctx context.Context, reference string) (domain.Transaction, error) {
	return r.take(ctx, "transaction_reference = ?", reference)
}

func (r *transactionRepository) GetByGatewayPaymentID(ctx context.Context, gateway domain.GatewayName, gatewayPaymentID string) (domain.Transaction, error) {
	return r.take(ctx, "gateway = ? AND gateway_payment_id = ?", string(gateway), gatewayPaymentID)
}

func (r *transactionRepository) take(ctx context.Context, query string, args ...any) (domain.Transaction, error) {
	var row transactionModel
	if err := r.db.WithContext(ctx).Where(query, args...).Take(&row).Error; err != nil {
		return domain.Transaction{}, mapNotFound(err)
	}
	return toDomainTransaction(row), nil
}

func (r *transactionRepository) FindInFlightByMilestone(ctx context.Context, milestoneID string) (*domain.Transaction, error) {
	var row transactionModel
	err := r.db.WithContext(ctx).
		Where("milestone_id = ? AND transaction_status IN ?", milestoneID, inFlightTransactionStatuses()).
		Order("created_at DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := toDomainTransaction(row)
	return &out, nil
}

func (r *transactionRepository) ListByMilestone(ctx context.Context, milestoneID string) ([]domain.Transaction, error) {
	var rows []transactionModel
	if err := r.db.WithContext(ctx).
		Where("milestone_id = ?", milestoneID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainTransactions(rows), nil
}

func (r *transactionRepository) ListStaleInFlight(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Transaction, error) {
	var rows []transactionModel
	if err := r.db.WithContext(ctx).
		Where("transaction_status IN ? AND updated_at < ?", inFlightTransactionStatuses(), updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainTransactions(rows), nil
}

func (r *transactionRepository) MarkProcessing(ctx context.Context, transactionID, gatewayPaymentID, redirectURL string, at time.Time) (bool, error) {
	updates := map[string]any{
		"transaction_status": string(domain.TransactionStatusProcessing),
		"redirect_url":       redirectURL,
		"updated_at":         at,
	}
	if gatewayPaymentID != "" {
		updates["gateway_payment_id"] = gatewayPaymentID
	}
	res := r.db.WithContext(ctx).
		Model(&transactionModel{}).
		Where("transaction_id = ? AND transaction_status = ?", transactionID, string(domain.TransactionStatusPending)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *transactionRepository) SaveWebhookPayload(ctx context.Context, transactionID string, payload []byte, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&transactionModel{}).
		Where("transaction_id = ?", transactionID).
		Updates(map[string]any{
			"webhook_payload": jsonColumn(payload),
			"updated_at":      at,
		}).Error
}

func toDomainTransactions(rows []transactionModel) []domain.Transaction {
	out := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainTransaction(row))
	}
	return out
}

var _ ports.TransactionRepository = (*transactionRepository)(nil)
