package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// settlementRepository runs every money movement that touches more than one row.
// Lock order is transaction, milestone, campaign (payout before campaign) to avoid deadlocks.
type settlementRepository struct {
	db *gorm.DB
}

func (r *settlementRepository) CompleteCharge(ctx context.Context, params ports.CompleteChargeParams) (ports.CompleteChargeResult, error) {
	var result ports.CompleteChargeResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txnRow, err := lockTransaction(tx, params.TransactionID)
		if err != nil {
			return err
		}
		if !toDomainTransaction(txnRow).Completable() {
			result.Transaction = toDomainTransaction(txnRow)
			return nil
		}
		if txnRow.MilestoneID == nil {
			return fmt.Errorf("%w: transaction %s has no milestone", domain.ErrInvalidInput, txnRow.TransactionID)
		}

		var milestone milestoneModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("milestone_id = ?", *txnRow.MilestoneID).
			Take(&milestone).Error; err != nil {
			return mapNotFound(err)
		}
		var campaign campaignModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("campaign_id = ?", milestone.CampaignID).
			Take(&campaign).Error; err != nil {
			return mapNotFound(err)
		}

		txnUpdates := map[string]any{
			"transaction_status": string(domain.TransactionStatusCompleted),
			"completed_at":       params.CompletedAt,
			"updated_at":         params.CompletedAt,
		}
		if params.GatewayPaymentID != "" {
			txnUpdates["gateway_payment_id"] = params.GatewayPaymentID
		}
		if params.GatewayTransactionID != "" {
			txnUpdates["gateway_transaction_id"] = params.GatewayTransactionID
		}
		if payload := jsonColumn(params.WebhookPayload); payload != nil {
			txnUpdates["webhook_payload"] = payload
		}
		res := tx.Model(&transactionModel{}).
			Where("transaction_id = ? AND transaction_status <> ?", txnRow.TransactionID, string(domain.TransactionStatusCompleted)).
			Updates(txnUpdates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: transaction %s changed concurrently", domain.ErrConflict, txnRow.TransactionID)
		}
		result.Applied = true

		open := toDomainMilestone(milestone).AcceptsPayment() && domain.CampaignStatus(campaign.Status) == domain.CampaignStatusActive
		events := params.OrphanEvents
		if open {
			if err := tx.Model(&milestoneModel{}).
				Where("milestone_id = ?", milestone.MilestoneID).
				Updates(map[string]any{
					"status":          string(domain.MilestoneStatusPaid),
					"transaction_id":  txnRow.TransactionID,
					"paid_at":         params.CompletedAt,
					"failure_message": "",
					"updated_at":      params.CompletedAt,
				}).Error; err != nil {
				return err
			}
			paid := campaign.PaidAmountInPence + milestone.AmountInPence
			released := campaign.ReleasedToInfluencerInPence
			if params.Payout.Status == domain.PayoutStatusReleased {
				released += params.Payout.GrossAmountInPence
			}
			status := campaign.Status
			if paid >= campaign.TotalAmountInPence {
				status = string(domain.CampaignStatusCompleted)
			}
			if err := tx.Model(&campaignModel{}).
				Where("campaign_id = ?", campaign.CampaignID).
				Updates(map[string]any{
					"paid_amount_in_pence":            paid,
					"released_to_influencer_in_pence": released,
					"status":                          status,
					"updated_at":                      params.CompletedAt,
				}).Error; err != nil {
				return err
			}
			payout := toPayoutModel(params.Payout)
			if err := tx.Create(&payout).Error; err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: milestone %s already has a payout", domain.ErrConflict, milestone.MilestoneID)
				}
				return err
			}
			milestone.Status = string(domain.MilestoneStatusPaid)
			milestone.TransactionID = &txnRow.TransactionID
			milestone.PaidAt = &params.CompletedAt
			milestone.UpdatedAt = params.CompletedAt
			created := toDomainPayout(payout)
			result.Payout = &created
			result.MilestonePaid = true
			events = params.PaidEvents
		} else {
			result.Orphaned = true
		}
		if err := enqueueEvents(tx, events); err != nil {
			return err
		}

		ms := toDomainMilestone(milestone)
		result.Milestone = &ms
		var updated transactionModel
		if err := tx.Where("transaction_id = ?", txnRow.TransactionID).Take(&updated).Error; err != nil {
			return err
		}
		result.Transaction = toDomainTransaction(updated)
		return nil
	})
	return result, err
}

func (r *settlementRepository) FailCharge(ctx context.Context, params ports.FailChargeParams) (ports.FailChargeResult, error) {
	var result ports.FailChargeResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txnRow, err := lockTransaction(tx, params.TransactionID)
		if err != nil {
			return err
		}
		if !toDomainTransaction(txnRow).InFlight() {
			result.Transaction = toDomainTransaction(txnRow)
			return nil
		}
		txnUpdates := map[string]any{
			"transaction_status": string(domain.TransactionStatusFailed),
			"failure_code":       params.FailureCode,
			"failure_message":    params.FailureMessage,
			"updated_at":         params.At,
		}
		if payload := jsonColumn(params.WebhookPayload); payload != nil {
			txnUpdates["webhook_payload"] = payload
		}
		if err := tx.Model(&transactionModel{}).
			Where("transaction_id = ?", txnRow.TransactionID).
			Updates(txnUpdates).Error; err != nil {
			return err
		}
		result.Applied = true
		events := params.Events

		if txnRow.MilestoneID != nil {
			var milestone milestoneModel
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("milestone_id = ?", *txnRow.MilestoneID).
				Take(&milestone).Error; err != nil {
				return mapNotFound(err)
			}
			// A milestone already paid by another attempt keeps its state.
			if toDomainMilestone(milestone).IsOpen() {
				updates := map[string]any{
					"failure_message": params.FailureMessage,
					"updated_at":      params.At,
				}
				if params.MaxAttempts > 0 && milestone.ChargeAttempts >= params.MaxAttempts {
					updates["status"] = string(domain.MilestoneStatusFailed)
					milestone.Status = string(domain.MilestoneStatusFailed)
					result.MilestoneFailed = true
					events = append(slices.Clone(events), params.MilestoneFailedEvents...)
				}
				if err := tx.Model(&milestoneModel{}).
					Where("milestone_id = ?", milestone.MilestoneID).
					Updates(updates).Error; err != nil {
					return err
				}
				milestone.FailureMessage = params.FailureMessage
				milestone.UpdatedAt = params.At
			}
			ms := toDomainMilestone(milestone)
			result.Milestone = &ms
		}
		if err := enqueueEvents(tx, events); err != nil {
			return err
		}

		txnRow.TransactionStatus = string(domain.TransactionStatusFailed)
		txnRow.FailureCode = params.FailureCode
		txnRow.FailureMessage = params.FailureMessage
		txnRow.UpdatedAt = params.At
		result.Transaction = toDomainTransaction(txnRow)
		return nil
	})
	return result, err
}

func (r *settlementRepository) ReleasePayout(ctx context.Context, payoutID string, at time.Time, events []ports.OutboxEvent) (domain.InfluencerPayout, bool, error) {
	var (
		out     domain.InfluencerPayout
		applied bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row payoutModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payout_id = ?", payoutID).
			Take(&row).Error; err != nil {
			return mapNotFound(err)
		}
		if row.Status != string(domain.PayoutStatusPendingRelease) {
			out = toDomainPayout(row)
			return nil
		}
		if err := tx.Model(&payoutModel{}).
			Where("payout_id = ?", payoutID).
			Updates(map[string]any{
				"status":      string(domain.PayoutStatusReleased),
				"released_at": at,
				"updated_at":  at,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&campaignModel{}).
			Where("campaign_id = ?", row.CampaignID).
			Updates(map[string]any{
				"released_to_influencer_in_pence": gorm.Expr("released_to_influencer_in_pence + ?", row.GrossAmountInPence),
				"updated_at":                      at,
			}).Error; err != nil {
			return err
		}
		if err := enqueueEvents(tx, events); err != nil {
			return err
		}
		row.Status = string(domain.PayoutStatusReleased)
		row.ReleasedAt = &at
		row.UpdatedAt = at
		out = toDomainPayout(row)
		applied = true
		return nil
	})
	return out, applied, err
}

func (r *settlementRepository) VoidPayout(ctx context.Context, payoutID, reason string, at time.Time, events []ports.OutboxEvent) (domain.InfluencerPayout, bool, error) {
	var (
		out     domain.InfluencerPayout
		applied bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row payoutModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payout_id = ?", payoutID).
			Take(&row).Error; err != nil {
			return mapNotFound(err)
		}
		if row.Status != string(domain.PayoutStatusPendingRelease) {
			out = toDomainPayout(row)
			return nil
		}
		if err := tx.Model(&payoutModel{}).
			Where("payout_id = ?", payoutID).
			Updates(map[string]any{
				"status":         string(domain.PayoutStatusFailed),
				"failure_reason": reason,
				"updated_at":     at,
			}).Error; err != nil {
			return err
		}
		if err := enqueueEvents(tx, events); err != nil {
			return err
		}
		row.Status = string(domain.PayoutStatusFailed)
		row.FailureReason = reason
		row.UpdatedAt = at
		out = toDomainPayout(row)
		applied = true
		return nil
	})
	return out, applied, err
}

// CreateWithdrawal serializes balance checks per influencer with a transaction-scoped
// advisory lock, then inserts only if released earnings cover every held withdrawal.
func (r *settlementRepository) CreateWithdrawal(ctx context.Context, withdrawal domain.Withdrawal) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "withdrawal:"+withdrawal.InfluencerID).Error; err != nil {
			return err
		}
		var released int64
		if err := tx.Model(&payoutModel{}).
			Select("COALESCE(SUM(net_amount_in_pence), 0)").
			Where("influencer_id = ? AND currency = ? AND status = ?",
				withdrawal.InfluencerID, withdrawal.Currency, string(domain.PayoutStatusReleased)).
			Scan(&released).Error; err != nil {
			return err
		}
		var held int64
		if err := tx.Model(&withdrawalModel{}).
			Select("COALESCE(SUM(amount_in_pence), 0)").
			Where("influencer_id = ? AND currency = ? AND status IN ?",
				withdrawal.InfluencerID, withdrawal.Currency, []string{
					string(domain.WithdrawalStatusPending),
					string(domain.WithdrawalStatusProcessing),
					string(domain.WithdrawalStatusCompleted),
				}).
			Scan(&held).Error; err != nil {
			return err
		}
		if released-held < withdrawal.AmountInPence {
			return domain.ErrInsufficientBalance
		}
		row := toWithdrawalModel(withdrawal)
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}
		return nil
	})
}

func (r *settlementRepository) TransitionWithdrawal(ctx context.Context, transition ports.WithdrawalTransition) (domain.Withdrawal, bool, error) {
	var (
		out     domain.Withdrawal
		applied bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row withdrawalModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("withdrawal_id = ?", transition.WithdrawalID).
			Take(&row).Error; err != nil {
			return mapNotFound(err)
		}
		if !slices.Contains(transition.From, domain.WithdrawalStatus(row.Status)) {
			out = toDomainWithdrawal(row)
			return nil
		}
		updates := map[string]any{
			"status":     string(transition.To),
			"updated_at": transition.At,
		}
		row.Status = string(transition.To)
		row.UpdatedAt = transition.At
		if transition.TransferCode != "" {
			updates["transfer_code"] = transition.TransferCode
			row.TransferCode = transition.TransferCode
		}
		if transition.FailureReason != "" {
			updates["failure_reason"] = transition.FailureReason
			row.FailureReason = transition.FailureReason
		}
		if transition.To == domain.WithdrawalStatusCompleted {
			updates["completed_at"] = transition.At
			row.CompletedAt = &transition.At
		}
		if err := tx.Model(&withdrawalModel{}).
			Where("withdrawal_id = ?", transition.WithdrawalID).
			Updates(updates).Error; err != nil {
			return err
		}
		if err := enqueueEvents(tx, transition.Events); err != nil {
			return err
		}
		out = toDomainWithdrawal(row)
		applied = true
		return nil
	})
	return out, applied, err
}

func lockTransaction(tx *gorm.DB, transactionID string) (transactionModel, error) {
	var row transactionModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", transactionID).
		Take(&row).Error; err != nil {
		return transactionModel{}, mapNotFound(err)
	}
	return row, nil
}

var _ ports.SettlementRepository = (*settlementRepository)(nil)
