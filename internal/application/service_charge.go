package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

// ChargeMilestone drives one charge attempt for a milestone. If an attempt is already
// in flight it is returned unchanged instead of starting a second one.
//
// A transient gateway failure that survives the retry budget leaves the transaction
// PENDING and is reported as domain.ErrGatewayUnavailable together with the transaction;
// the sweep settles it with a status check before any new charge.
func (s *Service) ChargeMilestone(ctx context.Context, actor Actor, milestoneID string) (domain.Transaction, error) {
	milestone, err := s.milestones.GetByID(ctx, milestoneID)
	if err != nil {
		return domain.Transaction{}, err
	}
	campaign, err := s.campaigns.GetByID(ctx, milestone.CampaignID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := authorize(actor, campaign.BrandID); err != nil {
		return domain.Transaction{}, err
	}
	return s.chargeMilestone(ctx, milestone, campaign)
}

func (s *Service) GetTransaction(ctx context.Context, actor Actor, transactionID string) (domain.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := authorize(actor, txn.PayerID); err != nil {
		return domain.Transaction{}, err
	}
	return txn, nil
}

func (s *Service) chargeMilestone(ctx context.Context, milestone domain.PaymentMilestone, campaign domain.Campaign) (domain.Transaction, error) {
	if !milestone.IsOpen() {
		return domain.Transaction{}, fmt.Errorf("%w: milestone is %s", domain.ErrInvalidTransition, milestone.Status)
	}
	if campaign.Status != domain.CampaignStatusActive {
		return domain.Transaction{}, domain.ErrCampaignNotActive
	}
	if existing, err := s.transactions.FindInFlightByMilestone(ctx, milestone.MilestoneID); err != nil {
		return domain.Transaction{}, err
	} else if existing != nil {
		s.logInFlight(ctx, milestone.MilestoneID, *existing)
		return *existing, nil
	}

	method, err := s.paymentMethods.GetDefault(ctx, campaign.BrandID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Transaction{}, domain.ErrPaymentMethodRequired
		}
		return domain.Transaction{}, err
	}
	gateway, err := s.gateways.Select(ports.SelectionInput{
		Currency:         campaign.Currency,
		Operation:        domain.OperationCharge,
		PreferredGateway: method.Gateway,
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	now := s.nowFn()
	milestoneID := milestone.MilestoneID
	txn := domain.Transaction{
		TransactionID:        uuid.NewString(),
		TransactionReference: domain.NewTransactionReference(),
		CampaignID:           campaign.CampaignID,
		MilestoneID:          &milestoneID,
		PayerID:              campaign.BrandID,
		Gateway:              gateway.Name(),
		Status:               domain.TransactionStatusPending,
		AmountInPence:        milestone.AmountInPence,
		PlatformFeeInPence:   milestone.PlatformFeeInPence,
		TotalAmountInPence:   milestone.ChargeTotalInPence(),
		Currency:             campaign.Currency,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.transactions.CreateForMilestone(ctx, txn, now); err != nil {
		if errors.Is(err, domain.ErrChargeInFlight) {
			existing, findErr := s.transactions.FindInFlightByMilestone(ctx, milestone.MilestoneID)
			if findErr != nil {
				return domain.Transaction{}, findErr
			}
			if existing != nil {
				s.logInFlight(ctx, milestone.MilestoneID, *existing)
				return *existing, nil
			}
		}
		return domain.Transaction{}, err
	}

	result, err := retryGateway(ctx, s, "initiate_charge", func(ctx context.Context) (ports.ChargeResult, error) {
		return gateway.InitiateCharge(ctx, ports.ChargeRequest{
			AmountMinor:     txn.TotalAmountInPence,
			Currency:        txn.Currency,
			PayerInstrument: method.Token,
			IdempotencyKey:  txn.TransactionReference,
			Description:     fmt.Sprintf("Campaign %s milestone %d", campaign.CampaignID, milestone.MilestoneNumber),
		})
	})
	if err != nil {
		if domain.IsRetryableGatewayError(err) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.WarnContext(ctx, "charge outcome unknown; left pending for reconciliation",
				"module", "application.orchestrator",
				"layer", "application",
				"operation", "charge_milestone",
				"outcome", "pending",
				"milestone_id", milestone.MilestoneID,
				"transaction_reference", txn.TransactionReference,
				"error", err,
			)
			return txn, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		code, message := domain.GatewayFailure(err)
		failed, failErr := s.failCharge(ctx, txn, code, message, nil)
		if failErr != nil {
			return txn, failErr
		}
		return failed.Transaction, nil
	}
	return s.applyChargeResult(ctx, txn, result, nil)
}

// applyChargeResult maps a gateway charge outcome onto the transaction.
func (s *Service) applyChargeResult(ctx context.Context, txn domain.Transaction, result ports.ChargeResult, payload []byte) (domain.Transaction, error) {
	switch result.Status {
	case domain.GatewayStatusSucceeded:
		completed, err := s.completeCharge(ctx, txn, result.GatewayRef, "", payload)
		if err != nil {
			return txn, err
		}
		return completed.Transaction, nil
	case domain.GatewayStatusFailed, domain.GatewayStatusCancelled:
		code := "declined"
		if result.Status == domain.GatewayStatusCancelled {
			code = "cancelled"
		}
		failed, err := s.failCharge(ctx, txn, code, result.FailureReason, payload)
		if err != nil {
			return txn, err
		}
		return failed.Transaction, nil
	default:
		if txn.Status == domain.TransactionStatusPending {
			if _, err := s.transactions.MarkProcessing(ctx, txn.TransactionID, result.GatewayRef, result.RedirectURL, s.nowFn()); err != nil {
				return txn, err
			}
		}
		return s.transactions.GetByID(ctx, txn.TransactionID)
	}
}

// completeCharge settles a successful charge: transaction COMPLETED, milestone PAID,
// campaign ledger updated and the influencer payout created, all in one store transaction.
func (s *Service) completeCharge(ctx context.Context, txn domain.Transaction, gatewayRef, gatewayTxnID string, payload []byte) (ports.CompleteChargeResult, error) {
	if txn.MilestoneID == nil {
		return ports.CompleteChargeResult{}, fmt.Errorf("%w: transaction %s has no milestone", domain.ErrInvalidInput, txn.TransactionID)
	}
	milestone, err := s.milestones.GetByID(ctx, *txn.MilestoneID)
	if err != nil {
		return ports.CompleteChargeResult{}, err
	}
	campaign, err := s.campaigns.GetByID(ctx, txn.CampaignID)
	if err != nil {
		return ports.CompleteChargeResult{}, err
	}
	now := s.nowFn()
	payout, err := s.buildPayout(ctx, campaign, milestone, txn, now)
	if err != nil {
		return ports.CompleteChargeResult{}, err
	}

	completedTxn := txn
	completedTxn.Status = domain.TransactionStatusCompleted
	if gatewayRef != "" {
		completedTxn.GatewayPaymentID = &gatewayRef
	}
	paidMilestone := milestone
	paidMilestone.Status = domain.MilestoneStatusPaid
	paidMilestone.TransactionID = &txn.TransactionID

	paidEvents, err := s.buildEvents(now,
		pendingEvent{domain.EventTransactionCompleted, "data.transaction_id", txn.TransactionID, transactionPayload(completedTxn, now)},
		pendingEvent{domain.EventMilestonePaid, "data.milestone_id", milestone.MilestoneID, milestonePayload(paidMilestone, now)},
		pendingEvent{domain.EventPayoutCreated, "data.payout_id", payout.PayoutID, payoutPayload(payout, "", now)},
	)
	if err != nil {
		return ports.CompleteChargeResult{}, err
	}
	if payout.Status == domain.PayoutStatusReleased {
		released, err := s.newOutboxEvent(domain.EventPayoutReleased, "data.payout_id", payout.PayoutID, payoutPayload(payout, "", now), now)
		if err != nil {
			return ports.CompleteChargeResult{}, err
		}
		paidEvents = append(paidEvents, released)
	}
	orphanEvents, err := s.buildEvents(now,
		pendingEvent{domain.EventTransactionCompleted, "data.transaction_id", txn.TransactionID, transactionPayload(completedTxn, now)},
		pendingEvent{domain.EventTransactionOrphaned, "data.transaction_id", txn.TransactionID, transactionPayload(completedTxn, now)},
	)
	if err != nil {
		return ports.CompleteChargeResult{}, err
	}

	result, err := s.settlement.CompleteCharge(ctx, ports.CompleteChargeParams{
		TransactionID:        txn.TransactionID,
		GatewayPaymentID:     gatewayRef,
		GatewayTransactionID: gatewayTxnID,
		WebhookPayload:       payload,
		CompletedAt:          now,
		Payout:               payout,
		PaidEvents:           paidEvents,
		OrphanEvents:         orphanEvents,
	})
	if err != nil {
		return ports.CompleteChargeResult{}, err
	}
	switch {
	case !result.Applied:
		s.logger.InfoContext(ctx, "charge completion already applied",
			"module", "application.orchestrator",
			"layer", "application",
			"operation", "complete_charge",
			"outcome", "noop",
			"transaction_reference", txn.TransactionReference,
			"transaction_status", string(result.Transaction.Status),
		)
	case result.Orphaned:
		s.logger.ErrorContext(ctx, "charge completed for a milestone that is no longer open",
			"module", "application.orchestrator",
			"layer", "application",
			"operation", "complete_charge",
			"outcome", "orphaned",
			"transaction_reference", txn.TransactionReference,
			"milestone_id", milestone.MilestoneID,
		)
	default:
		s.logger.InfoContext(ctx, "milestone paid",
			"module", "application.orchestrator",
			"layer", "application",
			"operation", "complete_charge",
			"outcome", "success",
			"transaction_reference", txn.TransactionReference,
			"milestone_id", milestone.MilestoneID,
			"payout_id", payout.PayoutID,
		)
	}
	return result, nil
}

// failCharge marks the transaction FAILED; the milestone fails with it once its
// attempts reach the configured maximum.
func (s *Service) failCharge(ctx context.Context, txn domain.Transaction, code, message string, payload []byte) (ports.FailChargeResult, error) {
	if code == "" {
		code = "charge_failed"
	}
	if message == "" {
		message = "charge failed at gateway"
	}
	now := s.nowFn()
	maxAttempts := s.maxChargeAttempts(ctx)

	failedTxn := txn
	failedTxn.Status = domain.TransactionStatusFailed
	failedTxn.FailureCode = code
	failedTxn.FailureMessage = message
	events, err := s.buildEvents(now,
		pendingEvent{domain.EventTransactionFailed, "data.transaction_id", txn.TransactionID, transactionPayload(failedTxn, now)},
	)
	if err != nil {
		return ports.FailChargeResult{}, err
	}
	var milestoneEvents []ports.OutboxEvent
	if txn.MilestoneID != nil {
		milestone, err := s.milestones.GetByID(ctx, *txn.MilestoneID)
		if err != nil {
			return ports.FailChargeResult{}, err
		}
		milestone.Status = domain.MilestoneStatusFailed
		milestone.FailureMessage = message
		milestoneEvents, err = s.buildEvents(now,
			pendingEvent{domain.EventMilestoneFailed, "data.milestone_id", milestone.MilestoneID, milestonePayload(milestone, now)},
		)
		if err != nil {
			return ports.FailChargeResult{}, err
		}
	}

	result, err := s.settlement.FailCharge(ctx, ports.FailChargeParams{
		TransactionID:         txn.TransactionID,
		FailureCode:           code,
		FailureMessage:        message,
		WebhookPayload:        payload,
		MaxAttempts:           maxAttempts,
		At:                    now,
		Events:                events,
		MilestoneFailedEvents: milestoneEvents,
	})
	if err != nil {
		return ports.FailChargeResult{}, err
	}
	s.logger.WarnContext(ctx, "charge failed",
		"module", "application.orchestrator",
		"layer", "application",
		"operation", "fail_charge",
		"outcome", outcomeLabel(result.Applied, "failure", "noop"),
		"transaction_reference", txn.TransactionReference,
		"failure_code", code,
		"milestone_failed", result.MilestoneFailed,
	)
	return result, nil
}

// reconcileCharge asks the gateway what happened to an in-flight charge before anything
// else is attempted for its milestone. settled reports whether the transaction left flight.
func (s *Service) reconcileCharge(ctx context.Context, txn domain.Transaction) (domain.Transaction, bool, error) {
	gateway, err := s.gateways.ByName(txn.Gateway)
	if err != nil {
		return txn, false, err
	}
	status, err := retryGateway(ctx, s, "get_charge_status", func(ctx context.Context) (ports.ChargeResult, error) {
		return gateway.GetChargeStatus(ctx, txn.TransactionReference)
	})
	if err != nil {
		return txn, false, err
	}
	if status.Status == domain.GatewayStatusNotFound {
		failed, err := s.failCharge(ctx, txn, "not_submitted", "gateway has no record of the charge", nil)
		if err != nil {
			return txn, false, err
		}
		return failed.Transaction, true, nil
	}
	updated, err := s.applyChargeResult(ctx, txn, status, nil)
	if err != nil {
		return txn, false, err
	}
	return updated, !updated.InFlight(), nil
}

func (s *Service) buildPayout(ctx context.Context, campaign domain.Campaign, milestone domain.PaymentMilestone, txn domain.Transaction, at time.Time) (domain.InfluencerPayout, error) {
	pct, err := s.influencerFeePercentage(ctx)
	if err != nil {
		return domain.InfluencerPayout{}, err
	}
	fee := domain.ComputeFee(milestone.AmountInPence, pct)
	payout := domain.InfluencerPayout{
		PayoutID:           uuid.NewString(),
		CampaignID:         campaign.CampaignID,
		InfluencerID:       campaign.InfluencerID,
		MilestoneID:        milestone.MilestoneID,
		TransactionID:      txn.TransactionID,
		GrossAmountInPence: milestone.AmountInPence,
		PlatformFeeInPence: fee,
		NetAmountInPence:   milestone.AmountInPence - fee,
		FeePercentage:      pct.String(),
		Currency:           campaign.Currency,
		Status:             domain.PayoutStatusPendingRelease,
		CreatedAt:          at,
		UpdatedAt:          at,
	}
	if s.payoutAutoRelease(ctx) {
		payout.Status = domain.PayoutStatusReleased
		payout.ReleasedAt = &at
	}
	if err := domain.ValidatePayoutAmounts(payout); err != nil {
		return domain.InfluencerPayout{}, err
	}
	return payout, nil
}

func (s *Service) logInFlight(ctx context.Context, milestoneID string, txn domain.Transaction) {
	s.logger.InfoContext(ctx, "charge already in flight; returning existing attempt",
		"module", "application.orchestrator",
		"layer", "application",
		"operation", "charge_milestone",
		"outcome", "noop",
		"milestone_id", milestoneID,
		"transaction_reference", txn.TransactionReference,
		"transaction_status", string(txn.Status),
	)
}

func outcomeLabel(applied bool, yes, no string) string {
	if applied {
		return yes
	}
	return no
}
