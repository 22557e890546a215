package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

// RequestWithdrawal reserves funds from the released balance and submits the transfer.
// The balance check and the insert are one serialized step per influencer, so concurrent
// requests can never overdraw. A replayed Idempotency-Key returns the withdrawal's current state.
func (s *Service) RequestWithdrawal(ctx context.Context, actor Actor, input RequestWithdrawalInput) (domain.Withdrawal, error) {
	idempotencyKey := strings.TrimSpace(actor.IdempotencyKey)
	if idempotencyKey == "" {
		return domain.Withdrawal{}, domain.ErrIdempotencyRequired
	}
	input.InfluencerID = strings.TrimSpace(input.InfluencerID)
	if err := authorize(actor, input.InfluencerID); err != nil {
		return domain.Withdrawal{}, err
	}
	if input.InfluencerID == "" || input.AmountInPence <= 0 {
		return domain.Withdrawal{}, fmt.Errorf("%w: influencer_id and a positive amount are required", domain.ErrInvalidInput)
	}

	requestHash := hashPayload(input)
	now := s.nowFn()
	if replay, ok, err := s.replayWithdrawal(ctx, idempotencyKey, requestHash); err != nil || ok {
		return replay, err
	}

	account, err := s.resolveBankAccount(ctx, input)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	gateway, err := s.gateways.Select(ports.SelectionInput{
		Currency:         account.Currency,
		Operation:        domain.OperationPayout,
		PreferredGateway: account.Gateway,
	})
	if err != nil {
		return domain.Withdrawal{}, err
	}

	if err := s.idempotency.Reserve(ctx, idempotencyKey, requestHash, now.Add(s.cfg.IdempotencyTTL)); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			if replay, ok, replayErr := s.replayWithdrawal(ctx, idempotencyKey, requestHash); replayErr != nil || ok {
				return replay, replayErr
			}
		}
		return domain.Withdrawal{}, err
	}

	withdrawal := domain.Withdrawal{
		WithdrawalID:   uuid.NewString(),
		Reference:      domain.NewWithdrawalReference(),
		InfluencerID:   input.InfluencerID,
		BankAccountID:  account.BankAccountID,
		AmountInPence:  input.AmountInPence,
		Currency:       account.Currency,
		PaymentGateway: gateway.Name(),
		RecipientCode:  account.RecipientRef,
		Status:         domain.WithdrawalStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.settlement.CreateWithdrawal(ctx, withdrawal); err != nil {
		_ = s.idempotency.Release(ctx, idempotencyKey)
		return domain.Withdrawal{}, err
	}
	// The withdrawal is committed: it is submitted regardless, and its key is completed
	// with the withdrawal id before returning.
	if err := s.completeWithdrawalKey(ctx, idempotencyKey, withdrawal); err != nil {
		s.logger.WarnContext(ctx, "idempotency response not stored; retrying after submission",
			"module", "application.withdrawals",
			"layer", "application",
			"operation", "complete_idempotency",
			"outcome", "failure",
			"withdrawal_reference", withdrawal.Reference,
			"error", err,
		)
		defer func() {
			if err := s.completeWithdrawalKey(context.WithoutCancel(ctx), idempotencyKey, withdrawal); err != nil {
				s.logger.ErrorContext(ctx, "idempotency response not stored; key stays reserved until expiry",
					"module", "application.withdrawals",
					"layer", "application",
					"operation", "complete_idempotency",
					"outcome", "failure",
					"withdrawal_reference", withdrawal.Reference,
					"error", err,
				)
			}
		}()
	}

	result, err := retryGateway(ctx, s, "initiate_payout", func(ctx context.Context) (ports.PayoutResult, error) {
		return gateway.InitiatePayout(ctx, ports.PayoutRequest{
			AmountMinor:    withdrawal.AmountInPence,
			Currency:       withdrawal.Currency,
			RecipientRef:   withdrawal.RecipientCode,
			IdempotencyKey: withdrawal.Reference,
			Narration:      "Influencer withdrawal " + withdrawal.Reference,
		})
	})
	if err != nil {
		if domain.IsRetryableGatewayError(err) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.WarnContext(ctx, "payout outcome unknown; left pending for reconciliation",
				"module", "application.withdrawals",
				"layer", "application",
				"operation", "request_withdrawal",
				"outcome", "pending",
				"withdrawal_reference", withdrawal.Reference,
				"error", err,
			)
			return withdrawal, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		_, message := domain.GatewayFailure(err)
		failed, _, transitionErr := s.transitionWithdrawal(ctx, withdrawal,
			[]domain.WithdrawalStatus{domain.WithdrawalStatusPending}, domain.WithdrawalStatusFailed, "", message)
		if transitionErr != nil {
			return withdrawal, transitionErr
		}
		return failed, nil
	}
	updated, err := s.applyPayoutResult(ctx, withdrawal, result)
	if err != nil {
		return withdrawal, err
	}
	s.logger.InfoContext(ctx, "withdrawal submitted",
		"module", "application.withdrawals",
		"layer", "application",
		"operation", "request_withdrawal",
		"outcome", "success",
		"withdrawal_reference", updated.Reference,
		"withdrawal_status", string(updated.Status),
		"gateway", string(updated.PaymentGateway),
	)
	return updated, nil
}

func (s *Service) completeWithdrawalKey(ctx context.Context, key string, w domain.Withdrawal) error {
	body, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.idempotency.Complete(ctx, key, http.StatusCreated, body, s.nowFn())
}

func (s *Service) replayWithdrawal(ctx context.Context, key, requestHash string) (domain.Withdrawal, bool, error) {
	existing, err := s.idempotency.Get(ctx, key, s.nowFn())
	if err != nil || existing == nil {
		return domain.Withdrawal{}, false, err
	}
	if existing.RequestHash != requestHash {
		return domain.Withdrawal{}, false, domain.ErrIdempotencyConflict
	}
	if len(existing.ResponseBody) == 0 {
		return domain.Withdrawal{}, false, fmt.Errorf("%w: request with this idempotency key is in progress", domain.ErrConflict)
	}
	var cached domain.Withdrawal
	if err := json.Unmarshal(existing.ResponseBody, &cached); err != nil {
		return domain.Withdrawal{}, false, err
	}
	current, err := s.withdrawals.GetByID(ctx, cached.WithdrawalID)
	if err != nil {
		return domain.Withdrawal{}, false, err
	}
	return current, true, nil
}

func (s *Service) resolveBankAccount(ctx context.Context, input RequestWithdrawalInput) (domain.InfluencerBankAccount, error) {
	if id := strings.TrimSpace(input.BankAccountID); id != "" {
		account, err := s.bankAccounts.GetByID(ctx, id)
		if err != nil {
			return domain.InfluencerBankAccount{}, err
		}
		if account.InfluencerID != input.InfluencerID {
			return domain.InfluencerBankAccount{}, domain.ErrNotFound
		}
		return account, nil
	}
	currency, err := domain.NormalizeCurrency(input.Currency)
	if err != nil {
		return domain.InfluencerBankAccount{}, err
	}
	return s.bankAccounts.GetDefault(ctx, input.InfluencerID, currency)
}

// applyPayoutResult maps a gateway payout outcome onto the withdrawal.
func (s *Service) applyPayoutResult(ctx context.Context, w domain.Withdrawal, result ports.PayoutResult) (domain.Withdrawal, error) {
	inFlight := []domain.WithdrawalStatus{domain.WithdrawalStatusPending, domain.WithdrawalStatusProcessing}
	var (
		updated domain.Withdrawal
		err     error
	)
	switch result.Status {
	case domain.GatewayStatusSucceeded:
		updated, _, err = s.transitionWithdrawal(ctx, w, inFlight, domain.WithdrawalStatusCompleted, result.GatewayRef, "")
	case domain.GatewayStatusFailed, domain.GatewayStatusCancelled, domain.GatewayStatusReversed:
		updated, _, err = s.transitionWithdrawal(ctx, w, inFlight, domain.WithdrawalStatusFailed, result.GatewayRef, firstNonEmpty(result.FailureReason, "transfer failed"))
	default:
		updated, _, err = s.transitionWithdrawal(ctx, w, []domain.WithdrawalStatus{domain.WithdrawalStatusPending}, domain.WithdrawalStatusProcessing, result.GatewayRef, "")
	}
	return updated, err
}

func (s *Service) transitionWithdrawal(ctx context.Context, w domain.Withdrawal, from []domain.WithdrawalStatus, to domain.WithdrawalStatus, transferCode, reason string) (domain.Withdrawal, bool, error) {
	now := s.nowFn()
	next := w
	next.Status = to
	next.FailureReason = reason
	if transferCode != "" {
		next.TransferCode = transferCode
	}
	var eventType string
	switch to {
	case domain.WithdrawalStatusProcessing:
		eventType = domain.EventWithdrawalProcessing
	case domain.WithdrawalStatusCompleted:
		eventType = domain.EventWithdrawalCompleted
	default:
		eventType = domain.EventWithdrawalFailed
	}
	event, err := s.newOutboxEvent(eventType, "data.withdrawal_id", w.WithdrawalID, withdrawalPayload(next, now), now)
	if err != nil {
		return domain.Withdrawal{}, false, err
	}
	updated, applied, err := s.settlement.TransitionWithdrawal(ctx, ports.WithdrawalTransition{
		WithdrawalID:  w.WithdrawalID,
		From:          from,
		To:            to,
		TransferCode:  transferCode,
		FailureReason: reason,
		At:            now,
		Events:        []ports.OutboxEvent{event},
	})
	if err != nil {
		return domain.Withdrawal{}, false, err
	}
	if applied && to == domain.WithdrawalStatusFailed {
		s.logger.WarnContext(ctx, "withdrawal failed; funds returned to balance",
			"module", "application.withdrawals",
			"layer", "application",
			"operation", "transition_withdrawal",
			"outcome", "failure",
			"withdrawal_reference", w.Reference,
			"from_status", string(w.Status),
			"reason", reason,
		)
	}
	return updated, applied, nil
}

func (s *Service) GetWithdrawal(ctx context.Context, actor Actor, withdrawalID string) (domain.Withdrawal, error) {
	w, err := s.withdrawals.GetByID(ctx, withdrawalID)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	if err := authorize(actor, w.InfluencerID); err != nil {
		return domain.Withdrawal{}, err
	}
	return w, nil
}

func (s *Service) ListWithdrawals(ctx context.Context, actor Actor, influencerID, currency string) ([]domain.Withdrawal, error) {
	if err := authorize(actor, influencerID); err != nil {
		return nil, err
	}
	if currency != "" {
		normalized, err := domain.NormalizeCurrency(currency)
		if err != nil {
			return nil, err
		}
		currency = normalized
	}
	return s.withdrawals.ListByInfluencer(ctx, influencerID, currency)
}

// GetBalance reports released earnings net of completed and in-flight withdrawals.
func (s *Service) GetBalance(ctx context.Context, actor Actor, influencerID, currency string) (domain.Balance, error) {
	if err := authorize(actor, influencerID); err != nil {
		return domain.Balance{}, err
	}
	currency, err := domain.NormalizeCurrency(currency)
	if err != nil {
		return domain.Balance{}, err
	}
	payouts, err := s.payouts.ListByInfluencer(ctx, influencerID, currency)
	if err != nil {
		return domain.Balance{}, err
	}
	withdrawals, err := s.withdrawals.ListByInfluencer(ctx, influencerID, currency)
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.ComputeBalance(influencerID, currency, payouts, withdrawals), nil
}

// ReconcileStuckWithdrawals asks the gateway about withdrawals that have not moved for a while.
// A transfer the gateway never received is failed so its funds return to the balance.
func (s *Service) ReconcileStuckWithdrawals(ctx context.Context) (int, error) {
	stuck, err := s.withdrawals.ListStuck(ctx, ports.StuckWithdrawalQuery{
		UpdatedBefore: s.nowFn().Add(-s.cfg.WithdrawalStuckAfter),
		Limit:         s.cfg.SweepBatchSize,
	})
	if err != nil {
		return 0, err
	}
	reconciled := 0
	for _, w := range stuck {
		if err := ctx.Err(); err != nil {
			return reconciled, err
		}
		gateway, err := s.gateways.ByName(w.PaymentGateway)
		if err != nil {
			continue
		}
		status, err := retryGateway(ctx, s, "get_payout_status", func(ctx context.Context) (ports.PayoutResult, error) {
			return gateway.GetPayoutStatus(ctx, w.Reference)
		})
		if err != nil {
			s.logger.WarnContext(ctx, "withdrawal status check failed",
				"module", "application.withdrawals",
				"layer", "application",
				"operation", "reconcile_withdrawal",
				"outcome", "failure",
				"withdrawal_reference", w.Reference,
				"error", err,
			)
			continue
		}
		var updated domain.Withdrawal
		if status.Status == domain.GatewayStatusNotFound {
			if w.Status != domain.WithdrawalStatusPending {
				continue
			}
			updated, _, err = s.transitionWithdrawal(ctx, w, []domain.WithdrawalStatus{domain.WithdrawalStatusPending},
				domain.WithdrawalStatusFailed, "", "not_submitted")
		} else {
			updated, err = s.applyPayoutResult(ctx, w, status)
		}
		if err != nil {
			return reconciled, err
		}
		if updated.Status != w.Status {
			reconciled++
		}
	}
	return reconciled, nil
}
