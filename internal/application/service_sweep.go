package application

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/worker"
)

const milestoneLockPrefix = "settlement:lock:milestone:"

// RunSweep is the scheduled pass: it flags overdue milestones, auto-charges due ones,
// settles stale in-flight charges and withdrawals and replays unfinished webhooks.
// Stages run independently; their errors are joined.
func (s *Service) RunSweep(ctx context.Context) (SweepReport, error) {
	var (
		report SweepReport
		errs   []error
	)
	overdue, err := s.markOverdue(ctx)
	report.MarkedOverdue = overdue
	if err != nil {
		errs = append(errs, err)
	}

	settledCharges, err := s.reconcileStaleCharges(ctx)
	report.ChargesReconciled = settledCharges
	if err != nil {
		errs = append(errs, err)
	}

	if s.autoChargeEnabled(ctx) {
		attempted, skipped, failed, err := s.autoCharge(ctx)
		report.ChargesAttempted = attempted
		report.ChargesSkipped = skipped
		report.ChargeErrors = failed
		if err != nil {
			errs = append(errs, err)
		}
	}

	reconciled, err := s.ReconcileStuckWithdrawals(ctx)
	report.WithdrawalsReconciled = reconciled
	if err != nil {
		errs = append(errs, err)
	}

	replayed, err := s.ReplayPendingWebhooks(ctx)
	report.WebhooksReplayed = replayed
	if err != nil {
		errs = append(errs, err)
	}

	outcome := "success"
	if len(errs) > 0 {
		outcome = "partial_failure"
	}
	s.logger.InfoContext(ctx, "settlement sweep completed",
		"module", "application.sweep",
		"layer", "application",
		"operation", "run_sweep",
		"outcome", outcome,
		"marked_overdue", report.MarkedOverdue,
		"charges_attempted", report.ChargesAttempted,
		"charges_skipped", report.ChargesSkipped,
		"charge_errors", report.ChargeErrors,
		"charges_reconciled", report.ChargesReconciled,
		"withdrawals_reconciled", report.WithdrawalsReconciled,
		"webhooks_replayed", report.WebhooksReplayed,
	)
	return report, errors.Join(errs...)
}

func (s *Service) markOverdue(ctx context.Context) (int, error) {
	now := s.nowFn()
	changed, err := s.milestones.MarkOverdue(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	for _, m := range changed {
		event, err := s.newOutboxEvent(domain.EventMilestoneOverdue, "data.milestone_id", m.MilestoneID, milestonePayload(m, now), now)
		if err != nil {
			return len(changed), err
		}
		if err := s.outbox.Enqueue(ctx, event); err != nil {
			return len(changed), err
		}
	}
	return len(changed), nil
}

// reconcileStaleCharges settles in-flight charges that no webhook has resolved,
// including ones whose milestone is no longer eligible for auto-charge.
func (s *Service) reconcileStaleCharges(ctx context.Context) (int, error) {
	stale, err := s.transactions.ListStaleInFlight(ctx, s.nowFn().Add(-s.cfg.InFlightStaleAfter), s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, txn := range stale {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		lockKey := txn.TransactionID
		if txn.MilestoneID != nil {
			lockKey = *txn.MilestoneID
		}
		release, acquired, err := s.tryLock(ctx, milestoneLockPrefix+lockKey)
		if err != nil {
			return settled, err
		}
		if !acquired {
			continue
		}
		_, done, err := s.reconcileCharge(ctx, txn)
		release(context.WithoutCancel(ctx))
		if err != nil {
			s.logger.WarnContext(ctx, "charge status check failed",
				"module", "application.sweep",
				"layer", "application",
				"operation", "reconcile_charge",
				"outcome", "failure",
				"transaction_reference", txn.TransactionReference,
				"error", err,
			)
			continue
		}
		if done {
			settled++
		}
	}
	return settled, nil
}

func (s *Service) tryLock(ctx context.Context, key string) (func(context.Context), bool, error) {
	if s.locker == nil {
		return func(context.Context) {}, true, nil
	}
	return s.locker.TryLock(ctx, key, s.cfg.SweepLockTTL)
}

func (s *Service) autoCharge(ctx context.Context) (attempted, skipped, failed int, err error) {
	due, err := s.milestones.ListChargeable(ctx, ports.ChargeableQuery{
		Now:         s.nowFn(),
		MaxAttempts: s.maxChargeAttempts(ctx),
		Limit:       s.cfg.SweepBatchSize,
	})
	if err != nil {
		return 0, 0, 0, err
	}
	if len(due) == 0 {
		return 0, 0, 0, nil
	}

	var nAttempted, nSkipped, nFailed atomic.Int64
	pool := worker.NewPool(len(due), s.logger)
	pool.Start(ctx, s.cfg.SweepConcurrency)
	for _, m := range due {
		milestoneID := m.MilestoneID
		ok := pool.Submit(worker.Job{
			Key: milestoneID,
			Run: func(ctx context.Context) error {
				charged, err := s.sweepMilestone(ctx, milestoneID)
				switch {
				case err != nil:
					nFailed.Add(1)
				case charged:
					nAttempted.Add(1)
				default:
					nSkipped.Add(1)
				}
				return err
			},
		})
		if !ok {
			nSkipped.Add(1)
		}
	}
	pool.Shutdown()
	return int(nAttempted.Load()), int(nSkipped.Load()), int(nFailed.Load()), nil
}

// sweepMilestone runs one auto-charge under a cross-process lease. An in-flight attempt
// is first settled with a status check; a new charge starts only once nothing is in flight.
func (s *Service) sweepMilestone(ctx context.Context, milestoneID string) (bool, error) {
	release, acquired, err := s.tryLock(ctx, milestoneLockPrefix+milestoneID)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer release(context.WithoutCancel(ctx))

	inFlight, err := s.transactions.FindInFlightByMilestone(ctx, milestoneID)
	if err != nil {
		return false, err
	}
	if inFlight != nil {
		if s.nowFn().Sub(inFlight.UpdatedAt) < s.cfg.InFlightStaleAfter {
			return false, nil
		}
		_, settled, err := s.reconcileCharge(ctx, *inFlight)
		if err != nil || !settled {
			return false, err
		}
	}

	milestone, err := s.milestones.GetByID(ctx, milestoneID)
	if err != nil {
		return false, err
	}
	if !milestone.IsOpen() || !milestone.AutoChargeEnabled || milestone.ChargeAttempts >= s.maxChargeAttempts(ctx) {
		return false, nil
	}
	campaign, err := s.campaigns.GetByID(ctx, milestone.CampaignID)
	if err != nil {
		return false, err
	}
	if campaign.Status != domain.CampaignStatusActive {
		return false, nil
	}
	if _, err := s.chargeMilestone(ctx, milestone, campaign); err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) || errors.Is(err, domain.ErrPaymentMethodRequired) {
			s.logger.WarnContext(ctx, "auto-charge deferred",
				"module", "application.sweep",
				"layer", "application",
				"operation", "auto_charge",
				"outcome", "deferred",
				"milestone_id", milestoneID,
				"error", err,
			)
			return true, nil
		}
		return true, err
	}
	return true, nil
}
