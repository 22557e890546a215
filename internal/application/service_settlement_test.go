package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

func chargeEvent(id string, txn domain.Transaction, status domain.GatewayStatus) ports.WebhookEvent {
	return ports.WebhookEvent{
		EventID:    id,
		EventType:  "payment_intent." + string(status),
		Kind:       domain.OperationCharge,
		GatewayRef: "pi_" + txn.TransactionReference,
		Reference:  txn.TransactionReference,
		Status:     status,
	}
}

func processingCharge(req ports.ChargeRequest) (ports.ChargeResult, error) {
	return ports.ChargeResult{GatewayRef: "pi_" + req.IdempotencyKey, Status: domain.GatewayStatusProcessing}, nil
}

func TestSuccessAfterFailedWebhookPaysMilestone(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(cfg *application.Config) { cfg.AutoChargeEnabled = true })
	h.gw.charge = processingCharge
	ctx := context.Background()
	milestone := h.bookCampaignWithAutoCharge(t, "camp-3ds", 30000, 1, true)[0]

	txn, err := h.svc.ChargeMilestone(ctx, brandActor, milestone.MilestoneID)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if got := h.webhook(t, chargeEvent("evt_3ds_failed", txn, domain.GatewayStatusFailed)); got != domain.WebhookOutcomeApplied {
		t.Fatalf("failed webhook outcome = %s", got)
	}
	if got := h.transaction(t, txn.TransactionID).Status; got != domain.TransactionStatusFailed {
		t.Fatalf("transaction status = %s, want FAILED", got)
	}
	if got := h.milestone(t, milestone.MilestoneID).Status; got != domain.MilestoneStatusPending {
		t.Fatalf("milestone status after one decline = %s, want PENDING", got)
	}

	if got := h.webhook(t, chargeEvent("evt_3ds_succeeded", txn, domain.GatewayStatusSucceeded)); got != domain.WebhookOutcomeApplied {
		t.Fatalf("succeeded webhook outcome = %s", got)
	}
	if got := h.transaction(t, txn.TransactionID).Status; got != domain.TransactionStatusCompleted {
		t.Fatalf("transaction status = %s, want COMPLETED", got)
	}
	paid := h.milestone(t, milestone.MilestoneID)
	if paid.Status != domain.MilestoneStatusPaid || paid.TransactionID == nil || *paid.TransactionID != txn.TransactionID {
		t.Fatalf("milestone must be paid by the captured charge, got %+v", paid)
	}
	if payouts := h.payoutsFor(t); len(payouts) != 1 || payouts[0].TransactionID != txn.TransactionID {
		t.Fatalf("expected one payout for %s, got %+v", txn.TransactionID, payouts)
	}

	h.clock.Advance(time.Hour)
	report, err := h.svc.RunSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if charge, _, _ := h.gw.calls(); charge != 1 || report.ChargesAttempted != 0 {
		t.Fatalf("paid milestone was charged again: calls=%d attempted=%d", charge, report.ChargesAttempted)
	}
	events := h.drainEvents(t)
	if events[domain.EventMilestonePaid] != 1 || events[domain.EventPayoutCreated] != 1 || events[domain.EventTransactionOrphaned] != 0 {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestSuccessAfterFailureWithRetryInFlightOrphansRetry(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.gw.charge = processingCharge
	ctx := context.Background()
	milestone := h.bookCampaign(t, "camp-retry-race", 30000, 1)[0]

	first, err := h.svc.ChargeMilestone(ctx, brandActor, milestone.MilestoneID)
	if err != nil {
		t.Fatalf("first charge: %v", err)
	}
	h.webhook(t, chargeEvent("evt_first_failed", first, domain.GatewayStatusFailed))

	retry, err := h.svc.ChargeMilestone(ctx, brandActor, milestone.MilestoneID)
	if err != nil {
		t.Fatalf("retry charge: %v", err)
	}
	if retry.TransactionID == first.TransactionID || retry.Status != domain.TransactionStatusProcessing {
		t.Fatalf("expected a new in-flight attempt, got %+v", retry)
	}

	h.webhook(t, chargeEvent("evt_first_succeeded", first, domain.GatewayStatusSucceeded))
	paid := h.milestone(t, milestone.MilestoneID)
	if paid.Status != domain.MilestoneStatusPaid || *paid.TransactionID != first.TransactionID {
		t.Fatalf("first captured charge should pay the milestone, got %+v", paid)
	}

	if got := h.webhook(t, chargeEvent("evt_retry_succeeded", retry, domain.GatewayStatusSucceeded)); got != domain.WebhookOutcomeApplied {
		t.Fatalf("retry webhook outcome = %s", got)
	}
	if got := h.transaction(t, retry.TransactionID).Status; got != domain.TransactionStatusCompleted {
		t.Fatalf("retry status = %s, want COMPLETED", got)
	}
	if payouts := h.payoutsFor(t); len(payouts) != 1 {
		t.Fatalf("payouts = %d, want 1", len(payouts))
	}
	events := h.drainEvents(t)
	if events[domain.EventTransactionOrphaned] != 1 || events[domain.EventMilestonePaid] != 1 {
		t.Fatalf("retry must be orphaned once, got %v", events)
	}
}

func TestTerminalDeclinesFailMilestoneAtMaxAttempts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(cfg *application.Config) { cfg.MaxChargeAttempts = 3 })
	h.gw.charge = func(ports.ChargeRequest) (ports.ChargeResult, error) {
		return ports.ChargeResult{}, &domain.GatewayError{Gateway: domain.GatewayCard, Code: "card_declined", Message: "insufficient funds", StatusCode: 402}
	}
	ctx := context.Background()
	milestone := h.bookCampaign(t, "camp-declined", 15000, 1)[0]

	for attempt := 1; attempt <= 3; attempt++ {
		txn, err := h.svc.ChargeMilestone(ctx, brandActor, milestone.MilestoneID)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if txn.Status != domain.TransactionStatusFailed || txn.FailureCode != "card_declined" {
			t.Fatalf("attempt %d transaction %+v", attempt, txn)
		}
		m := h.milestone(t, milestone.MilestoneID)
		if m.ChargeAttempts != attempt {
			t.Fatalf("charge attempts = %d, want %d", m.ChargeAttempts, attempt)
		}
		want := domain.MilestoneStatusPending
		if attempt == 3 {
			want = domain.MilestoneStatusFailed
		}
		if m.Status != want {
			t.Fatalf("attempt %d milestone status = %s, want %s", attempt, m.Status, want)
		}
		if m.FailureMessage != "insufficient funds" {
			t.Fatalf("failure message = %q", m.FailureMessage)
		}
	}

	if _, err := h.svc.ChargeMilestone(ctx, brandActor, milestone.MilestoneID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for a failed milestone, got %v", err)
	}
	if charge, _, _ := h.gw.calls(); charge != 3 {
		t.Fatalf("gateway charge calls = %d, want 3", charge)
	}
	events := h.drainEvents(t)
	if events[domain.EventTransactionFailed] != 3 || events[domain.EventMilestoneFailed] != 1 {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestSweepMarksDueMilestoneOverdue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	milestones := h.bookCampaign(t, "camp-overdue", 60000, 2)

	h.clock.Advance(time.Hour)
	report, err := h.svc.RunSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.MarkedOverdue != 1 || report.ChargesAttempted != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := h.milestone(t, milestones[0].MilestoneID).Status; got != domain.MilestoneStatusOverdue {
		t.Fatalf("due milestone status = %s, want OVERDUE", got)
	}
	if got := h.milestone(t, milestones[1].MilestoneID).Status; got != domain.MilestoneStatusPending {
		t.Fatalf("future milestone status = %s, want PENDING", got)
	}
	if charge, _, _ := h.gw.calls(); charge != 0 {
		t.Fatalf("gateway charge calls = %d, want 0", charge)
	}

	again, err := h.svc.RunSweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.MarkedOverdue != 0 {
		t.Fatalf("overdue milestone flagged twice")
	}
	if events := h.drainEvents(t); events[domain.EventMilestoneOverdue] != 1 {
		t.Fatalf("expected one milestone.overdue event, got %v", events)
	}
}

func TestSweepAutoChargesDueMilestone(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(cfg *application.Config) { cfg.AutoChargeEnabled = true })
	h.gw.charge = func(ports.ChargeRequest) (ports.ChargeResult, error) {
		return ports.ChargeResult{GatewayRef: "pi_auto", Status: domain.GatewayStatusSucceeded}, nil
	}
	ctx := context.Background()
	milestones := h.bookCampaignWithAutoCharge(t, "camp-auto", 60000, 2, true)

	h.clock.Advance(time.Hour)
	report, err := h.svc.RunSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.ChargesAttempted != 1 {
		t.Fatalf("charges attempted = %d, want 1", report.ChargesAttempted)
	}
	if got := h.milestone(t, milestones[0].MilestoneID).Status; got != domain.MilestoneStatusPaid {
		t.Fatalf("due milestone status = %s, want PAID", got)
	}
	if got := h.milestone(t, milestones[1].MilestoneID).Status; got != domain.MilestoneStatusPending {
		t.Fatalf("future milestone status = %s, want PENDING", got)
	}
	if h.gw.lastChargeIn.AmountMinor != milestones[0].AmountInPence {
		t.Fatalf("charged %d, want %d", h.gw.lastChargeIn.AmountMinor, milestones[0].AmountInPence)
	}

	if _, err := h.svc.RunSweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if charge, _, _ := h.gw.calls(); charge != 1 {
		t.Fatalf("gateway charge calls = %d, want 1", charge)
	}
	if len(h.payoutsFor(t)) != 1 {
		t.Fatalf("expected exactly one payout")
	}
	events := h.drainEvents(t)
	if events[domain.EventMilestoneOverdue] != 1 || events[domain.EventMilestonePaid] != 1 {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestSweepAutoChargeHonoursToggles(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name           string
		campaignOptsIn bool
		globalSetting  string
	}{
		{name: "global setting off", campaignOptsIn: true, globalSetting: "false"},
		{name: "campaign opted out", campaignOptsIn: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, func(cfg *application.Config) { cfg.AutoChargeEnabled = true })
			ctx := context.Background()
			if tc.globalSetting != "" {
				if _, err := h.svc.UpdateSetting(ctx, adminActor, domain.SettingAutoChargeEnabled, tc.globalSetting); err != nil {
					t.Fatalf("update setting: %v", err)
				}
			}
			milestone := h.bookCampaignWithAutoCharge(t, "camp-toggle", 20000, 1, tc.campaignOptsIn)[0]

			h.clock.Advance(time.Hour)
			report, err := h.svc.RunSweep(ctx)
			if err != nil {
				t.Fatalf("sweep: %v", err)
			}
			if report.ChargesAttempted != 0 {
				t.Fatalf("charges attempted = %d, want 0", report.ChargesAttempted)
			}
			if charge, _, _ := h.gw.calls(); charge != 0 {
				t.Fatalf("gateway charge calls = %d, want 0", charge)
			}
			if got := h.milestone(t, milestone.MilestoneID).Status; got != domain.MilestoneStatusOverdue {
				t.Fatalf("milestone status = %s, want OVERDUE", got)
			}
		})
	}
}

type flakyIdempotency struct {
	ports.IdempotencyRepository

	mu               sync.Mutex
	completeFailures int
}

func (f *flakyIdempotency) Complete(ctx context.Context, key string, code int, body []byte, at time.Time) error {
	f.mu.Lock()
	if f.completeFailures > 0 {
		f.completeFailures--
		f.mu.Unlock()
		return errors.New("idempotency store unavailable")
	}
	f.mu.Unlock()
	return f.IdempotencyRepository.Complete(ctx, key, code, body, at)
}

func TestWithdrawalIsSubmittedWhenIdempotencyCompleteFails(t *testing.T) {
	t.Parallel()
	h := newHarnessWith(t, func(cfg *application.Config) {
		cfg.InfluencerFeePct = "0"
		cfg.PayoutAutoRelease = true
	}, func(deps *application.Dependencies) {
		deps.Idempotency = &flakyIdempotency{IdempotencyRepository: deps.Idempotency, completeFailures: 1}
	})
	h.gw.charge = func(ports.ChargeRequest) (ports.ChargeResult, error) {
		return ports.ChargeResult{GatewayRef: "pi_flaky", Status: domain.GatewayStatusSucceeded}, nil
	}
	ctx := context.Background()
	milestone := h.bookCampaign(t, "camp-flaky", 3000, 1)[0]
	if _, err := h.svc.ChargeMilestone(ctx, brandActor, milestone.MilestoneID); err != nil {
		t.Fatalf("charge: %v", err)
	}
	h.registerBankAccount(t)

	actor := influencerActor
	actor.IdempotencyKey = "wd-flaky"
	input := application.RequestWithdrawalInput{InfluencerID: influencerActor.SubjectID, AmountInPence: 3000, Currency: "GBP"}
	w, err := h.svc.RequestWithdrawal(ctx, actor, input)
	if err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
	if w.Status != domain.WithdrawalStatusProcessing {
		t.Fatalf("withdrawal status = %s, want PROCESSING", w.Status)
	}

	replay, err := h.svc.RequestWithdrawal(ctx, actor, input)
	if err != nil {
		t.Fatalf("retry with the same key: %v", err)
	}
	if replay.WithdrawalID != w.WithdrawalID {
		t.Fatalf("retry created a new withdrawal")
	}
	if _, _, payoutCalls := h.gw.calls(); payoutCalls != 1 {
		t.Fatalf("gateway payout calls = %d, want 1", payoutCalls)
	}
}
