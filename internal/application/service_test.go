package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/cache"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/gateway"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

var (
	adminActor      = application.Actor{SubjectID: "ops-1", Role: application.RoleAdmin}
	brandActor      = application.Actor{SubjectID: "brand-1", Role: application.RoleBrand}
	influencerActor = application.Actor{SubjectID: "influencer-1", Role: application.RoleInfluencer}
)

type fakeGateway struct {
	mu           sync.Mutex
	charge       func(ports.ChargeRequest) (ports.ChargeResult, error)
	status       func(reference string) (ports.ChargeResult, error)
	payout       func(ports.PayoutRequest) (ports.PayoutResult, error)
	chargeCalls  int
	statusCalls  int
	payoutCalls  int
	lastChargeIn ports.ChargeRequest
}

func (g *fakeGateway) Name() domain.GatewayName { return domain.GatewayCard }

func (g *fakeGateway) SignatureHeader() string { return "X-Test-Signature" }

func (g *fakeGateway) InitiateCharge(_ context.Context, req ports.ChargeRequest) (ports.ChargeResult, error) {
	g.mu.Lock()
	g.chargeCalls++
	g.lastChargeIn = req
	fn := g.charge
	g.mu.Unlock()
	if fn == nil {
		return ports.ChargeResult{GatewayRef: "pi_default", Status: domain.GatewayStatusProcessing}, nil
	}
	return fn(req)
}

func (g *fakeGateway) GetChargeStatus(_ context.Context, reference string) (ports.ChargeResult, error) {
	g.mu.Lock()
	g.statusCalls++
	fn := g.status
	g.mu.Unlock()
	if fn == nil {
		return ports.ChargeResult{Status: domain.GatewayStatusNotFound}, nil
	}
	return fn(reference)
}

func (g *fakeGateway) InitiatePayout(_ context.Context, req ports.PayoutRequest) (ports.PayoutResult, error) {
	g.mu.Lock()
	g.payoutCalls++
	fn := g.payout
	g.mu.Unlock()
	if fn == nil {
		return ports.PayoutResult{GatewayRef: "tr_default", Status: domain.GatewayStatusProcessing}, nil
	}
	return fn(req)
}

func (g *fakeGateway) GetPayoutStatus(context.Context, string) (ports.PayoutResult, error) {
	return ports.PayoutResult{Status: domain.GatewayStatusProcessing}, nil
}

func (g *fakeGateway) VerifyWebhookSignature(_ []byte, signature string) bool {
	return signature == "valid"
}

func (g *fakeGateway) ParseWebhook(raw []byte) (ports.WebhookEvent, error) {
	var event ports.WebhookEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return ports.WebhookEvent{}, err
	}
	return event, nil
}

func (g *fakeGateway) calls() (charge, status, payout int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chargeCalls, g.statusCalls, g.payoutCalls
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc   *application.Service
	repos postgres.Repositories
	gw    *fakeGateway
	clock *testClock
}

func newHarness(t *testing.T, configure func(*application.Config)) *harness {
	t.Helper()
	return newHarnessWith(t, configure, nil)
}

// newHarnessWith lets a test swap dependencies before the service is built.
func newHarnessWith(t *testing.T, configure func(*application.Config), override func(*application.Dependencies)) *harness {
	t.Helper()
	gw := &fakeGateway{}
	selector, err := gateway.NewSelector([]ports.Gateway{gw}, []gateway.Route{{
		Currency: "GBP",
		Charge:   []domain.GatewayName{domain.GatewayCard},
		Payout:   []domain.GatewayName{domain.GatewayCard},
	}})
	if err != nil {
		t.Fatalf("selector: %v", err)
	}
	cfg := application.Config{
		GatewayRetry: application.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}
	if configure != nil {
		configure(&cfg)
	}
	repos := postgres.NewMemoryRepositories()
	memCache := cache.NewMemoryCache()
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	deps := application.Dependencies{
		Config:         cfg,
		Campaigns:      repos.Campaigns,
		Milestones:     repos.Milestones,
		Transactions:   repos.Transactions,
		Settlement:     repos.Settlement,
		Payouts:        repos.Payouts,
		Withdrawals:    repos.Withdrawals,
		BankAccounts:   repos.BankAccounts,
		PaymentMethods: repos.PaymentMethods,
		Settings:       repos.Settings,
		Webhooks:       repos.Webhooks,
		Outbox:         repos.Outbox,
		Idempotency:    repos.Idempotency,
		EventDedup:     repos.EventDedup,
		Gateways:       selector,
		SettingsCache:  memCache,
		Locker:         memCache,
		Clock:          clock.Now,
		Sleep:          func(context.Context, time.Duration) error { return nil },
	}
	if override != nil {
		override(&deps)
	}
	svc := application.NewService(deps)
	h := &harness{svc: svc, repos: repos, gw: gw, clock: clock}
	if _, err := svc.SavePaymentMethod(context.Background(), brandActor, application.SavePaymentMethodInput{
		UserID:    brandActor.SubjectID,
		Gateway:   domain.GatewayCard,
		Token:     "pm_card_visa",
		Brand:     "visa",
		Last4:     "4242",
		IsDefault: true,
	}); err != nil {
		t.Fatalf("save payment method: %v", err)
	}
	return h
}

func (h *harness) bookCampaign(t *testing.T, campaignID string, total int64, count int) []domain.PaymentMilestone {
	t.Helper()
	return h.bookCampaignWithAutoCharge(t, campaignID, total, count, false)
}

func (h *harness) bookCampaignWithAutoCharge(t *testing.T, campaignID string, total int64, count int, autoCharge bool) []domain.PaymentMilestone {
	t.Helper()
	ctx := context.Background()
	paymentType := domain.PaymentTypeMilestone
	if count == 1 {
		paymentType = domain.PaymentTypeOneOff
	}
	if _, err := h.svc.RegisterCampaign(ctx, brandActor, application.RegisterCampaignInput{
		CampaignID:         campaignID,
		BrandID:            brandActor.SubjectID,
		InfluencerID:       influencerActor.SubjectID,
		TotalAmountInPence: total,
		Currency:           "GBP",
		PaymentType:        paymentType,
		IsRecurringEnabled: autoCharge,
	}); err != nil {
		t.Fatalf("register campaign: %v", err)
	}
	milestones, err := h.svc.CreateMilestones(ctx, brandActor, application.CreateMilestonesInput{
		CampaignID: campaignID,
		Count:      count,
	})
	if err != nil {
		t.Fatalf("create milestones: %v", err)
	}
	return milestones
}

func (h *harness) registerBankAccount(t *testing.T) {
	t.Helper()
	if _, err := h.svc.RegisterBankAccount(context.Background(), influencerActor, application.RegisterBankAccountInput{
		InfluencerID:  influencerActor.SubjectID,
		AccountName:   "Ada Lovelace",
		BankCode:      "040004",
		AccountNumber: "12345678",
		Currency:      "GBP",
		Gateway:       domain.GatewayCard,
		RecipientRef:  "acct_influencer_1",
		IsDefault:     true,
	}); err != nil {
		t.Fatalf("register bank account: %v", err)
	}
}

func (h *harness) webhook(t *testing.T, event ports.WebhookEvent) string {
	t.Helper()
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal webhook: %v", err)
	}
	outcome, err := h.svc.HandleWebhook(context.Background(), string(domain.GatewayCard), raw, "valid")
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	return outcome
}

// drainEvents claims every unpublished outbox record and counts them by type.
func (h *harness) drainEvents(t *testing.T) map[string]int {
	t.Helper()
	records, err := h.repos.Outbox.ClaimUnpublished(context.Background(), 1000, "test-claim", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("claim outbox: %v", err)
	}
	out := make(map[string]int)
	for _, record := range records {
		out[record.EventType]++
	}
	return out
}

func (h *harness) milestone(t *testing.T, milestoneID string) domain.PaymentMilestone {
	t.Helper()
	m, err := h.repos.Milestones.GetByID(context.Background(), milestoneID)
	if err != nil {
		t.Fatalf("get milestone: %v", err)
	}
	return m
}

func (h *harness) transaction(t *testing.T, transactionID string) domain.Transaction {
	t.Helper()
	txn, err := h.repos.Transactions.GetByID(context.Background(), transactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	return txn
}

func (h *harness) payoutsFor(t *testing.T) []domain.InfluencerPayout {
	t.Helper()
	payouts, err := h.repos.Payouts.ListByInfluencer(context.Background(), influencerActor.SubjectID, "GBP")
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	return payouts
}

func TestCreateMilestonesRejectsPlanThatDoesNotFundTotal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.RegisterCampaign(ctx, brandActor, application.RegisterCampaignInput{
		CampaignID:         "camp-mismatch",
		BrandID:            brandActor.SubjectID,
		InfluencerID:       influencerActor.SubjectID,
		TotalAmountInPence: 100000,
		Currency:           "gbp",
		PaymentType:        domain.PaymentTypeMilestone,
	}); err != nil {
		t.Fatalf("register campaign: %v", err)
	}

	_, err := h.svc.CreateMilestones(ctx, brandActor, application.CreateMilestonesInput{
		CampaignID: "camp-mismatch",
		Amounts:    []int64{40000, 40000},
	})
	if !errors.Is(err, domain.ErrMilestoneSumMismatch) {
		t.Fatalf("expected ErrMilestoneSumMismatch, got %v", err)
	}

	campaign, err := h.svc.GetCampaign(ctx, brandActor, "camp-mismatch")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if campaign.Status != domain.CampaignStatusDraft {
		t.Fatalf("campaign status = %s, want DRAFT", campaign.Status)
	}
	milestones, err := h.svc.ListMilestones(ctx, brandActor, "camp-mismatch")
	if err != nil {
		t.Fatalf("list milestones: %v", err)
	}
	if len(milestones) != 0 {
		t.Fatalf("expected no milestones, got %d", len(milestones))
	}
}

func TestCreateMilestonesSplitsRemainderOntoFirstMilestone(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	milestones := h.bookCampaign(t, "camp-split", 100000, 3)

	want := []int64{33334, 33333, 33333}
	if len(milestones) != len(want) {
		t.Fatalf("milestone count = %d, want %d", len(milestones), len(want))
	}
	for i, m := range milestones {
		if m.AmountInPence != want[i] {
			t.Fatalf("milestone %d amount = %d, want %d", i+1, m.AmountInPence, want[i])
		}
		if m.MilestoneNumber != i+1 || m.Status != domain.MilestoneStatusPending {
			t.Fatalf("unexpected milestone %+v", m)
		}
	}
	if !milestones[1].DueDate.After(milestones[0].DueDate) {
		t.Fatalf("due dates must ascend: %v then %v", milestones[0].DueDate, milestones[1].DueDate)
	}

	campaign, err := h.svc.GetCampaign(context.Background(), influencerActor, "camp-split")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if campaign.Status != domain.CampaignStatusActive {
		t.Fatalf("campaign status = %s, want ACTIVE", campaign.Status)
	}

	if _, err := h.svc.CreateMilestones(context.Background(), brandActor, application.CreateMilestonesInput{
		CampaignID: "camp-split",
		Count:      2,
	}); !errors.Is(err, domain.ErrMilestonesExist) {
		t.Fatalf("expected ErrMilestonesExist on second plan, got %v", err)
	}
}

func TestDuplicateChargeWebhookPaysMilestoneOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.gw.charge = func(ports.ChargeRequest) (ports.ChargeResult, error) {
		return ports.ChargeResult{GatewayRef: "pi_dup", Status: domain.GatewayStatusProcessing}, nil
	}
	milestone := h.bookCampaign(t, "camp-dup", 50000, 1)[0]

	txn, err := h.svc.ChargeMilestone(context.Background(), brandActor, milestone.MilestoneID)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if txn.Status != domain.TransactionStatusProcessing {
		t.Fatalf("transaction status = %s, want PROCESSING", txn.Status)
	}
	if h.gw.lastChargeIn.IdempotencyKey != txn.TransactionReference {
		t.Fatalf("gateway idempotency key = %q, want %q", h.gw.lastChargeIn.IdempotencyKey, txn.TransactionReference)
	}

	again, err := h.svc.ChargeMilestone(context.Background(), brandActor, milestone.MilestoneID)
	if err != nil {
		t.Fatalf("second charge: %v", err)
	}
	if again.TransactionID != txn.TransactionID {
		t.Fatalf("second charge started a new attempt")
	}

	event := ports.WebhookEvent{
		EventID:    "evt_pi_dup_succeeded",
		EventType:  "payment_intent.succeeded",
		Kind:       domain.OperationCharge,
		GatewayRef: "pi_dup",
		Reference:  txn.TransactionReference,
		Status:     domain.GatewayStatusSucceeded,
	}
	if got := h.webhook(t, event); got != domain.WebhookOutcomeApplied {
		t.Fatalf("first delivery outcome = %s", got)
	}
	if got := h.webhook(t, event); got != domain.WebhookOutcomeApplied {
		t.Fatalf("redelivery should return stored outcome, got %s", got)
	}
	event.EventID = "evt_pi_dup_succeeded_retry"
	if got := h.webhook(t, event); got != domain.WebhookOutcomeNoop {
		t.Fatalf("second event for settled charge = %s, want noop", got)
	}

	if charge, _, _ := h.gw.calls(); charge != 1 {
		t.Fatalf("gateway charge calls = %d, want 1", charge)
	}
	stored, err := h.svc.GetTransaction(context.Background(), brandActor, txn.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if stored.Status != domain.TransactionStatusCompleted {
		t.Fatalf("transaction status = %s, want COMPLETED", stored.Status)
	}
	paid, err := h.repos.Milestones.GetByID(context.Background(), milestone.MilestoneID)
	if err != nil {
		t.Fatalf("get milestone: %v", err)
	}
	if paid.Status != domain.MilestoneStatusPaid {
		t.Fatalf("milestone status = %s, want PAID", paid.Status)
	}

	payouts := h.payoutsFor(t)
	if len(payouts) != 1 {
		t.Fatalf("payouts = %d, want 1", len(payouts))
	}
	p := payouts[0]
	if p.GrossAmountInPence != 50000 || p.PlatformFeeInPence != 5000 || p.NetAmountInPence != 45000 {
		t.Fatalf("unexpected payout amounts %+v", p)
	}
	if p.NetAmountInPence != p.GrossAmountInPence-p.PlatformFeeInPence {
		t.Fatalf("net must equal gross minus fee: %+v", p)
	}
	if p.Status != domain.PayoutStatusPendingRelease {
		t.Fatalf("payout status = %s, want PENDING_RELEASE", p.Status)
	}

	events := h.drainEvents(t)
	if events[domain.EventTransactionCompleted] != 1 || events[domain.EventMilestonePaid] != 1 || events[domain.EventPayoutCreated] != 1 {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestUpdatedFeeSettingAppliesToNextPayout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.gw.charge = func(ports.ChargeRequest) (ports.ChargeResult, error) {
		return ports.ChargeResult{GatewayRef: "pi_sync", Status: domain.GatewayStatusSucceeded}, nil
	}
	ctx := context.Background()
	if _, err := h.svc.UpdateSetting(ctx, adminActor, domain.SettingInfluencerFeePercentage, "10"); err != nil {
		t.Fatalf("update setting: %v", err)
	}
	first := h.bookCampaign(t, "camp-fee-a", 50000, 1)[0]
	if _, err := h.svc.ChargeMilestone(ctx, brandActor, first.MilestoneID); err != nil {
		t.Fatalf("charge a: %v", err)
	}

	if _, err := h.svc.UpdateSetting(ctx, adminActor, domain.SettingInfluencerFeePercentage, "12.5"); err != nil {
		t.Fatalf("update setting: %v", err)
	}
	second := h.bookCampaign(t, "camp-fee-b", 50000, 1)[0]
	if _, err := h.svc.ChargeMilestone(ctx, brandActor, second.MilestoneID); err != nil {
		t.Fatalf("charge b: %v", err)
	}

	a, err := h.repos.Payouts.GetByMilestone(ctx, first.MilestoneID)
	if err != nil {
		t.Fatalf("payout a: %v", err)
	}
	b, err := h.repos.Payouts.GetByMilestone(ctx, second.MilestoneID)
	if err != nil {
		t.Fatalf("payout b: %v", err)
	}
	if a.PlatformFeeInPence != 5000 || b.PlatformFeeInPence != 6250 {
		t.Fatalf("fees = %d and %d, want 5000 and 6250", a.PlatformFeeInPence, b.PlatformFeeInPence)
	}

	if _, err := h.svc.UpdateSetting(ctx, adminActor, domain.SettingInfluencerFeePercentage, "120"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid percentage to be rejected, got %v", err)
	}
	if _, err := h.svc.UpdateSetting(ctx, brandActor, domain.SettingInfluencerFeePercentage, "5"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected brand to be forbidden, got %v", err)
	}
}

func TestWithdrawalCannotExceedReleasedBalance(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(cfg *application.Config) { cfg.InfluencerFeePct = "0" })
	h.gw.charge = func(ports.ChargeRequest) (ports.ChargeResult, error) {
		return ports.ChargeResult{GatewayRef: "pi_w", Status: domain.GatewayStatusSucceeded}, nil
	}
	h.gw.payout = func(ports.PayoutRequest) (ports.PayoutResult, error) {
		return ports.PayoutResult{GatewayRef: "tr_w", Status: domain.GatewayStatusProcessing}, nil
	}
	ctx := context.Background()
	milestone := h.bookCampaign(t, "camp-withdraw", 3000, 1)[0]
	txn, err := h.svc.ChargeMilestone(ctx, brandActor, milestone.MilestoneID)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if txn.Status != domain.TransactionStatusCompleted {
		t.Fatalf("transaction status = %s, want COMPLETED", txn.Status)
	}
	payout, err := h.repos.Payouts.GetByMilestone(ctx, milestone.MilestoneID)
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if _, err := h.svc.ReleasePayout(ctx, influencerActor, payout.PayoutID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected influencer release to be forbidden, got %v", err)
	}
	if _, err := h.svc.ReleasePayout(ctx, adminActor, payout.PayoutID); err != nil {
		t.Fatalf("release payout: %v", err)
	}
	h.registerBankAccount(t)

	actor := influencerActor
	actor.IdempotencyKey = "wd-too-much"
	_, err = h.svc.RequestWithdrawal(ctx, actor, application.RequestWithdrawalInput{
		InfluencerID:  influencerActor.SubjectID,
		AmountInPence: 5000,
		Currency:      "GBP",
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	list, err := h.svc.ListWithdrawals(ctx, influencerActor, influencerActor.SubjectID, "GBP")
	if err != nil {
		t.Fatalf("list withdrawals: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected request created %d withdrawals", len(list))
	}
	if _, _, payoutCalls := h.gw.calls(); payoutCalls != 0 {
		t.Fatalf("gateway payout calls = %d, want 0", payoutCalls)
	}

	actor.IdempotencyKey = "wd-all"
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
		t.Fatalf("replayed withdrawal: %v", err)
	}
	if replay.WithdrawalID != w.WithdrawalID {
		t.Fatalf("replay created a new withdrawal")
	}
	if _, _, payoutCalls := h.gw.calls(); payoutCalls != 1 {
		t.Fatalf("gateway payout calls = %d, want 1", payoutCalls)
	}

	input.AmountInPence = 1000
	if _, err := h.svc.RequestWithdrawal(ctx, actor, input); !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict for a changed body, got %v", err)
	}

	balance, err := h.svc.GetBalance(ctx, influencerActor, influencerActor.SubjectID, "GBP")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.AvailableInPence != 0 || balance.InFlightWithdrawalPence != 3000 {
		t.Fatalf("unexpected balance %+v", balance)
	}
}

func TestTimedOutChargeIsSettledByStatusCheckNotRecharge(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.gw.charge = func(ports.ChargeRequest) (ports.ChargeResult, error) {
		return ports.ChargeResult{}, &domain.GatewayError{Gateway: domain.GatewayCard, Retryable: true, Code: "timeout", Message: "read timeout"}
	}
	h.gw.status = func(string) (ports.ChargeResult, error) {
		return ports.ChargeResult{GatewayRef: "pi_late", Status: domain.GatewayStatusSucceeded}, nil
	}
	ctx := context.Background()
	milestone := h.bookCampaign(t, "camp-timeout", 20000, 1)[0]

	txn, err := h.svc.ChargeMilestone(ctx, brandActor, milestone.MilestoneID)
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if txn.TransactionID == "" || txn.Status != domain.TransactionStatusPending {
		t.Fatalf("expected pending transaction, got %+v", txn)
	}
	if charge, _, _ := h.gw.calls(); charge != 3 {
		t.Fatalf("gateway charge calls = %d, want 3", charge)
	}

	h.clock.Advance(3 * time.Minute)
	report, err := h.svc.RunSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.ChargesReconciled != 1 {
		t.Fatalf("charges reconciled = %d, want 1", report.ChargesReconciled)
	}
	charge, status, _ := h.gw.calls()
	if charge != 3 || status != 1 {
		t.Fatalf("gateway calls charge=%d status=%d, want 3 and 1", charge, status)
	}
	stored, err := h.repos.Transactions.GetByID(ctx, txn.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if stored.Status != domain.TransactionStatusCompleted {
		t.Fatalf("transaction status = %s, want COMPLETED", stored.Status)
	}
	if len(h.payoutsFor(t)) != 1 {
		t.Fatalf("expected exactly one payout")
	}
}

func TestChargeUnknownToGatewayFailsAsNotSubmitted(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.gw.charge = func(ports.ChargeRequest) (ports.ChargeResult, error) {
		return ports.ChargeResult{}, &domain.GatewayError{Gateway: domain.GatewayCard, Retryable: true, Code: "unavailable", StatusCode: 503}
	}
	ctx := context.Background()
	milestone := h.bookCampaign(t, "camp-lost", 20000, 1)[0]
	txn, err := h.svc.ChargeMilestone(ctx, brandActor, milestone.MilestoneID)
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}

	h.clock.Advance(3 * time.Minute)
	if _, err := h.svc.RunSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	stored, err := h.repos.Transactions.GetByID(ctx, txn.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if stored.Status != domain.TransactionStatusFailed || stored.FailureCode != "not_submitted" {
		t.Fatalf("unexpected transaction %+v", stored)
	}
	if len(h.payoutsFor(t)) != 0 {
		t.Fatalf("failed charge must not create a payout")
	}
}

func TestConcurrentWebhookAndSweepCompleteChargeOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.gw.charge = func(ports.ChargeRequest) (ports.ChargeResult, error) {
		return ports.ChargeResult{GatewayRef: "pi_race", Status: domain.GatewayStatusProcessing}, nil
	}
	h.gw.status = func(string) (ports.ChargeResult, error) {
		return ports.ChargeResult{GatewayRef: "pi_race", Status: domain.GatewayStatusSucceeded}, nil
	}
	ctx := context.Background()
	milestone := h.bookCampaign(t, "camp-race", 40000, 1)[0]
	txn, err := h.svc.ChargeMilestone(ctx, brandActor, milestone.MilestoneID)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	h.clock.Advance(3 * time.Minute)

	raw, err := json.Marshal(ports.WebhookEvent{
		EventID:    "evt_race",
		EventType:  "payment_intent.succeeded",
		Kind:       domain.OperationCharge,
		GatewayRef: "pi_race",
		Reference:  txn.TransactionReference,
		Status:     domain.GatewayStatusSucceeded,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := h.svc.HandleWebhook(ctx, string(domain.GatewayCard), raw, "valid"); err != nil {
			errs <- err
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := h.svc.RunSweep(ctx); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent settlement: %v", err)
	}

	if len(h.payoutsFor(t)) != 1 {
		t.Fatalf("expected exactly one payout")
	}
	events := h.drainEvents(t)
	if events[domain.EventTransactionCompleted] != 1 || events[domain.EventMilestonePaid] != 1 {
		t.Fatalf("completion must be emitted once, got %v", events)
	}
}

func TestReversedTransferFailsCompletedWithdrawal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(cfg *application.Config) {
		cfg.InfluencerFeePct = "0"
		cfg.PayoutAutoRelease = true
	})
	h.gw.charge = func(ports.ChargeRequest) (ports.ChargeResult, error) {
		return ports.ChargeResult{GatewayRef: "pi_rev", Status: domain.GatewayStatusSucceeded}, nil
	}
	h.gw.payout = func(ports.PayoutRequest) (ports.PayoutResult, error) {
		return ports.PayoutResult{GatewayRef: "tr_rev", Status: domain.GatewayStatusSucceeded}, nil
	}
	ctx := context.Background()
	milestone := h.bookCampaign(t, "camp-reverse", 3000, 1)[0]
	if _, err := h.svc.ChargeMilestone(ctx, brandActor, milestone.MilestoneID); err != nil {
		t.Fatalf("charge: %v", err)
	}
	h.registerBankAccount(t)

	actor := influencerActor
	actor.IdempotencyKey = "wd-reverse"
	w, err := h.svc.RequestWithdrawal(ctx, actor, application.RequestWithdrawalInput{
		InfluencerID:  influencerActor.SubjectID,
		AmountInPence: 3000,
		Currency:      "GBP",
	})
	if err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
	if w.Status != domain.WithdrawalStatusCompleted {
		t.Fatalf("withdrawal status = %s, want COMPLETED", w.Status)
	}

	outcome := h.webhook(t, ports.WebhookEvent{
		EventID:       "evt_tr_rev",
		EventType:     "transfer.reversed",
		Kind:          domain.OperationPayout,
		GatewayRef:    "tr_rev",
		Reference:     w.Reference,
		Status:        domain.GatewayStatusReversed,
		FailureReason: "account closed",
	})
	if outcome != domain.WebhookOutcomeApplied {
		t.Fatalf("reversal outcome = %s", outcome)
	}
	stored, err := h.svc.GetWithdrawal(ctx, influencerActor, w.WithdrawalID)
	if err != nil {
		t.Fatalf("get withdrawal: %v", err)
	}
	if stored.Status != domain.WithdrawalStatusFailed || stored.FailureReason != "account closed" {
		t.Fatalf("unexpected withdrawal %+v", stored)
	}
	balance, err := h.svc.GetBalance(ctx, influencerActor, influencerActor.SubjectID, "GBP")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.AvailableInPence != 3000 {
		t.Fatalf("reversed funds should return to balance, got %+v", balance)
	}
}

func TestChargeCompletingAfterCancellationIsOrphaned(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.gw.charge = func(ports.ChargeRequest) (ports.ChargeResult, error) {
		return ports.ChargeResult{GatewayRef: "pi_orphan", Status: domain.GatewayStatusProcessing}, nil
	}
	ctx := context.Background()
	milestone := h.bookCampaign(t, "camp-orphan", 25000, 1)[0]
	txn, err := h.svc.ChargeMilestone(ctx, brandActor, milestone.MilestoneID)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	campaign, err := h.svc.CancelCampaign(ctx, brandActor, "camp-orphan", "brand withdrew")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if campaign.Status != domain.CampaignStatusCancelled {
		t.Fatalf("campaign status = %s", campaign.Status)
	}

	outcome := h.webhook(t, ports.WebhookEvent{
		EventID:    "evt_orphan",
		EventType:  "payment_intent.succeeded",
		Kind:       domain.OperationCharge,
		GatewayRef: "pi_orphan",
		Reference:  txn.TransactionReference,
		Status:     domain.GatewayStatusSucceeded,
	})
	if outcome != domain.WebhookOutcomeApplied {
		t.Fatalf("outcome = %s", outcome)
	}
	stored, err := h.repos.Transactions.GetByID(ctx, txn.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if stored.Status != domain.TransactionStatusCompleted {
		t.Fatalf("transaction status = %s, want COMPLETED", stored.Status)
	}
	if _, err := h.repos.Payouts.GetByMilestone(ctx, milestone.MilestoneID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("orphaned charge must not create a payout, got %v", err)
	}
	cancelled, err := h.repos.Milestones.GetByID(ctx, milestone.MilestoneID)
	if err != nil {
		t.Fatalf("get milestone: %v", err)
	}
	if cancelled.Status != domain.MilestoneStatusCancelled {
		t.Fatalf("milestone status = %s, want CANCELLED", cancelled.Status)
	}
	if events := h.drainEvents(t); events[domain.EventTransactionOrphaned] != 1 {
		t.Fatalf("expected a transaction.orphaned event, got %v", events)
	}
}

func TestWebhookForUnknownReferenceIsRecordedAsUnmatched(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	outcome := h.webhook(t, ports.WebhookEvent{
		EventID:    "evt_stranger",
		EventType:  "payment_intent.succeeded",
		Kind:       domain.OperationCharge,
		GatewayRef: "pi_unknown",
		Reference:  "TXN-DOESNOTEXIST",
		Status:     domain.GatewayStatusSucceeded,
	})
	if outcome != domain.WebhookOutcomeUnmatched {
		t.Fatalf("outcome = %s, want unmatched", outcome)
	}
	if events := h.drainEvents(t); events[domain.EventWebhookUnmatched] != 1 {
		t.Fatalf("expected webhook.unmatched event, got %v", events)
	}

	if _, err := h.svc.HandleWebhook(context.Background(), string(domain.GatewayCard), []byte(`{}`), "forged"); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestHandleDomainEventBooksCampaignOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	data, err := json.Marshal(contracts.CampaignBookedPayload{
		CampaignID:         "camp-booked",
		BrandID:            brandActor.SubjectID,
		InfluencerID:       influencerActor.SubjectID,
		TotalAmountInPence: 90000,
		Currency:           "GBP",
		PaymentType:        "milestone",
		MilestoneCount:     3,
		IntervalDays:       14,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	event := contracts.EventEnvelope{
		EventID:          "evt-booked-1",
		EventType:        domain.EventCampaignBooked,
		OccurredAt:       h.clock.Now(),
		PartitionKeyPath: "data.campaign_id",
		PartitionKey:     "camp-booked",
		SourceService:    "M05-Campaign-Service",
		TraceID:          "trace-1",
		SchemaVersion:    "v1",
		Data:             data,
	}
	if err := h.svc.HandleDomainEvent(ctx, event); err != nil {
		t.Fatalf("handle booked: %v", err)
	}
	if err := h.svc.HandleDomainEvent(ctx, event); err != nil {
		t.Fatalf("replayed booked event: %v", err)
	}
	dup, err := h.repos.EventDedup.IsDuplicate(ctx, "evt-booked-1", h.clock.Now())
	if err != nil {
		t.Fatalf("dedup lookup: %v", err)
	}
	if !dup {
		t.Fatalf("processed event should be recorded for dedup")
	}

	milestones, err := h.svc.ListMilestones(ctx, adminActor, "camp-booked")
	if err != nil {
		t.Fatalf("list milestones: %v", err)
	}
	if len(milestones) != 3 {
		t.Fatalf("milestones = %d, want 3", len(milestones))
	}
	if gap := milestones[1].DueDate.Sub(milestones[0].DueDate); gap != 14*24*time.Hour {
		t.Fatalf("due date interval = %s", gap)
	}

	bad := event
	bad.EventID = "evt-booked-2"
	bad.PartitionKey = "another-campaign"
	if err := h.svc.HandleDomainEvent(ctx, bad); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for partition key mismatch, got %v", err)
	}
	unknown := event
	unknown.EventType = "campaign.renamed"
	if err := h.svc.HandleDomainEvent(ctx, unknown); !errors.Is(err, domain.ErrUnsupportedEventType) {
		t.Fatalf("expected ErrUnsupportedEventType, got %v", err)
	}
}
