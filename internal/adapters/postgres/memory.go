package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

// memoryStore backs every in-memory repository with one lock, so multi-row operations
// are as atomic as their Postgres counterparts.
type memoryStore struct {
	mu             sync.Mutex
	campaigns      map[string]domain.Campaign
	milestones     map[string]domain.PaymentMilestone
	transactions   map[string]domain.Transaction
	payouts        map[string]domain.InfluencerPayout
	withdrawals    map[string]domain.Withdrawal
	bankAccounts   map[string]domain.InfluencerBankAccount
	paymentMethods map[string]domain.PaymentMethod
	settings       map[string]domain.PlatformSetting
	webhooks       map[string]ports.WebhookRecord
	outbox         map[uuid.UUID]ports.OutboxRecord
	outboxOrder    []uuid.UUID
	idempotency    map[string]ports.IdempotencyRecord
	dedup          map[string]time.Time
}

// NewMemoryRepositories returns store-free repositories for tests and local runs.
func NewMemoryRepositories() Repositories {
	s := &memoryStore{
		campaigns:      make(map[string]domain.Campaign),
		milestones:     make(map[string]domain.PaymentMilestone),
		transactions:   make(map[string]domain.Transaction),
		payouts:        make(map[string]domain.InfluencerPayout),
		withdrawals:    make(map[string]domain.Withdrawal),
		bankAccounts:   make(map[string]domain.InfluencerBankAccount),
		paymentMethods: make(map[string]domain.PaymentMethod),
		settings:       make(map[string]domain.PlatformSetting),
		webhooks:       make(map[string]ports.WebhookRecord),
		outbox:         make(map[uuid.UUID]ports.OutboxRecord),
		idempotency:    make(map[string]ports.IdempotencyRecord),
		dedup:          make(map[string]time.Time),
	}
	return Repositories{
		Campaigns:      &memCampaignRepository{s: s},
		Milestones:     &memMilestoneRepository{s: s},
		Transactions:   &memTransactionRepository{s: s},
		Settlement:     &memSettlementRepository{s: s},
		Payouts:        &memPayoutRepository{s: s},
		Withdrawals:    &memWithdrawalRepository{s: s},
		BankAccounts:   &memBankAccountRepository{s: s},
		PaymentMethods: &memPaymentMethodRepository{s: s},
		Settings:       &memSettingsRepository{s: s},
		Webhooks:       &memWebhookEventRepository{s: s},
		Outbox:         &memOutboxRepository{s: s},
		Idempotency:    &memIdempotencyRepository{s: s},
		EventDedup:     &memEventDedupRepository{s: s},
	}
}

func (s *memoryStore) enqueue(events []ports.OutboxEvent) {
	for _, event := range events {
		s.outbox[event.EventID] = ports.OutboxRecord{
			OutboxID:     event.EventID,
			EventType:    event.EventType,
			PartitionKey: event.PartitionKey,
			Payload:      slices.Clone(event.Payload),
			CreatedAt:    event.OccurredAt,
		}
		s.outboxOrder = append(s.outboxOrder, event.EventID)
	}
}

type memCampaignRepository struct{ s *memoryStore }

func (r *memCampaignRepository) Create(_ context.Context, campaign domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.campaigns[campaign.CampaignID]; ok {
		return domain.ErrConflict
	}
	r.s.campaigns[campaign.CampaignID] = campaign
	return nil
}

func (r *memCampaignRepository) GetByID(_ context.Context, campaignID string) (domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	campaign, ok := r.s.campaigns[campaignID]
	if !ok {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return campaign, nil
}

func (r *memCampaignRepository) ActivateWithMilestones(_ context.Context, campaignID string, milestones []domain.PaymentMilestone, at time.Time) (domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	campaign, ok := r.s.campaigns[campaignID]
	if !ok {
		return domain.Campaign{}, domain.ErrNotFound
	}
	switch campaign.Status {
	case domain.CampaignStatusDraft:
	case domain.CampaignStatusActive, domain.CampaignStatusCompleted:
		return domain.Campaign{}, domain.ErrMilestonesExist
	default:
		return domain.Campaign{}, domain.ErrCampaignNotActive
	}
	amounts := make([]int64, 0, len(milestones))
	for _, m := range milestones {
		amounts = append(amounts, m.AmountInPence)
	}
	if err := domain.ValidateMilestoneAmounts(campaign.TotalAmountInPence, amounts); err != nil {
		return domain.Campaign{}, err
	}
	for _, m := range milestones {
		r.s.milestones[m.MilestoneID] = m
	}
	campaign.Status = domain.CampaignStatusActive
	campaign.UpdatedAt = at
	r.s.campaigns[campaignID] = campaign
	return campaign, nil
}

func (r *memCampaignRepository) Cancel(_ context.Context, campaignID string, at time.Time) (domain.Campaign, []domain.PaymentMilestone, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	campaign, ok := r.s.campaigns[campaignID]
	if !ok {
		return domain.Campaign{}, nil, domain.ErrNotFound
	}
	switch campaign.Status {
	case domain.CampaignStatusCancelled:
		return campaign, nil, nil
	case domain.CampaignStatusCompleted:
		return domain.Campaign{}, nil, fmt.Errorf("%w: campaign is COMPLETED", domain.ErrInvalidTransition)
	}
	var cancelled []domain.PaymentMilestone
	for id, m := range r.s.milestones {
		if m.CampaignID != campaignID || !m.IsOpen() {
			continue
		}
		m.Status = domain.MilestoneStatusCancelled
		m.UpdatedAt = at
		r.s.milestones[id] = m
		cancelled = append(cancelled, m)
	}
	sort.Slice(cancelled, func(i, j int) bool { return cancelled[i].MilestoneNumber < cancelled[j].MilestoneNumber })
	campaign.Status = domain.CampaignStatusCancelled
	campaign.UpdatedAt = at
	r.s.campaigns[campaignID] = campaign
	return campaign, cancelled, nil
}

type memMilestoneRepository struct{ s *memoryStore }

func (r *memMilestoneRepository) GetByID(_ context.Context, milestoneID string) (domain.PaymentMilestone, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.milestones[milestoneID]
	if !ok {
		return domain.PaymentMilestone{}, domain.ErrNotFound
	}
	return m, nil
}

func (r *memMilestoneRepository) ListByCampaign(_ context.Context, campaignID string) ([]domain.PaymentMilestone, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.PaymentMilestone, 0)
	for _, m := range r.s.milestones {
		if m.CampaignID == campaignID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MilestoneNumber < out[j].MilestoneNumber })
	return out, nil
}

func (r *memMilestoneRepository) MarkOverdue(_ context.Context, now time.Time, limit int) ([]domain.PaymentMilestone, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	due := make([]domain.PaymentMilestone, 0)
	for _, m := range r.s.milestones {
		if m.Status == domain.MilestoneStatusPending && m.DueDate.Before(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueDate.Before(due[j].DueDate) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = domain.MilestoneStatusOverdue
		due[i].UpdatedAt = now
		r.s.milestones[due[i].MilestoneID] = due[i]
	}
	return due, nil
}

func (r *memMilestoneRepository) ListChargeable(_ context.Context, query ports.ChargeableQuery) ([]domain.PaymentMilestone, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.PaymentMilestone, 0)
	for _, m := range r.s.milestones {
		if !m.IsOpen() || !m.AutoChargeEnabled || m.DueDate.After(query.Now) || m.ChargeAttempts >= query.MaxAttempts {
			continue
		}
		if r.s.campaigns[m.CampaignID].Status != domain.CampaignStatusActive {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

type memTransactionRepository struct{ s *memoryStore }

func (r *memTransactionRepository) CreateForMilestone(_ context.Context, txn domain.Transaction, at time.Time) error {
	if txn.MilestoneID == nil {
		return fmt.Errorf("%w: milestone_id is required", domain.ErrInvalidInput)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.milestones[*txn.MilestoneID]
	if !ok {
		return domain.ErrNotFound
	}
	if !m.IsOpen() {
		return fmt.Errorf("%w: milestone is %s", domain.ErrInvalidTransition, m.Status)
	}
	for _, existing := range r.s.transactions {
		if existing.MilestoneID != nil && *existing.MilestoneID == m.MilestoneID && existing.InFlight() {
			return domain.ErrChargeInFlight
		}
		if existing.TransactionReference == txn.TransactionReference {
			return domain.ErrConflict
		}
	}
	r.s.transactions[txn.TransactionID] = txn
	m.ChargeAttempts++
	m.LastAttemptAt = &at
	m.UpdatedAt = at
	r.s.milestones[m.MilestoneID] = m
	return nil
}

func (r *memTransactionRepository) GetByID(_ context.Context, transactionID string) (domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	txn, ok := r.s.transactions[transactionID]
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return txn, nil
}

func (r *memTransactionRepository) GetByReference(_ context.Context, reference string) (domain.Transaction, error) {
	return r.find(func(t domain.Transaction) bool { return t.TransactionReference == reference })
}

func (r *memTransactionRepository) GetByGatewayPaymentID(_ context.Context, gateway domain.GatewayName, gatewayPaymentID string) (domain.Transaction, error) {
	return r.find(func(t domain.Transaction) bool {
		return t.Gateway == gateway && t.GatewayPaymentID != nil && *t.GatewayPaymentID == gatewayPaymentID
	})
}

func (r *memTransactionRepository) find(match func(domain.Transaction) bool) (domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, txn := range r.s.transactions {
		if match(txn) {
			return txn, nil
		}
	}
	return domain.Transaction{}, domain.ErrNotFound
}

func (r *memTransactionRepository) FindInFlightByMilestone(_ context.Context, milestoneID string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, txn := range r.s.transactions {
		if txn.MilestoneID != nil && *txn.MilestoneID == milestoneID && txn.InFlight() {
			out := txn
			return &out, nil
		}
	}
	return nil, nil
}

func (r *memTransactionRepository) ListByMilestone(_ context.Context, milestoneID string) ([]domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Transaction, 0)
	for _, txn := range r.s.transactions {
		if txn.MilestoneID != nil && *txn.MilestoneID == milestoneID {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memTransactionRepository) ListStaleInFlight(_ context.Context, updatedBefore time.Time, limit int) ([]domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Transaction, 0)
	for _, txn := range r.s.transactions {
		if txn.InFlight() && txn.UpdatedAt.Before(updatedBefore) {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memTransactionRepository) MarkProcessing(_ context.Context, transactionID, gatewayPaymentID, redirectURL string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	txn, ok := r.s.transactions[transactionID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if txn.Status != domain.TransactionStatusPending {
		return false, nil
	}
	txn.Status = domain.TransactionStatusProcessing
	if gatewayPaymentID != "" {
		ref := gatewayPaymentID
		txn.GatewayPaymentID = &ref
	}
	txn.RedirectURL = redirectURL
	txn.UpdatedAt = at
	r.s.transactions[transactionID] = txn
	return true, nil
}

func (r *memTransactionRepository) SaveWebhookPayload(_ context.Context, transactionID string, payload []byte, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	txn, ok := r.s.transactions[transactionID]
	if !ok {
		return domain.ErrNotFound
	}
	txn.WebhookPayload = json.RawMessage(jsonColumn(payload))
	txn.UpdatedAt = at
	r.s.transactions[transactionID] = txn
	return nil
}

type memSettlementRepository struct{ s *memoryStore }

func (r *memSettlementRepository) CompleteCharge(_ context.Context, params ports.CompleteChargeParams) (ports.CompleteChargeResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	txn, ok := r.s.transactions[params.TransactionID]
	if !ok {
		return ports.CompleteChargeResult{}, domain.ErrNotFound
	}
	if !txn.Completable() {
		return ports.CompleteChargeResult{Transaction: txn}, nil
	}
	if txn.MilestoneID == nil {
		return ports.CompleteChargeResult{}, fmt.Errorf("%w: transaction %s has no milestone", domain.ErrInvalidInput, txn.TransactionID)
	}
	milestone, ok := r.s.milestones[*txn.MilestoneID]
	if !ok {
		return ports.CompleteChargeResult{}, domain.ErrNotFound
	}
	campaign := r.s.campaigns[milestone.CampaignID]
	open := milestone.AcceptsPayment() && campaign.Status == domain.CampaignStatusActive
	if open {
		for _, p := range r.s.payouts {
			if p.MilestoneID == milestone.MilestoneID {
				return ports.CompleteChargeResult{}, fmt.Errorf("%w: milestone %s already has a payout", domain.ErrConflict, milestone.MilestoneID)
			}
		}
	}

	txn.Status = domain.TransactionStatusCompleted
	txn.CompletedAt = &params.CompletedAt
	txn.UpdatedAt = params.CompletedAt
	if params.GatewayPaymentID != "" {
		ref := params.GatewayPaymentID
		txn.GatewayPaymentID = &ref
	}
	if params.GatewayTransactionID != "" {
		ref := params.GatewayTransactionID
		txn.GatewayTransactionID = &ref
	}
	if payload := jsonColumn(params.WebhookPayload); payload != nil {
		txn.WebhookPayload = json.RawMessage(payload)
	}
	r.s.transactions[txn.TransactionID] = txn
	result := ports.CompleteChargeResult{Applied: true, Transaction: txn}

	if open {
		milestone.Status = domain.MilestoneStatusPaid
		milestone.TransactionID = &txn.TransactionID
		milestone.PaidAt = &params.CompletedAt
		milestone.FailureMessage = ""
		milestone.UpdatedAt = params.CompletedAt
		r.s.milestones[milestone.MilestoneID] = milestone

		campaign.PaidAmountInPence += milestone.AmountInPence
		if params.Payout.Status == domain.PayoutStatusReleased {
			campaign.ReleasedToInfluencerInPence += params.Payout.GrossAmountInPence
		}
		if campaign.PaidAmountInPence >= campaign.TotalAmountInPence {
			campaign.Status = domain.CampaignStatusCompleted
		}
		campaign.UpdatedAt = params.CompletedAt
		r.s.campaigns[campaign.CampaignID] = campaign

		payout := params.Payout
		r.s.payouts[payout.PayoutID] = payout
		result.Payout = &payout
		result.MilestonePaid = true
		r.s.enqueue(params.PaidEvents)
	} else {
		result.Orphaned = true
		r.s.enqueue(params.OrphanEvents)
	}
	result.Milestone = &milestone
	return result, nil
}

func (r *memSettlementRepository) FailCharge(_ context.Context, params ports.FailChargeParams) (ports.FailChargeResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	txn, ok := r.s.transactions[params.TransactionID]
	if !ok {
		return ports.FailChargeResult{}, domain.ErrNotFound
	}
	if !txn.InFlight() {
		return ports.FailChargeResult{Transaction: txn}, nil
	}
	txn.Status = domain.TransactionStatusFailed
	txn.FailureCode = params.FailureCode
	txn.FailureMessage = params.FailureMessage
	txn.UpdatedAt = params.At
	if payload := jsonColumn(params.WebhookPayload); payload != nil {
		txn.WebhookPayload = json.RawMessage(payload)
	}
	r.s.transactions[txn.TransactionID] = txn
	result := ports.FailChargeResult{Applied: true, Transaction: txn}
	r.s.enqueue(params.Events)

	if txn.MilestoneID != nil {
		milestone, ok := r.s.milestones[*txn.MilestoneID]
		if !ok {
			return ports.FailChargeResult{}, domain.ErrNotFound
		}
		if milestone.IsOpen() {
			milestone.FailureMessage = params.FailureMessage
			milestone.UpdatedAt = params.At
			if params.MaxAttempts > 0 && milestone.ChargeAttempts >= params.MaxAttempts {
				milestone.Status = domain.MilestoneStatusFailed
				result.MilestoneFailed = true
				r.s.enqueue(params.MilestoneFailedEvents)
			}
			r.s.milestones[milestone.MilestoneID] = milestone
		}
		result.Milestone = &milestone
	}
	return result, nil
}

func (r *memSettlementRepository) ReleasePayout(_ context.Context, payoutID string, at time.Time, events []ports.OutboxEvent) (domain.InfluencerPayout, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payout, ok := r.s.payouts[payoutID]
	if !ok {
		return domain.InfluencerPayout{}, false, domain.ErrNotFound
	}
	if payout.Status != domain.PayoutStatusPendingRelease {
		return payout, false, nil
	}
	payout.Status = domain.PayoutStatusReleased
	payout.ReleasedAt = &at
	payout.UpdatedAt = at
	r.s.payouts[payoutID] = payout
	campaign := r.s.campaigns[payout.CampaignID]
	campaign.ReleasedToInfluencerInPence += payout.GrossAmountInPence
	campaign.UpdatedAt = at
	r.s.campaigns[payout.CampaignID] = campaign
	r.s.enqueue(events)
	return payout, true, nil
}

func (r *memSettlementRepository) VoidPayout(_ context.Context, payoutID, reason string, at time.Time, events []ports.OutboxEvent) (domain.InfluencerPayout, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payout, ok := r.s.payouts[payoutID]
	if !ok {
		return domain.InfluencerPayout{}, false, domain.ErrNotFound
	}
	if payout.Status != domain.PayoutStatusPendingRelease {
		return payout, false, nil
	}
	payout.Status = domain.PayoutStatusFailed
	payout.FailureReason = reason
	payout.UpdatedAt = at
	r.s.payouts[payoutID] = payout
	r.s.enqueue(events)
	return payout, true, nil
}

func (r *memSettlementRepository) CreateWithdrawal(_ context.Context, withdrawal domain.Withdrawal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payouts := make([]domain.InfluencerPayout, 0)
	for _, p := range r.s.payouts {
		payouts = append(payouts, p)
	}
	withdrawals := make([]domain.Withdrawal, 0)
	for _, w := range r.s.withdrawals {
		if w.Reference == withdrawal.Reference {
			return domain.ErrConflict
		}
		withdrawals = append(withdrawals, w)
	}
	balance := domain.ComputeBalance(withdrawal.InfluencerID, withdrawal.Currency, payouts, withdrawals)
	if balance.AvailableInPence < withdrawal.AmountInPence {
		return domain.ErrInsufficientBalance
	}
	r.s.withdrawals[withdrawal.WithdrawalID] = withdrawal
	return nil
}

func (r *memSettlementRepository) TransitionWithdrawal(_ context.Context, transition ports.WithdrawalTransition) (domain.Withdrawal, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.withdrawals[transition.WithdrawalID]
	if !ok {
		return domain.Withdrawal{}, false, domain.ErrNotFound
	}
	if !slices.Contains(transition.From, w.Status) {
		return w, false, nil
	}
	w.Status = transition.To
	w.UpdatedAt = transition.At
	if transition.TransferCode != "" {
		w.TransferCode = transition.TransferCode
	}
	if transition.FailureReason != "" {
		w.FailureReason = transition.FailureReason
	}
	if transition.To == domain.WithdrawalStatusCompleted {
		at := transition.At
		w.CompletedAt = &at
	}
	r.s.withdrawals[w.WithdrawalID] = w
	r.s.enqueue(transition.Events)
	return w, true, nil
}

type memPayoutRepository struct{ s *memoryStore }

func (r *memPayoutRepository) GetByID(_ context.Context, payoutID string) (domain.InfluencerPayout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payouts[payoutID]
	if !ok {
		return domain.InfluencerPayout{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *memPayoutRepository) GetByMilestone(_ context.Context, milestoneID string) (domain.InfluencerPayout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payouts {
		if p.MilestoneID == milestoneID {
			return p, nil
		}
	}
	return domain.InfluencerPayout{}, domain.ErrNotFound
}

func (r *memPayoutRepository) ListByInfluencer(_ context.Context, influencerID, currency string) ([]domain.InfluencerPayout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.InfluencerPayout, 0)
	for _, p := range r.s.payouts {
		if p.InfluencerID == influencerID && (currency == "" || p.Currency == currency) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type memWithdrawalRepository struct{ s *memoryStore }

func (r *memWithdrawalRepository) GetByID(_ context.Context, withdrawalID string) (domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.withdrawals[withdrawalID]
	if !ok {
		return domain.Withdrawal{}, domain.ErrNotFound
	}
	return w, nil
}

func (r *memWithdrawalRepository) GetByReference(_ context.Context, reference string) (domain.Withdrawal, error) {
	return r.find(func(w domain.Withdrawal) bool { return w.Reference == reference })
}

func (r *memWithdrawalRepository) GetByTransferCode(_ context.Context, gateway domain.GatewayName, transferCode string) (domain.Withdrawal, error) {
	return r.find(func(w domain.Withdrawal) bool {
		return w.PaymentGateway == gateway && w.TransferCode != "" && w.TransferCode == transferCode
	})
}

func (r *memWithdrawalRepository) find(match func(domain.Withdrawal) bool) (domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.withdrawals {
		if match(w) {
			return w, nil
		}
	}
	return domain.Withdrawal{}, domain.ErrNotFound
}

func (r *memWithdrawalRepository) ListByInfluencer(_ context.Context, influencerID, currency string) ([]domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Withdrawal, 0)
	for _, w := range r.s.withdrawals {
		if w.InfluencerID == influencerID && (currency == "" || w.Currency == currency) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memWithdrawalRepository) ListStuck(_ context.Context, query ports.StuckWithdrawalQuery) ([]domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Withdrawal, 0)
	for _, w := range r.s.withdrawals {
		inFlight := w.Status == domain.WithdrawalStatusPending || w.Status == domain.WithdrawalStatusProcessing
		if inFlight && w.UpdatedAt.Before(query.UpdatedBefore) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

type memBankAccountRepository struct{ s *memoryStore }

func (r *memBankAccountRepository) Create(_ context.Context, account domain.InfluencerBankAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if account.IsDefault {
		for id, existing := range r.s.bankAccounts {
			if existing.InfluencerID == account.InfluencerID && existing.Currency == account.Currency && existing.IsDefault {
				existing.IsDefault = false
				existing.UpdatedAt = account.UpdatedAt
				r.s.bankAccounts[id] = existing
			}
		}
	}
	r.s.bankAccounts[account.BankAccountID] = account
	return nil
}

func (r *memBankAccountRepository) GetByID(_ context.Context, bankAccountID string) (domain.InfluencerBankAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.bankAccounts[bankAccountID]
	if !ok {
		return domain.InfluencerBankAccount{}, domain.ErrNotFound
	}
	return a, nil
}

func (r *memBankAccountRepository) GetDefault(_ context.Context, influencerID, currency string) (domain.InfluencerBankAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var (
		best  domain.InfluencerBankAccount
		found bool
	)
	for _, a := range r.s.bankAccounts {
		if a.InfluencerID != influencerID || a.Currency != currency {
			continue
		}
		if !found || (a.IsDefault && !best.IsDefault) ||
			(a.IsDefault == best.IsDefault && a.CreatedAt.Before(best.CreatedAt)) {
			best, found = a, true
		}
	}
	if !found {
		return domain.InfluencerBankAccount{}, domain.ErrNotFound
	}
	return best, nil
}

type memPaymentMethodRepository struct{ s *memoryStore }

func (r *memPaymentMethodRepository) Create(_ context.Context, method domain.PaymentMethod) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if method.IsDefault {
		for id, existing := range r.s.paymentMethods {
			if existing.UserID == method.UserID && existing.IsDefault {
				existing.IsDefault = false
				existing.UpdatedAt = method.UpdatedAt
				r.s.paymentMethods[id] = existing
			}
		}
	}
	r.s.paymentMethods[method.PaymentMethodID] = method
	return nil
}

func (r *memPaymentMethodRepository) GetDefault(_ context.Context, userID string) (domain.PaymentMethod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var (
		best  domain.PaymentMethod
		found bool
	)
	for _, m := range r.s.paymentMethods {
		if m.UserID != userID {
			continue
		}
		if !found || (m.IsDefault && !best.IsDefault) ||
			(m.IsDefault == best.IsDefault && m.CreatedAt.After(best.CreatedAt)) {
			best, found = m, true
		}
	}
	if !found {
		return domain.PaymentMethod{}, domain.ErrNotFound
	}
	return best, nil
}

type memSettingsRepository struct{ s *memoryStore }

func (r *memSettingsRepository) Get(_ context.Context, key string) (domain.PlatformSetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	setting, ok := r.s.settings[key]
	if !ok {
		return domain.PlatformSetting{}, domain.ErrNotFound
	}
	return setting, nil
}

func (r *memSettingsRepository) List(_ context.Context) ([]domain.PlatformSetting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.PlatformSetting, 0, len(r.s.settings))
	for _, setting := range r.s.settings {
		out = append(out, setting)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettingKey < out[j].SettingKey })
	return out, nil
}

func (r *memSettingsRepository) Upsert(_ context.Context, setting domain.PlatformSetting) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.settings[setting.SettingKey] = setting
	return nil
}

type memWebhookEventRepository struct{ s *memoryStore }

func (r *memWebhookEventRepository) Record(_ context.Context, record ports.WebhookRecord) (ports.WebhookRecord, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.webhooks {
		if existing.Gateway == record.Gateway && existing.ProviderEventID == record.ProviderEventID {
			return existing, true, nil
		}
	}
	record.Payload = slices.Clone(record.Payload)
	r.s.webhooks[record.WebhookEventID] = record
	return record, false, nil
}

func (r *memWebhookEventRepository) MarkOutcome(_ context.Context, webhookEventID, outcome, detail string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	record, ok := r.s.webhooks[webhookEventID]
	if !ok {
		return domain.ErrNotFound
	}
	record.Outcome = outcome
	record.Detail = detail
	record.Attempts++
	if outcome != domain.WebhookOutcomePending {
		record.ProcessedAt = &at
	}
	r.s.webhooks[webhookEventID] = record
	return nil
}

func (r *memWebhookEventRepository) ListPending(_ context.Context, receivedBefore time.Time, limit int) ([]ports.WebhookRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]ports.WebhookRecord, 0)
	for _, record := range r.s.webhooks {
		if record.Outcome == domain.WebhookOutcomePending && record.ReceivedAt.Before(receivedBefore) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memOutboxRepository struct{ s *memoryStore }

func (r *memOutboxRepository) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.enqueue([]ports.OutboxEvent{event})
	return nil
}

func (r *memOutboxRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	out := make([]ports.OutboxRecord, 0)
	for _, id := range r.s.outboxOrder {
		if len(out) >= limit {
			break
		}
		record := r.s.outbox[id]
		if record.PublishedAt != nil || record.DeadLetteredAt != nil {
			continue
		}
		if record.ClaimUntil != nil && record.ClaimUntil.After(now) {
			continue
		}
		token := claimToken
		until := claimUntil
		record.ClaimToken = &token
		record.ClaimUntil = &until
		r.s.outbox[id] = record
		out = append(out, record)
	}
	return out, nil
}

func (r *memOutboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.update(outboxID, claimToken, func(record *ports.OutboxRecord) {
		record.PublishedAt = &at
	})
}

func (r *memOutboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(record *ports.OutboxRecord) {
		record.RetryCount++
		record.LastError = &errMsg
		record.LastErrorAt = &at
	})
}

func (r *memOutboxRepository) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(record *ports.OutboxRecord) {
		record.RetryCount++
		record.LastError = &errMsg
		record.LastErrorAt = &at
		record.DeadLetteredAt = &at
	})
}

func (r *memOutboxRepository) update(outboxID uuid.UUID, claimToken string, apply func(*ports.OutboxRecord)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	record, ok := r.s.outbox[outboxID]
	if !ok || record.ClaimToken == nil || *record.ClaimToken != claimToken {
		return nil
	}
	apply(&record)
	record.ClaimToken = nil
	record.ClaimUntil = nil
	r.s.outbox[outboxID] = record
	return nil
}

type memIdempotencyRepository struct{ s *memoryStore }

func (r *memIdempotencyRepository) Get(_ context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	record, ok := r.s.idempotency[key]
	if !ok || !now.Before(record.ExpiresAt) {
		return nil, nil
	}
	clone := record
	clone.ResponseBody = slices.Clone(record.ResponseBody)
	return &clone, nil
}

func (r *memIdempotencyRepository) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.idempotency[key]; ok && time.Now().UTC().Before(existing.ExpiresAt) {
		if existing.RequestHash != requestHash {
			return domain.ErrIdempotencyConflict
		}
		return domain.ErrConflict
	}
	r.s.idempotency[key] = ports.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      "PENDING",
		ExpiresAt:   expiresAt,
	}
	return nil
}

func (r *memIdempotencyRepository) Complete(_ context.Context, key string, responseCode int, responseBody []byte, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	record, ok := r.s.idempotency[key]
	if !ok {
		return domain.ErrNotFound
	}
	record.Status = "COMPLETED"
	record.ResponseCode = responseCode
	record.ResponseBody = slices.Clone(responseBody)
	r.s.idempotency[key] = record
	return nil
}

func (r *memIdempotencyRepository) Release(_ context.Context, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if record, ok := r.s.idempotency[key]; ok && record.Status == "PENDING" {
		delete(r.s.idempotency, key)
	}
	return nil
}

type memEventDedupRepository struct{ s *memoryStore }

func (r *memEventDedupRepository) IsDuplicate(_ context.Context, eventID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	expiresAt, ok := r.s.dedup[eventID]
	return ok && now.Before(expiresAt), nil
}

func (r *memEventDedupRepository) MarkProcessed(_ context.Context, eventID, _ string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.dedup[eventID] = expiresAt
	return nil
}
