package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type Config struct {
	ServiceName    string
	IdempotencyTTL time.Duration
	EventDedupTTL  time.Duration

	SplitRemainder       domain.SplitRemainder
	DefaultDueInterval   time.Duration
	InfluencerFeePct     string
	BrandFeePct          string
	AutoChargeEnabled    bool
	MaxChargeAttempts    int
	PayoutAutoRelease    bool
	SettingsCacheTTL     time.Duration
	GatewayRetry         RetryPolicy
	InFlightStaleAfter   time.Duration
	WithdrawalStuckAfter time.Duration
	WebhookReplayAfter   time.Duration
	SweepBatchSize       int
	SweepConcurrency     int
	SweepLockTTL         time.Duration
}

const (
	RoleAdmin      = "admin"
	RoleSystem     = "system"
	RoleBrand      = "brand"
	RoleInfluencer = "influencer"
)

type Actor struct {
	SubjectID      string
	Role           string
	RequestID      string
	IdempotencyKey string
}

var systemActor = Actor{SubjectID: "settlement-engine", Role: RoleSystem}

type RegisterCampaignInput struct {
	CampaignID         string
	BrandID            string
	InfluencerID       string
	TotalAmountInPence int64
	Currency           string
	PaymentType        domain.PaymentType
	IsRecurringEnabled bool
}

type CreateMilestonesInput struct {
	CampaignID   string
	Count        int
	Amounts      []int64
	DueDates     []time.Time
	FirstDueDate time.Time
	DueInterval  time.Duration
}

type RequestWithdrawalInput struct {
	InfluencerID  string
	AmountInPence int64
	BankAccountID string
	// Currency selects the default bank account when BankAccountID is empty.
	Currency string
}

type RegisterBankAccountInput struct {
	InfluencerID  string
	AccountName   string
	BankCode      string
	AccountNumber string
	Currency      string
	Gateway       domain.GatewayName
	RecipientRef  string
	IsDefault     bool
}

type SavePaymentMethodInput struct {
	UserID    string
	Gateway   domain.GatewayName
	Token     string
	Brand     string
	Last4     string
	IsDefault bool
}

type SweepReport struct {
	MarkedOverdue         int `json:"marked_overdue"`
	ChargesAttempted      int `json:"charges_attempted"`
	ChargesSkipped        int `json:"charges_skipped"`
	ChargeErrors          int `json:"charge_errors"`
	ChargesReconciled     int `json:"charges_reconciled"`
	WithdrawalsReconciled int `json:"withdrawals_reconciled"`
	WebhooksReplayed      int `json:"webhooks_replayed"`
}

type Service struct {
	cfg            Config
	logger         *slog.Logger
	campaigns      ports.CampaignRepository
	milestones     ports.MilestoneRepository
	transactions   ports.TransactionRepository
	settlement     ports.SettlementRepository
	payouts        ports.PayoutRepository
	withdrawals    ports.WithdrawalRepository
	bankAccounts   ports.BankAccountRepository
	paymentMethods ports.PaymentMethodRepository
	settings       ports.SettingsRepository
	webhooks       ports.WebhookEventRepository
	outbox         ports.OutboxRepository
	idempotency    ports.IdempotencyRepository
	eventDedup     ports.EventDedupRepository

	gateways      ports.GatewaySelector
	settingsCache ports.SettingsCache
	locker        ports.Locker

	nowFn   func() time.Time
	sleepFn func(context.Context, time.Duration) error
}

type Dependencies struct {
	Config         Config
	Logger         *slog.Logger
	Campaigns      ports.CampaignRepository
	Milestones     ports.MilestoneRepository
	Transactions   ports.TransactionRepository
	Settlement     ports.SettlementRepository
	Payouts        ports.PayoutRepository
	Withdrawals    ports.WithdrawalRepository
	BankAccounts   ports.BankAccountRepository
	PaymentMethods ports.PaymentMethodRepository
	Settings       ports.SettingsRepository
	Webhooks       ports.WebhookEventRepository
	Outbox         ports.OutboxRepository
	Idempotency    ports.IdempotencyRepository
	EventDedup     ports.EventDedupRepository
	Gateways       ports.GatewaySelector
	SettingsCache  ports.SettingsCache
	Locker         ports.Locker

	// Clock and Sleep are overridable for tests.
	Clock func() time.Time
	Sleep func(context.Context, time.Duration) error
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "M15-Settlement-Engine"
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.EventDedupTTL <= 0 {
		cfg.EventDedupTTL = 7 * 24 * time.Hour
	}
	if cfg.SplitRemainder == "" {
		cfg.SplitRemainder = domain.SplitRemainderFirst
	}
	if cfg.DefaultDueInterval <= 0 {
		cfg.DefaultDueInterval = 30 * 24 * time.Hour
	}
	if cfg.InfluencerFeePct == "" {
		cfg.InfluencerFeePct = "10"
	}
	if cfg.BrandFeePct == "" {
		cfg.BrandFeePct = "0"
	}
	if cfg.MaxChargeAttempts <= 0 {
		cfg.MaxChargeAttempts = 3
	}
	if cfg.SettingsCacheTTL <= 0 {
		cfg.SettingsCacheTTL = 5 * time.Minute
	}
	if cfg.GatewayRetry.MaxAttempts <= 0 {
		cfg.GatewayRetry.MaxAttempts = 3
	}
	if cfg.GatewayRetry.BaseDelay <= 0 {
		cfg.GatewayRetry.BaseDelay = time.Second
	}
	if cfg.InFlightStaleAfter <= 0 {
		cfg.InFlightStaleAfter = 2 * time.Minute
	}
	if cfg.WithdrawalStuckAfter <= 0 {
		cfg.WithdrawalStuckAfter = 15 * time.Minute
	}
	if cfg.WebhookReplayAfter <= 0 {
		cfg.WebhookReplayAfter = time.Minute
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 8
	}
	if cfg.SweepLockTTL <= 0 {
		cfg.SweepLockTTL = 2 * time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	sleepFn := deps.Sleep
	if sleepFn == nil {
		sleepFn = sleepContext
	}
	return &Service{
		cfg:            cfg,
		logger:         logger,
		campaigns:      deps.Campaigns,
		milestones:     deps.Milestones,
		transactions:   deps.Transactions,
		settlement:     deps.Settlement,
		payouts:        deps.Payouts,
		withdrawals:    deps.Withdrawals,
		bankAccounts:   deps.BankAccounts,
		paymentMethods: deps.PaymentMethods,
		settings:       deps.Settings,
		webhooks:       deps.Webhooks,
		outbox:         deps.Outbox,
		idempotency:    deps.Idempotency,
		eventDedup:     deps.EventDedup,
		gateways:       deps.Gateways,
		settingsCache:  deps.SettingsCache,
		locker:         deps.Locker,
		nowFn:          nowFn,
		sleepFn:        sleepFn,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
