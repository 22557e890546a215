package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

// OutboxEvent is the write-side event payload prior to storage.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}

type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
	Release(ctx context.Context, key string) error
}

type EventDedupRepository interface {
	IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error
}

type CampaignRepository interface {
	Create(ctx context.Context, campaign domain.Campaign) error
	GetByID(ctx context.Context, campaignID string) (domain.Campaign, error)
	// ActivateWithMilestones stores the milestone plan and moves a DRAFT campaign to ACTIVE atomically.
	ActivateWithMilestones(ctx context.Context, campaignID string, milestones []domain.PaymentMilestone, at time.Time) (domain.Campaign, error)
	// Cancel closes the campaign and cancels every open milestone. Returns the milestones it cancelled.
	Cancel(ctx context.Context, campaignID string, at time.Time) (domain.Campaign, []domain.PaymentMilestone, error)
}

type ChargeableQuery struct {
	Now         time.Time
	MaxAttempts int
	Limit       int
}

type MilestoneRepository interface {
	GetByID(ctx context.Context, milestoneID string) (domain.PaymentMilestone, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]domain.PaymentMilestone, error)
	// MarkOverdue flips PENDING milestones whose due date has passed and returns the ones it changed.
	MarkOverdue(ctx context.Context, now time.Time, limit int) ([]domain.PaymentMilestone, error)
	ListChargeable(ctx context.Context, query ChargeableQuery) ([]domain.PaymentMilestone, error)
}

type TransactionRepository interface {
	// CreateForMilestone inserts a PENDING charge and counts the attempt on its milestone.
	// It fails with domain.ErrChargeInFlight when the milestone already has a PENDING/PROCESSING
	// transaction and with domain.ErrInvalidTransition when the milestone is not open.
	CreateForMilestone(ctx context.Context, txn domain.Transaction, at time.Time) error
	GetByID(ctx context.Context, transactionID string) (domain.Transaction, error)
	GetByReference(ctx context.Context, reference string) (domain.Transaction, error)
	GetByGatewayPaymentID(ctx context.Context, gateway domain.GatewayName, gatewayPaymentID string) (domain.Transaction, error)
	FindInFlightByMilestone(ctx context.Context, milestoneID string) (*domain.Transaction, error)
	ListByMilestone(ctx context.Context, milestoneID string) ([]domain.Transaction, error)
	// ListStaleInFlight returns PENDING/PROCESSING transactions last touched before updatedBefore, oldest first.
	ListStaleInFlight(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Transaction, error)
	// MarkProcessing moves PENDING to PROCESSING. Reports false when another writer got there first.
	MarkProcessing(ctx context.Context, transactionID, gatewayPaymentID, redirectURL string, at time.Time) (bool, error)
	SaveWebhookPayload(ctx context.Context, transactionID string, payload []byte, at time.Time) error
}

type CompleteChargeParams struct {
	TransactionID        string
	GatewayPaymentID     string
	GatewayTransactionID string
	WebhookPayload       []byte
	CompletedAt          time.Time
	// Payout is stored only if the milestone is still open when the charge completes.
	Payout       domain.InfluencerPayout
	PaidEvents   []OutboxEvent
	OrphanEvents []OutboxEvent
}

type CompleteChargeResult struct {
	Applied       bool
	MilestonePaid bool
	Orphaned      bool
	Transaction   domain.Transaction
	Milestone     *domain.PaymentMilestone
	Payout        *domain.InfluencerPayout
}

type FailChargeParams struct {
	TransactionID  string
	FailureCode    string
	FailureMessage string
	WebhookPayload []byte
	MaxAttempts    int
	At             time.Time
	Events         []OutboxEvent
	// MilestoneFailedEvents are enqueued only when the failure exhausts the milestone's attempts.
	MilestoneFailedEvents []OutboxEvent
}

type FailChargeResult struct {
	Applied         bool
	MilestoneFailed bool
	Transaction     domain.Transaction
	Milestone       *domain.PaymentMilestone
}

type WithdrawalTransition struct {
	WithdrawalID  string
	From          []domain.WithdrawalStatus
	To            domain.WithdrawalStatus
	TransferCode  string
	FailureReason string
	At            time.Time
	Events        []OutboxEvent
}

// SettlementRepository groups the multi-row money movements that must commit atomically.
// Every method is a compare-and-swap on status: the loser of a race observes Applied=false.
type SettlementRepository interface {
	CompleteCharge(ctx context.Context, params CompleteChargeParams) (CompleteChargeResult, error)
	FailCharge(ctx context.Context, params FailChargeParams) (FailChargeResult, error)
	ReleasePayout(ctx context.Context, payoutID string, at time.Time, events []OutboxEvent) (domain.InfluencerPayout, bool, error)
	VoidPayout(ctx context.Context, payoutID, reason string, at time.Time, events []OutboxEvent) (domain.InfluencerPayout, bool, error)
	// CreateWithdrawal checks the available balance and inserts in one serialized step per influencer.
	CreateWithdrawal(ctx context.Context, withdrawal domain.Withdrawal) error
	TransitionWithdrawal(ctx context.Context, transition WithdrawalTransition) (domain.Withdrawal, bool, error)
}

type PayoutRepository interface {
	GetByID(ctx context.Context, payoutID string) (domain.InfluencerPayout, error)
	GetByMilestone(ctx context.Context, milestoneID string) (domain.InfluencerPayout, error)
	ListByInfluencer(ctx context.Context, influencerID, currency string) ([]domain.InfluencerPayout, error)
}

type StuckWithdrawalQuery struct {
	UpdatedBefore time.Time
	Limit         int
}

type WithdrawalRepository interface {
	GetByID(ctx context.Context, withdrawalID string) (domain.Withdrawal, error)
	GetByReference(ctx context.Context, reference string) (domain.Withdrawal, error)
	GetByTransferCode(ctx context.Context, gateway domain.GatewayName, transferCode string) (domain.Withdrawal, error)
	ListByInfluencer(ctx context.Context, influencerID, currency string) ([]domain.Withdrawal, error)
	ListStuck(ctx context.Context, query StuckWithdrawalQuery) ([]domain.Withdrawal, error)
}

type BankAccountRepository interface {
	// Create inserts the account; when it is the default, other defaults for the same currency are cleared.
	Create(ctx context.Context, account domain.InfluencerBankAccount) error
	GetByID(ctx context.Context, bankAccountID string) (domain.InfluencerBankAccount, error)
	GetDefault(ctx context.Context, influencerID, currency string) (domain.InfluencerBankAccount, error)
}

type PaymentMethodRepository interface {
	Create(ctx context.Context, method domain.PaymentMethod) error
	GetDefault(ctx context.Context, userID string) (domain.PaymentMethod, error)
}

type SettingsRepository interface {
	Get(ctx context.Context, key string) (domain.PlatformSetting, error)
	List(ctx context.Context) ([]domain.PlatformSetting, error)
	Upsert(ctx context.Context, setting domain.PlatformSetting) error
}

// WebhookRecord is the audit row written before a webhook is applied.
type WebhookRecord struct {
	WebhookEventID  string
	Gateway         domain.GatewayName
	ProviderEventID string
	EventType       string
	Reference       string
	SignatureValid  bool
	Payload         []byte
	Outcome         string
	Detail          string
	Attempts        int
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}

type WebhookEventRepository interface {
	// Record stores a delivery. A repeated (gateway, provider event id) returns the stored row and duplicate=true.
	Record(ctx context.Context, record WebhookRecord) (WebhookRecord, bool, error)
	MarkOutcome(ctx context.Context, webhookEventID, outcome, detail string, at time.Time) error
	ListPending(ctx context.Context, receivedBefore time.Time, limit int) ([]WebhookRecord, error)
}
