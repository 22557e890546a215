package postgres

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type campaignModel struct {
	CampaignID                  string    `gorm:"column:campaign_id;primaryKey"`
	BrandID                     string    `gorm:"column:brand_id"`
	InfluencerID                string    `gorm:"column:influencer_id"`
	TotalAmountInPence          int64     `gorm:"column:total_amount_in_pence"`
	PaidAmountInPence           int64     `gorm:"column:paid_amount_in_pence"`
	ReleasedToInfluencerInPence int64     `gorm:"column:released_to_influencer_in_pence"`
	Currency                    string    `gorm:"column:currency"`
	PaymentType                 string    `gorm:"column:payment_type"`
	IsRecurringEnabled          bool      `gorm:"column:is_recurring_enabled"`
	Status                      string    `gorm:"column:status"`
	CreatedAt                   time.Time `gorm:"column:created_at"`
	UpdatedAt                   time.Time `gorm:"column:updated_at"`
}

func (campaignModel) TableName() string { return "campaigns" }

type milestoneModel struct {
	MilestoneID        string     `gorm:"column:milestone_id;primaryKey"`
	CampaignID         string     `gorm:"column:campaign_id"`
	MilestoneNumber    int        `gorm:"column:milestone_number"`
	AmountInPence      int64      `gorm:"column:amount_in_pence"`
	PlatformFeeInPence int64      `gorm:"column:platform_fee_in_pence"`
	Currency           string     `gorm:"column:currency"`
	DueDate            time.Time  `gorm:"column:due_date"`
	Status             string     `gorm:"column:status"`
	TransactionID      *string    `gorm:"column:transaction_id"`
	AutoChargeEnabled  bool       `gorm:"column:auto_charge_enabled"`
	ChargeAttempts     int        `gorm:"column:charge_attempts"`
	LastAttemptAt      *time.Time `gorm:"column:last_attempt_at"`
	FailureMessage     string     `gorm:"column:failure_message"`
	PaidAt             *time.Time `gorm:"column:paid_at"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at"`
}

func (milestoneModel) TableName() string { return "payment_milestones" }

type transactionModel struct {
	TransactionID        string         `gorm:"column:transaction_id;primaryKey"`
	TransactionReference string         `gorm:"column:transaction_reference"`
	CampaignID           string         `gorm:"column:campaign_id"`
	MilestoneID          *string        `gorm:"column:milestone_id"`
	PayerID              string         `gorm:"column:payer_id"`
	Gateway              string         `gorm:"column:gateway"`
	GatewayPaymentID     *string        `gorm:"column:gateway_payment_id"`
	GatewayTransactionID *string        `gorm:"column:gateway_transaction_id"`
	TransactionStatus    string         `gorm:"column:transaction_status"`
	AmountInPence        int64          `gorm:"column:amount_in_pence"`
	PlatformFeeInPence   int64          `gorm:"column:platform_fee_in_pence"`
	TotalAmountInPence   int64          `gorm:"column:total_amount_in_pence"`
	Currency             string         `gorm:"column:currency"`
	RedirectURL          string         `gorm:"column:redirect_url"`
	WebhookPayload       datatypes.JSON `gorm:"column:webhook_payload"`
	FailureCode          string         `gorm:"column:failure_code"`
	FailureMessage       string         `gorm:"column:failure_message"`
	CompletedAt          *time.Time     `gorm:"column:completed_at"`
	CreatedAt            time.Time      `gorm:"column:created_at"`
	UpdatedAt            time.Time      `gorm:"column:updated_at"`
}

func (transactionModel) TableName() string { return "transactions" }

type payoutModel struct {
	PayoutID           string     `gorm:"column:payout_id;primaryKey"`
	CampaignID         string     `gorm:"column:campaign_id"`
	InfluencerID       string     `gorm:"column:influencer_id"`
	MilestoneID        string     `gorm:"column:milestone_id"`
	TransactionID      string     `gorm:"column:transaction_id"`
	GrossAmountInPence int64      `gorm:"column:gross_amount_in_pence"`
	PlatformFeeInPence int64      `gorm:"column:platform_fee_in_pence"`
	NetAmountInPence   int64      `gorm:"column:net_amount_in_pence"`
	FeePercentage      string     `gorm:"column:fee_percentage"`
	Currency           string     `gorm:"column:currency"`
	Status             string     `gorm:"column:status"`
	FailureReason      string     `gorm:"column:failure_reason"`
	ReleasedAt         *time.Time `gorm:"column:released_at"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at"`
}

func (payoutModel) TableName() string { return "influencer_payouts" }

type withdrawalModel struct {
	WithdrawalID   string     `gorm:"column:withdrawal_id;primaryKey"`
	Reference      string     `gorm:"column:reference"`
	InfluencerID   string     `gorm:"column:influencer_id"`
	BankAccountID  string     `gorm:"column:bank_account_id"`
	AmountInPence  int64      `gorm:"column:amount_in_pence"`
	Currency       string     `gorm:"column:currency"`
	PaymentGateway string     `gorm:"column:payment_gateway"`
	TransferCode   string     `gorm:"column:transfer_code"`
	RecipientCode  string     `gorm:"column:recipient_code"`
	Status         string     `gorm:"column:status"`
	FailureReason  string     `gorm:"column:failure_reason"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (withdrawalModel) TableName() string { return "influencer_withdrawals" }

type bankAccountModel struct {
	BankAccountID      string    `gorm:"column:bank_account_id;primaryKey"`
	InfluencerID       string    `gorm:"column:influencer_id"`
	AccountName        string    `gorm:"column:account_name"`
	BankCode           string    `gorm:"column:bank_code"`
	AccountNumberLast4 string    `gorm:"column:account_number_last4"`
	Currency           string    `gorm:"column:currency"`
	Gateway            string    `gorm:"column:gateway"`
	RecipientRef       string    `gorm:"column:recipient_ref"`
	IsDefault          bool      `gorm:"column:is_default"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (bankAccountModel) TableName() string { return "influencer_bank_accounts" }

type paymentMethodModel struct {
	PaymentMethodID string    `gorm:"column:payment_method_id;primaryKey"`
	UserID          string    `gorm:"column:user_id"`
	Gateway         string    `gorm:"column:gateway"`
	Token           string    `gorm:"column:token"`
	Brand           string    `gorm:"column:brand"`
	Last4           string    `gorm:"column:last4"`
	IsDefault       bool      `gorm:"column:is_default"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (paymentMethodModel) TableName() string { return "payment_methods" }

type settingModel struct {
	SettingKey   string    `gorm:"column:setting_key;primaryKey"`
	SettingValue string    `gorm:"column:setting_value"`
	UpdatedBy    string    `gorm:"column:updated_by"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (settingModel) TableName() string { return "platform_settings" }

type webhookEventModel struct {
	WebhookEventID  string     `gorm:"column:webhook_event_id;primaryKey"`
	Gateway         string     `gorm:"column:gateway"`
	ProviderEventID string     `gorm:"column:provider_event_id"`
	EventType       string     `gorm:"column:event_type"`
	Reference       string     `gorm:"column:reference"`
	SignatureValid  bool       `gorm:"column:signature_valid"`
	Payload         []byte     `gorm:"column:payload"`
	Outcome         string     `gorm:"column:outcome"`
	Detail          string     `gorm:"column:detail"`
	Attempts        int        `gorm:"column:attempts"`
	ReceivedAt      time.Time  `gorm:"column:received_at"`
	ProcessedAt     *time.Time `gorm:"column:processed_at"`
}

func (webhookEventModel) TableName() string { return "webhook_events" }

type outboxModel struct {
	OutboxID       uuid.UUID      `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string         `gorm:"column:event_type"`
	PartitionKey   string         `gorm:"column:partition_key"`
	Payload        datatypes.JSON `gorm:"column:payload"`
	RetryCount     int            `gorm:"column:retry_count"`
	LastError      *string        `gorm:"column:last_error"`
	LastErrorAt    *time.Time     `gorm:"column:last_error_at"`
	ClaimToken     *string        `gorm:"column:claim_token"`
	ClaimUntil     *time.Time     `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time     `gorm:"column:dead_lettered_at"`
	PublishedAt    *time.Time     `gorm:"column:published_at"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
}

func (outboxModel) TableName() string { return "settlement_outbox" }

type idempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (idempotencyModel) TableName() string { return "settlement_idempotency" }

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (eventDedupModel) TableName() string { return "settlement_event_dedup" }
