package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusCancelled  TransactionStatus = "CANCELLED"
)

const TransactionReferencePrefix = "TXN-"

type Transaction struct {
	TransactionID        string            `json:"transaction_id"`
	TransactionReference string            `json:"transaction_reference"`
	CampaignID           string            `json:"campaign_id"`
	MilestoneID          *string           `json:"milestone_id,omitempty"`
	PayerID              string            `json:"payer_id"`
	Gateway              GatewayName       `json:"gateway"`
	GatewayPaymentID     *string           `json:"gateway_payment_id,omitempty"`
	GatewayTransactionID *string           `json:"gateway_transaction_id,omitempty"`
	Status               TransactionStatus `json:"transaction_status"`
	AmountInPence        int64             `json:"amount_in_pence"`
	PlatformFeeInPence   int64             `json:"platform_fee_in_pence"`
	TotalAmountInPence   int64             `json:"total_amount_in_pence"`
	Currency             string            `json:"currency"`
	RedirectURL          string            `json:"redirect_url,omitempty"`
	WebhookPayload       json.RawMessage   `json:"webhook_payload,omitempty"`
	FailureCode          string            `json:"failure_code,omitempty"`
	FailureMessage       string            `json:"failure_message,omitempty"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

func (t Transaction) InFlight() bool {
	return t.Status == TransactionStatusPending || t.Status == TransactionStatusProcessing
}

// Completable reports whether a gateway success may still settle the transaction.
// A charge reported failed can be captured later, for example after a 3DS retry.
func (t Transaction) Completable() bool {
	return t.Status != TransactionStatusCompleted
}

func NewTransactionReference() string {
	return TransactionReferencePrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
