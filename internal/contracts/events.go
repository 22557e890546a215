package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

type CampaignBookedPayload struct {
	CampaignID         string   `json:"campaign_id"`
	BrandID            string   `json:"brand_id"`
	InfluencerID       string   `json:"influencer_id"`
	TotalAmountInPence int64    `json:"total_amount_in_pence"`
	Currency           string   `json:"currency"`
	PaymentType        string   `json:"payment_type"`
	IsRecurringEnabled bool     `json:"is_recurring_enabled"`
	MilestoneCount     int      `json:"milestone_count"`
	MilestoneAmounts   []int64  `json:"milestone_amounts,omitempty"`
	DueDates           []string `json:"due_dates,omitempty"`
	FirstDueDate       string   `json:"first_due_date"`
	IntervalDays       int      `json:"interval_days"`
}

type CampaignCancelledPayload struct {
	CampaignID string `json:"campaign_id"`
	Reason     string `json:"reason"`
}

type MilestonePayload struct {
	MilestoneID     string `json:"milestone_id"`
	CampaignID      string `json:"campaign_id"`
	MilestoneNumber int    `json:"milestone_number"`
	AmountInPence   int64  `json:"amount_in_pence"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	TransactionID   string `json:"transaction_id,omitempty"`
	ChargeAttempts  int    `json:"charge_attempts"`
	FailureMessage  string `json:"failure_message,omitempty"`
	OccurredAt      string `json:"occurred_at"`
}

type TransactionPayload struct {
	TransactionID        string `json:"transaction_id"`
	TransactionReference string `json:"transaction_reference"`
	CampaignID           string `json:"campaign_id"`
	MilestoneID          string `json:"milestone_id,omitempty"`
	Gateway              string `json:"gateway"`
	GatewayPaymentID     string `json:"gateway_payment_id,omitempty"`
	TotalAmountInPence   int64  `json:"total_amount_in_pence"`
	Currency             string `json:"currency"`
	Status               string `json:"transaction_status"`
	FailureCode          string `json:"failure_code,omitempty"`
	FailureMessage       string `json:"failure_message,omitempty"`
	OccurredAt           string `json:"occurred_at"`
}

type PayoutPayload struct {
	PayoutID           string `json:"payout_id"`
	CampaignID         string `json:"campaign_id"`
	InfluencerID       string `json:"influencer_id"`
	MilestoneID        string `json:"milestone_id"`
	GrossAmountInPence int64  `json:"gross_amount_in_pence"`
	PlatformFeeInPence int64  `json:"platform_fee_in_pence"`
	NetAmountInPence   int64  `json:"net_amount_in_pence"`
	Currency           string `json:"currency"`
	Status             string `json:"status"`
	Reason             string `json:"reason,omitempty"`
	OccurredAt         string `json:"occurred_at"`
}

type WithdrawalPayload struct {
	WithdrawalID  string `json:"withdrawal_id"`
	Reference     string `json:"reference"`
	InfluencerID  string `json:"influencer_id"`
	AmountInPence int64  `json:"amount_in_pence"`
	Currency      string `json:"currency"`
	Gateway       string `json:"payment_gateway"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}

type WebhookUnmatchedPayload struct {
	WebhookEventID  string `json:"webhook_event_id"`
	Gateway         string `json:"gateway"`
	ProviderEventID string `json:"provider_event_id"`
	EventType       string `json:"event_type"`
	GatewayRef      string `json:"gateway_ref,omitempty"`
	Reference       string `json:"reference,omitempty"`
	OccurredAt      string `json:"occurred_at"`
}
