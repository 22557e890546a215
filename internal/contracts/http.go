package contracts

import "time"

type RegisterCampaignRequest struct {
	CampaignID         string `json:"campaign_id"`
	BrandID            string `json:"brand_id"`
	InfluencerID       string `json:"influencer_id"`
	TotalAmountInPence int64  `json:"total_amount_in_pence"`
	Currency           string `json:"currency"`
	PaymentType        string `json:"payment_type"`
	IsRecurringEnabled bool   `json:"is_recurring_enabled"`
}

type CreateMilestonesRequest struct {
	Count        int         `json:"count"`
	Amounts      []int64     `json:"amounts,omitempty"`
	DueDates     []time.Time `json:"due_dates,omitempty"`
	FirstDueDate time.Time   `json:"first_due_date"`
	IntervalDays int         `json:"interval_days"`
}

type CancelCampaignRequest struct {
	Reason string `json:"reason"`
}

type RequestWithdrawalRequest struct {
	InfluencerID  string `json:"influencer_id"`
	AmountInPence int64  `json:"amount_in_pence"`
	BankAccountID string `json:"bank_account_id"`
	Currency      string `json:"currency"`
}

type RegisterBankAccountRequest struct {
	InfluencerID  string `json:"influencer_id"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	Currency      string `json:"currency"`
	Gateway       string `json:"gateway"`
	RecipientRef  string `json:"recipient_ref"`
	IsDefault     bool   `json:"is_default"`
}

type SavePaymentMethodRequest struct {
	UserID    string `json:"user_id"`
	Gateway   string `json:"gateway"`
	Token     string `json:"token"`
	Brand     string `json:"brand"`
	Last4     string `json:"last4"`
	IsDefault bool   `json:"is_default"`
}

type VoidPayoutRequest struct {
	Reason string `json:"reason"`
}

type UpdateSettingRequest struct {
	Value string `json:"value"`
}

type WebhookAck struct {
	Outcome string `json:"outcome"`
}

type SuccessResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type ErrorResponse struct {
	Status string       `json:"status"`
	Error  ErrorPayload `json:"error"`
}

type ErrorPayload struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}
