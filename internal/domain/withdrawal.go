package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "PENDING"
	WithdrawalStatusProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalStatusCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalStatusFailed     WithdrawalStatus = "FAILED"
	WithdrawalStatusCancelled  WithdrawalStatus = "CANCELLED"
)

const WithdrawalReferencePrefix = "WDR-"

type Withdrawal struct {
	WithdrawalID   string           `json:"withdrawal_id"`
	Reference      string           `json:"reference"`
	InfluencerID   string           `json:"influencer_id"`
	BankAccountID  string           `json:"bank_account_id"`
	AmountInPence  int64            `json:"amount_in_pence"`
	Currency       string           `json:"currency"`
	PaymentGateway GatewayName      `json:"payment_gateway"`
	TransferCode   string           `json:"transfer_code,omitempty"`
	RecipientCode  string           `json:"recipient_code,omitempty"`
	Status         WithdrawalStatus `json:"status"`
	FailureReason  string           `json:"failure_reason,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// HoldsFunds reports whether the withdrawal is counted against the available balance.
func (w Withdrawal) HoldsFunds() bool {
	switch w.Status {
	case WithdrawalStatusPending, WithdrawalStatusProcessing, WithdrawalStatusCompleted:
		return true
	default:
		return false
	}
}

type Balance struct {
	InfluencerID            string `json:"influencer_id"`
	Currency                string `json:"currency"`
	ReleasedInPence         int64  `json:"released_in_pence"`
	PendingReleaseInPence   int64  `json:"pending_release_in_pence"`
	WithdrawnInPence        int64  `json:"withdrawn_in_pence"`
	InFlightWithdrawalPence int64  `json:"in_flight_withdrawal_in_pence"`
	AvailableInPence        int64  `json:"available_in_pence"`
}

// ComputeBalance derives the withdrawable balance from payouts and withdrawals in one currency.
func ComputeBalance(influencerID, currency string, payouts []InfluencerPayout, withdrawals []Withdrawal) Balance {
	b := Balance{InfluencerID: influencerID, Currency: currency}
	for _, p := range payouts {
		if p.Currency != currency || p.InfluencerID != influencerID {
			continue
		}
		switch p.Status {
		case PayoutStatusReleased:
			b.ReleasedInPence += p.NetAmountInPence
		case PayoutStatusPendingRelease:
			b.PendingReleaseInPence += p.NetAmountInPence
		}
	}
	for _, w := range withdrawals {
		if w.Currency != currency || w.InfluencerID != influencerID {
			continue
		}
		switch w.Status {
		case WithdrawalStatusCompleted:
			b.WithdrawnInPence += w.AmountInPence
		case WithdrawalStatusPending, WithdrawalStatusProcessing:
			b.InFlightWithdrawalPence += w.AmountInPence
		}
	}
	b.AvailableInPence = b.ReleasedInPence - b.WithdrawnInPence - b.InFlightWithdrawalPence
	return b
}

func NewWithdrawalReference() string {
	return WithdrawalReferencePrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
