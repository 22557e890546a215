package domain

import (
	"time"
)

type PayoutStatus string

const (
	PayoutStatusPendingRelease PayoutStatus = "PENDING_RELEASE"
	PayoutStatusReleased       PayoutStatus = "RELEASED"
	PayoutStatusFailed         PayoutStatus = "FAILED"
)

type InfluencerPayout struct {
	PayoutID           string       `json:"payout_id"`
	CampaignID         string       `json:"campaign_id"`
	InfluencerID       string       `json:"influencer_id"`
	MilestoneID        string       `json:"milestone_id"`
	TransactionID      string       `json:"transaction_id"`
	GrossAmountInPence int64        `json:"gross_amount_in_pence"`
	PlatformFeeInPence int64        `json:"platform_fee_in_pence"`
	NetAmountInPence   int64        `json:"net_amount_in_pence"`
	FeePercentage      string       `json:"fee_percentage"`
	Currency           string       `json:"currency"`
	Status             PayoutStatus `json:"status"`
	FailureReason      string       `json:"failure_reason,omitempty"`
	ReleasedAt         *time.Time   `json:"released_at,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// ValidatePayoutAmounts checks net = gross - fee with every component non-negative.
func ValidatePayoutAmounts(p InfluencerPayout) error {
	if p.GrossAmountInPence <= 0 || p.PlatformFeeInPence < 0 || p.NetAmountInPence < 0 {
		return ErrInvalidInput
	}
	if p.NetAmountInPence != p.GrossAmountInPence-p.PlatformFeeInPence {
		return ErrInvalidInput
	}
	return nil
}
