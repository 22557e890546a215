package domain

import (
	"strings"
	"time"
)

type CampaignStatus string
type PaymentType string

const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
	CampaignStatusCancelled CampaignStatus = "CANCELLED"
)

const (
	PaymentTypeOneOff    PaymentType = "ONE_OFF"
	PaymentTypeMilestone PaymentType = "MILESTONE"
)

type Campaign struct {
	CampaignID                  string         `json:"campaign_id"`
	BrandID                     string         `json:"brand_id"`
	InfluencerID                string         `json:"influencer_id"`
	TotalAmountInPence          int64          `json:"total_amount_in_pence"`
	PaidAmountInPence           int64          `json:"paid_amount_in_pence"`
	ReleasedToInfluencerInPence int64          `json:"released_to_influencer_in_pence"`
	Currency                    string         `json:"currency"`
	PaymentType                 PaymentType    `json:"payment_type"`
	IsRecurringEnabled          bool           `json:"is_recurring_enabled"`
	Status                      CampaignStatus `json:"status"`
	CreatedAt                   time.Time      `json:"created_at"`
	UpdatedAt                   time.Time      `json:"updated_at"`
}

// OutstandingInPence is the part of the contract value not yet collected from the brand.
func (c Campaign) OutstandingInPence() int64 {
	return c.TotalAmountInPence - c.PaidAmountInPence
}

// CheckLedger reports whether the paid/released counters respect the campaign total.
func (c Campaign) CheckLedger() bool {
	return c.PaidAmountInPence >= 0 &&
		c.PaidAmountInPence <= c.TotalAmountInPence &&
		c.ReleasedToInfluencerInPence >= 0 &&
		c.ReleasedToInfluencerInPence <= c.PaidAmountInPence
}

func ValidateCampaign(c Campaign) error {
	if strings.TrimSpace(c.CampaignID) == "" || strings.TrimSpace(c.BrandID) == "" || strings.TrimSpace(c.InfluencerID) == "" {
		return ErrInvalidInput
	}
	if c.TotalAmountInPence <= 0 {
		return ErrInvalidInput
	}
	if c.PaymentType != PaymentTypeOneOff && c.PaymentType != PaymentTypeMilestone {
		return ErrInvalidInput
	}
	if _, err := NormalizeCurrency(c.Currency); err != nil {
		return err
	}
	return nil
}
