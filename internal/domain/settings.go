package domain

import "time"

const (
	SettingInfluencerFeePercentage = "influencer_fee_percentage"
	SettingBrandFeePercentage      = "brand_fee_percentage"
	SettingAutoChargeEnabled       = "milestone_auto_charge_enabled"
	SettingMaxChargeAttempts       = "milestone_max_charge_attempts"
	SettingPayoutAutoRelease       = "payout_auto_release"
)

type PlatformSetting struct {
	SettingKey   string    `json:"setting_key"`
	SettingValue string    `json:"setting_value"`
	UpdatedBy    string    `json:"updated_by,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
