package domain

import (
	"strings"
	"time"
	"unicode"
)

type InfluencerBankAccount struct {
	BankAccountID      string      `json:"bank_account_id"`
	InfluencerID       string      `json:"influencer_id"`
	AccountName        string      `json:"account_name"`
	BankCode           string      `json:"bank_code"`
	AccountNumberLast4 string      `json:"account_number_last4"`
	Currency           string      `json:"currency"`
	Gateway            GatewayName `json:"gateway"`
	RecipientRef       string      `json:"recipient_ref"`
	IsDefault          bool        `json:"is_default"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

type PaymentMethod struct {
	PaymentMethodID string      `json:"payment_method_id"`
	UserID          string      `json:"user_id"`
	Gateway         GatewayName `json:"gateway"`
	Token           string      `json:"-"`
	Brand           string      `json:"brand"`
	Last4           string      `json:"last4"`
	IsDefault       bool        `json:"is_default"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Last4Digits keeps only the trailing four digits of an account number.
func Last4Digits(accountNumber string) (string, error) {
	digits := make([]rune, 0, len(accountNumber))
	for _, r := range accountNumber {
		switch {
		case unicode.IsDigit(r):
			digits = append(digits, r)
		case r == ' ' || r == '-':
		default:
			return "", ErrInvalidInput
		}
	}
	if len(digits) < 4 {
		return "", ErrInvalidInput
	}
	return string(digits[len(digits)-4:]), nil
}

func ValidateBankAccount(a InfluencerBankAccount) error {
	if strings.TrimSpace(a.InfluencerID) == "" || strings.TrimSpace(a.RecipientRef) == "" {
		return ErrInvalidInput
	}
	if len(a.AccountNumberLast4) != 4 {
		return ErrInvalidInput
	}
	if _, err := NormalizeCurrency(a.Currency); err != nil {
		return err
	}
	return nil
}
