package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// NormalizeCurrency upper-cases an ISO 4217 code and rejects anything that is not three letters.
func NormalizeCurrency(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: currency %q", ErrInvalidInput, raw)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: currency %q", ErrInvalidInput, raw)
		}
	}
	return code, nil
}

// ParsePercentage reads a fee percentage such as "10" or "12.5". Values outside [0, 100] are rejected.
func ParsePercentage(raw string) (decimal.Decimal, error) {
	pct, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: percentage %q", ErrInvalidInput, raw)
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("%w: percentage %s out of range", ErrInvalidInput, pct.String())
	}
	return pct, nil
}

// ComputeFee returns amount * pct / 100 rounded half-up to a whole minor unit.
// The result never exceeds amount.
func ComputeFee(amountInPence int64, pct decimal.Decimal) int64 {
	if amountInPence <= 0 || pct.IsZero() {
		return 0
	}
	fee := decimal.NewFromInt(amountInPence).Mul(pct).Div(hundred).Round(0).IntPart()
	if fee > amountInPence {
		return amountInPence
	}
	if fee < 0 {
		return 0
	}
	return fee
}
