package domain

import (
	"errors"
	"fmt"
)

type GatewayName string

const (
	GatewayCard        GatewayName = "card"
	GatewayOpenBanking GatewayName = "openbanking"
	GatewayLocalBank   GatewayName = "localbank"
)

// Operation is the kind of money movement a gateway is selected for.
type Operation string

const (
	OperationCharge Operation = "charge"
	OperationPayout Operation = "payout"
)

// GatewayStatus is the provider-neutral outcome reported by an adapter.
type GatewayStatus string

const (
	GatewayStatusSucceeded  GatewayStatus = "succeeded"
	GatewayStatusProcessing GatewayStatus = "processing"
	GatewayStatusFailed     GatewayStatus = "failed"
	GatewayStatusCancelled  GatewayStatus = "cancelled"
	GatewayStatusNotFound   GatewayStatus = "not_found"
	GatewayStatusReversed   GatewayStatus = "reversed" // completed payout returned by the receiving bank
)

// GatewayError is the typed failure returned by adapters.
// Retryable errors are network, timeout, 429 and 5xx; everything else is terminal.
type GatewayError struct {
	Gateway    GatewayName
	Retryable  bool
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s gateway: %s (%d): %s", e.Gateway, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s gateway: %s: %s", e.Gateway, e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func IsRetryableGatewayError(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return false
}

// GatewayFailure extracts code and message for persisting on a failed record.
func GatewayFailure(err error) (code, message string) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Code, gwErr.Message
	}
	if err == nil {
		return "", ""
	}
	return "internal_error", err.Error()
}
