package domain

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("resource not found")
	ErrConflict              = errors.New("conflict")
	ErrIdempotencyRequired   = errors.New("idempotency key required")
	ErrIdempotencyConflict   = errors.New("idempotency conflict")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrMilestoneSumMismatch  = errors.New("milestone amounts do not sum to campaign total")
	ErrMilestonesExist       = errors.New("campaign already has milestones")
	ErrCampaignNotActive     = errors.New("campaign is not active")
	ErrChargeInFlight        = errors.New("charge already in flight for milestone")
	ErrInsufficientBalance   = errors.New("insufficient available balance")
	ErrPaymentMethodRequired = errors.New("payer has no default payment method")
	ErrUnsupportedCurrency   = errors.New("unsupported currency")
	ErrUnknownGateway        = errors.New("unknown gateway")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrGatewayUnavailable    = errors.New("gateway unavailable")
	ErrUnsupportedEventType  = errors.New("unsupported event type")
	ErrLocked                = errors.New("resource locked")
)
