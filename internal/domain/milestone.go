package domain

import (
	"fmt"
	"time"
)

type MilestoneStatus string

const (
	MilestoneStatusPending   MilestoneStatus = "PENDING"
	MilestoneStatusOverdue   MilestoneStatus = "OVERDUE"
	MilestoneStatusPaid      MilestoneStatus = "PAID"
	MilestoneStatusFailed    MilestoneStatus = "FAILED"
	MilestoneStatusCancelled MilestoneStatus = "CANCELLED"
)

// SplitRemainder decides which milestone absorbs the rounding remainder of an even split.
type SplitRemainder string

const (
	SplitRemainderFirst SplitRemainder = "first"
	SplitRemainderLast  SplitRemainder = "last"
)

type PaymentMilestone struct {
	MilestoneID        string          `json:"milestone_id"`
	CampaignID         string          `json:"campaign_id"`
	MilestoneNumber    int             `json:"milestone_number"`
	AmountInPence      int64           `json:"amount_in_pence"`
	PlatformFeeInPence int64           `json:"platform_fee_in_pence"`
	Currency           string          `json:"currency"`
	DueDate            time.Time       `json:"due_date"`
	Status             MilestoneStatus `json:"status"`
	TransactionID      *string         `json:"transaction_id,omitempty"`
	AutoChargeEnabled  bool            `json:"auto_charge_enabled"`
	ChargeAttempts     int             `json:"charge_attempts"`
	LastAttemptAt      *time.Time      `json:"last_attempt_at,omitempty"`
	FailureMessage     string          `json:"failure_message,omitempty"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (m PaymentMilestone) IsOpen() bool {
	return m.Status == MilestoneStatusPending || m.Status == MilestoneStatusOverdue
}

// AcceptsPayment reports whether a captured charge can still pay the milestone.
func (m PaymentMilestone) AcceptsPayment() bool {
	return m.IsOpen() || m.Status == MilestoneStatusFailed
}

// ChargeTotalInPence is what the brand is charged for the milestone: the amount plus the brand-side fee.
func (m PaymentMilestone) ChargeTotalInPence() int64 {
	return m.AmountInPence + m.PlatformFeeInPence
}

var milestoneTransitions = map[MilestoneStatus][]MilestoneStatus{
	MilestoneStatusPending: {MilestoneStatusOverdue, MilestoneStatusPaid, MilestoneStatusFailed, MilestoneStatusCancelled},
	MilestoneStatusOverdue: {MilestoneStatusPaid, MilestoneStatusFailed, MilestoneStatusCancelled},
	MilestoneStatusFailed:  {MilestoneStatusPaid},
}

func CanTransitionMilestone(from, to MilestoneStatus) bool {
	for _, next := range milestoneTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SplitAmount divides total into n milestone amounts whose sum is exactly total.
// The whole remainder lands on one milestone, chosen by policy.
func SplitAmount(total int64, n int, policy SplitRemainder) ([]int64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: milestone count must be positive", ErrInvalidInput)
	}
	if total < int64(n) {
		return nil, fmt.Errorf("%w: total %d cannot fund %d milestones", ErrInvalidInput, total, n)
	}
	base := total / int64(n)
	remainder := total % int64(n)
	out := make([]int64, n)
	for i := range out {
		out[i] = base
	}
	switch policy {
	case SplitRemainderLast:
		out[n-1] += remainder
	case SplitRemainderFirst, "":
		out[0] += remainder
	default:
		return nil, fmt.Errorf("%w: split remainder policy %q", ErrInvalidInput, policy)
	}
	return out, nil
}

// ValidateMilestoneAmounts enforces that an explicit plan funds the campaign exactly.
func ValidateMilestoneAmounts(total int64, amounts []int64) error {
	if len(amounts) == 0 {
		return fmt.Errorf("%w: empty milestone plan", ErrInvalidInput)
	}
	var sum int64
	for i, amount := range amounts {
		if amount <= 0 {
			return fmt.Errorf("%w: milestone %d amount must be positive", ErrInvalidInput, i+1)
		}
		sum += amount
	}
	if sum != total {
		return fmt.Errorf("%w: sum %d, total %d", ErrMilestoneSumMismatch, sum, total)
	}
	return nil
}
