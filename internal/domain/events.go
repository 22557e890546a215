package domain

const (
	EventCampaignBooked    = "campaign.booked"
	EventCampaignCancelled = "campaign.cancelled"

	EventMilestoneOverdue = "milestone.overdue"
	EventMilestonePaid    = "milestone.paid"
	EventMilestoneFailed  = "milestone.failed"

	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventTransactionOrphaned  = "transaction.orphaned"

	EventPayoutCreated  = "payout.created"
	EventPayoutReleased = "payout.released"
	EventPayoutVoided   = "payout.voided"

	EventWithdrawalProcessing = "withdrawal.processing"
	EventWithdrawalCompleted  = "withdrawal.completed"
	EventWithdrawalFailed     = "withdrawal.failed"

	EventWebhookUnmatched = "webhook.unmatched"
)

// Webhook audit outcomes.
const (
	WebhookOutcomePending   = "pending"
	WebhookOutcomeApplied   = "applied"
	WebhookOutcomeNoop      = "noop"
	WebhookOutcomeUnmatched = "unmatched"
	WebhookOutcomeIgnored   = "ignored"
)
