package postgres

import (
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Campaigns      ports.CampaignRepository
	Milestones     ports.MilestoneRepository
	Transactions   ports.TransactionRepository
	Settlement     ports.SettlementRepository
	Payouts        ports.PayoutRepository
	Withdrawals    ports.WithdrawalRepository
	BankAccounts   ports.BankAccountRepository
	PaymentMethods ports.PaymentMethodRepository
	Settings       ports.SettingsRepository
	Webhooks       ports.WebhookEventRepository
	Outbox         ports.OutboxRepository
	Idempotency    ports.IdempotencyRepository
	EventDedup     ports.EventDedupRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Campaigns:      &campaignRepository{db: db},
		Milestones:     &milestoneRepository{db: db},
		Transactions:   &transactionRepository{db: db},
		Settlement:     &settlementRepository{db: db},
		Payouts:        &payoutRepository{db: db},
		Withdrawals:    &withdrawalRepository{db: db},
		BankAccounts:   &bankAccountRepository{db: db},
		PaymentMethods: &paymentMethodRepository{db: db},
		Settings:       &settingsRepository{db: db},
		Webhooks:       &webhookEventRepository{db: db},
		Outbox:         &outboxRepository{db: db},
		Idempotency:    &idempotencyRepository{db: db},
		EventDedup:     &eventDedupRepository{db: db},
	}
}
