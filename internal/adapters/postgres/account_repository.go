package postgres

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"gorm.io/gorm"
)

type bankAccountRepository struct {
	db *gorm.DB
}

func (r *bankAccountRepository) Create(ctx context.Context, account domain.InfluencerBankAccount) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if account.IsDefault {
			if err := tx.Model(&bankAccountModel{}).
				Where("influencer_id = ? AND currency = ? AND is_default", account.InfluencerID, account.Currency).
				Updates(map[string]any{"is_default": false, "updated_at": account.UpdatedAt}).Error; err != nil {
				return err
			}
		}
		row := bankAccountModel{
			BankAccountID:      account.BankAccountID,
			InfluencerID:       account.InfluencerID,
			AccountName:        account.AccountName,
			BankCode:           account.BankCode,
			AccountNumberLast4: account.AccountNumberLast4,
			Currency:           account.Currency,
			Gateway:            string(account.Gateway),
			RecipientRef:       account.RecipientRef,
			IsDefault:          account.IsDefault,
			CreatedAt:          account.CreatedAt,
			UpdatedAt:          account.UpdatedAt,
		}
		return tx.Create(&row).Error
	})
}

func (r *bankAccountRepository) GetByID(ctx context.Context, bankAccountID string) (domain.InfluencerBankAccount, error) {
	var row bankAccountModel
	if err := r.db.WithContext(ctx).Where("bank_account_id = ?", bankAccountID).Take(&row).Error; err != nil {
		return domain.InfluencerBankAccount{}, mapNotFound(err)
	}
	return toDomainBankAccount(row), nil
}

// GetDefault prefers the flagged default and falls back to the oldest account in the currency.
func (r *bankAccountRepository) GetDefault(ctx context.Context, influencerID, currency string) (domain.InfluencerBankAccount, error) {
	var row bankAccountModel
	if err := r.db.WithContext(ctx).
		Where("influencer_id = ? AND currency = ?", influencerID, currency).
		Order("is_default DESC, created_at ASC").
		Take(&row).Error; err != nil {
		return domain.InfluencerBankAccount{}, mapNotFound(err)
	}
	return toDomainBankAccount(row), nil
}

type paymentMethodRepository struct {
	db *gorm.DB
}

func (r *paymentMethodRepository) Create(ctx context.Context, method domain.PaymentMethod) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if method.IsDefault {
			if err := clearDefaultPaymentMethod(tx, method.UserID, method.UpdatedAt); err != nil {
				return err
			}
		}
		row := paymentMethodModel{
			PaymentMethodID: method.PaymentMethodID,
			UserID:          method.UserID,
			Gateway:         string(method.Gateway),
			Token:           method.Token,
			Brand:           method.Brand,
			Last4:           method.Last4,
			IsDefault:       method.IsDefault,
			CreatedAt:       method.CreatedAt,
			UpdatedAt:       method.UpdatedAt,
		}
		return tx.Create(&row).Error
	})
}

func clearDefaultPaymentMethod(tx *gorm.DB, userID string, at time.Time) error {
	return tx.Model(&paymentMethodModel{}).
		Where("user_id = ? AND is_default", userID).
		Updates(map[string]any{"is_default": false, "updated_at": at}).Error
}

func (r *paymentMethodRepository) GetDefault(ctx context.Context, userID string) (domain.PaymentMethod, error) {
	var row paymentMethodModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC, created_at DESC").
		Take(&row).Error; err != nil {
		return domain.PaymentMethod{}, mapNotFound(err)
	}
	return toDomainPaymentMethod(row), nil
}

var (
	_ ports.BankAccountRepository   = (*bankAccountRepository)(nil)
	_ ports.PaymentMethodRepository = (*paymentMethodRepository)(nil)
)
