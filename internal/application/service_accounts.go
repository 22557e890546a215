package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

// RegisterBankAccount stores a payout destination. Only the last four digits of the
// account number are kept; the gateway recipient ref is what transfers use.
func (s *Service) RegisterBankAccount(ctx context.Context, actor Actor, input RegisterBankAccountInput) (domain.InfluencerBankAccount, error) {
	if err := authorize(actor, input.InfluencerID); err != nil {
		return domain.InfluencerBankAccount{}, err
	}
	last4, err := domain.Last4Digits(input.AccountNumber)
	if err != nil {
		return domain.InfluencerBankAccount{}, fmt.Errorf("%w: account_number", domain.ErrInvalidInput)
	}
	currency, err := domain.NormalizeCurrency(input.Currency)
	if err != nil {
		return domain.InfluencerBankAccount{}, err
	}
	if input.Gateway != "" {
		if _, err := s.gateways.ByName(input.Gateway); err != nil {
			return domain.InfluencerBankAccount{}, err
		}
	}
	now := s.nowFn()
	account := domain.InfluencerBankAccount{
		BankAccountID:      uuid.NewString(),
		InfluencerID:       strings.TrimSpace(input.InfluencerID),
		AccountName:        strings.TrimSpace(input.AccountName),
		BankCode:           strings.TrimSpace(input.BankCode),
		AccountNumberLast4: last4,
		Currency:           currency,
		Gateway:            input.Gateway,
		RecipientRef:       strings.TrimSpace(input.RecipientRef),
		IsDefault:          input.IsDefault,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := domain.ValidateBankAccount(account); err != nil {
		return domain.InfluencerBankAccount{}, err
	}
	if err := s.bankAccounts.Create(ctx, account); err != nil {
		return domain.InfluencerBankAccount{}, err
	}
	return account, nil
}

// SavePaymentMethod stores a gateway-tokenized instrument for a brand.
func (s *Service) SavePaymentMethod(ctx context.Context, actor Actor, input SavePaymentMethodInput) (domain.PaymentMethod, error) {
	if err := authorize(actor, input.UserID); err != nil {
		return domain.PaymentMethod{}, err
	}
	if strings.TrimSpace(input.Token) == "" {
		return domain.PaymentMethod{}, fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}
	if _, err := s.gateways.ByName(input.Gateway); err != nil {
		return domain.PaymentMethod{}, err
	}
	now := s.nowFn()
	method := domain.PaymentMethod{
		PaymentMethodID: uuid.NewString(),
		UserID:          strings.TrimSpace(input.UserID),
		Gateway:         input.Gateway,
		Token:           strings.TrimSpace(input.Token),
		Brand:           strings.TrimSpace(input.Brand),
		Last4:           strings.TrimSpace(input.Last4),
		IsDefault:       input.IsDefault,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.paymentMethods.Create(ctx, method); err != nil {
		return domain.PaymentMethod{}, err
	}
	return method, nil
}
