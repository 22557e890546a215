package postgres

import (
	"encoding/json"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"gorm.io/datatypes"
)

func toDomainCampaign(row campaignModel) domain.Campaign {
	return domain.Campaign{
		CampaignID:                  row.CampaignID,
		BrandID:                     row.BrandID,
		InfluencerID:                row.InfluencerID,
		TotalAmountInPence:          row.TotalAmountInPence,
		PaidAmountInPence:           row.PaidAmountInPence,
		ReleasedToInfluencerInPence: row.ReleasedToInfluencerInPence,
		Currency:                    row.Currency,
		PaymentType:                 domain.PaymentType(row.PaymentType),
		IsRecurringEnabled:          row.IsRecurringEnabled,
		Status:                      domain.CampaignStatus(row.Status),
		CreatedAt:                   row.CreatedAt,
		UpdatedAt:                   row.UpdatedAt,
	}
}

func toCampaignModel(c domain.Campaign) campaignModel {
	return campaignModel{
		CampaignID:                  c.CampaignID,
		BrandID:                     c.BrandID,
		InfluencerID:                c.InfluencerID,
		TotalAmountInPence:          c.TotalAmountInPence,
		PaidAmountInPence:           c.PaidAmountInPence,
		ReleasedToInfluencerInPence: c.ReleasedToInfluencerInPence,
		Currency:                    c.Currency,
		PaymentType:                 string(c.PaymentType),
		IsRecurringEnabled:          c.IsRecurringEnabled,
		Status:                      string(c.Status),
		CreatedAt:                   c.CreatedAt,
		UpdatedAt:                   c.UpdatedAt,
	}
}

func toDomainMilestone(row milestoneModel) domain.PaymentMilestone {
	return domain.PaymentMilestone{
		MilestoneID:        row.MilestoneID,
		CampaignID:         row.CampaignID,
		MilestoneNumber:    row.MilestoneNumber,
		AmountInPence:      row.AmountInPence,
		PlatformFeeInPence: row.PlatformFeeInPence,
		Currency:           row.Currency,
		DueDate:            row.DueDate,
		Status:             domain.MilestoneStatus(row.Status),
		TransactionID:      row.TransactionID,
		AutoChargeEnabled:  row.AutoChargeEnabled,
		ChargeAttempts:     row.ChargeAttempts,
		LastAttemptAt:      row.LastAttemptAt,
		FailureMessage:     row.FailureMessage,
		PaidAt:             row.PaidAt,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func toMilestoneModel(m domain.PaymentMilestone) milestoneModel {
	return milestoneModel{
		MilestoneID:        m.MilestoneID,
		CampaignID:         m.CampaignID,
		MilestoneNumber:    m.MilestoneNumber,
		AmountInPence:      m.AmountInPence,
		PlatformFeeInPence: m.PlatformFeeInPence,
		Currency:           m.Currency,
		DueDate:            m.DueDate,
		Status:             string(m.Status),
		TransactionID:      m.TransactionID,
		AutoChargeEnabled:  m.AutoChargeEnabled,
		ChargeAttempts:     m.ChargeAttempts,
		LastAttemptAt:      m.LastAttemptAt,
		FailureMessage:     m.FailureMessage,
		PaidAt:             m.PaidAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func toDomainTransaction(row transactionModel) domain.Transaction {
	out := domain.Transaction{
		TransactionID:        row.TransactionID,
		TransactionReference: row.TransactionReference,
		CampaignID:           row.CampaignID,
		MilestoneID:          row.MilestoneID,
		PayerID:              row.PayerID,
		Gateway:              domain.GatewayName(row.Gateway),
		GatewayPaymentID:     row.GatewayPaymentID,
		GatewayTransactionID: row.GatewayTransactionID,
		Status:               domain.TransactionStatus(row.TransactionStatus),
		AmountInPence:        row.AmountInPence,
		PlatformFeeInPence:   row.PlatformFeeInPence,
		TotalAmountInPence:   row.TotalAmountInPence,
		Currency:             row.Currency,
		RedirectURL:          row.RedirectURL,
		FailureCode:          row.FailureCode,
		FailureMessage:       row.FailureMessage,
		CompletedAt:          row.CompletedAt,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
	if len(row.WebhookPayload) > 0 {
		out.WebhookPayload = json.RawMessage(row.WebhookPayload)
	}
	return out
}

func toTransactionModel(t domain.Transaction) transactionModel {
	return transactionModel{
		TransactionID:        t.TransactionID,
		TransactionReference: t.TransactionReference,
		CampaignID:           t.CampaignID,
		MilestoneID:          t.MilestoneID,
		PayerID:              t.PayerID,
		Gateway:              string(t.Gateway),
		GatewayPaymentID:     t.GatewayPaymentID,
		GatewayTransactionID: t.GatewayTransactionID,
		TransactionStatus:    string(t.Status),
		AmountInPence:        t.AmountInPence,
		PlatformFeeInPence:   t.PlatformFeeInPence,
		TotalAmountInPence:   t.TotalAmountInPence,
		Currency:             t.Currency,
		RedirectURL:          t.RedirectURL,
		WebhookPayload:       jsonColumn(t.WebhookPayload),
		FailureCode:          t.FailureCode,
		FailureMessage:       t.FailureMessage,
		CompletedAt:          t.CompletedAt,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

func toDomainPayout(row payoutModel) domain.InfluencerPayout {
	return domain.InfluencerPayout{
		PayoutID:           row.PayoutID,
		CampaignID:         row.CampaignID,
		InfluencerID:       row.InfluencerID,
		MilestoneID:        row.MilestoneID,
		TransactionID:      row.TransactionID,
		GrossAmountInPence: row.GrossAmountInPence,
		PlatformFeeInPence: row.PlatformFeeInPence,
		NetAmountInPence:   row.NetAmountInPence,
		FeePercentage:      row.FeePercentage,
		Currency:           row.Currency,
		Status:             domain.PayoutStatus(row.Status),
		FailureReason:      row.FailureReason,
		ReleasedAt:         row.ReleasedAt,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func toPayoutModel(p domain.InfluencerPayout) payoutModel {
	return payoutModel{
		PayoutID:           p.PayoutID,
		CampaignID:         p.CampaignID,
		InfluencerID:       p.InfluencerID,
		MilestoneID:        p.MilestoneID,
		TransactionID:      p.TransactionID,
		GrossAmountInPence: p.GrossAmountInPence,
		PlatformFeeInPence: p.PlatformFeeInPence,
		NetAmountInPence:   p.NetAmountInPence,
		FeePercentage:      p.FeePercentage,
		Currency:           p.Currency,
		Status:             string(p.Status),
		FailureReason:      p.FailureReason,
		ReleasedAt:         p.ReleasedAt,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func toDomainWithdrawal(row withdrawalModel) domain.Withdrawal {
	return domain.Withdrawal{
		WithdrawalID:   row.WithdrawalID,
		Reference:      row.Reference,
		InfluencerID:   row.InfluencerID,
		BankAccountID:  row.BankAccountID,
		AmountInPence:  row.AmountInPence,
		Currency:       row.Currency,
		PaymentGateway: domain.GatewayName(row.PaymentGateway),
		TransferCode:   row.TransferCode,
		RecipientCode:  row.RecipientCode,
		Status:         domain.WithdrawalStatus(row.Status),
		FailureReason:  row.FailureReason,
		CompletedAt:    row.CompletedAt,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func toWithdrawalModel(w domain.Withdrawal) withdrawalModel {
	return withdrawalModel{
		WithdrawalID:   w.WithdrawalID,
		Reference:      w.Reference,
		InfluencerID:   w.InfluencerID,
		BankAccountID:  w.BankAccountID,
		AmountInPence:  w.AmountInPence,
		Currency:       w.Currency,
		PaymentGateway: string(w.PaymentGateway),
		TransferCode:   w.TransferCode,
		RecipientCode:  w.RecipientCode,
		Status:         string(w.Status),
		FailureReason:  w.FailureReason,
		CompletedAt:    w.CompletedAt,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
}

func toDomainBankAccount(row bankAccountModel) domain.InfluencerBankAccount {
	return domain.InfluencerBankAccount{
		BankAccountID:      row.BankAccountID,
		InfluencerID:       row.InfluencerID,
		AccountName:        row.AccountName,
		BankCode:           row.BankCode,
		AccountNumberLast4: row.AccountNumberLast4,
		Currency:           row.Currency,
		Gateway:            domain.GatewayName(row.Gateway),
		RecipientRef:       row.RecipientRef,
		IsDefault:          row.IsDefault,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func toDomainPaymentMethod(row paymentMethodModel) domain.PaymentMethod {
	return domain.PaymentMethod{
		PaymentMethodID: row.PaymentMethodID,
		UserID:          row.UserID,
		Gateway:         domain.GatewayName(row.Gateway),
		Token:           row.Token,
		Brand:           row.Brand,
		Last4:           row.Last4,
		IsDefault:       row.IsDefault,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func toDomainSetting(row settingModel) domain.PlatformSetting {
	return domain.PlatformSetting{
		SettingKey:   row.SettingKey,
		SettingValue: row.SettingValue,
		UpdatedBy:    row.UpdatedBy,
		UpdatedAt:    row.UpdatedAt,
	}
}

func toWebhookRecord(row webhookEventModel) ports.WebhookRecord {
	return ports.WebhookRecord{
		WebhookEventID:  row.WebhookEventID,
		Gateway:         domain.GatewayName(row.Gateway),
		ProviderEventID: row.ProviderEventID,
		EventType:       row.EventType,
		Reference:       row.Reference,
		SignatureValid:  row.SignatureValid,
		Payload:         row.Payload,
		Outcome:         row.Outcome,
		Detail:          row.Detail,
		Attempts:        row.Attempts,
		ReceivedAt:      row.ReceivedAt,
		ProcessedAt:     row.ProcessedAt,
	}
}

// jsonColumn keeps only payloads that are valid JSON; anything else is stored as NULL.
func jsonColumn(raw []byte) datatypes.JSON {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return datatypes.JSON(raw)
}
