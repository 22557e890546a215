package postgres

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type webhookEventRepository struct {
	db *gorm.DB
}

func (r *webhookEventRepository) Record(ctx context.Context, record ports.WebhookRecord) (ports.WebhookRecord, bool, error) {
	row := webhookEventModel{
		WebhookEventID:  record.WebhookEventID,
		Gateway:         string(record.Gateway),
		ProviderEventID: record.ProviderEventID,
		EventType:       record.EventType,
		Reference:       record.Reference,
		SignatureValid:  record.SignatureValid,
		Payload:         record.Payload,
		Outcome:         record.Outcome,
		Detail:          record.Detail,
		ReceivedAt:      record.ReceivedAt,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(&row)
	if res.Error != nil {
		return ports.WebhookRecord{}, false, res.Error
	}
	if res.RowsAffected > 0 {
		return toWebhookRecord(row), false, nil
	}
	var existing webhookEventModel
	if err := r.db.WithContext(ctx).
		Where("gateway = ? AND provider_event_id = ?", string(record.Gateway), record.ProviderEventID).
		Take(&existing).Error; err != nil {
		return ports.WebhookRecord{}, false, mapNotFound(err)
	}
	return toWebhookRecord(existing), true, nil
}

func (r *webhookEventRepository) MarkOutcome(ctx context.Context, webhookEventID, outcome, detail string, at time.Time) error {
	updates := map[string]any{
		"outcome":  outcome,
		"detail":   detail,
		"attempts": gorm.Expr("attempts + 1"),
	}
	if outcome != domain.WebhookOutcomePending {
		updates["processed_at"] = at
	}
	return r.db.WithContext(ctx).
		Model(&webhookEventModel{}).
		Where("webhook_event_id = ?", webhookEventID).
		Updates(updates).Error
}

func (r *webhookEventRepository) ListPending(ctx context.Context, receivedBefore time.Time, limit int) ([]ports.WebhookRecord, error) {
	var rows []webhookEventModel
	if err := r.db.WithContext(ctx).
		Where("outcome = ? AND received_at < ?", domain.WebhookOutcomePending, receivedBefore).
		Order("received_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ports.WebhookRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, toWebhookRecord(row))
	}
	return out, nil
}

var _ ports.WebhookEventRepository = (*webhookEventRepository)(nil)
