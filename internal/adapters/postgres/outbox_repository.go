package postgres

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type outboxRepository struct {
	db *gorm.DB
}

// Enqueue is used for standalone events; money movements enqueue inside their own
// store transaction via enqueueEvents.
func (r *outboxRepository) Enqueue(ctx context.Context, event ports.OutboxEvent) error {
	return enqueueEvents(r.db.WithContext(ctx), []ports.OutboxEvent{event})
}

func enqueueEvents(tx *gorm.DB, events []ports.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]outboxModel, 0, len(events))
	for _, event := range events {
		rows = append(rows, outboxModel{
			OutboxID:     event.EventID,
			EventType:    event.EventType,
			PartitionKey: event.PartitionKey,
			Payload:      datatypes.JSON(event.Payload),
			CreatedAt:    event.OccurredAt,
		})
	}
	return tx.Create(&rows).Error
}

const claimOutboxSQL = `
UPDATE settlement_outbox
   SET claim_token = @token, claim_until = @until
 WHERE outbox_id IN (
        SELECT outbox_id
          FROM settlement_outbox
         WHERE published_at IS NULL
           AND dead_lettered_at IS NULL
           AND (claim_until IS NULL OR claim_until < @now)
         ORDER BY created_at ASC
         LIMIT @limit
           FOR UPDATE SKIP LOCKED)
RETURNING *`

// ClaimUnpublished leases the oldest unpublished rows to one relay in a single
// statement; SKIP LOCKED lets several worker replicas drain disjoint batches.
func (r *outboxRepository) ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, errors.New("outbox claim token is required")
	}
	var rows []outboxModel
	err := r.db.WithContext(ctx).Raw(claimOutboxSQL, map[string]any{
		"token": claimToken,
		"until": claimUntil,
		"now":   time.Now().UTC(),
		"limit": limit,
	}).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order.
	slices.SortStableFunc(rows, func(a, b outboxModel) int { return a.CreatedAt.Compare(b.CreatedAt) })

	out := make([]ports.OutboxRecord, len(rows))
	for i, row := range rows {
		out[i] = row.toRecord()
	}
	return out, nil
}

func (m outboxModel) toRecord() ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:       m.OutboxID,
		EventType:      m.EventType,
		PartitionKey:   m.PartitionKey,
		Payload:        []byte(m.Payload),
		RetryCount:     m.RetryCount,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		PublishedAt:    m.PublishedAt,
		LastErrorAt:    m.LastErrorAt,
		ClaimToken:     m.ClaimToken,
		ClaimUntil:     m.ClaimUntil,
		DeadLetteredAt: m.DeadLetteredAt,
	}
}

func (r *outboxRepository) MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.settleClaim(ctx, outboxID, claimToken, map[string]any{"published_at": at})
}

func (r *outboxRepository) MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.settleClaim(ctx, outboxID, claimToken, failureColumns(errMsg, at))
}

func (r *outboxRepository) MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	columns := failureColumns(errMsg, at)
	columns["dead_lettered_at"] = at
	return r.settleClaim(ctx, outboxID, claimToken, columns)
}

func failureColumns(errMsg string, at time.Time) map[string]any {
	return map[string]any{
		"retry_count":   gorm.Expr("retry_count + 1"),
		"last_error":    errMsg,
		"last_error_at": at,
	}
}

// settleClaim applies columns and drops the lease, but only while the caller still
// holds it; a relay whose lease lapsed leaves the row to whoever reclaimed it.
func (r *outboxRepository) settleClaim(ctx context.Context, outboxID uuid.UUID, claimToken string, columns map[string]any) error {
	columns["claim_token"] = nil
	columns["claim_until"] = nil
	return r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ? AND claim_token = ?", outboxID, claimToken).
		Updates(columns).Error
}

var _ ports.OutboxRepository = (*outboxRepository)(nil)
