package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/worker"
)

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	ClaimTTL     time.Duration
	MaxRetries   int
}

func (c OutboxConfig) withDefaults() OutboxConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// BatchReport counts what one relay pass did with the records it claimed.
type BatchReport struct {
	Claimed      int
	Published    int
	Retrying     int
	DeadLettered int
	// Held records share a partition key with an earlier failure in the same batch.
	// They stay claimed until the lease lapses so a milestone's or withdrawal's
	// events are never published out of order.
	Held int
}

// OutboxWorker relays settlement events from the outbox table to the broker.
type OutboxWorker struct {
	logger    *slog.Logger
	outbox    ports.OutboxRepository
	publisher ports.EventPublisher
	cfg       OutboxConfig
	nowFn     func() time.Time
}

func NewOutboxWorker(logger *slog.Logger, outbox ports.OutboxRepository, publisher ports.EventPublisher, cfg OutboxConfig) *OutboxWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxWorker{
		logger:    logger,
		outbox:    outbox,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

func (w *OutboxWorker) Run(ctx context.Context) error {
	return worker.NewScheduler("outbox_relay", w.cfg.PollInterval, w.logger, func(ctx context.Context) error {
		_, err := w.ProcessOnce(ctx)
		return err
	}).Run(ctx)
}

// ProcessOnce claims one batch under a fresh lease and publishes it in creation order.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (BatchReport, error) {
	lease := uuid.NewString()
	records, err := w.outbox.ClaimUnpublished(ctx, w.cfg.BatchSize, lease, w.nowFn().Add(w.cfg.ClaimTTL))
	if err != nil {
		return BatchReport{}, err
	}

	report := BatchReport{Claimed: len(records)}
	blocked := make(map[string]struct{})
	for _, rec := range records {
		if _, ok := blocked[rec.PartitionKey]; ok {
			report.Held++
			continue
		}
		switch w.relay(ctx, rec, lease) {
		case relayPublished:
			report.Published++
		case relayRetrying:
			report.Retrying++
			blocked[rec.PartitionKey] = struct{}{}
		case relayDeadLettered:
			report.DeadLettered++
		}
	}
	if report.Claimed > 0 {
		w.logger.InfoContext(ctx, "settlement events relayed",
			"module", "events.outbox_relay",
			"layer", "adapter",
			"operation", "relay_batch",
			"outcome", "success",
			"claimed", report.Claimed,
			"published", report.Published,
			"retrying", report.Retrying,
			"dead_lettered", report.DeadLettered,
			"held", report.Held,
		)
	}
	return report, nil
}

type relayResult int

const (
	relayPublished relayResult = iota
	relayRetrying
	relayDeadLettered
)

func (w *OutboxWorker) relay(ctx context.Context, rec ports.OutboxRecord, lease string) relayResult {
	now := w.nowFn()
	if rec.RetryCount >= w.cfg.MaxRetries {
		_ = w.outbox.MarkDeadLettered(ctx, rec.OutboxID, lease, "retry budget exhausted before publish", now)
		return relayDeadLettered
	}
	publishErr := w.publisher.Publish(ctx, rec.EventType, rec.Payload, rec.PartitionKey)
	if publishErr == nil {
		_ = w.outbox.MarkPublished(ctx, rec.OutboxID, lease, now)
		return relayPublished
	}

	attempts := rec.RetryCount + 1
	fields := []any{
		"module", "events.outbox_relay",
		"layer", "adapter",
		"operation", "publish_event",
		"outcome", "failure",
		"outbox_id", rec.OutboxID,
		"event_type", rec.EventType,
		"partition_key", rec.PartitionKey,
		"attempts", attempts,
		"error", publishErr,
	}
	if attempts >= w.cfg.MaxRetries {
		w.logger.ErrorContext(ctx, "settlement event dead-lettered", fields...)
		_ = w.outbox.MarkDeadLettered(ctx, rec.OutboxID, lease, publishErr.Error(), now)
		return relayDeadLettered
	}
	w.logger.WarnContext(ctx, "settlement event publish failed; will retry", fields...)
	_ = w.outbox.MarkFailed(ctx, rec.OutboxID, lease, publishErr.Error(), now)
	return relayRetrying
}
