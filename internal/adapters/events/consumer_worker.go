package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

type Message struct {
	Topic   string
	Key     []byte
	Payload []byte

	raw kafka.Message
}

type Consumer interface {
	Poll(ctx context.Context, max int) ([]Message, error)
	Commit(ctx context.Context, msgs []Message) error
}

// DomainEventHandler applies one inbound campaign lifecycle event.
type DomainEventHandler interface {
	HandleDomainEvent(ctx context.Context, event contracts.EventEnvelope) error
}

type ConsumerWorker struct {
	logger   *slog.Logger
	consumer Consumer
	handler  DomainEventHandler
	interval time.Duration
}

func NewConsumerWorker(logger *slog.Logger, consumer Consumer, handler DomainEventHandler, interval time.Duration) *ConsumerWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ConsumerWorker{
		logger: logger, consumer: consumer, handler: handler, interval: interval,
	}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.processOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processOnce handles a polled batch in order. A transient failure is retried in
// place, which holds the partition back until it succeeds; offsets are committed for
// the handled prefix only.
func (w *ConsumerWorker) processOnce(ctx context.Context) error {
	msgs, err := w.consumer.Poll(ctx, 50)
	if err != nil && len(msgs) == 0 {
		return err
	}
	done := 0
	for _, msg := range msgs {
		if handleErr := w.handleWithRetry(ctx, msg); handleErr != nil {
			break
		}
		done++
	}
	if commitErr := w.consumer.Commit(context.WithoutCancel(ctx), msgs[:done]); commitErr != nil {
		return commitErr
	}
	if done < len(msgs) {
		return ctx.Err()
	}
	return err
}

func (w *ConsumerWorker) handleWithRetry(ctx context.Context, msg Message) error {
	for attempt := 1; ; attempt++ {
		err := w.handle(ctx, msg)
		if err == nil {
			return nil
		}
		w.logger.WarnContext(ctx, "domain event handling failed; retrying",
			"module", "events.consumer_worker",
			"layer", "adapter",
			"operation", "handle_event",
			"outcome", "retry",
			"topic", msg.Topic,
			"attempt", attempt,
			"error", err,
		)
		timer := time.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (w *ConsumerWorker) handle(ctx context.Context, msg Message) error {
	var envelope contracts.EventEnvelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		w.logger.WarnContext(ctx, "dropping undecodable event",
			"module", "events.consumer_worker",
			"layer", "adapter",
			"operation", "decode_event",
			"outcome", "rejected",
			"topic", msg.Topic,
			"error", err,
		)
		return nil
	}
	err := w.handler.HandleDomainEvent(ctx, envelope)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrUnsupportedEventType),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrMilestoneSumMismatch):
		w.logger.WarnContext(ctx, "domain event rejected",
			"module", "events.consumer_worker",
			"layer", "adapter",
			"operation", "handle_event",
			"outcome", "rejected",
			"event_id", envelope.EventID,
			"event_type", envelope.EventType,
			"error", err,
		)
		return nil
	default:
		return err
	}
}
