package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.logger.InfoContext(ctx, "event published",
		"module", "events.publisher",
		"layer", "adapter",
		"operation", "publish",
		"outcome", "success",
		"event_type", eventType,
		"partition_key", partitionKey,
		"payload_bytes", len(payload),
	)
	return nil
}

type PublishedEvent struct {
	EventType    string
	PartitionKey string
	Payload      []byte
}

// MemoryPublisher records published events for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
	failFn func(eventType string) error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// FailWith makes Publish return the error produced by fn, when non-nil.
func (p *MemoryPublisher) FailWith(fn func(eventType string) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failFn = fn
}

func (p *MemoryPublisher) Publish(_ context.Context, eventType string, payload []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFn != nil {
		if err := p.failFn(eventType); err != nil {
			return err
		}
	}
	p.events = append(p.events, PublishedEvent{EventType: eventType, PartitionKey: partitionKey, Payload: payload})
	return nil
}

func (p *MemoryPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishedEvent, len(p.events))
	copy(out, p.events)
	return out
}

var (
	_ ports.EventPublisher = (*LoggingPublisher)(nil)
	_ ports.EventPublisher = (*MemoryPublisher)(nil)
)
