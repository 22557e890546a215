package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

type stubConsumer struct {
	mu        sync.Mutex
	batch     []Message
	committed []Message
}

func (c *stubConsumer) Poll(_ context.Context, _ int) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.batch
	c.batch = nil
	return out, nil
}

func (c *stubConsumer) Commit(_ context.Context, msgs []Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, msgs...)
	return nil
}

type flakyHandler struct {
	failuresLeft int
	handled      []string
}

func (h *flakyHandler) HandleDomainEvent(_ context.Context, event contracts.EventEnvelope) error {
	if event.EventType == "campaign.unknown" {
		return domain.ErrUnsupportedEventType
	}
	if h.failuresLeft > 0 {
		h.failuresLeft--
		return errors.New("database unavailable")
	}
	h.handled = append(h.handled, event.EventID)
	return nil
}

func TestConsumerWorkerRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	consumer := &stubConsumer{batch: []Message{
		{Topic: "campaign.booked", Payload: []byte(`{"event_id":"e1","event_type":"campaign.booked"}`)},
		{Topic: "campaign.unknown", Payload: []byte(`{"event_id":"e2","event_type":"campaign.unknown"}`)},
		{Topic: "campaign.booked", Payload: []byte(`not-json`)},
		{Topic: "campaign.cancelled", Payload: []byte(`{"event_id":"e3","event_type":"campaign.cancelled"}`)},
	}}
	handler := &flakyHandler{failuresLeft: 2}
	worker := NewConsumerWorker(slog.New(slog.NewJSONHandler(io.Discard, nil)), consumer, handler, time.Millisecond)

	if err := worker.processOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(handler.handled) != 2 || handler.handled[0] != "e1" || handler.handled[1] != "e3" {
		t.Fatalf("unexpected handled events: %v", handler.handled)
	}
	if len(consumer.committed) != 4 {
		t.Fatalf("expected whole batch committed, got %d", len(consumer.committed))
	}
}

func TestConsumerWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()
	consumer := &stubConsumer{batch: []Message{
		{Topic: "campaign.booked", Payload: []byte(`{"event_id":"e1","event_type":"campaign.booked"}`)},
	}}
	handler := &flakyHandler{failuresLeft: 1000}
	worker := NewConsumerWorker(slog.New(slog.NewJSONHandler(io.Discard, nil)), consumer, handler, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := worker.processOnce(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if len(consumer.committed) != 0 {
		t.Fatalf("unhandled message must not be committed: %d", len(consumer.committed))
	}
}
