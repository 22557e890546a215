package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

type KafkaPublisher struct {
	writer       *kafka.Writer
	topicByEvent map[string]string
}

// NewKafkaPublisher writes each outbox event to the topic mapped for its type,
// falling back to the event type itself. Messages are keyed by partition key so
// every event for one milestone or withdrawal lands on the same partition.
func NewKafkaPublisher(brokers []string, topicByEvent map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: false,
		},
		topicByEvent: topicByEvent,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topicFor(p.topicByEvent, eventType),
		Key:   []byte(partitionKey),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func topicFor(topicByEvent map[string]string, eventType string) string {
	if mapped, ok := topicByEvent[eventType]; ok && mapped != "" {
		return mapped
	}
	return eventType
}

var _ ports.EventPublisher = (*KafkaPublisher)(nil)
