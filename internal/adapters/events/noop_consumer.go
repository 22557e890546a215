package events

import "context"

type NoopConsumer struct{}

func NewNoopConsumer() *NoopConsumer {
	return &NoopConsumer{}
}

func (n *NoopConsumer) Poll(_ context.Context, _ int) ([]Message, error) {
	return nil, nil
}

func (n *NoopConsumer) Commit(_ context.Context, _ []Message) error {
	return nil
}
