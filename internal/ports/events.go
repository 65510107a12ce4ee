package ports

import "context"

// EventPublisher is the outbound ledger-event publish port. partitionKey
// keeps per-passport ordering on brokers that partition by key; plain
// publishers may ignore it.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, partitionKey string, payload []byte) error
}
