package bus

import "context"

// EventPublisher abstracts broadcasting change events to every worker process of a cluster.
// Library users provide an implementation that maps to Kafka/NATS/RabbitMQ etc.
type EventPublisher interface {
	PublishChange(ctx context.Context, evt ChangeEvent, opts PublishOptions) error
}

// ChangeHandler consumes a change event on the worker side.
// Handlers must be idempotent: delivery is at-least-once and may be reordered.
type ChangeHandler func(ctx context.Context, evt ChangeEvent) error

// EventSubscriber abstracts receiving the broadcast on a worker process.
// The returned stop function unsubscribes and releases transport resources.
type EventSubscriber interface {
	SubscribeChanges(ctx context.Context, h ChangeHandler) (stop func() error, err error)
}
