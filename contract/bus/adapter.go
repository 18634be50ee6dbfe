package bus

// Adapter is a convenience interface that combines publishing and subscribing capabilities.
// Any broker adapter that implements both EventPublisher and EventSubscriber can serve as the
// admin side (publisher) and the worker side (subscriber) of change propagation.
//
// This keeps the notifier decoupled from concrete transports while enabling simple injection
// of user-provided adapters (Kafka, NATS, RabbitMQ, in-memory, etc.).
type Adapter interface {
	EventPublisher
	EventSubscriber
}
