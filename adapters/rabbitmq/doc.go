/*
Package rabbitmq broadcasts admin change events over RabbitMQ.
Events are published to a durable fanout exchange named after the broadcast topic,
through a publisher that reconnects with backoff. Each subscriber consumes a private
exclusive queue bound to that exchange, so every worker receives every event.
Trace context travels in message headers via an optional bus.HeaderPropagator.
*/
package rabbitmq
