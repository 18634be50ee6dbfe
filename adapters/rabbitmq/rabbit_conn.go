package rabbitmq

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// Concrete AMQP connection-backed constructor, reconnecting publisher and consumer.

const broadcastExchangeType = "fanout"

type Config struct {
	URL         string
	ConnTimeout time.Duration
}

func (cfg Config) dial() (*amqp.Connection, error) {
	return amqp.DialConfig(cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-service-admin"},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
}

func declareBroadcast(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, broadcastExchangeType, true, false, false, false, nil)
}

type reconnectingPublisher struct {
	cfg    Config
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan struct{}
	ready  chan struct{} // closed when a channel is ready
	// exchanges already declared on the current channel
	declared map[string]bool
}

func newReconnectingPublisher(cfg Config) (*reconnectingPublisher, func()) {
	rp := &reconnectingPublisher{
		cfg:    cfg,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}
	go rp.run()

	return rp, rp.close
}

func (rp *reconnectingPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	rp.mu.RLock()
	ch, ready := rp.ch, rp.ready
	rp.mu.RUnlock()

	if ch != nil {
		return ch, nil
	}

	select {
	case <-ready:
	case <-rp.closed:
		return nil, fmt.Errorf("%w: rabbitmq publisher closed", berr.ErrPublishFailed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	rp.mu.RLock()
	ch = rp.ch
	rp.mu.RUnlock()

	if ch == nil {
		return nil, fmt.Errorf("%w: rabbitmq not connected", berr.ErrPublishFailed)
	}

	return ch, nil
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, m PubMsg) error {
	ch, err := rp.channel(ctx)
	if err != nil {
		return err
	}

	rp.mu.Lock()
	if !rp.declared[m.Exchange] && m.Exchange != "" {
		if err := declareBroadcast(ch, m.Exchange); err != nil {
			rp.mu.Unlock()
			return err
		}

		rp.declared[m.Exchange] = true
	}
	rp.mu.Unlock()

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Headers:      toTable(m.Headers),
			ContentType:  "application/json",
			Body:         m.Body,
		},
	)
}

func (rp *reconnectingPublisher) run() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	reconnect := func() (*amqp.Connection, *amqp.Channel, error) {
		conn, err := rp.cfg.dial()
		if err != nil {
			return nil, nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}

		return conn, ch, nil
	}

	for {
		select {
		case <-rp.closed:
			return
		default:
		}

		conn, ch, err := reconnect()
		if err != nil {
			// exponential backoff with jitter
			jitter := time.Duration(rng.Int63n(int64(backoff / 2)))
			sleep := min(backoff+jitter/2, maxBackoff)

			t := time.NewTimer(sleep)
			select {
			case <-rp.closed:
				t.Stop()
				return
			case <-t.C:
			}

			backoff = min(backoff*2, maxBackoff)

			continue
		}

		// success
		backoff = time.Second

		rp.mu.Lock()
		rp.conn = conn
		rp.ch = ch
		rp.declared = map[string]bool{}
		close(rp.ready)
		rp.mu.Unlock()

		// Block on connection close notifications to trigger reconnect
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-rp.closed:
			return
		case <-notify:
			rp.mu.Lock()
			rp.ch, rp.conn = nil, nil
			rp.ready = make(chan struct{})
			rp.mu.Unlock()

			_ = ch.Close()
			_ = conn.Close()
			// loop to reconnect
		}
	}
}

func (rp *reconnectingPublisher) close() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	select {
	case <-rp.closed:
		// already closed
		return
	default:
		close(rp.closed)
	}

	if rp.ch != nil {
		_ = rp.ch.Close()
		rp.ch = nil
	}

	if rp.conn != nil {
		_ = rp.conn.Close()
		rp.conn = nil
	}
}

// amqpConsumer dials a dedicated connection per subscription and consumes an
// exclusive, auto-deleted queue bound to the fanout exchange.
type amqpConsumer struct{ cfg Config }

func (c amqpConsumer) Consume(ctx context.Context, exchange string, bound func(), fn func(Delivery)) error {
	conn, err := c.cfg.dial()
	if err != nil {
		return fmt.Errorf("rabbitmq consumer dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq consumer channel: %w", err)
	}
	defer ch.Close()

	if err := declareBroadcast(ch, exchange); err != nil {
		return fmt.Errorf("rabbitmq declare %q: %w", exchange, err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue bind: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}

	bound()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				return fmt.Errorf("%w: rabbitmq delivery channel closed", berr.ErrPublishFailed)
			}

			fn(Delivery{Body: d.Body, Headers: fromTable(d.Headers)})
		}
	}
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect and returns an Adapter
// able to publish and consume broadcasts, plus its cleanup.
func NewWithAMQPConn(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrPublishFailed)
	}

	pub, cleanup := newReconnectingPublisher(cfg)
	ad := New(pub)
	ad.Consumer = amqpConsumer{cfg: cfg}

	return ad, cleanup, nil
}
