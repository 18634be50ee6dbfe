package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

type PubMsg struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Delivery is one consumed message.
type Delivery struct {
	Body    []byte
	Headers map[string]string
}

// Consumer binds a private queue to the fanout exchange and calls fn for each
// delivery until ctx is done or the connection is lost. bound is called once the
// queue is bound, from the goroutine running Consume.
type Consumer interface {
	Consume(ctx context.Context, exchange string, bound func(), fn func(Delivery)) error
}

type Adapter struct {
	Publisher  Publisher
	Consumer   Consumer
	Propagator cbus.HeaderPropagator // optional, for context propagation into headers
	Logger     *slog.Logger          // optional
	// Exchange replaces the default broadcast exchange for subscriptions.
	Exchange string
	// ResubscribeBackOff paces resubscription after a lost consumer; one instance per subscription.
	ResubscribeBackOff func() backoff.BackOff
}

var _ cbus.Adapter = (*Adapter)(nil)

func New(p Publisher) *Adapter { return &Adapter{Publisher: p} }

// NewWithPropagator allows configuring a HeaderPropagator for context propagation.
func NewWithPropagator(p Publisher, hp cbus.HeaderPropagator) *Adapter {
	return &Adapter{Publisher: p, Propagator: hp}
}

// PublishChange sends evt to the fanout exchange named after the broadcast topic.
// The routing key is informational only; fanout exchanges ignore it.
func (a *Adapter) PublishChange(ctx context.Context, evt cbus.ChangeEvent, opts cbus.PublishOptions) error {
	if err := a.ready(ctx, "publish"); err != nil {
		return err
	}

	sa := &serializeArgs{
		exchange:   exchangeFor(evt, opts),
		routingKey: opts.Key,
		payload:    evt,
		headers:    opts.Headers,
		label:      "publish",
	}

	return a.serializeAndPublish(ctx, sa)
}

// SubscribeChanges consumes the broadcast exchange in the background until stop is called.
func (a *Adapter) SubscribeChanges(ctx context.Context, h cbus.ChangeHandler) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Consumer == nil || h == nil {
		return nil, fmt.Errorf("rabbitmq subscribe: %w", berr.ErrBadRequest)
	}

	exchange := a.Exchange
	if exchange == "" {
		exchange = cbus.ParallelTopic
	}

	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() { done <- a.consume(cctx, exchange, h, ready) }()

	select {
	case <-ready:
	case err := <-done:
		cancel()
		return nil, fmt.Errorf("rabbitmq subscribe %q: %w", exchange, err)
	case <-ctx.Done():
		cancel()
		<-done

		return nil, ctx.Err()
	}

	var (
		once sync.Once
		err  error
	)

	return func() error {
		once.Do(func() {
			cancel()

			if cerr := <-done; cerr != nil && !errors.Is(cerr, context.Canceled) {
				err = cerr
			}
		})

		return err
	}, nil
}

// consume runs the consumer until ctx is done, resubscribing after every lost
// connection. It returns early only when the first subscription never binds.
func (a *Adapter) consume(ctx context.Context, exchange string, h cbus.ChangeHandler, ready chan<- struct{}) error {
	log := a.logger()
	bo := a.resubscribeBackOff()
	subscribed := false

	bound := func() {
		if !subscribed {
			subscribed = true
			close(ready)
		}

		bo.Reset()
	}

	for {
		err := a.Consumer.Consume(ctx, exchange, bound, func(d Delivery) { a.handle(ctx, h, d) })
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !subscribed {
			if err == nil {
				err = fmt.Errorf("%w: rabbitmq consumer exited before binding", berr.ErrPublishFailed)
			}

			return err
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			log.Error("rabbitmq: consumer lost, giving up", "exchange", exchange, "err", err)
			return err
		}

		log.Warn("rabbitmq: consumer lost, resubscribing", "exchange", exchange, "err", err, "retry_in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (a *Adapter) resubscribeBackOff() backoff.BackOff {
	if a.ResubscribeBackOff != nil {
		return a.ResubscribeBackOff()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 30 * time.Second

	return eb
}

func (a *Adapter) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}

	return a.Logger
}

func (a *Adapter) handle(ctx context.Context, h cbus.ChangeHandler, d Delivery) {
	log := a.logger()

	var evt cbus.ChangeEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		log.Warn("rabbitmq: dropping undecodable change event", "err", err)
		return
	}

	if a.Propagator != nil {
		ctx = a.Propagator.Extract(ctx, d.Headers)
	}

	if err := h(ctx, evt); err != nil {
		log.Error("rabbitmq: change handler failed", "kind", evt.Kind, "action", evt.Action, "err", err)
	}
}

func exchangeFor(evt cbus.ChangeEvent, o cbus.PublishOptions) string {
	if o.TopicOverride != "" {
		return o.TopicOverride
	}

	return evt.Topic()
}

// internal helpers (serialization + publishing)

type serializeArgs struct {
	exchange   string
	routingKey string
	payload    any
	headers    map[string]string
	label      string
}

type publishArgs struct {
	exchange   string
	routingKey string
	body       []byte
	headers    map[string]string
	label      string
}

func (a *Adapter) ready(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq %s: %w", label, berr.ErrPublishFailed)
	}

	return nil
}

func (a *Adapter) serializeAndPublish(ctx context.Context, sa *serializeArgs) error {
	body, err := json.Marshal(sa.payload)
	if err != nil {
		return fmt.Errorf("rabbitmq %s serialize: %w", sa.label, errors.Join(berr.ErrSerializationFailed, err))
	}

	args := &publishArgs{
		exchange:   sa.exchange,
		routingKey: sa.routingKey,
		body:       body,
		headers:    sa.headers,
		label:      sa.label,
	}

	return a.publish(ctx, args)
}

func (a *Adapter) publish(ctx context.Context, args *publishArgs) error {
	// copy headers to avoid mutating caller-provided map
	hdrs := make(map[string]string, len(args.headers)+4)
	maps.Copy(hdrs, args.headers)

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, hdrs)
	}

	msg := PubMsg{
		Exchange:   args.exchange,
		RoutingKey: args.routingKey,
		Body:       args.body,
		Headers:    hdrs,
	}
	if err := a.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq %s publish: %w", args.label, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func toTable(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}

	h := amqp.Table{}
	for k, v := range headers {
		h[k] = v
	}

	return h
}

func fromTable(t amqp.Table) map[string]string {
	h := make(map[string]string, len(t))
	for k, v := range t {
		if s, ok := v.(string); ok {
			h[k] = s
		}
	}

	return h
}
