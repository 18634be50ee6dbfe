package rabbitmq_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/next-trace/scg-service-admin/adapters/rabbitmq"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// fakeBroker records publishes and fans them out to consumers bound to the same exchange.
type fakeBroker struct {
	mu        sync.Mutex
	published []rabbitmq.PubMsg
	queues    map[string][]chan rabbitmq.Delivery
	err       error
	// dialErr fails every Consume before its queue is bound
	dialErr  error
	sessions int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: map[string][]chan rabbitmq.Delivery{}}
}

func (b *fakeBroker) Publish(_ context.Context, m rabbitmq.PubMsg) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, m)
	if b.err != nil {
		return b.err
	}

	for _, q := range b.queues[m.Exchange] {
		q <- rabbitmq.Delivery{Body: m.Body, Headers: m.Headers}
	}

	return nil
}

func (b *fakeBroker) Consume(ctx context.Context, exchange string, bound func(), fn func(rabbitmq.Delivery)) error {
	q := make(chan rabbitmq.Delivery, 16)

	b.mu.Lock()
	if b.dialErr != nil {
		b.mu.Unlock()
		return b.dialErr
	}

	b.sessions++
	b.queues[exchange] = append(b.queues[exchange], q)
	b.mu.Unlock()

	bound()

	for {
		select {
		case <-ctx.Done():
			b.unbind(exchange, q)
			return ctx.Err()
		case d, ok := <-q:
			if !ok {
				return fmt.Errorf("%w: fake connection closed", berr.ErrPublishFailed)
			}

			fn(d)
		}
	}
}

func (b *fakeBroker) unbind(exchange string, q chan rabbitmq.Delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()

	qs := b.queues[exchange]
	for i, c := range qs {
		if c == q {
			b.queues[exchange] = append(qs[:i:i], qs[i+1:]...)
			return
		}
	}
}

// disconnect drops every consumer bound to exchange, as a lost connection would.
func (b *fakeBroker) disconnect(exchange string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, q := range b.queues[exchange] {
		close(q)
	}

	delete(b.queues, exchange)
}

func (b *fakeBroker) subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.sessions
}

func (b *fakeBroker) bound(exchange string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.queues[exchange])
}

func (b *fakeBroker) calls() []rabbitmq.PubMsg {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]rabbitmq.PubMsg(nil), b.published...)
}
