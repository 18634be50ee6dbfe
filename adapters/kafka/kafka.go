package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// Record is one consumed message.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Writer is a minimal Kafka-like writer interface.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Reader consumes topic from the log end, calling fn for each record, until
// ctx is done. Readers must not join a consumer group: every worker reads
// every record.
type Reader interface {
	Read(ctx context.Context, topic string, fn func(Record)) error
}

// Adapter implements cbus.Adapter using an injected Writer and Reader.
type Adapter struct {
	Writer     Writer
	Reader     Reader
	Propagator cbus.HeaderPropagator // optional
	Logger     *slog.Logger          // optional
	// Topic replaces the default broadcast topic for subscriptions.
	Topic string
}

var _ cbus.Adapter = (*Adapter)(nil)

// New creates a new Kafka adapter instance with the provided writer and reader.
func New(w Writer, r Reader) *Adapter { return &Adapter{Writer: w, Reader: r} }

func (a *Adapter) PublishChange(ctx context.Context, evt cbus.ChangeEvent, opts cbus.PublishOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka publish: %w", berr.ErrPublishFailed)
	}

	val, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("kafka publish serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	topic := topicFor(evt, opts)
	headers := maps.Clone(opts.Headers)

	if headers == nil {
		headers = map[string]string{}
	}

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, headers)
	}

	if err = a.Writer.Write(ctx, topic, []byte(opts.Key), val, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// separate return from preceding multi-line block (wsl)
		return fmt.Errorf("kafka publish write: %w", errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// SubscribeChanges reads the broadcast topic in the background until stop is called.
func (a *Adapter) SubscribeChanges(ctx context.Context, h cbus.ChangeHandler) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Reader == nil || h == nil {
		return nil, fmt.Errorf("kafka subscribe: %w", berr.ErrBadRequest)
	}

	topic := a.Topic
	if topic == "" {
		topic = cbus.ParallelTopic
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)

	go func() {
		done <- a.Reader.Read(rctx, topic, func(rec Record) { a.handle(rctx, h, rec) })
	}()

	var (
		once sync.Once
		err  error
	)

	return func() error {
		once.Do(func() {
			cancel()

			if rerr := <-done; rerr != nil && !errors.Is(rerr, context.Canceled) {
				err = rerr
			}
		})

		return err
	}, nil
}

func (a *Adapter) handle(ctx context.Context, h cbus.ChangeHandler, rec Record) {
	log := a.Logger
	if log == nil {
		log = slog.Default()
	}

	var evt cbus.ChangeEvent
	if err := json.Unmarshal(rec.Value, &evt); err != nil {
		log.Warn("kafka: dropping undecodable change event", "topic", rec.Topic, "err", err)
		return
	}

	if a.Propagator != nil {
		ctx = a.Propagator.Extract(ctx, rec.Headers)
	}

	if err := h(ctx, evt); err != nil {
		log.Error("kafka: change handler failed", "kind", evt.Kind, "action", evt.Action, "err", err)
	}
}

func topicFor(evt cbus.ChangeEvent, o cbus.PublishOptions) string {
	if o.TopicOverride != "" {
		return o.TopicOverride
	}

	return evt.Topic()
}
