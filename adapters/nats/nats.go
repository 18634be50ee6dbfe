package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// MsgHandler receives raw broadcast messages.
type MsgHandler func(data []byte, headers map[string]string)

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// Subscribe delivers every message on subject to h. It must not use a queue
	// group: each worker has to see every broadcast.
	Subscribe(subject string, h MsgHandler) (unsubscribe func() error, err error)
}

// Adapter implements cbus.Adapter using an injected NATS-like Client.
type Adapter struct {
	Client     Client
	Propagator cbus.HeaderPropagator // optional
	Logger     *slog.Logger          // optional
}

// Ensure Adapter implements the combined contract.
var _ cbus.Adapter = (*Adapter)(nil)

// New creates a new NATS adapter instance with the provided client.
func New(c Client) *Adapter { return &Adapter{Client: c} }

func (a *Adapter) PublishChange(ctx context.Context, evt cbus.ChangeEvent, opts cbus.PublishOptions) error {
	if err := a.ready(ctx, berr.ErrPublishFailed, "publish"); err != nil {
		return err
	}

	sa := &serializeArgs{
		subject: subjectFor(evt, opts),
		payload: evt,
		headers: publishHeaders(opts),
		label:   "publish",
	}

	return a.serializeAndPublish(ctx, sa)
}

func (a *Adapter) SubscribeChanges(ctx context.Context, h cbus.ChangeHandler) (func() error, error) {
	return a.SubscribeSubject(ctx, cbus.ParallelTopic, h)
}

// SubscribeSubject subscribes to a non-default broadcast subject.
func (a *Adapter) SubscribeSubject(ctx context.Context, subject string, h cbus.ChangeHandler) (func() error, error) {
	if err := a.ready(ctx, berr.ErrBadRequest, "subscribe"); err != nil {
		return nil, err
	}

	// handlers outlive the subscribing call
	base := context.WithoutCancel(ctx)

	return a.Client.Subscribe(subject, func(data []byte, headers map[string]string) {
		var evt cbus.ChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			a.logger().Warn("nats: dropping undecodable change event", "subject", subject, "err", err)
			return
		}

		hctx := base
		if a.Propagator != nil {
			hctx = a.Propagator.Extract(hctx, headers)
		}

		if err := h(hctx, evt); err != nil {
			a.logger().Error("nats: change handler failed", "kind", evt.Kind, "action", evt.Action, "err", err)
		}
	})
}

func (a *Adapter) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}

	return a.Logger
}

type publishArgs struct {
	subject string
	body    []byte
	headers map[string]string
	label   string
}

func (a *Adapter) publish(ctx context.Context, args *publishArgs) error {
	if a.Propagator != nil {
		a.Propagator.Inject(ctx, args.headers)
	}

	if err := a.Client.Publish(args.subject, args.body, args.headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats %s publish: %w", args.label, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (a *Adapter) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, base)
	}

	return nil
}

type serializeArgs struct {
	subject string
	payload any
	headers map[string]string
	label   string
}

func (a *Adapter) serializeAndPublish(ctx context.Context, sa *serializeArgs) error {
	body, err := json.Marshal(sa.payload)
	if err != nil {
		return fmt.Errorf("nats %s serialize: %w", sa.label, errors.Join(berr.ErrSerializationFailed, err))
	}

	args := &publishArgs{
		subject: sa.subject,
		body:    body,
		headers: sa.headers,
		label:   sa.label,
	}

	return a.publish(ctx, args)
}

// helpers

func subjectFor(evt cbus.ChangeEvent, o cbus.PublishOptions) string {
	if o.TopicOverride != "" {
		return o.TopicOverride
	}

	return evt.Topic()
}

func publishHeaders(o cbus.PublishOptions) map[string]string {
	h := make(map[string]string, len(o.Headers)+1)
	maps.Copy(h, o.Headers)

	if o.Key != "" {
		h["key"] = o.Key
	}

	return h
}
