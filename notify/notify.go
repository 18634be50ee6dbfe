// Package notify broadcasts committed catalog changes to every worker of a cluster.
//
// Publishing never fails the caller: the event is retried with exponential
// backoff and, when every attempt fails, the failure is logged and dropped.
// Workers reload state from the catalog on the next change or restart.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// Header names set on every broadcast message.
const (
	HeaderEntityKind = "x-entity-kind"
	HeaderAction     = "x-action"
)

// Policy bounds delivery attempts for one event.
type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout caps a single publish call; zero means no cap.
	AttemptTimeout time.Duration
}

// DefaultPolicy is used when no policy is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		AttemptTimeout:  5 * time.Second,
	}
}

// Notifier publishes change events through an EventPublisher.
type Notifier struct {
	pub    cbus.EventPublisher
	logger *slog.Logger
	policy Policy
	topic  string
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithPolicy overrides the retry policy.
func WithPolicy(p Policy) Option {
	return func(n *Notifier) { n.policy = p }
}

// WithTopic overrides the broadcast target.
func WithTopic(topic string) Option {
	return func(n *Notifier) { n.topic = topic }
}

// New constructs a Notifier publishing through pub.
func New(pub cbus.EventPublisher, logger *slog.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	n := &Notifier{pub: pub, logger: logger, policy: DefaultPolicy()}
	for _, opt := range opts {
		opt(n)
	}

	if n.policy.MaxAttempts == 0 {
		n.policy.MaxAttempts = 1
	}

	return n
}

// Publish broadcasts evt, retrying per the configured policy. It does not
// return an error: the catalog mutation the event reports is already committed.
// Caller cancellation does not abort delivery.
func (n *Notifier) Publish(ctx context.Context, evt cbus.ChangeEvent) {
	if err := n.deliver(context.WithoutCancel(ctx), evt); err != nil {
		n.logger.Error("change notification dropped",
			"kind", evt.Kind, "action", evt.Action, "code", berr.ErrCodeNotifyFailed, "err", err)
	}
}

func (n *Notifier) deliver(ctx context.Context, evt cbus.ChangeEvent) error {
	if n.pub == nil {
		return fmt.Errorf("notify: no publisher: %w", berr.ErrNotifyFailed)
	}

	opts := cbus.PublishOptions{
		TopicOverride: n.topic,
		Key:           evt.Kind,
		Headers: map[string]string{
			HeaderEntityKind: evt.Kind,
			HeaderAction:     string(evt.Action),
		},
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = n.policy.InitialInterval
	eb.MaxInterval = n.policy.MaxInterval

	attempt := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++

		actx, cancel := n.attemptContext(ctx)
		defer cancel()

		err := n.pub.PublishChange(actx, evt, opts)
		if errors.Is(err, berr.ErrSerializationFailed) {
			return struct{}{}, backoff.Permanent(err)
		}

		return struct{}{}, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(n.policy.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			n.logger.Warn("change notification attempt failed",
				"kind", evt.Kind, "action", evt.Action, "attempt", attempt, "retry_in", next, "err", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("notify %s %s after %d attempt(s): %w", evt.Kind, evt.Action, attempt, errors.Join(berr.ErrNotifyFailed, err))
	}

	n.logger.Debug("change notification published", "kind", evt.Kind, "action", evt.Action, "attempts", attempt)

	return nil
}

func (n *Notifier) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.policy.AttemptTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, n.policy.AttemptTimeout)
}
