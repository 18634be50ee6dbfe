package notify_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-service-admin/adapters/inmemory"
	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
	"github.com/next-trace/scg-service-admin/notify"
)

func fastPolicy(attempts uint) notify.Policy {
	return notify.Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func serviceEdit() cbus.ChangeEvent {
	return cbus.ChangeEvent{Kind: cbus.KindService, Action: cbus.ActionEdit, Payload: map[string]any{"id": int64(5)}}
}

func TestPublish_SetsHeadersAndKey(t *testing.T) {
	ad := inmemory.New()
	n := notify.New(ad, nil, notify.WithTopic("custom.topic"))

	n.Publish(t.Context(), serviceEdit())

	evs := ad.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "custom.topic", evs[0].Opts.TopicOverride)
	assert.Equal(t, cbus.KindService, evs[0].Opts.Key)
	assert.Equal(t, cbus.KindService, evs[0].Opts.Headers[notify.HeaderEntityKind])
	assert.Equal(t, "EDIT", evs[0].Opts.Headers[notify.HeaderAction])
}

func TestPublish_RetriesTransientFailures(t *testing.T) {
	ad := inmemory.New()
	ad.FailNext(2, errors.New("connection reset"))

	n := notify.New(ad, nil, notify.WithPolicy(fastPolicy(3)))
	n.Publish(t.Context(), serviceEdit())

	assert.Len(t, ad.Events(), 1)
}

func TestPublish_GivesUpAndLogs(t *testing.T) {
	ad := inmemory.New()
	ad.FailNext(-1, errors.New("broker down"))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	n := notify.New(ad, logger, notify.WithPolicy(fastPolicy(2)))
	n.Publish(t.Context(), serviceEdit())

	assert.Empty(t, ad.Events())
	assert.Contains(t, buf.String(), berr.ErrCodeNotifyFailed)
	assert.Contains(t, buf.String(), "broker down")
}

type countingPublisher struct {
	calls atomic.Int32
	err   error
}

func (p *countingPublisher) PublishChange(ctx context.Context, _ cbus.ChangeEvent, _ cbus.PublishOptions) error {
	p.calls.Add(1)

	if err := ctx.Err(); err != nil {
		return err
	}

	return p.err
}

func TestPublish_SerializationFailureIsNotRetried(t *testing.T) {
	p := &countingPublisher{err: berr.ErrSerializationFailed}

	notify.New(p, nil, notify.WithPolicy(fastPolicy(5))).Publish(t.Context(), serviceEdit())

	assert.Equal(t, int32(1), p.calls.Load())
}

func TestPublish_DetachedFromCallerCancellation(t *testing.T) {
	p := &countingPublisher{}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	notify.New(p, nil, notify.WithPolicy(fastPolicy(1))).Publish(ctx, serviceEdit())

	assert.Equal(t, int32(1), p.calls.Load())
}

func TestPublish_NilPublisherDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { notify.New(nil, nil).Publish(t.Context(), serviceEdit()) })
}

func TestListener_DispatchByKindAndWildcard(t *testing.T) {
	ad := inmemory.New()
	l := notify.NewListener(ad, nil)

	var services, all int

	l.Handle(cbus.KindService, func(context.Context, cbus.ChangeEvent) error {
		services++
		return nil
	})
	l.Handle(notify.Wildcard, func(context.Context, cbus.ChangeEvent) error {
		all++
		return errors.New("wildcard handler failed")
	})

	stop, err := l.Start(t.Context())
	require.NoError(t, err)

	n := notify.New(ad, nil)
	n.Publish(t.Context(), serviceEdit())
	n.Publish(t.Context(), cbus.ChangeEvent{Kind: cbus.KindRole, Action: cbus.ActionCreate, Payload: map[string]any{"id": 1}})

	assert.Equal(t, 1, services)
	assert.Equal(t, 2, all)

	require.NoError(t, stop())

	n.Publish(t.Context(), serviceEdit())
	assert.Equal(t, 1, services)
}

func TestListener_DispatchJoinsErrors(t *testing.T) {
	l := notify.NewListener(inmemory.New(), nil)
	e1, e2 := errors.New("first"), errors.New("second")

	l.Handle(cbus.KindRole, func(context.Context, cbus.ChangeEvent) error { return e1 })
	l.Handle(cbus.KindRole, func(context.Context, cbus.ChangeEvent) error { return e2 })

	err := l.Dispatch(t.Context(), cbus.ChangeEvent{Kind: cbus.KindRole, Action: cbus.ActionDelete})
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)

	assert.NoError(t, l.Dispatch(t.Context(), cbus.ChangeEvent{Kind: "unknown", Action: cbus.ActionDelete}))
}
