package inmemory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// Published is one recorded broadcast.
type Published struct {
	Event cbus.ChangeEvent
	Opts  cbus.PublishOptions
}

// Adapter is a thread-safe in-process broadcaster implementing cbus.Adapter.
// It records published events and delivers them synchronously to every subscriber.
// Use it for tests and single-process deployments.
type Adapter struct {
	mu     sync.Mutex
	events []Published
	subs   map[int]cbus.ChangeHandler
	nextID int
	// fail, when set, is returned by the next n publishes
	fail      error
	failTimes int
}

// Ensure Adapter implements the combined contract.
var _ cbus.Adapter = (*Adapter)(nil)

// New creates a new in-memory adapter instance.
func New() *Adapter { return &Adapter{subs: make(map[int]cbus.ChangeHandler)} }

func (a *Adapter) PublishChange(ctx context.Context, evt cbus.ChangeEvent, opts cbus.PublishOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()

	if a.failTimes != 0 {
		if a.failTimes > 0 {
			a.failTimes--
		}

		err := a.fail
		a.mu.Unlock()

		return fmt.Errorf("inmemory publish: %w", errors.Join(berr.ErrPublishFailed, err))
	}

	opts.Headers = maps.Clone(opts.Headers)
	a.events = append(a.events, Published{Event: evt, Opts: opts})

	handlers := make([]cbus.ChangeHandler, 0, len(a.subs))
	for _, h := range a.subs {
		handlers = append(handlers, h)
	}
	a.mu.Unlock()

	// subscriber errors are the subscriber's concern, as with a real broker
	for _, h := range handlers {
		_ = h(ctx, evt)
	}

	return nil
}

func (a *Adapter) SubscribeChanges(_ context.Context, h cbus.ChangeHandler) (func() error, error) {
	if h == nil {
		return nil, fmt.Errorf("inmemory subscribe: nil handler: %w", berr.ErrBadRequest)
	}

	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = h
	a.mu.Unlock()

	var once sync.Once

	return func() error {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
		})

		return nil
	}, nil
}

// FailNext makes the next n publishes fail with err. A negative n fails until Reset.
func (a *Adapter) FailNext(n int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err == nil {
		err = errors.New("injected failure")
	}

	a.fail, a.failTimes = err, n
}

// Events returns a copy of the recorded broadcasts.
func (a *Adapter) Events() []Published {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Published, len(a.events))
	copy(out, a.events)

	return out
}

// Reset drops recorded events and clears injected failures.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = nil
	a.fail, a.failTimes = nil, 0
}
