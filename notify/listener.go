package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	cbus "github.com/next-trace/scg-service-admin/contract/bus"
)

// Wildcard registers a handler for every entity kind.
const Wildcard = "*"

// Listener is the worker side of change propagation. It dispatches received
// events to the handlers registered for their entity kind.
type Listener struct {
	sub    cbus.EventSubscriber
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]cbus.ChangeHandler
}

// NewListener constructs a Listener receiving through sub.
func NewListener(sub cbus.EventSubscriber, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Listener{sub: sub, logger: logger, handlers: make(map[string][]cbus.ChangeHandler)}
}

// Handle registers h for events of kind, or of every kind with Wildcard.
func (l *Listener) Handle(kind string, h cbus.ChangeHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.handlers[kind] = append(l.handlers[kind], h)
}

// Start subscribes and dispatches until the returned stop function is called.
func (l *Listener) Start(ctx context.Context) (stop func() error, err error) {
	return l.sub.SubscribeChanges(ctx, l.Dispatch)
}

// Dispatch runs every handler matching evt. Handler errors are logged and joined;
// one failing handler does not prevent the others from running.
func (l *Listener) Dispatch(ctx context.Context, evt cbus.ChangeEvent) error {
	l.mu.RLock()
	hs := make([]cbus.ChangeHandler, 0, len(l.handlers[evt.Kind])+len(l.handlers[Wildcard]))
	hs = append(hs, l.handlers[evt.Kind]...)
	hs = append(hs, l.handlers[Wildcard]...)
	l.mu.RUnlock()

	if len(hs) == 0 {
		l.logger.Debug("change event without handler", "kind", evt.Kind, "action", evt.Action)
		return nil
	}

	var errs []error

	for _, h := range hs {
		if err := h(ctx, evt); err != nil {
			l.logger.Error("change handler failed", "kind", evt.Kind, "action", evt.Action, "err", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
