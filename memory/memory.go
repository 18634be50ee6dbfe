// Package memory assembles a complete admin stack in process: an in-memory SQLite
// catalog, the in-memory broadcaster, the notifier, the registry with the built-in
// implementations, the invocation engine, the façade and the request router.
package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/next-trace/scg-service-admin/adapters/inmemory"
	"github.com/next-trace/scg-service-admin/admin"
	"github.com/next-trace/scg-service-admin/catalog/sqlite"
	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	"github.com/next-trace/scg-service-admin/invoke"
	"github.com/next-trace/scg-service-admin/notify"
	"github.com/next-trace/scg-service-admin/registry"
	"github.com/next-trace/scg-service-admin/servicebus"
)

// App is an assembled admin stack.
type App struct {
	Bus      *servicebus.Bus
	Facade   *admin.Facade
	Registry *registry.Registry
	Engine   *invoke.Engine
	Broker   *inmemory.Adapter
	Catalog  *sqlite.Store
}

type options struct {
	logger   *slog.Logger
	admin    admin.Config
	policy   notify.Policy
	fixtures *sqlite.Fixtures
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithConfig sets the façade configuration. Its ClusterID also scopes the registry.
func WithConfig(cfg admin.Config) Option { return func(o *options) { o.admin = cfg } }

// WithNotifyPolicy overrides the notification retry policy.
func WithNotifyPolicy(p notify.Policy) Option { return func(o *options) { o.policy = p } }

// WithFixtures seeds the catalog.
func WithFixtures(f sqlite.Fixtures) Option { return func(o *options) { o.fixtures = &f } }

// New constructs an App and returns it with a cleanup function releasing every resource.
// The registry cache follows committed service changes through the broadcaster.
func New(ctx context.Context, opts ...Option) (*App, func(), error) {
	o := options{admin: admin.Config{ClusterID: 1}, policy: notify.DefaultPolicy()}
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	store, err := sqlite.Open(sqlite.MemoryPath)
	if err != nil {
		return nil, nil, err
	}

	if o.fixtures != nil {
		if err := store.Seed(ctx, *o.fixtures); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("seed catalog: %w", err)
		}
	}

	broker := inmemory.New()

	reg := registry.New(store, o.admin.ClusterID, o.logger)
	if err := invoke.RegisterBuiltins(reg); err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	listener := notify.NewListener(broker, o.logger)
	listener.Handle(cbus.KindService, reg.Apply)

	stop, err := listener.Start(ctx)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	engine := invoke.New(reg, o.logger)
	notifier := notify.New(broker, o.logger, notify.WithPolicy(o.policy))
	facade := admin.New(store, reg, engine, notifier, o.admin, o.logger)

	b := servicebus.New(o.logger, servicebus.WithMiddleware(servicebus.LogRequests(o.logger)))
	if err := admin.Register(b, facade); err != nil {
		_ = stop()
		_ = store.Close()

		return nil, nil, err
	}

	app := &App{Bus: b, Facade: facade, Registry: reg, Engine: engine, Broker: broker, Catalog: store}

	cleanup := func() {
		_ = b.Close()
		_ = stop()
		_ = store.Close()
	}

	return app, cleanup, nil
}
