// Package admin orchestrates catalog mutations and change notifications for every admin
// operation.
//
// A mutating operation validates its input, runs inside one catalog session, commits and
// only then broadcasts its change events. A failed mutation rolls back and publishes nothing.
// Notification failures never change the outcome of an operation.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/next-trace/scg-service-admin/catalog"
	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
	"github.com/next-trace/scg-service-admin/invoke"
)

// Notifier broadcasts committed changes to the cluster.
type Notifier interface {
	Publish(ctx context.Context, evt cbus.ChangeEvent)
}

// Invoker runs a deployed service.
type Invoker interface {
	Invoke(ctx context.Context, in invoke.Input) (invoke.Output, error)
}

// Lookups answers the read-only deployment and channel queries.
type Lookups interface {
	ListDeployments(ctx context.Context, serviceID int64) ([]catalog.Deployment, error)
	ChannelsFor(ctx context.Context, serviceID int64, channelType string) ([]catalog.Channel, error)
}

// Config is the explicit configuration of a Facade.
type Config struct {
	// ClusterID is used by operations whose input carries no cluster, such as GetWSDL.
	ClusterID int64
	// InvokeInternal lets Invoke run services flagged as internal.
	InvokeInternal bool
	// CustomAuthListService names a service returning extra client definitions.
	CustomAuthListService string
}

// Facade implements the admin operations.
type Facade struct {
	cat      catalog.Catalog
	lookups  Lookups
	invoker  Invoker
	notifier Notifier
	cfg      Config
	logger   *slog.Logger

	services    *CRUD[catalog.Service]
	roles       *CRUD[catalog.Role]
	clientRoles *CRUD[catalog.ClientRole]
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, cbus.ChangeEvent) {}

// New constructs a Facade. A nil notifier drops every event.
func New(cat catalog.Catalog, lookups Lookups, invoker Invoker, notifier Notifier, cfg Config, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if notifier == nil {
		notifier = nopNotifier{}
	}

	f := &Facade{
		cat:      cat,
		lookups:  lookups,
		invoker:  invoker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}

	f.services = NewCRUD(f, serviceEntity())
	f.roles = NewCRUD(f, roleEntity())
	f.clientRoles = NewCRUD(f, clientRoleEntity())

	return f
}

// read runs fn in a catalog session that is always released without committing.
func (f *Facade) read(ctx context.Context, fn func(s catalog.Session) error) error {
	s, err := f.cat.Begin(ctx)
	if err != nil {
		return err
	}

	defer f.release(ctx, s)

	return fn(s)
}

// mutate runs fn in a catalog session, commits, then publishes the events fn returned.
// Any error from fn rolls the session back and is returned as is.
func (f *Facade) mutate(ctx context.Context, label string, fn func(s catalog.Session) ([]cbus.ChangeEvent, error)) error {
	s, err := f.cat.Begin(ctx)
	if err != nil {
		return err
	}

	events, err := fn(s)
	if err != nil {
		f.release(ctx, s)
		f.logger.WarnContext(ctx, "admin mutation rolled back", "op", label, "code", berr.CodeOf(err), "err", err)

		return err
	}

	if err := s.Commit(); err != nil {
		f.release(ctx, s)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("%s: commit: %w", label, errors.Join(berr.ErrConflict, err))
	}

	for _, evt := range events {
		f.notifier.Publish(ctx, evt)
	}

	return nil
}

func (f *Facade) release(ctx context.Context, s catalog.Session) {
	if err := s.Rollback(); err != nil {
		f.logger.WarnContext(ctx, "release catalog session", "err", err)
	}
}

func badRequest(label, reason string) error {
	return fmt.Errorf("%s: %s: %w", label, reason, berr.ErrBadRequest)
}
