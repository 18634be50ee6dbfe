// Package registry maps logical service names to deployed implementations.
//
// Descriptors are read from the catalog and cached in an immutable snapshot.
// The snapshot is only ever replaced, never patched: change events drop the
// affected entries and the next lookup reloads them from the catalog.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/next-trace/scg-service-admin/catalog"
	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// Factory builds a fresh implementation instance for one invocation.
type Factory func() cbus.Invocable

// Registry resolves services of one cluster and instantiates their implementations.
// It is safe for concurrent use.
type Registry struct {
	catalog   catalog.Catalog
	clusterID int64
	logger    *slog.Logger

	// writers serialise cache replacement; readers go through snap only
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
	// gen counts invalidations; a load started before one must not be cached
	gen atomic.Uint64

	fmu       sync.RWMutex
	factories map[string]Factory
}

type snapshot struct {
	byID   map[int64]catalog.Service
	byName map[string]int64
}

// New constructs a Registry for clusterID backed by cat.
func New(cat catalog.Catalog, clusterID int64, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &Registry{
		catalog:   cat,
		clusterID: clusterID,
		logger:    logger,
		factories: make(map[string]Factory),
	}
	r.snap.Store(&snapshot{byID: map[int64]catalog.Service{}, byName: map[string]int64{}})

	return r
}

// ClusterID returns the cluster this registry serves.
func (r *Registry) ClusterID() int64 { return r.clusterID }

type resolveOptions struct {
	includeInternal bool
}

// ResolveOption tunes Resolve.
type ResolveOption func(*resolveOptions)

// IncludeInternal allows internal services to be resolved. Only administrative
// paths should use it.
func IncludeInternal() ResolveOption {
	return func(o *resolveOptions) { o.includeInternal = true }
}

// Resolve looks a service up by numeric id or by name.
// It fails with ErrNotFound when no active record matches, and hides internal
// services unless IncludeInternal is given.
func (r *Registry) Resolve(ctx context.Context, key string, opts ...ResolveOption) (catalog.Service, error) {
	var o resolveOptions
	for _, f := range opts {
		f(&o)
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return catalog.Service{}, fmt.Errorf("resolve: empty service key: %w", berr.ErrBadRequest)
	}

	svc, err := r.lookup(ctx, key)
	if err != nil {
		return catalog.Service{}, err
	}

	if !svc.IsActive {
		return catalog.Service{}, fmt.Errorf("resolve %s: inactive: %w", key, berr.ErrNotFound)
	}

	if svc.IsInternal && !o.includeInternal {
		return catalog.Service{}, fmt.Errorf("resolve %s: internal: %w", key, berr.ErrNotFound)
	}

	return svc, nil
}

func (r *Registry) lookup(ctx context.Context, key string) (catalog.Service, error) {
	id, numeric := parseID(key)

	cur := r.snap.Load()
	if numeric {
		if svc, ok := cur.byID[id]; ok {
			return svc, nil
		}
	} else if id, ok := cur.byName[key]; ok {
		return cur.byID[id], nil
	}

	gen := r.gen.Load()

	svc, err := r.load(ctx, key, id, numeric)
	if err != nil {
		return catalog.Service{}, err
	}

	r.store(svc, gen)

	return svc, nil
}

func (r *Registry) load(ctx context.Context, key string, id int64, numeric bool) (svc catalog.Service, err error) {
	err = r.read(ctx, func(s catalog.Session) error {
		if numeric {
			svc, err = s.GetService(ctx, id)
		} else {
			svc, err = s.GetServiceByName(ctx, r.clusterID, key)
		}

		return err
	})
	if err != nil {
		return catalog.Service{}, fmt.Errorf("resolve %s: %w", key, err)
	}

	if svc.ClusterID != r.clusterID {
		return catalog.Service{}, fmt.Errorf("resolve %s: other cluster: %w", key, berr.ErrNotFound)
	}

	return svc, nil
}

// store publishes a new snapshot containing svc, unless the cache was
// invalidated after gen was read.
func (r *Registry) store(svc catalog.Service, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gen.Load() != gen {
		return
	}

	cur := r.snap.Load()
	next := &snapshot{byID: maps.Clone(cur.byID), byName: maps.Clone(cur.byName)}

	if old, ok := next.byID[svc.ID]; ok {
		delete(next.byName, old.Name)
	}

	next.byID[svc.ID] = svc
	next.byName[svc.Name] = svc.ID
	r.snap.Store(next)
}

// Invalidate drops the cached descriptor of service id, if any.
func (r *Registry) Invalidate(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen.Add(1)

	cur := r.snap.Load()

	old, ok := cur.byID[id]
	if !ok {
		return
	}

	next := &snapshot{byID: maps.Clone(cur.byID), byName: maps.Clone(cur.byName)}
	delete(next.byID, id)

	if next.byName[old.Name] == id {
		delete(next.byName, old.Name)
	}

	r.snap.Store(next)
}

// Purge drops every cached descriptor.
func (r *Registry) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen.Add(1)

	r.snap.Store(&snapshot{byID: map[int64]catalog.Service{}, byName: map[string]int64{}})
}

// Cached reports how many descriptors are currently cached.
func (r *Registry) Cached() int { return len(r.snap.Load().byID) }

// Apply is the worker-side handler for service change events. It is idempotent:
// replaying or reordering events only causes extra catalog reloads.
func (r *Registry) Apply(_ context.Context, evt cbus.ChangeEvent) error {
	if evt.Kind != cbus.KindService {
		return nil
	}

	id, ok := evt.ID()
	if !ok {
		r.logger.Warn("service change without id, purging cache", "action", evt.Action)
		r.Purge()

		return nil
	}

	r.Invalidate(id)
	r.logger.Debug("service cache invalidated", "id", id, "action", evt.Action)

	return nil
}

// ListDeployments returns the service's deployment rows ordered by server.
// A service without deployments yields one row with nil details.
func (r *Registry) ListDeployments(ctx context.Context, serviceID int64) ([]catalog.Deployment, error) {
	var out []catalog.Deployment

	err := r.read(ctx, func(s catalog.Session) (err error) {
		out, err = s.ListDeployments(ctx, serviceID)
		return err
	})

	return out, err
}

// ChannelsFor returns the channels of channelType exposing the service.
func (r *Registry) ChannelsFor(ctx context.Context, serviceID int64, channelType string) ([]catalog.Channel, error) {
	q, err := ChannelQueryFor(channelType)
	if err != nil {
		return nil, err
	}

	q.ServiceID = serviceID

	var out []catalog.Channel

	err = r.read(ctx, func(s catalog.Session) (err error) {
		out, err = s.ListChannels(ctx, q)
		return err
	})

	return out, err
}

// read runs fn in a catalog session that is always released.
func (r *Registry) read(ctx context.Context, fn func(s catalog.Session) error) error {
	s, err := r.catalog.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if rbErr := s.Rollback(); rbErr != nil {
			r.logger.Warn("release catalog session", "err", rbErr)
		}
	}()

	return fn(s)
}

func parseID(key string) (int64, bool) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

// IsNotFound reports whether err means the service is unknown to this cluster.
func IsNotFound(err error) bool { return errors.Is(err, berr.ErrNotFound) }
