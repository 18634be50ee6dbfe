package admin

import (
	"context"

	"github.com/next-trace/scg-service-admin/catalog"
	cbus "github.com/next-trace/scg-service-admin/contract/bus"
)

// Entity describes how one kind of catalog entity is stored, validated and reported.
// Nil storage functions disable the matching operation.
type Entity[T any] struct {
	// Kind is the entity kind carried by change events.
	Kind string
	// Label prefixes error messages.
	Label string

	ID     func(v T) int64
	List   func(ctx context.Context, s catalog.Session, f catalog.ListFilter) ([]T, error)
	Get    func(ctx context.Context, s catalog.Session, id int64) (T, error)
	Insert func(ctx context.Context, s catalog.Session, v *T) error
	Update func(ctx context.Context, s catalog.Session, v T) error
	Delete func(ctx context.Context, s catalog.Session, id int64) error

	// Validate checks input before any storage access.
	Validate func(v T, action cbus.Action) error
	// Merge applies the editable fields of in onto the stored row.
	Merge func(stored, in T) T
	// InstanceHook runs before create and edit persist v, inside the same session.
	InstanceHook func(ctx context.Context, s catalog.Session, v *T) error
	// Cascade runs after an edit is persisted and may return extra events.
	Cascade func(ctx context.Context, s catalog.Session, before, after T) ([]cbus.ChangeEvent, error)
	// ResponseHook decorates every row handed back to the caller.
	ResponseHook func(ctx context.Context, s catalog.Session, v *T) error

	// Payload builds the event payload for creates and edits.
	Payload func(v T) map[string]any
	// DeletePayload builds the event payload for deletes. Defaults to the id only.
	DeletePayload func(v T) map[string]any
}

// CRUD exposes the generic operations of one entity kind.
type CRUD[T any] struct {
	f *Facade
	e Entity[T]
}

// NewCRUD binds e to the sessions and notifier of f.
func NewCRUD[T any](f *Facade, e Entity[T]) *CRUD[T] {
	return &CRUD[T]{f: f, e: e}
}

// GetList returns the rows of a cluster, each passed through the response hook.
func (c *CRUD[T]) GetList(ctx context.Context, filter catalog.ListFilter) ([]T, error) {
	if c.e.List == nil {
		return nil, badRequest(c.e.Label+" list", "not supported")
	}

	if filter.ClusterID <= 0 {
		return nil, badRequest(c.e.Label+" list", "cluster_id is required")
	}

	out := []T{}

	err := c.f.read(ctx, func(s catalog.Session) error {
		rows, err := c.e.List(ctx, s, filter)
		if err != nil {
			return err
		}

		for i := range rows {
			if err := c.respond(ctx, s, &rows[i]); err != nil {
				return err
			}
		}

		out = append(out, rows...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Get returns one row by id.
func (c *CRUD[T]) Get(ctx context.Context, id int64) (T, error) {
	var out T

	if id <= 0 {
		return out, badRequest(c.e.Label+" get", "id is required")
	}

	err := c.f.read(ctx, func(s catalog.Session) (err error) {
		if out, err = c.e.Get(ctx, s, id); err != nil {
			return err
		}

		return c.respond(ctx, s, &out)
	})

	return out, err
}

// Create persists v and broadcasts a CREATE event after commit.
func (c *CRUD[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T

	label := c.e.Label + " create"

	if c.e.Insert == nil {
		return zero, badRequest(label, "not supported")
	}

	if err := c.validate(v, cbus.ActionCreate); err != nil {
		return zero, err
	}

	err := c.f.mutate(ctx, label, func(s catalog.Session) ([]cbus.ChangeEvent, error) {
		if err := c.hook(ctx, s, &v); err != nil {
			return nil, err
		}

		if err := c.e.Insert(ctx, s, &v); err != nil {
			return nil, err
		}

		if err := c.respond(ctx, s, &v); err != nil {
			return nil, err
		}

		return []cbus.ChangeEvent{c.event(cbus.ActionCreate, c.payload(v))}, nil
	})
	if err != nil {
		return zero, err
	}

	return v, nil
}

// Edit merges v onto the stored row, persists it and broadcasts an EDIT event after commit.
func (c *CRUD[T]) Edit(ctx context.Context, v T) (T, error) {
	var zero T

	label := c.e.Label + " edit"

	if c.e.Update == nil {
		return zero, badRequest(label, "not supported")
	}

	if err := c.validate(v, cbus.ActionEdit); err != nil {
		return zero, err
	}

	err := c.f.mutate(ctx, label, func(s catalog.Session) ([]cbus.ChangeEvent, error) {
		before, err := c.e.Get(ctx, s, c.e.ID(v))
		if err != nil {
			return nil, err
		}

		if c.e.Merge != nil {
			v = c.e.Merge(before, v)
		}

		if err := c.hook(ctx, s, &v); err != nil {
			return nil, err
		}

		if err := c.e.Update(ctx, s, v); err != nil {
			return nil, err
		}

		events := []cbus.ChangeEvent{c.event(cbus.ActionEdit, c.payload(v))}

		if c.e.Cascade != nil {
			extra, err := c.e.Cascade(ctx, s, before, v)
			if err != nil {
				return nil, err
			}

			events = append(events, extra...)
		}

		if err := c.respond(ctx, s, &v); err != nil {
			return nil, err
		}

		return events, nil
	})
	if err != nil {
		return zero, err
	}

	return v, nil
}

// Delete removes a row and broadcasts a DELETE event after commit.
func (c *CRUD[T]) Delete(ctx context.Context, id int64) error {
	label := c.e.Label + " delete"

	if c.e.Delete == nil {
		return badRequest(label, "not supported")
	}

	if id <= 0 {
		return badRequest(label, "id is required")
	}

	return c.f.mutate(ctx, label, func(s catalog.Session) ([]cbus.ChangeEvent, error) {
		before, err := c.e.Get(ctx, s, id)
		if err != nil {
			return nil, err
		}

		if err := c.e.Delete(ctx, s, id); err != nil {
			return nil, err
		}

		payload := map[string]any{"id": id}
		if c.e.DeletePayload != nil {
			payload = c.e.DeletePayload(before)
		}

		return []cbus.ChangeEvent{c.event(cbus.ActionDelete, payload)}, nil
	})
}

func (c *CRUD[T]) validate(v T, action cbus.Action) error {
	if c.e.Validate == nil {
		return nil
	}

	return c.e.Validate(v, action)
}

func (c *CRUD[T]) hook(ctx context.Context, s catalog.Session, v *T) error {
	if c.e.InstanceHook == nil {
		return nil
	}

	return c.e.InstanceHook(ctx, s, v)
}

func (c *CRUD[T]) respond(ctx context.Context, s catalog.Session, v *T) error {
	if c.e.ResponseHook == nil {
		return nil
	}

	return c.e.ResponseHook(ctx, s, v)
}

func (c *CRUD[T]) payload(v T) map[string]any {
	if c.e.Payload == nil {
		return map[string]any{"id": c.e.ID(v)}
	}

	return c.e.Payload(v)
}

func (c *CRUD[T]) event(action cbus.Action, payload map[string]any) cbus.ChangeEvent {
	return cbus.ChangeEvent{Kind: c.e.Kind, Action: action, Payload: payload}
}
