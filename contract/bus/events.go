package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// ParallelTopic is the broadcast target addressed to all parallel workers of a cluster.
const ParallelTopic = "scg.admin.parallel"

// Action is the kind of catalog mutation a ChangeEvent reports.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionEdit   Action = "EDIT"
	ActionDelete Action = "DELETE"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionEdit, ActionDelete:
		return true
	default:
		return false
	}
}

// Entity kinds published by the admin layer.
const (
	KindService    = "service"
	KindRole       = "security.rbac.role"
	KindClientRole = "security.rbac.client_role"
)

// ChangeEvent reports a committed catalog mutation to every worker.
// Payload carries the identifiers (and edited fields) of the affected entity.
type ChangeEvent struct {
	Kind    string
	Action  Action
	Payload map[string]any
}

// Topic returns the fixed broadcast target.
func (ChangeEvent) Topic() string { return ParallelTopic }

// ID returns the numeric "id" key of the payload regardless of how it was decoded.
func (e ChangeEvent) ID() (int64, bool) {
	return Int64(e.Payload["id"])
}

// Int64 converts the numeric shapes produced by in-process callers and JSON decoding.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// MarshalJSON renders the flat wire form {"action", "entity_kind", <payload keys>}.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		m[k] = v
	}

	m["action"] = e.Action
	m["entity_kind"] = e.Kind

	return json.Marshal(m)
}

// UnmarshalJSON parses the flat wire form. Numbers are kept as json.Number.
func (e *ChangeEvent) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}

	action, _ := m["action"].(string)
	kind, _ := m["entity_kind"].(string)

	if !Action(action).Valid() || kind == "" {
		return fmt.Errorf("change event action=%q kind=%q: %w", action, kind, berr.ErrSerializationFailed)
	}

	delete(m, "action")
	delete(m, "entity_kind")

	*e = ChangeEvent{Kind: kind, Action: Action(action), Payload: m}

	return nil
}
