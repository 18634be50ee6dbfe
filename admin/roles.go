package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/next-trace/scg-service-admin/catalog"
	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
	"github.com/next-trace/scg-service-admin/invoke"
)

// secDefPrefix marks client definitions backed by a built-in security definition.
const secDefPrefix = "sec_def"

func roleEntity() Entity[catalog.Role] {
	return Entity[catalog.Role]{
		Kind:  cbus.KindRole,
		Label: "rbac role",
		ID:    func(v catalog.Role) int64 { return v.ID },
		List: func(ctx context.Context, s catalog.Session, f catalog.ListFilter) ([]catalog.Role, error) {
			return s.ListRoles(ctx, f)
		},
		Get: func(ctx context.Context, s catalog.Session, id int64) (catalog.Role, error) {
			return s.GetRole(ctx, id)
		},
		Insert: func(ctx context.Context, s catalog.Session, v *catalog.Role) error {
			return s.InsertRole(ctx, v)
		},
		Update: func(ctx context.Context, s catalog.Session, v catalog.Role) error {
			return s.UpdateRole(ctx, v)
		},
		Delete: func(ctx context.Context, s catalog.Session, id int64) error {
			return s.DeleteRole(ctx, id)
		},
		Validate: func(v catalog.Role, action cbus.Action) error {
			label := "rbac role " + strings.ToLower(string(action))

			if action == cbus.ActionCreate && v.ClusterID <= 0 {
				return badRequest(label, "cluster_id is required")
			}

			if action == cbus.ActionEdit && v.ID <= 0 {
				return badRequest(label, "id is required")
			}

			if strings.TrimSpace(v.Name) == "" {
				return badRequest(label, "name is required")
			}

			return nil
		},
		Merge: func(stored, in catalog.Role) catalog.Role {
			stored.Name = in.Name
			return stored
		},
		InstanceHook: func(_ context.Context, _ catalog.Session, v *catalog.Role) error {
			v.Name = strings.TrimSpace(v.Name)
			return nil
		},
		Cascade: recomposeBindings,
		Payload: func(v catalog.Role) map[string]any {
			return map[string]any{"id": v.ID, "cluster_id": v.ClusterID, "name": v.Name}
		},
		DeletePayload: func(v catalog.Role) map[string]any {
			return map[string]any{"id": v.ID, "name": v.Name}
		},
	}
}

// recomposeBindings recomputes the name of every client role bound to a renamed role.
func recomposeBindings(ctx context.Context, s catalog.Session, before, after catalog.Role) ([]cbus.ChangeEvent, error) {
	if before.Name == after.Name {
		return nil, nil
	}

	bindings, err := s.ListClientRolesByRole(ctx, after.ID)
	if err != nil {
		return nil, err
	}

	events := make([]cbus.ChangeEvent, 0, len(bindings))

	for _, cr := range bindings {
		cr.Name = catalog.ComposeClientRoleName(cr.ClientDef, after.Name)
		if err := s.UpdateClientRole(ctx, cr); err != nil {
			return nil, err
		}

		events = append(events, cbus.ChangeEvent{
			Kind:    cbus.KindClientRole,
			Action:  cbus.ActionEdit,
			Payload: clientRolePayload(cr),
		})
	}

	return events, nil
}

func clientRoleEntity() Entity[catalog.ClientRole] {
	return Entity[catalog.ClientRole]{
		Kind:  cbus.KindClientRole,
		Label: "rbac client role",
		ID:    func(v catalog.ClientRole) int64 { return v.ID },
		List: func(ctx context.Context, s catalog.Session, f catalog.ListFilter) ([]catalog.ClientRole, error) {
			return s.ListClientRoles(ctx, f)
		},
		Get: func(ctx context.Context, s catalog.Session, id int64) (catalog.ClientRole, error) {
			return s.GetClientRole(ctx, id)
		},
		Insert: func(ctx context.Context, s catalog.Session, v *catalog.ClientRole) error {
			return s.InsertClientRole(ctx, v)
		},
		Update: func(ctx context.Context, s catalog.Session, v catalog.ClientRole) error {
			return s.UpdateClientRole(ctx, v)
		},
		Delete: func(ctx context.Context, s catalog.Session, id int64) error {
			return s.DeleteClientRole(ctx, id)
		},
		Validate: func(v catalog.ClientRole, action cbus.Action) error {
			label := "rbac client role " + strings.ToLower(string(action))

			if action == cbus.ActionCreate && v.ClusterID <= 0 {
				return badRequest(label, "cluster_id is required")
			}

			if action == cbus.ActionEdit && v.ID <= 0 {
				return badRequest(label, "id is required")
			}

			if strings.TrimSpace(v.ClientDef) == "" {
				return badRequest(label, "client_def is required")
			}

			if v.RoleID <= 0 {
				return badRequest(label, "role_id is required")
			}

			return nil
		},
		Merge: func(stored, in catalog.ClientRole) catalog.ClientRole {
			stored.ClientDef = in.ClientDef
			stored.RoleID = in.RoleID

			return stored
		},
		InstanceHook: composeName,
		ResponseHook: describeBinding,
		Payload:      clientRolePayload,
		DeletePayload: func(v catalog.ClientRole) map[string]any {
			return map[string]any{"id": v.ID, "client_def": v.ClientDef, "role_id": v.RoleID}
		},
	}
}

// composeName derives the binding's name from its client definition and the current role name.
func composeName(ctx context.Context, s catalog.Session, v *catalog.ClientRole) error {
	v.ClientDef = strings.TrimSpace(v.ClientDef)

	role, err := s.GetRole(ctx, v.RoleID)
	if err != nil {
		return err
	}

	if role.ClusterID != v.ClusterID {
		return fmt.Errorf("rbac client role: role %d belongs to cluster %d: %w", role.ID, role.ClusterID, berr.ErrBadRequest)
	}

	v.Name = catalog.ComposeClientRoleName(v.ClientDef, role.Name)

	return nil
}

// describeBinding fills the display fields of one binding with its own role lookup.
func describeBinding(ctx context.Context, s catalog.Session, v *catalog.ClientRole) error {
	role, err := s.GetRole(ctx, v.RoleID)
	if err != nil {
		return err
	}

	v.ClientName = v.ClientDef
	v.RoleName = role.Name

	return nil
}

func clientRolePayload(v catalog.ClientRole) map[string]any {
	return map[string]any{
		"id":         v.ID,
		"cluster_id": v.ClusterID,
		"name":       v.Name,
		"client_def": v.ClientDef,
		"role_id":    v.RoleID,
	}
}

// RoleGetList returns the RBAC roles of a cluster.
func (f *Facade) RoleGetList(ctx context.Context, req RoleGetList) ([]catalog.Role, error) {
	return f.roles.GetList(ctx, catalog.ListFilter{ClusterID: req.ClusterID, Name: req.Name})
}

// RoleCreate adds an RBAC role.
func (f *Facade) RoleCreate(ctx context.Context, req RoleCreate) (catalog.Role, error) {
	return f.roles.Create(ctx, catalog.Role{ClusterID: req.ClusterID, Name: req.Name})
}

// RoleEdit renames an RBAC role and recomputes the names of its client role bindings.
func (f *Facade) RoleEdit(ctx context.Context, req RoleEdit) (catalog.Role, error) {
	return f.roles.Edit(ctx, catalog.Role{ID: req.ID, Name: req.Name})
}

// RoleDelete removes an RBAC role. Roles still bound to clients cannot be deleted.
func (f *Facade) RoleDelete(ctx context.Context, req RoleDelete) (Deleted, error) {
	if err := f.roles.Delete(ctx, req.ID); err != nil {
		return Deleted{}, err
	}

	return Deleted{ID: req.ID}, nil
}

// ClientRoleGetList returns the client role bindings of a cluster.
func (f *Facade) ClientRoleGetList(ctx context.Context, req ClientRoleGetList) ([]catalog.ClientRole, error) {
	return f.clientRoles.GetList(ctx, catalog.ListFilter{ClusterID: req.ClusterID, Name: req.Name})
}

// ClientRoleCreate binds a client definition to a role.
func (f *Facade) ClientRoleCreate(ctx context.Context, req ClientRoleCreate) (catalog.ClientRole, error) {
	return f.clientRoles.Create(ctx, catalog.ClientRole{ClusterID: req.ClusterID, ClientDef: req.ClientDef, RoleID: req.RoleID})
}

// ClientRoleEdit rebinds a client role and recomputes its name.
func (f *Facade) ClientRoleEdit(ctx context.Context, req ClientRoleEdit) (catalog.ClientRole, error) {
	return f.clientRoles.Edit(ctx, catalog.ClientRole{ID: req.ID, ClientDef: req.ClientDef, RoleID: req.RoleID})
}

// ClientRoleDelete removes a client role binding.
func (f *Facade) ClientRoleDelete(ctx context.Context, req ClientRoleDelete) (Deleted, error) {
	if err := f.clientRoles.Delete(ctx, req.ID); err != nil {
		return Deleted{}, err
	}

	return Deleted{ID: req.ID}, nil
}

// ClientRoleGetClientDefList returns every client definition roles can be bound to: one per
// security definition, followed by those reported by the custom auth list service, if any.
func (f *Facade) ClientRoleGetClientDefList(ctx context.Context, req ClientRoleGetClientDefList) ([]ClientDef, error) {
	if req.ClusterID <= 0 {
		return nil, badRequest("rbac client def list", "cluster_id is required")
	}

	var defs []catalog.SecurityDef

	err := f.read(ctx, func(s catalog.Session) (err error) {
		defs, err = s.ListSecurityDefs(ctx, req.ClusterID)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]ClientDef, 0, len(defs))

	for _, d := range defs {
		name := d.SecType + catalog.NameSeparator + d.Name
		out = append(out, ClientDef{ClientDef: secDefPrefix + catalog.NameSeparator + name, ClientName: name})
	}

	if f.cfg.CustomAuthListService == "" {
		return out, nil
	}

	custom, err := f.customClientDefs(ctx)
	if err != nil {
		return nil, err
	}

	return append(out, custom...), nil
}

// customClientDefs invokes the configured auth list service, which must answer
// with a JSON document of the form {"items": [{"client_def": ..., "client_name": ...}]}.
func (f *Facade) customClientDefs(ctx context.Context) ([]ClientDef, error) {
	res, err := f.invoker.Invoke(ctx, invoke.Input{
		Service:    f.cfg.CustomAuthListService,
		Payload:    []byte("{}"),
		DataFormat: cbus.FormatJSON,
		Internal:   true,
	})
	if err != nil {
		return nil, err
	}

	text, err := responseText(res.Response)
	if err != nil {
		return nil, &berr.InvocationError{Service: res.Service, Cause: err}
	}

	var body struct {
		Items []ClientDef `json:"items"`
	}

	if err := json.Unmarshal([]byte(text), &body); err != nil {
		return nil, &berr.InvocationError{
			Service: res.Service,
			Cause:   fmt.Errorf("decode client definitions: %w", errors.Join(berr.ErrSerializationFailed, err)),
		}
	}

	return body.Items, nil
}
