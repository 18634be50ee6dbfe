package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/next-trace/scg-service-admin/catalog"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

type session struct {
	tx *sql.Tx
}

func (s *session) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog session: %w", errors.Join(berr.ErrConflict, err))
	}

	return nil
}

// Rollback releases the session. It is a no-op once the session is done.
func (s *session) Rollback() error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback catalog session: %w", err)
	}

	return nil
}

const serviceColumns = `id, cluster_id, name, impl_name, is_active, is_internal, usage_count, wsdl, COALESCE(wsdl_name, '')`

type scanner interface {
	Scan(dest ...any) error
}

func scanService(row scanner) (catalog.Service, error) {
	var svc catalog.Service
	err := row.Scan(&svc.ID, &svc.ClusterID, &svc.Name, &svc.ImplName, &svc.IsActive,
		&svc.IsInternal, &svc.UsageCount, &svc.WSDL, &svc.WSDLName)

	return svc, err
}

func (s *session) GetService(ctx context.Context, id int64) (catalog.Service, error) {
	row := s.tx.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM service WHERE id = ?`, id)

	svc, err := scanService(row)
	if err != nil {
		return catalog.Service{}, mapErr(fmt.Sprintf("get service %d", id), err)
	}

	return svc, nil
}

func (s *session) GetServiceByName(ctx context.Context, clusterID int64, name string) (catalog.Service, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT `+serviceColumns+` FROM service WHERE cluster_id = ? AND name = ?`, clusterID, name)

	svc, err := scanService(row)
	if err != nil {
		return catalog.Service{}, mapErr(fmt.Sprintf("get service %q", name), err)
	}

	return svc, nil
}

func (s *session) ListServices(ctx context.Context, f catalog.ListFilter) ([]catalog.Service, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT `+serviceColumns+` FROM service
		 WHERE cluster_id = ? AND (? = '' OR name LIKE ? ESCAPE '\')
		 ORDER BY name`, f.ClusterID, f.Name, containsPattern(f.Name))
	if err != nil {
		return nil, mapErr("list services", err)
	}
	defer rows.Close()

	var out []catalog.Service

	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, mapErr("scan service", err)
		}

		out = append(out, svc)
	}

	return out, mapErr("list services", rows.Err())
}

func (s *session) UpdateService(ctx context.Context, svc catalog.Service) error {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE service SET name = ?, is_active = ? WHERE id = ?`, svc.Name, svc.IsActive, svc.ID)

	return affected(fmt.Sprintf("update service %d", svc.ID), res, err)
}

func (s *session) DeleteService(ctx context.Context, id int64) error {
	res, err := s.tx.ExecContext(ctx, `DELETE FROM service WHERE id = ?`, id)

	return affected(fmt.Sprintf("delete service %d", id), res, err)
}

// ListDeployments starts from the service so that a service without deployments
// still yields one row with nil deployment fields.
func (s *session) ListDeployments(ctx context.Context, serviceID int64) ([]catalog.Deployment, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT s.id, sv.id, sv.name, d.details
		 FROM service s
		 LEFT OUTER JOIN deployed_service d ON d.service_id = s.id
		 LEFT OUTER JOIN server sv ON sv.id = d.server_id
		 WHERE s.id = ?
		 ORDER BY sv.name, sv.id`, serviceID)
	if err != nil {
		return nil, mapErr("list deployments", err)
	}
	defer rows.Close()

	var out []catalog.Deployment

	for rows.Next() {
		var (
			d          catalog.Deployment
			serverID   sql.NullInt64
			serverName sql.NullString
			details    sql.NullString
		)

		if err := rows.Scan(&d.ServiceID, &serverID, &serverName, &details); err != nil {
			return nil, mapErr("scan deployment", err)
		}

		if serverID.Valid {
			d.ServerID = &serverID.Int64
		}

		if serverName.Valid {
			d.ServerName = &serverName.String
		}

		if details.Valid {
			d.Details = &details.String
		}

		out = append(out, d)
	}

	return out, mapErr("list deployments", rows.Err())
}

func (s *session) ListChannels(ctx context.Context, q catalog.ChannelQuery) ([]catalog.Channel, error) {
	switch q.Table {
	case catalog.TableHTTPSOAP, catalog.TableAMQP, catalog.TableWMQ, catalog.TableZMQ:
	default:
		return nil, fmt.Errorf("list channels from %q: %w", q.Table, berr.ErrBadRequest)
	}

	query := `SELECT id, name FROM ` + string(q.Table) + ` WHERE service_id = ?`

	if q.Table == catalog.TableHTTPSOAP {
		switch q.SOAPVersion {
		case catalog.PresenceSet:
			query += ` AND soap_version IS NOT NULL`
		case catalog.PresenceNull:
			query += ` AND soap_version IS NULL`
		case catalog.PresenceAny:
		}
	}

	rows, err := s.tx.QueryContext(ctx, query+` ORDER BY name`, q.ServiceID)
	if err != nil {
		return nil, mapErr("list channels", err)
	}
	defer rows.Close()

	var out []catalog.Channel

	for rows.Next() {
		var c catalog.Channel
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, mapErr("scan channel", err)
		}

		out = append(out, c)
	}

	return out, mapErr("list channels", rows.Err())
}

func (s *session) ListSecurityDefs(ctx context.Context, clusterID int64) ([]catalog.SecurityDef, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, cluster_id, name, sec_type FROM sec_base WHERE cluster_id = ? ORDER BY sec_type, name`,
		clusterID)
	if err != nil {
		return nil, mapErr("list security definitions", err)
	}
	defer rows.Close()

	var out []catalog.SecurityDef

	for rows.Next() {
		var d catalog.SecurityDef
		if err := rows.Scan(&d.ID, &d.ClusterID, &d.Name, &d.SecType); err != nil {
			return nil, mapErr("scan security definition", err)
		}

		out = append(out, d)
	}

	return out, mapErr("list security definitions", rows.Err())
}

func (s *session) GetRole(ctx context.Context, id int64) (catalog.Role, error) {
	var r catalog.Role

	err := s.tx.QueryRowContext(ctx, `SELECT id, cluster_id, name FROM rbac_role WHERE id = ?`, id).
		Scan(&r.ID, &r.ClusterID, &r.Name)
	if err != nil {
		return catalog.Role{}, mapErr(fmt.Sprintf("get role %d", id), err)
	}

	return r, nil
}

func (s *session) ListRoles(ctx context.Context, f catalog.ListFilter) ([]catalog.Role, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, cluster_id, name FROM rbac_role
		 WHERE cluster_id = ? AND (? = '' OR name LIKE ? ESCAPE '\')
		 ORDER BY name`, f.ClusterID, f.Name, containsPattern(f.Name))
	if err != nil {
		return nil, mapErr("list roles", err)
	}
	defer rows.Close()

	var out []catalog.Role

	for rows.Next() {
		var r catalog.Role
		if err := rows.Scan(&r.ID, &r.ClusterID, &r.Name); err != nil {
			return nil, mapErr("scan role", err)
		}

		out = append(out, r)
	}

	return out, mapErr("list roles", rows.Err())
}

func (s *session) InsertRole(ctx context.Context, r *catalog.Role) error {
	res, err := s.tx.ExecContext(ctx, `INSERT INTO rbac_role (cluster_id, name) VALUES (?, ?)`, r.ClusterID, r.Name)
	if err != nil {
		return mapErr("insert role", err)
	}

	r.ID, err = res.LastInsertId()

	return mapErr("insert role", err)
}

func (s *session) UpdateRole(ctx context.Context, r catalog.Role) error {
	res, err := s.tx.ExecContext(ctx, `UPDATE rbac_role SET name = ? WHERE id = ?`, r.Name, r.ID)

	return affected(fmt.Sprintf("update role %d", r.ID), res, err)
}

func (s *session) DeleteRole(ctx context.Context, id int64) error {
	res, err := s.tx.ExecContext(ctx, `DELETE FROM rbac_role WHERE id = ?`, id)

	return affected(fmt.Sprintf("delete role %d", id), res, err)
}

const clientRoleColumns = `id, cluster_id, name, client_def, role_id`

func scanClientRole(row scanner) (catalog.ClientRole, error) {
	var cr catalog.ClientRole
	err := row.Scan(&cr.ID, &cr.ClusterID, &cr.Name, &cr.ClientDef, &cr.RoleID)

	return cr, err
}

func (s *session) GetClientRole(ctx context.Context, id int64) (catalog.ClientRole, error) {
	row := s.tx.QueryRowContext(ctx, `SELECT `+clientRoleColumns+` FROM rbac_client_role WHERE id = ?`, id)

	cr, err := scanClientRole(row)
	if err != nil {
		return catalog.ClientRole{}, mapErr(fmt.Sprintf("get client role %d", id), err)
	}

	return cr, nil
}

func (s *session) ListClientRoles(ctx context.Context, f catalog.ListFilter) ([]catalog.ClientRole, error) {
	return s.queryClientRoles(ctx,
		`SELECT `+clientRoleColumns+` FROM rbac_client_role
		 WHERE cluster_id = ? AND (? = '' OR name LIKE ? ESCAPE '\')
		 ORDER BY name`, f.ClusterID, f.Name, containsPattern(f.Name))
}

func (s *session) ListClientRolesByRole(ctx context.Context, roleID int64) ([]catalog.ClientRole, error) {
	return s.queryClientRoles(ctx,
		`SELECT `+clientRoleColumns+` FROM rbac_client_role WHERE role_id = ? ORDER BY id`, roleID)
}

func (s *session) queryClientRoles(ctx context.Context, query string, args ...any) ([]catalog.ClientRole, error) {
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("list client roles", err)
	}
	defer rows.Close()

	var out []catalog.ClientRole

	for rows.Next() {
		cr, err := scanClientRole(rows)
		if err != nil {
			return nil, mapErr("scan client role", err)
		}

		out = append(out, cr)
	}

	return out, mapErr("list client roles", rows.Err())
}

func (s *session) InsertClientRole(ctx context.Context, cr *catalog.ClientRole) error {
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO rbac_client_role (cluster_id, name, client_def, role_id) VALUES (?, ?, ?, ?)`,
		cr.ClusterID, cr.Name, cr.ClientDef, cr.RoleID)
	if err != nil {
		return mapErr("insert client role", err)
	}

	cr.ID, err = res.LastInsertId()

	return mapErr("insert client role", err)
}

func (s *session) UpdateClientRole(ctx context.Context, cr catalog.ClientRole) error {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE rbac_client_role SET name = ?, client_def = ?, role_id = ? WHERE id = ?`,
		cr.Name, cr.ClientDef, cr.RoleID, cr.ID)

	return affected(fmt.Sprintf("update client role %d", cr.ID), res, err)
}

func (s *session) DeleteClientRole(ctx context.Context, id int64) error {
	res, err := s.tx.ExecContext(ctx, `DELETE FROM rbac_client_role WHERE id = ?`, id)

	return affected(fmt.Sprintf("delete client role %d", id), res, err)
}

// affected turns a zero-row write into ErrNotFound.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching name literally anywhere in the column.
func containsPattern(name string) string {
	return "%" + likeEscaper.Replace(name) + "%"
}

func affected(label string, res sql.Result, err error) error {
	if err != nil {
		return mapErr(label, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(label, err)
	}

	if n == 0 {
		return fmt.Errorf("%s: %w", label, berr.ErrNotFound)
	}

	return nil
}
