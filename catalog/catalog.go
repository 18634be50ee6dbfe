// Package catalog defines the system of record for services, channels and RBAC entities.
//
// Access is scoped: a Session is acquired per logical operation with Catalog.Begin and
// must be released on every exit path with Commit or Rollback. Rollback after a
// successful Commit is a no-op, so callers may always defer it.
package catalog

import "context"

// Catalog opens scoped sessions against the catalog store.
type Catalog interface {
	Begin(ctx context.Context) (Session, error)
}

// Session is a single catalog transaction.
// Lookups of absent rows fail with errors.ErrNotFound; constraint violations with errors.ErrConflict.
type Session interface {
	GetService(ctx context.Context, id int64) (Service, error)
	GetServiceByName(ctx context.Context, clusterID int64, name string) (Service, error)
	ListServices(ctx context.Context, f ListFilter) ([]Service, error)
	UpdateService(ctx context.Context, svc Service) error
	DeleteService(ctx context.Context, id int64) error

	ListDeployments(ctx context.Context, serviceID int64) ([]Deployment, error)
	ListChannels(ctx context.Context, q ChannelQuery) ([]Channel, error)
	ListSecurityDefs(ctx context.Context, clusterID int64) ([]SecurityDef, error)

	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context, f ListFilter) ([]Role, error)
	InsertRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r Role) error
	DeleteRole(ctx context.Context, id int64) error

	GetClientRole(ctx context.Context, id int64) (ClientRole, error)
	ListClientRoles(ctx context.Context, f ListFilter) ([]ClientRole, error)
	ListClientRolesByRole(ctx context.Context, roleID int64) ([]ClientRole, error)
	InsertClientRole(ctx context.Context, cr *ClientRole) error
	UpdateClientRole(ctx context.Context, cr ClientRole) error
	DeleteClientRole(ctx context.Context, id int64) error

	Commit() error
	Rollback() error
}

// ListFilter narrows list queries to a cluster and, optionally, a name substring.
type ListFilter struct {
	ClusterID int64
	Name      string
}

// Service is the descriptor of a deployed unit of business logic.
// Name is unique per cluster.
type Service struct {
	ID         int64  `json:"id"`
	ClusterID  int64  `json:"cluster_id"`
	Name       string `json:"name"`
	ImplName   string `json:"impl_name"`
	IsActive   bool   `json:"is_active"`
	IsInternal bool   `json:"is_internal"`
	UsageCount int64  `json:"usage_count"`
	WSDL       []byte `json:"-"`
	WSDLName   string `json:"-"`
}

// Deployment is one row of a service outer-joined with its deployments and servers.
// Nil fields mean the joined row is absent.
type Deployment struct {
	ServiceID  int64   `json:"service_id"`
	ServerID   *int64  `json:"server_id"`
	ServerName *string `json:"server_name"`
	Details    *string `json:"details"`
}

// ChannelTable names the relation backing a channel kind.
type ChannelTable string

const (
	TableHTTPSOAP ChannelTable = "http_soap"
	TableAMQP     ChannelTable = "channel_amqp"
	TableWMQ      ChannelTable = "channel_wmq"
	TableZMQ      ChannelTable = "channel_zmq"
)

// Presence filters on the nullable soap_version attribute of http_soap rows.
type Presence int

const (
	PresenceAny Presence = iota
	PresenceSet
	PresenceNull
)

// ChannelQuery selects channels of one table exposing a service.
type ChannelQuery struct {
	Table       ChannelTable
	ServiceID   int64
	SOAPVersion Presence
}

// Channel is the id/name pair of a channel exposing a service.
type Channel struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SecurityDef is a security definition clients authenticate with.
type SecurityDef struct {
	ID        int64  `json:"id"`
	ClusterID int64  `json:"cluster_id"`
	Name      string `json:"name"`
	SecType   string `json:"sec_type"`
}

// Role is an RBAC role.
type Role struct {
	ID        int64  `json:"id"`
	ClusterID int64  `json:"cluster_id"`
	Name      string `json:"name"`
}

// ClientRole binds a client definition to a role.
// Name is always ComposeClientRoleName(ClientDef, role name) and is recomputed whenever
// either input changes. ClientName and RoleName are filled in for responses only.
type ClientRole struct {
	ID         int64  `json:"id"`
	ClusterID  int64  `json:"cluster_id"`
	Name       string `json:"name"`
	ClientDef  string `json:"client_def"`
	RoleID     int64  `json:"role_id"`
	ClientName string `json:"client_name,omitempty"`
	RoleName   string `json:"role_name,omitempty"`
}

// NameSeparator joins the parts of composed RBAC names and client definitions.
const NameSeparator = ":::"

// ComposeClientRoleName derives a client role binding's name.
func ComposeClientRoleName(clientDef, roleName string) string {
	return clientDef + NameSeparator + roleName
}
