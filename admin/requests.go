package admin

// Service operations.

type ServiceGetList struct {
	ClusterID int64  `json:"cluster_id"`
	Name      string `json:"name,omitempty"`
}

type ServiceGetByName struct {
	ClusterID int64  `json:"cluster_id"`
	Name      string `json:"name"`
}

type ServiceEdit struct {
	ID       int64  `json:"id"`
	IsActive bool   `json:"is_active"`
	Name     string `json:"name"`
}

type ServiceDelete struct {
	ID int64 `json:"id"`
}

// ServiceInvoke runs a service directly, as though a channel had received Payload.
// DataFormat and Transport are optional.
type ServiceInvoke struct {
	ID         int64  `json:"id"`
	Payload    string `json:"payload"`
	DataFormat string `json:"data_format,omitempty"`
	Transport  string `json:"transport,omitempty"`
}

type InvokeResult struct {
	CorrelationID string `json:"cid"`
	Response      string `json:"response"`
}

type ServiceGetDeploymentInfoList struct {
	ID int64 `json:"id"`
}

// DeploymentInfo is the deployment status of a service on one server.
type DeploymentInfo struct {
	ServerID   int64  `json:"server_id"`
	ServerName string `json:"server_name"`
	Details    string `json:"details"`
}

type ServiceGetChannelList struct {
	ID          int64  `json:"id"`
	ChannelType string `json:"channel_type"`
}

type ServiceGetWSDL struct {
	Name string `json:"name"`
}

// Attachment is a downloadable document.
type Attachment struct {
	ContentType        string `json:"content_type"`
	ContentDisposition string `json:"content_disposition"`
	Content            []byte `json:"content"`
}

// RBAC role operations.

type RoleGetList struct {
	ClusterID int64  `json:"cluster_id"`
	Name      string `json:"name,omitempty"`
}

type RoleCreate struct {
	ClusterID int64  `json:"cluster_id"`
	Name      string `json:"name"`
}

type RoleEdit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type RoleDelete struct {
	ID int64 `json:"id"`
}

// RBAC client role operations.

type ClientRoleGetList struct {
	ClusterID int64  `json:"cluster_id"`
	Name      string `json:"name,omitempty"`
}

type ClientRoleCreate struct {
	ClusterID int64  `json:"cluster_id"`
	ClientDef string `json:"client_def"`
	RoleID    int64  `json:"role_id"`
}

type ClientRoleEdit struct {
	ID        int64  `json:"id"`
	ClientDef string `json:"client_def"`
	RoleID    int64  `json:"role_id"`
}

type ClientRoleDelete struct {
	ID int64 `json:"id"`
}

type ClientRoleGetClientDefList struct {
	ClusterID int64 `json:"cluster_id"`
}

// ClientDef is a client definition RBAC roles can be bound to.
type ClientDef struct {
	ClientDef  string `json:"client_def"`
	ClientName string `json:"client_name"`
}

// Deleted acknowledges a delete.
type Deleted struct {
	ID int64 `json:"id"`
}
