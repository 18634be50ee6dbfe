package sqlite

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Fixtures describes catalog rows produced by deployment tooling.
// Explicit ids keep fixtures referentially stable across loads.
type Fixtures struct {
	Clusters     []ClusterFixture     `yaml:"clusters"`
	Servers      []ServerFixture      `yaml:"servers"`
	Services     []ServiceFixture     `yaml:"services"`
	Deployments  []DeploymentFixture  `yaml:"deployments"`
	Channels     []ChannelFixture     `yaml:"channels"`
	SecurityDefs []SecurityDefFixture `yaml:"security_defs"`
	Roles        []RoleFixture        `yaml:"roles"`
}

type ClusterFixture struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

type ServerFixture struct {
	ID        int64  `yaml:"id"`
	ClusterID int64  `yaml:"cluster_id"`
	Name      string `yaml:"name"`
}

type ServiceFixture struct {
	ID         int64  `yaml:"id"`
	ClusterID  int64  `yaml:"cluster_id"`
	Name       string `yaml:"name"`
	ImplName   string `yaml:"impl_name"`
	IsActive   *bool  `yaml:"is_active"`
	IsInternal bool   `yaml:"is_internal"`
	WSDL       string `yaml:"wsdl"`
	WSDLName   string `yaml:"wsdl_name"`
}

type DeploymentFixture struct {
	ServiceID int64  `yaml:"service_id"`
	ServerID  *int64 `yaml:"server_id"`
	Details   string `yaml:"details"`
}

// ChannelFixture places a channel into one of the channel tables.
// SOAPVersion only applies to http_soap rows; empty means plain HTTP.
type ChannelFixture struct {
	ID          int64  `yaml:"id"`
	ClusterID   int64  `yaml:"cluster_id"`
	Table       string `yaml:"table"`
	Name        string `yaml:"name"`
	ServiceID   int64  `yaml:"service_id"`
	URLPath     string `yaml:"url_path"`
	SOAPVersion string `yaml:"soap_version"`
}

type SecurityDefFixture struct {
	ID        int64  `yaml:"id"`
	ClusterID int64  `yaml:"cluster_id"`
	Name      string `yaml:"name"`
	SecType   string `yaml:"sec_type"`
}

type RoleFixture struct {
	ID        int64  `yaml:"id"`
	ClusterID int64  `yaml:"cluster_id"`
	Name      string `yaml:"name"`
}

// LoadFixtures parses a YAML fixtures document.
func LoadFixtures(r io.Reader) (Fixtures, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read fixtures: %w", err)
	}

	var f Fixtures

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return Fixtures{}, fmt.Errorf("decode fixtures: %w", err)
	}

	return f, nil
}

// Seed inserts fixtures in a single transaction.
func (s *Store) Seed(ctx context.Context, f Fixtures) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	exec := func(label, query string, args ...any) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return mapErr("seed "+label, err)
		}

		return nil
	}

	for _, c := range f.Clusters {
		if err = exec("cluster", `INSERT INTO cluster (id, name) VALUES (?, ?)`, c.ID, c.Name); err != nil {
			return err
		}
	}

	for _, sv := range f.Servers {
		if err = exec("server", `INSERT INTO server (id, cluster_id, name) VALUES (?, ?, ?)`,
			sv.ID, sv.ClusterID, sv.Name); err != nil {
			return err
		}
	}

	for _, svc := range f.Services {
		active := svc.IsActive == nil || *svc.IsActive

		var wsdl, wsdlName any
		if svc.WSDL != "" {
			wsdl, wsdlName = []byte(svc.WSDL), svc.WSDLName
		}

		if err = exec("service",
			`INSERT INTO service (id, cluster_id, name, impl_name, is_active, is_internal, wsdl, wsdl_name)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			svc.ID, svc.ClusterID, svc.Name, svc.ImplName, active, svc.IsInternal, wsdl, wsdlName); err != nil {
			return err
		}
	}

	for _, d := range f.Deployments {
		if err = exec("deployment", `INSERT INTO deployed_service (service_id, server_id, details) VALUES (?, ?, ?)`,
			d.ServiceID, d.ServerID, d.Details); err != nil {
			return err
		}
	}

	for _, ch := range f.Channels {
		if err = seedChannel(exec, ch); err != nil {
			return err
		}
	}

	for _, d := range f.SecurityDefs {
		if err = exec("security definition", `INSERT INTO sec_base (id, cluster_id, name, sec_type) VALUES (?, ?, ?, ?)`,
			d.ID, d.ClusterID, d.Name, d.SecType); err != nil {
			return err
		}
	}

	for _, r := range f.Roles {
		if err = exec("role", `INSERT INTO rbac_role (id, cluster_id, name) VALUES (?, ?, ?)`,
			r.ID, r.ClusterID, r.Name); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}

	return nil
}

func seedChannel(exec func(label, query string, args ...any) error, ch ChannelFixture) error {
	switch ch.Table {
	case "http_soap":
		var soapVersion any
		if ch.SOAPVersion != "" {
			soapVersion = ch.SOAPVersion
		}

		return exec("channel",
			`INSERT INTO http_soap (id, cluster_id, name, service_id, url_path, soap_version) VALUES (?, ?, ?, ?, ?, ?)`,
			ch.ID, ch.ClusterID, ch.Name, ch.ServiceID, ch.URLPath, soapVersion)
	case "channel_amqp", "channel_wmq", "channel_zmq":
		return exec("channel",
			`INSERT INTO `+ch.Table+` (id, cluster_id, name, service_id) VALUES (?, ?, ?, ?)`,
			ch.ID, ch.ClusterID, ch.Name, ch.ServiceID)
	default:
		return fmt.Errorf("seed channel %q: unknown table %q", ch.Name, ch.Table)
	}
}
