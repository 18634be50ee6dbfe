package admin

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/next-trace/scg-service-admin/catalog"
	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
	"github.com/next-trace/scg-service-admin/invoke"
)

const defaultWSDLType = "application/octet-stream"

func serviceEntity() Entity[catalog.Service] {
	return Entity[catalog.Service]{
		Kind:  cbus.KindService,
		Label: "service",
		ID:    func(v catalog.Service) int64 { return v.ID },
		List: func(ctx context.Context, s catalog.Session, f catalog.ListFilter) ([]catalog.Service, error) {
			return s.ListServices(ctx, f)
		},
		Get: func(ctx context.Context, s catalog.Session, id int64) (catalog.Service, error) {
			return s.GetService(ctx, id)
		},
		Update: func(ctx context.Context, s catalog.Session, v catalog.Service) error {
			return s.UpdateService(ctx, v)
		},
		Delete: func(ctx context.Context, s catalog.Session, id int64) error {
			return s.DeleteService(ctx, id)
		},
		Validate: func(v catalog.Service, _ cbus.Action) error {
			if v.ID <= 0 {
				return badRequest("service edit", "id is required")
			}

			if strings.TrimSpace(v.Name) == "" {
				return badRequest("service edit", "name is required")
			}

			return nil
		},
		Merge: func(stored, in catalog.Service) catalog.Service {
			stored.Name = strings.TrimSpace(in.Name)
			stored.IsActive = in.IsActive

			return stored
		},
		Payload: func(v catalog.Service) map[string]any {
			return map[string]any{"id": v.ID, "name": v.Name, "is_active": v.IsActive, "impl_name": v.ImplName}
		},
	}
}

// ServiceGetList returns the services of a cluster.
func (f *Facade) ServiceGetList(ctx context.Context, req ServiceGetList) ([]catalog.Service, error) {
	return f.services.GetList(ctx, catalog.ListFilter{ClusterID: req.ClusterID, Name: req.Name})
}

// ServiceGetByName returns one service of a cluster by its unique name.
func (f *Facade) ServiceGetByName(ctx context.Context, req ServiceGetByName) (catalog.Service, error) {
	var out catalog.Service

	if req.ClusterID <= 0 || strings.TrimSpace(req.Name) == "" {
		return out, badRequest("service get by name", "cluster_id and name are required")
	}

	err := f.read(ctx, func(s catalog.Session) (err error) {
		out, err = s.GetServiceByName(ctx, req.ClusterID, req.Name)
		return err
	})

	return out, err
}

// ServiceEdit renames and activates or deactivates a service.
func (f *Facade) ServiceEdit(ctx context.Context, req ServiceEdit) (catalog.Service, error) {
	return f.services.Edit(ctx, catalog.Service{ID: req.ID, Name: req.Name, IsActive: req.IsActive})
}

// ServiceDelete removes a service.
func (f *Facade) ServiceDelete(ctx context.Context, req ServiceDelete) (Deleted, error) {
	if err := f.services.Delete(ctx, req.ID); err != nil {
		return Deleted{}, err
	}

	return Deleted{ID: req.ID}, nil
}

// ServiceInvoke runs a service outside of any channel and returns its textual response.
func (f *Facade) ServiceInvoke(ctx context.Context, req ServiceInvoke) (InvokeResult, error) {
	if req.ID <= 0 {
		return InvokeResult{}, badRequest("service invoke", "id is required")
	}

	out, err := f.invoker.Invoke(ctx, invoke.Input{
		Service:    strconv.FormatInt(req.ID, 10),
		Payload:    []byte(req.Payload),
		DataFormat: cbus.DataFormat(req.DataFormat),
		Transport:  cbus.Transport(req.Transport),
		Internal:   f.cfg.InvokeInternal,
	})
	if err != nil {
		return InvokeResult{}, err
	}

	text, err := responseText(out.Response)
	if err != nil {
		return InvokeResult{}, &berr.InvocationError{Service: out.Service, Cause: err}
	}

	return InvokeResult{CorrelationID: out.CorrelationID, Response: text}, nil
}

func responseText(v any) (string, error) {
	switch r := v.(type) {
	case nil:
		return "", nil
	case string:
		return r, nil
	case []byte:
		return string(r), nil
	case io.Reader:
		b, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}

		return string(b), nil
	default:
		return fmt.Sprint(r), nil
	}
}

// ServiceGetDeploymentInfoList returns the servers a service is deployed to.
// A service that is not deployed anywhere yields an empty list.
func (f *Facade) ServiceGetDeploymentInfoList(ctx context.Context, req ServiceGetDeploymentInfoList) ([]DeploymentInfo, error) {
	if req.ID <= 0 {
		return nil, badRequest("service deployment info", "id is required")
	}

	rows, err := f.lookups.ListDeployments(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	out := make([]DeploymentInfo, 0, len(rows))

	for _, d := range rows {
		if d.ServerID == nil {
			continue
		}

		info := DeploymentInfo{ServerID: *d.ServerID}
		if d.ServerName != nil {
			info.ServerName = *d.ServerName
		}

		if d.Details != nil {
			info.Details = *d.Details
		}

		out = append(out, info)
	}

	return out, nil
}

// ServiceGetChannelList returns the channels of one type exposing a service.
func (f *Facade) ServiceGetChannelList(ctx context.Context, req ServiceGetChannelList) ([]catalog.Channel, error) {
	if req.ID <= 0 {
		return nil, badRequest("service channel list", "id is required")
	}

	rows, err := f.lookups.ChannelsFor(ctx, req.ID, req.ChannelType)
	if err != nil {
		return nil, err
	}

	if rows == nil {
		rows = []catalog.Channel{}
	}

	return rows, nil
}

// ServiceGetWSDL returns the uploaded WSDL of a service as an attachment.
func (f *Facade) ServiceGetWSDL(ctx context.Context, req ServiceGetWSDL) (Attachment, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Attachment{}, badRequest("service wsdl", "the service parameter could not be found")
	}

	var svc catalog.Service

	err := f.read(ctx, func(s catalog.Session) (err error) {
		svc, err = s.GetServiceByName(ctx, f.cfg.ClusterID, name)
		return err
	})
	if err != nil {
		return Attachment{}, err
	}

	if len(svc.WSDL) == 0 {
		return Attachment{}, fmt.Errorf("service %s: no WSDL found: %w", name, berr.ErrNotFound)
	}

	contentType := mime.TypeByExtension(filepath.Ext(svc.WSDLName))
	if contentType == "" {
		contentType = defaultWSDLType
	}

	return Attachment{
		ContentType:        contentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%s.wsdl", name),
		Content:            svc.WSDL,
	}, nil
}
