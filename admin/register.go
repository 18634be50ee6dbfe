package admin

import (
	"errors"

	"github.com/next-trace/scg-service-admin/catalog"
	"github.com/next-trace/scg-service-admin/servicebus"
)

// Register binds every admin operation of f to b.
func Register(b *servicebus.Bus, f *Facade) error {
	return errors.Join(
		servicebus.BindFunc[ServiceGetList, []catalog.Service](b, f.ServiceGetList),
		servicebus.BindFunc[ServiceGetByName, catalog.Service](b, f.ServiceGetByName),
		servicebus.BindFunc[ServiceEdit, catalog.Service](b, f.ServiceEdit),
		servicebus.BindFunc[ServiceDelete, Deleted](b, f.ServiceDelete),
		servicebus.BindFunc[ServiceInvoke, InvokeResult](b, f.ServiceInvoke),
		servicebus.BindFunc[ServiceGetDeploymentInfoList, []DeploymentInfo](b, f.ServiceGetDeploymentInfoList),
		servicebus.BindFunc[ServiceGetChannelList, []catalog.Channel](b, f.ServiceGetChannelList),
		servicebus.BindFunc[ServiceGetWSDL, Attachment](b, f.ServiceGetWSDL),

		servicebus.BindFunc[RoleGetList, []catalog.Role](b, f.RoleGetList),
		servicebus.BindFunc[RoleCreate, catalog.Role](b, f.RoleCreate),
		servicebus.BindFunc[RoleEdit, catalog.Role](b, f.RoleEdit),
		servicebus.BindFunc[RoleDelete, Deleted](b, f.RoleDelete),

		servicebus.BindFunc[ClientRoleGetList, []catalog.ClientRole](b, f.ClientRoleGetList),
		servicebus.BindFunc[ClientRoleCreate, catalog.ClientRole](b, f.ClientRoleCreate),
		servicebus.BindFunc[ClientRoleEdit, catalog.ClientRole](b, f.ClientRoleEdit),
		servicebus.BindFunc[ClientRoleDelete, Deleted](b, f.ClientRoleDelete),
		servicebus.BindFunc[ClientRoleGetClientDefList, []ClientDef](b, f.ClientRoleGetClientDefList),
	)
}
