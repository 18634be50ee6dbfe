package admin_test

import (
	"context"
	"errors"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-service-admin/admin"
	"github.com/next-trace/scg-service-admin/catalog"
	"github.com/next-trace/scg-service-admin/catalog/sqlite"
	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
	"github.com/next-trace/scg-service-admin/invoke"
	"github.com/next-trace/scg-service-admin/registry"
)

// journal records catalog commits, rollbacks and notifications in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
	events  []cbus.ChangeEvent
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, entry)
}

func (j *journal) Publish(_ context.Context, evt cbus.ChangeEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, "notify:"+evt.Kind+":"+string(evt.Action))
	j.events = append(j.events, evt)
}

func (j *journal) snapshot() ([]string, []cbus.ChangeEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return append([]string(nil), j.entries...), append([]cbus.ChangeEvent(nil), j.events...)
}

func (j *journal) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries, j.events = nil, nil
}

// recordingCatalog journals session outcomes and can inject failures.
type recordingCatalog struct {
	catalog.Catalog
	j          *journal
	begins     atomic.Int32
	failInsert error
	failCommit error
}

func (c *recordingCatalog) Begin(ctx context.Context) (catalog.Session, error) {
	c.begins.Add(1)

	s, err := c.Catalog.Begin(ctx)
	if err != nil {
		return nil, err
	}

	return &recordingSession{Session: s, c: c}, nil
}

type recordingSession struct {
	catalog.Session
	c *recordingCatalog
}

func (s *recordingSession) InsertRole(ctx context.Context, r *catalog.Role) error {
	if s.c.failInsert != nil {
		return s.c.failInsert
	}

	return s.Session.InsertRole(ctx, r)
}

func (s *recordingSession) Commit() error {
	if s.c.failCommit != nil {
		return s.c.failCommit
	}

	if err := s.Session.Commit(); err != nil {
		return err
	}

	s.c.j.add("commit")

	return nil
}

func (s *recordingSession) Rollback() error {
	s.c.j.add("rollback")
	return s.Session.Rollback()
}

type fixture struct {
	facade *admin.Facade
	cat    *recordingCatalog
	j      *journal
	reg    *registry.Registry
}

func newFixture(t *testing.T, cfg admin.Config, extra ...sqlite.ServiceFixture) *fixture {
	t.Helper()

	store, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f, err := os.Open(filepath.Join("..", "catalog", "sqlite", "testdata", "catalog.yaml"))
	require.NoError(t, err)
	defer f.Close()

	fx, err := sqlite.LoadFixtures(f)
	require.NoError(t, err)

	fx.Services = append(fx.Services, extra...)
	require.NoError(t, store.Seed(t.Context(), fx))

	j := &journal{}
	rc := &recordingCatalog{Catalog: store, j: j}

	reg := registry.New(store, 1, nil)
	require.NoError(t, invoke.RegisterBuiltins(reg))

	if cfg.ClusterID == 0 {
		cfg.ClusterID = 1
	}

	fc := admin.New(rc, reg, invoke.New(reg, nil), j, cfg, nil)

	return &fixture{facade: fc, cat: rc, j: j, reg: reg}
}

func indexOf(entries []string, want string) int {
	for i, e := range entries {
		if e == want {
			return i
		}
	}

	return -1
}

func TestRoleCreate_CommitsBeforeNotify(t *testing.T) {
	fx := newFixture(t, admin.Config{})

	role, err := fx.facade.RoleCreate(t.Context(), admin.RoleCreate{ClusterID: 1, Name: " auditor "})
	require.NoError(t, err)
	assert.Equal(t, "auditor", role.Name)
	assert.Positive(t, role.ID)

	entries, events := fx.j.snapshot()
	commit := indexOf(entries, "commit")
	notify := indexOf(entries, "notify:"+cbus.KindRole+":CREATE")

	require.NotEqual(t, -1, commit)
	require.NotEqual(t, -1, notify)
	assert.Less(t, commit, notify)

	require.Len(t, events, 1)
	assert.Equal(t, role.ID, events[0].Payload["id"])
	assert.Equal(t, "auditor", events[0].Payload["name"])
}

func TestMutationFailure_RollsBackWithoutEvent(t *testing.T) {
	fx := newFixture(t, admin.Config{})

	boom := errors.New("disk full")
	fx.cat.failInsert = boom

	_, err := fx.facade.RoleCreate(t.Context(), admin.RoleCreate{ClusterID: 1, Name: "auditor"})
	require.ErrorIs(t, err, boom)

	entries, events := fx.j.snapshot()
	assert.Empty(t, events)
	assert.Equal(t, []string{"rollback"}, entries)
}

func TestCommitFailure_IsConflict(t *testing.T) {
	fx := newFixture(t, admin.Config{})
	fx.cat.failCommit = errors.New("database is locked")

	_, err := fx.facade.RoleCreate(t.Context(), admin.RoleCreate{ClusterID: 1, Name: "auditor"})
	require.ErrorIs(t, err, berr.ErrConflict)
	assert.Equal(t, 409, berr.Status(err))

	_, events := fx.j.snapshot()
	assert.Empty(t, events)
}

func TestValidation_DoesNotTouchStorage(t *testing.T) {
	fx := newFixture(t, admin.Config{})
	ctx := t.Context()

	_, err := fx.facade.RoleCreate(ctx, admin.RoleCreate{ClusterID: 1, Name: "  "})
	assert.ErrorIs(t, err, berr.ErrBadRequest)

	_, err = fx.facade.ClientRoleCreate(ctx, admin.ClientRoleCreate{ClusterID: 1, RoleID: 7})
	assert.ErrorIs(t, err, berr.ErrBadRequest)

	_, err = fx.facade.ServiceEdit(ctx, admin.ServiceEdit{Name: "x"})
	assert.ErrorIs(t, err, berr.ErrBadRequest)

	_, err = fx.facade.RoleGetList(ctx, admin.RoleGetList{})
	assert.ErrorIs(t, err, berr.ErrBadRequest)

	assert.Zero(t, fx.cat.begins.Load())
}

func TestClientRoleCreate_ComposesName(t *testing.T) {
	fx := newFixture(t, admin.Config{})

	cr, err := fx.facade.ClientRoleCreate(t.Context(), admin.ClientRoleCreate{
		ClusterID: 1,
		ClientDef: "sec_def:::basic_auth1",
		RoleID:    7,
	})
	require.NoError(t, err)
	assert.Equal(t, "sec_def:::basic_auth1:::admin", cr.Name)
	assert.Equal(t, "sec_def:::basic_auth1", cr.ClientName)
	assert.Equal(t, "admin", cr.RoleName)

	_, events := fx.j.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, cbus.KindClientRole, events[0].Kind)
	assert.Equal(t, "sec_def:::basic_auth1:::admin", events[0].Payload["name"])
}

func TestClientRoleCreate_UnknownRoleRollsBack(t *testing.T) {
	fx := newFixture(t, admin.Config{})

	_, err := fx.facade.ClientRoleCreate(t.Context(), admin.ClientRoleCreate{ClusterID: 1, ClientDef: "app", RoleID: 99})
	require.ErrorIs(t, err, berr.ErrNotFound)

	_, events := fx.j.snapshot()
	assert.Empty(t, events)
}

func TestClientRoleEdit_RecomputesName(t *testing.T) {
	fx := newFixture(t, admin.Config{})
	ctx := t.Context()

	cr, err := fx.facade.ClientRoleCreate(ctx, admin.ClientRoleCreate{ClusterID: 1, ClientDef: "app", RoleID: 7})
	require.NoError(t, err)

	edited, err := fx.facade.ClientRoleEdit(ctx, admin.ClientRoleEdit{ID: cr.ID, ClientDef: "app2", RoleID: 8})
	require.NoError(t, err)
	assert.Equal(t, "app2:::viewer", edited.Name)
	assert.Equal(t, int64(1), edited.ClusterID)

	list, err := fx.facade.ClientRoleGetList(ctx, admin.ClientRoleGetList{ClusterID: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "app2:::viewer", list[0].Name)
	assert.Equal(t, "viewer", list[0].RoleName)
	assert.Equal(t, "app2", list[0].ClientName)
}

func TestRoleRename_RecomputesBindings(t *testing.T) {
	fx := newFixture(t, admin.Config{})
	ctx := t.Context()

	for _, def := range []string{"sec_def:::basic_auth1", "sec_def:::key1"} {
		_, err := fx.facade.ClientRoleCreate(ctx, admin.ClientRoleCreate{ClusterID: 1, ClientDef: def, RoleID: 7})
		require.NoError(t, err)
	}

	_, err := fx.facade.ClientRoleCreate(ctx, admin.ClientRoleCreate{ClusterID: 1, ClientDef: "other", RoleID: 8})
	require.NoError(t, err)

	fx.j.reset()

	role, err := fx.facade.RoleEdit(ctx, admin.RoleEdit{ID: 7, Name: "administrator"})
	require.NoError(t, err)
	assert.Equal(t, "administrator", role.Name)
	assert.Equal(t, int64(1), role.ClusterID)

	list, err := fx.facade.ClientRoleGetList(ctx, admin.ClientRoleGetList{ClusterID: 1})
	require.NoError(t, err)
	require.Len(t, list, 3)

	for _, cr := range list {
		want := catalog.ComposeClientRoleName(cr.ClientDef, cr.RoleName)
		assert.Equal(t, want, cr.Name)
	}

	entries, events := fx.j.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, cbus.KindRole, events[0].Kind)
	assert.Equal(t, cbus.KindClientRole, events[1].Kind)
	assert.Equal(t, cbus.KindClientRole, events[2].Kind)
	assert.Less(t, indexOf(entries, "commit"), indexOf(entries, "notify:"+cbus.KindRole+":EDIT"))
}

func TestClientRoleDelete_EventCarriesKeys(t *testing.T) {
	fx := newFixture(t, admin.Config{})
	ctx := t.Context()

	cr, err := fx.facade.ClientRoleCreate(ctx, admin.ClientRoleCreate{ClusterID: 1, ClientDef: "app", RoleID: 8})
	require.NoError(t, err)

	fx.j.reset()

	res, err := fx.facade.ClientRoleDelete(ctx, admin.ClientRoleDelete{ID: cr.ID})
	require.NoError(t, err)
	assert.Equal(t, cr.ID, res.ID)

	_, events := fx.j.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, cbus.ActionDelete, events[0].Action)
	assert.Equal(t, map[string]any{"id": cr.ID, "client_def": "app", "role_id": int64(8)}, events[0].Payload)

	_, err = fx.facade.ClientRoleDelete(ctx, admin.ClientRoleDelete{ID: cr.ID})
	assert.ErrorIs(t, err, berr.ErrNotFound)
}

func TestRoleDelete_BoundRoleIsConflict(t *testing.T) {
	fx := newFixture(t, admin.Config{})
	ctx := t.Context()

	_, err := fx.facade.ClientRoleCreate(ctx, admin.ClientRoleCreate{ClusterID: 1, ClientDef: "app", RoleID: 7})
	require.NoError(t, err)

	fx.j.reset()

	_, err = fx.facade.RoleDelete(ctx, admin.RoleDelete{ID: 7})
	require.ErrorIs(t, err, berr.ErrConflict)

	_, events := fx.j.snapshot()
	assert.Empty(t, events)

	_, err = fx.facade.RoleDelete(ctx, admin.RoleDelete{ID: 8})
	require.NoError(t, err)

	roles, err := fx.facade.RoleGetList(ctx, admin.RoleGetList{ClusterID: 1})
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "admin", roles[0].Name)
}

func TestClientDefList(t *testing.T) {
	fx := newFixture(t, admin.Config{})

	defs, err := fx.facade.ClientRoleGetClientDefList(t.Context(), admin.ClientRoleGetClientDefList{ClusterID: 1})
	require.NoError(t, err)
	assert.Equal(t, []admin.ClientDef{
		{ClientDef: "sec_def:::apikey:::key1", ClientName: "apikey:::key1"},
		{ClientDef: "sec_def:::basic_auth:::basic_auth1", ClientName: "basic_auth:::basic_auth1"},
	}, defs)
}

func TestClientDefList_CustomAuthListService(t *testing.T) {
	fx := newFixture(t, admin.Config{CustomAuthListService: "custom.auth.list"},
		sqlite.ServiceFixture{ID: 20, ClusterID: 1, Name: "custom.auth.list", ImplName: "test.auth_list", IsInternal: true})

	require.NoError(t, fx.reg.Register("test.auth_list", func() cbus.Invocable {
		return cbus.InvocableFunc(func(context.Context, cbus.Request) (any, error) {
			return `{"items": [{"client_def": "ldap:::jdoe", "client_name": "jdoe"}]}`, nil
		})
	}))

	defs, err := fx.facade.ClientRoleGetClientDefList(t.Context(), admin.ClientRoleGetClientDefList{ClusterID: 1})
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, admin.ClientDef{ClientDef: "ldap:::jdoe", ClientName: "jdoe"}, defs[2])
}

func TestServiceGetListAndByName(t *testing.T) {
	fx := newFixture(t, admin.Config{})
	ctx := t.Context()

	list, err := fx.facade.ServiceGetList(ctx, admin.ServiceGetList{ClusterID: 1})
	require.NoError(t, err)
	assert.Len(t, list, 4)

	filtered, err := fx.facade.ServiceGetList(ctx, admin.ServiceGetList{ClusterID: 1, Name: "echo"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	svc, err := fx.facade.ServiceGetByName(ctx, admin.ServiceGetByName{ClusterID: 1, Name: "demo.echo"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), svc.ID)
	assert.Equal(t, invoke.ImplEcho, svc.ImplName)

	_, err = fx.facade.ServiceGetByName(ctx, admin.ServiceGetByName{ClusterID: 1, Name: "nope"})
	assert.ErrorIs(t, err, berr.ErrNotFound)

	empty, err := fx.facade.ServiceGetList(ctx, admin.ServiceGetList{ClusterID: 2})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestServiceEditAndDelete(t *testing.T) {
	fx := newFixture(t, admin.Config{})
	ctx := t.Context()

	svc, err := fx.facade.ServiceEdit(ctx, admin.ServiceEdit{ID: 5, Name: "demo.echo2", IsActive: false})
	require.NoError(t, err)
	assert.Equal(t, "demo.echo2", svc.Name)
	assert.False(t, svc.IsActive)
	assert.Equal(t, invoke.ImplEcho, svc.ImplName, "edit keeps fields it does not carry")

	_, err = fx.facade.ServiceEdit(ctx, admin.ServiceEdit{ID: 999, Name: "ghost"})
	require.ErrorIs(t, err, berr.ErrNotFound)

	_, err = fx.facade.ServiceDelete(ctx, admin.ServiceDelete{ID: 8})
	require.NoError(t, err)

	_, events := fx.j.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, cbus.ActionEdit, events[0].Action)
	assert.Equal(t, false, events[0].Payload["is_active"])
	assert.Equal(t, cbus.ChangeEvent{Kind: cbus.KindService, Action: cbus.ActionDelete, Payload: map[string]any{"id": int64(8)}}, events[1])
}

func TestServiceInvoke(t *testing.T) {
	fx := newFixture(t, admin.Config{})
	ctx := t.Context()

	res, err := fx.facade.ServiceInvoke(ctx, admin.ServiceInvoke{ID: 5, Payload: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Response)
	assert.NotEmpty(t, res.CorrelationID)

	res, err = fx.facade.ServiceInvoke(ctx, admin.ServiceInvoke{ID: 5, Payload: `{"a": 1}`, DataFormat: "json"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, res.Response)

	res, err = fx.facade.ServiceInvoke(ctx, admin.ServiceInvoke{ID: 5, Payload: "hello", DataFormat: "yaml"})
	require.ErrorIs(t, err, berr.ErrBadRequest)
	assert.Equal(t, admin.InvokeResult{}, res)

	_, err = fx.facade.ServiceInvoke(ctx, admin.ServiceInvoke{ID: 999, Payload: "{", DataFormat: "json"})
	require.ErrorIs(t, err, berr.ErrNotFound)

	_, err = fx.facade.ServiceInvoke(ctx, admin.ServiceInvoke{ID: 7, Payload: ""})
	require.ErrorIs(t, err, berr.ErrNotFound, "internal services are hidden by default")

	_, events := fx.j.snapshot()
	assert.Empty(t, events, "invocations never notify")
}

func TestServiceInvoke_Internal(t *testing.T) {
	fx := newFixture(t, admin.Config{InvokeInternal: true})

	res, err := fx.facade.ServiceInvoke(t.Context(), admin.ServiceInvoke{ID: 7})
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Response)
}

func TestServiceGetDeploymentInfoList(t *testing.T) {
	fx := newFixture(t, admin.Config{})
	ctx := t.Context()

	rows, err := fx.facade.ServiceGetDeploymentInfoList(ctx, admin.ServiceGetDeploymentInfoList{ID: 5})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "server1", rows[0].ServerName)
	assert.Equal(t, int64(1), rows[0].ServerID)
	assert.Contains(t, rows[0].Details, "fs_location")
	assert.Equal(t, "server2", rows[1].ServerName)

	undeployed, err := fx.facade.ServiceGetDeploymentInfoList(ctx, admin.ServiceGetDeploymentInfoList{ID: 8})
	require.NoError(t, err)
	assert.Empty(t, undeployed)
}

func TestServiceGetChannelList(t *testing.T) {
	fx := newFixture(t, admin.Config{})
	ctx := t.Context()

	soap, err := fx.facade.ServiceGetChannelList(ctx, admin.ServiceGetChannelList{ID: 5, ChannelType: "soap"})
	require.NoError(t, err)
	assert.Equal(t, []catalog.Channel{{ID: 2, Name: "echo.soap"}}, soap)

	plain, err := fx.facade.ServiceGetChannelList(ctx, admin.ServiceGetChannelList{ID: 5, ChannelType: "plain_http"})
	require.NoError(t, err)
	assert.Equal(t, []catalog.Channel{{ID: 1, Name: "echo.plain"}}, plain)

	amqp, err := fx.facade.ServiceGetChannelList(ctx, admin.ServiceGetChannelList{ID: 5, ChannelType: "amqp"})
	require.NoError(t, err)
	assert.Equal(t, []catalog.Channel{{ID: 3, Name: "echo.amqp"}}, amqp)

	zmq, err := fx.facade.ServiceGetChannelList(ctx, admin.ServiceGetChannelList{ID: 5, ChannelType: "zmq"})
	require.NoError(t, err)
	assert.NotNil(t, zmq)
	assert.Empty(t, zmq)

	_, err = fx.facade.ServiceGetChannelList(ctx, admin.ServiceGetChannelList{ID: 5, ChannelType: "ftp"})
	assert.ErrorIs(t, err, berr.ErrBadRequest)
}

func TestServiceGetWSDL(t *testing.T) {
	fx := newFixture(t, admin.Config{},
		sqlite.ServiceFixture{ID: 21, ClusterID: 1, Name: "demo.odd", ImplName: invoke.ImplEcho, WSDL: "<x/>", WSDLName: "odd.zz-unknown"})
	ctx := t.Context()

	att, err := fx.facade.ServiceGetWSDL(ctx, admin.ServiceGetWSDL{Name: "demo.echo"})
	require.NoError(t, err)
	assert.Equal(t, []byte("<definitions/>"), att.Content)
	assert.Equal(t, "attachment; filename=demo.echo.wsdl", att.ContentDisposition)

	want := mime.TypeByExtension(".wsdl")
	if want == "" {
		want = "application/octet-stream"
	}

	assert.Equal(t, want, att.ContentType)

	odd, err := fx.facade.ServiceGetWSDL(ctx, admin.ServiceGetWSDL{Name: "demo.odd"})
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", odd.ContentType)

	_, err = fx.facade.ServiceGetWSDL(ctx, admin.ServiceGetWSDL{Name: "demo.undeployed"})
	assert.ErrorIs(t, err, berr.ErrNotFound, "no WSDL uploaded")

	_, err = fx.facade.ServiceGetWSDL(ctx, admin.ServiceGetWSDL{Name: "missing"})
	assert.ErrorIs(t, err, berr.ErrNotFound)

	_, err = fx.facade.ServiceGetWSDL(ctx, admin.ServiceGetWSDL{})
	assert.ErrorIs(t, err, berr.ErrBadRequest)
}
