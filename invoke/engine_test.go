package invoke_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/next-trace/scg-service-admin/catalog/sqlite"
	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
	"github.com/next-trace/scg-service-admin/invoke"
	"github.com/next-trace/scg-service-admin/registry"
)

func inactive() *bool { b := false; return &b }

func newEngine(t *testing.T, opts ...invoke.Option) (*invoke.Engine, *registry.Registry) {
	t.Helper()

	store, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Seed(t.Context(), sqlite.Fixtures{
		Clusters: []sqlite.ClusterFixture{{ID: 1, Name: "c1"}},
		Services: []sqlite.ServiceFixture{
			{ID: 1, ClusterID: 1, Name: "echo", ImplName: invoke.ImplEcho},
			{ID: 2, ClusterID: 1, Name: "ping", ImplName: invoke.ImplPing, IsInternal: true},
			{ID: 3, ClusterID: 1, Name: "off", ImplName: invoke.ImplEcho, IsActive: inactive()},
			{ID: 4, ClusterID: 1, Name: "boom", ImplName: "test.boom"},
			{ID: 5, ClusterID: 1, Name: "fail", ImplName: "test.fail"},
			{ID: 6, ClusterID: 1, Name: "ghost", ImplName: "test.ghost"},
			{ID: 7, ClusterID: 1, Name: "struct", ImplName: "test.struct"},
			{ID: 8, ClusterID: 1, Name: "reader", ImplName: "test.reader"},
			{ID: 9, ClusterID: 1, Name: "capture", ImplName: "test.capture"},
		},
	}))

	reg := registry.New(store, 1, nil)
	require.NoError(t, invoke.RegisterBuiltins(reg))
	require.NoError(t, reg.Register("test.boom", func() cbus.Invocable {
		return cbus.InvocableFunc(func(context.Context, cbus.Request) (any, error) { panic("kaboom") })
	}))
	require.NoError(t, reg.Register("test.fail", func() cbus.Invocable {
		return cbus.InvocableFunc(func(context.Context, cbus.Request) (any, error) {
			return nil, errors.New("downstream unavailable")
		})
	}))
	require.NoError(t, reg.Register("test.struct", func() cbus.Invocable {
		return cbus.InvocableFunc(func(context.Context, cbus.Request) (any, error) {
			return struct {
				Status string `json:"status"`
			}{Status: "ok"}, nil
		})
	}))
	require.NoError(t, reg.Register("test.reader", func() cbus.Invocable {
		return cbus.InvocableFunc(func(context.Context, cbus.Request) (any, error) {
			return strings.NewReader("stream"), nil
		})
	}))

	return invoke.New(reg, nil, opts...), reg
}

func TestInvoke_TextEcho(t *testing.T) {
	e, _ := newEngine(t)

	out, err := e.Invoke(t.Context(), invoke.Input{Service: "echo", Payload: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Response)
	assert.Equal(t, "echo", out.Service)
	assert.NotEmpty(t, out.CorrelationID)
}

func TestInvoke_JSONRoundTrip(t *testing.T) {
	e, _ := newEngine(t)

	out, err := e.Invoke(t.Context(), invoke.Input{Service: "1", Payload: []byte(`{"a":1}`), DataFormat: cbus.FormatJSON})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(out.Response.([]byte)))
}

func TestInvoke_StructOutputEncodedWithRequestCodec(t *testing.T) {
	e, _ := newEngine(t)

	out, err := e.Invoke(t.Context(), invoke.Input{Service: "struct", DataFormat: cbus.FormatJSON})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(out.Response.([]byte)))
}

func TestInvoke_PassThroughOutputs(t *testing.T) {
	e, _ := newEngine(t)

	out, err := e.Invoke(t.Context(), invoke.Input{Service: "reader", DataFormat: cbus.FormatJSON})
	require.NoError(t, err)

	r, ok := out.Response.(io.Reader)
	require.True(t, ok, "readers are not encoded")

	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "stream", string(b))

	out, err = e.Invoke(t.Context(), invoke.Input{Service: "echo", DataFormat: cbus.FormatJSON})
	require.NoError(t, err)
	assert.Nil(t, out.Response, "empty JSON payload decodes to nil")
}

func TestInvoke_NotFoundBeforeDecoding(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.Invoke(t.Context(), invoke.Input{Service: "999", Payload: []byte("{not json"), DataFormat: cbus.FormatJSON})
	assert.ErrorIs(t, err, berr.ErrNotFound)

	var de *berr.DecodeError
	assert.False(t, errors.As(err, &de))

	_, err = e.Invoke(t.Context(), invoke.Input{Service: "off"})
	assert.ErrorIs(t, err, berr.ErrNotFound)
}

func TestInvoke_InternalRequiresOptIn(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.Invoke(t.Context(), invoke.Input{Service: "ping"})
	assert.ErrorIs(t, err, berr.ErrNotFound)

	out, err := e.Invoke(t.Context(), invoke.Input{Service: "ping", Internal: true})
	require.NoError(t, err)
	assert.Equal(t, "pong", out.Response)
}

func TestInvoke_UnsupportedFormatIsBadRequest(t *testing.T) {
	e, _ := newEngine(t)

	out, err := e.Invoke(t.Context(), invoke.Input{Service: "echo", Payload: []byte("x"), DataFormat: "yaml"})
	assert.ErrorIs(t, err, berr.ErrBadRequest)
	assert.Nil(t, out.Response)

	_, err = e.Invoke(t.Context(), invoke.Input{Service: "echo", Transport: "carrier-pigeon"})
	assert.ErrorIs(t, err, berr.ErrBadRequest)
}

func TestInvoke_DecodeErrorKeepsPayload(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.Invoke(t.Context(), invoke.Input{Service: "echo", Payload: []byte("{oops"), DataFormat: cbus.FormatJSON})

	var de *berr.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "json", de.Format)
	assert.Equal(t, []byte("{oops"), de.Payload)
	assert.ErrorIs(t, err, berr.ErrBadRequest)
}

func TestInvoke_SOAPUnwrapsBody(t *testing.T) {
	e, _ := newEngine(t)

	envelope := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<soap:Body><getUser><id>7</id></getUser></soap:Body></soap:Envelope>`

	out, err := e.Invoke(t.Context(), invoke.Input{
		Service: "echo", Payload: []byte(envelope), DataFormat: cbus.FormatXML, Transport: cbus.TransportSOAP,
	})
	require.NoError(t, err)

	b, ok := out.Response.([]byte)
	require.True(t, ok, "element trees are encoded with the xml codec")
	assert.Contains(t, string(b), "<getUser>")
	assert.NotContains(t, string(b), "Envelope")

	plain, err := e.Invoke(t.Context(), invoke.Input{Service: "echo", Payload: []byte(envelope), DataFormat: cbus.FormatXML})
	require.NoError(t, err)
	assert.Contains(t, string(plain.Response.([]byte)), "Envelope", "only the soap transport unwraps")

	_, err = e.Invoke(t.Context(), invoke.Input{
		Service: "echo", Payload: []byte(`<a/>`), DataFormat: cbus.FormatXML, Transport: cbus.TransportSOAP,
	})
	assert.ErrorIs(t, err, berr.ErrBadRequest)
}

func TestInvoke_RequestIsFresh(t *testing.T) {
	ids := []string{"cid-1", "cid-2"}
	n := 0
	e, reg := newEngine(t,
		invoke.WithIDGenerator(func() string { n++; return ids[n-1] }),
		invoke.WithSimpleIO(cbus.SimpleIOConfig{IntParams: []string{"id"}}))

	var seen []cbus.Request

	require.NoError(t, reg.Register("test.capture", func() cbus.Invocable {
		return cbus.InvocableFunc(func(_ context.Context, req cbus.Request) (any, error) {
			seen = append(seen, req)
			return nil, nil
		})
	}))

	payload := []byte("a")

	out1, err := e.Invoke(t.Context(), invoke.Input{Service: "capture", Payload: payload})
	require.NoError(t, err)

	payload[0] = 'z'

	out2, err := e.Invoke(t.Context(), invoke.Input{Service: "capture", Payload: []byte("b")})
	require.NoError(t, err)

	assert.Equal(t, "cid-1", out1.CorrelationID)
	assert.Equal(t, "cid-2", out2.CorrelationID)
	require.Len(t, seen, 2)
	assert.Equal(t, "a", seen[0].Payload)
	assert.Equal(t, []byte("a"), seen[0].RawPayload, "raw payload is copied")
	assert.Equal(t, cbus.FormatText, seen[0].DataFormat)
	assert.Equal(t, []string{"id"}, seen[1].SimpleIO.IntParams)
	assert.Equal(t, "capture", seen[1].Service)
}

func TestInvoke_SimpleIOIsNotShared(t *testing.T) {
	e, reg := newEngine(t, invoke.WithSimpleIO(cbus.SimpleIOConfig{IntParams: []string{"id"}}))

	var seen []string

	require.NoError(t, reg.Register("test.capture", func() cbus.Invocable {
		return cbus.InvocableFunc(func(_ context.Context, req cbus.Request) (any, error) {
			seen = append(seen, req.SimpleIO.IntParams[0])
			req.SimpleIO.IntParams[0] = "mutated"

			return nil, nil
		})
	}))

	for range 2 {
		_, err := e.Invoke(t.Context(), invoke.Input{Service: "capture", Payload: []byte("x")})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"id", "id"}, seen)
}

func TestInvoke_FailuresAreInvocationErrors(t *testing.T) {
	e, _ := newEngine(t)

	for _, name := range []string{"boom", "fail"} {
		_, err := e.Invoke(t.Context(), invoke.Input{Service: name})

		var ie *berr.InvocationError
		require.ErrorAs(t, err, &ie, name)
		assert.Equal(t, name, ie.Service)
		assert.ErrorIs(t, err, berr.ErrInvocationFailed)
		assert.Equal(t, 500, berr.Status(err))
	}

	_, err := e.Invoke(t.Context(), invoke.Input{Service: "ghost"})
	assert.ErrorIs(t, err, berr.ErrNotFound, "implementation not deployed")
}

func TestInvoke_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	e, _ := newEngine(t, invoke.WithTracerProvider(tp))

	_, err := e.Invoke(t.Context(), invoke.Input{Service: "echo", Payload: []byte("x")})
	require.NoError(t, err)
	_, err = e.Invoke(t.Context(), invoke.Input{Service: "fail"})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "invoke echo", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "invoke fail", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
