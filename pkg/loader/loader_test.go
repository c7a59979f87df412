package loader

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"testing"

	goplugin "github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/modhost/pkg/sdk"
)

func text(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func body(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec.Body.String()
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := NewStatic()
	built := 0
	s.AddModule("billing-sync/dist/index", func() sdk.Module {
		built++
		return sdk.Funcs{}
	})
	s.AddHandler("handlers/list", text("generic"))
	s.AddHandler("billing-sync/handlers/list", text("billing"))

	_, err := s.Resolve(ctx, "/opt/modules/billing-sync/dist/index")
	require.NoError(t, err)
	_, err = s.Resolve(ctx, "/srv/billing-sync/dist/index")
	require.NoError(t, err)
	assert.Equal(t, 2, built, "every resolve builds a fresh module")

	_, err = s.Resolve(ctx, "/opt/modules/other-billing-sync/dist/index")
	assert.ErrorIs(t, err, sdk.ErrNotResolvable)

	h, err := s.ResolveHandler(ctx, "/opt/modules/billing-sync/handlers/list")
	require.NoError(t, err)
	assert.Equal(t, "billing", body(t, h))

	h, err = s.ResolveHandler(ctx, "/opt/modules/reports/handlers/list")
	require.NoError(t, err)
	assert.Equal(t, "generic", body(t, h))
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	s := NewStatic()
	s.AddModule("reports/main", func() sdk.Module { return sdk.Noop })
	chain := Chain{NewSharedObject(), s}

	m, err := chain.Resolve(ctx, "/opt/modules/reports/main")
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = chain.Resolve(ctx, "/opt/modules/unknown/main")
	assert.ErrorIs(t, err, sdk.ErrNotResolvable)

	_, err = chain.ResolveHandler(ctx, "/opt/modules/unknown/handler")
	assert.ErrorIs(t, err, sdk.ErrNotResolvable)

	// A real failure stops the chain
	_, err = chain.Resolve(ctx, filepath.Join(t.TempDir(), "missing.so"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, sdk.ErrNotResolvable)
}

type fakeObject map[string]plugin.Symbol

func (f fakeObject) Lookup(name string) (plugin.Symbol, error) {
	if sym, ok := f[name]; ok {
		return sym, nil
	}
	return nil, errors.New("symbol " + name + " not found")
}

func TestSharedObject(t *testing.T) {
	ctx := context.Background()
	var exported http.Handler = text("from plugin")
	objects := map[string]fakeObject{
		"/m/entry.so":     {ModuleSymbol: func() sdk.Module { return sdk.Noop }},
		"/m/failing.so":   {ModuleSymbol: func() (sdk.Module, error) { return nil, errors.New("bad config") }},
		"/m/wrong.so":     {ModuleSymbol: "not a function"},
		"/m/handler.so":   {HandlerSymbol: &exported},
		"/m/handlerfn.so": {HandlerSymbol: func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "fn") }},
	}
	so := NewSharedObject()
	so.open = func(path string) (symbolTable, error) {
		obj, ok := objects[path]
		if !ok {
			return nil, os.ErrNotExist
		}
		return obj, nil
	}

	_, err := so.Resolve(ctx, "/m/entry")
	assert.ErrorIs(t, err, sdk.ErrNotResolvable)

	m, err := so.Resolve(ctx, "/m/entry.so")
	require.NoError(t, err)
	assert.Equal(t, sdk.Noop, m)

	_, err = so.Resolve(ctx, "/m/failing.so")
	assert.ErrorContains(t, err, "bad config")
	_, err = so.Resolve(ctx, "/m/wrong.so")
	assert.ErrorContains(t, err, "unsupported type")
	_, err = so.Resolve(ctx, "/m/handler.so")
	assert.ErrorContains(t, err, "missing NewModule symbol")
	_, err = so.Resolve(ctx, "/m/absent.so")
	assert.ErrorIs(t, err, os.ErrNotExist)

	h, err := so.ResolveHandler(ctx, "/m/handler.so")
	require.NoError(t, err)
	assert.Equal(t, "from plugin", body(t, h))

	h, err = so.ResolveHandler(ctx, "/m/handlerfn.so")
	require.NoError(t, err)
	assert.Equal(t, "fn", body(t, h))
}

func TestProcess_SkipsNonExecutables(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	script := filepath.Join(dir, "index.js")
	require.NoError(t, os.WriteFile(script, []byte("module.exports = {}"), 0o644))

	p := NewProcess(ProcessConfig{})
	_, err := p.Resolve(ctx, script)
	assert.ErrorIs(t, err, sdk.ErrNotResolvable)
	_, err = p.Resolve(ctx, dir)
	assert.ErrorIs(t, err, sdk.ErrNotResolvable)
	_, err = p.Resolve(ctx, filepath.Join(dir, "module.so"))
	assert.ErrorIs(t, err, sdk.ErrNotResolvable)

	_, err = p.Resolve(ctx, filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = p.ResolveHandler(ctx, script)
	assert.ErrorIs(t, err, sdk.ErrNotResolvable)
}

type echoModule struct {
	greeting string
	cleaned  bool
}

func (e *echoModule) Initialize(req InitRequest) error {
	var settings map[string]interface{}
	if err := json.Unmarshal(req.Settings, &settings); err != nil {
		return err
	}
	e.greeting, _ = settings["greeting"].(string)
	return nil
}

func (e *echoModule) Cleanup() error {
	e.cleaned = true
	return nil
}

func (e *echoModule) Handle(req HTTPRequest) (HTTPResponse, error) {
	if req.Handler == "handlers/fail" {
		return HTTPResponse{}, errors.New("handler crashed")
	}
	return HTTPResponse{
		Status: http.StatusCreated,
		Header: http.Header{"X-Handler": []string{req.Handler}},
		Body:   []byte(e.greeting + " " + req.Method + " " + string(req.Body)),
	}, nil
}

func TestRemoteModule_OverRPC(t *testing.T) {
	impl := &echoModule{}
	client, _ := goplugin.TestPluginRPCConn(t, PluginMap(impl), nil)
	defer client.Close()

	raw, err := client.Dispense(pluginName)
	require.NoError(t, err)
	killed := false
	mod := newRemote(raw.(RemoteModule), func() { killed = true }, 1024)

	require.NoError(t, mod.Initialize(&sdk.Context{
		Name:     "echo",
		Version:  "1.0.0",
		Settings: map[string]interface{}{"greeting": "hello"},
	}))

	h, err := mod.Handler(sdk.HandlerRef{Declared: "handlers/echo", Path: "/opt/modules/echo/handlers/echo"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/modules/echo/say", strings.NewReader("world")))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "handlers/echo", rec.Header().Get("X-Handler"))
	assert.Equal(t, "hello POST world", rec.Body.String())

	h, err = mod.Handler(sdk.HandlerRef{Declared: "handlers/fail"})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/modules/echo/fail", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "handler crashed")

	require.NoError(t, mod.Cleanup(&sdk.Context{Name: "echo"}))
	assert.True(t, impl.cleaned)
	assert.True(t, killed)
}
