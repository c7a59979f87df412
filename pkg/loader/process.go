package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/platinummonkey/modhost/pkg/httputil"
	"github.com/platinummonkey/modhost/pkg/sdk"
)

const defaultMaxBodyBytes = 10 << 20

// ProcessConfig configures the process resolver
type ProcessConfig struct {
	Logger       hclog.Logger
	StartTimeout time.Duration
	// MaxBodyBytes caps request bodies forwarded to a module process
	MaxBodyBytes int64
	// Env is appended to the host environment of every module process
	Env []string
}

// Process runs executable entries as go-plugin child processes. The module
// process only receives its name, version and settings; database handles
// and capabilities stay in the host.
type Process struct {
	cfg ProcessConfig
}

// NewProcess creates a process resolver
func NewProcess(cfg ProcessConfig) *Process {
	if cfg.Logger == nil {
		cfg.Logger = hclog.New(&hclog.LoggerOptions{Name: "modhost-loader", Level: hclog.Info})
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Process{cfg: cfg}
}

// Resolve implements sdk.Resolver
func (p *Process) Resolve(ctx context.Context, entryPath string) (sdk.Module, error) {
	if filepath.Ext(entryPath) == SharedObjectExt {
		return nil, sdk.ErrNotResolvable
	}
	info, err := os.Stat(entryPath)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", entryPath, err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return nil, sdk.ErrNotResolvable
	}

	cmd := exec.Command(entryPath)
	cmd.Dir = filepath.Dir(entryPath)
	cmd.Env = append(os.Environ(), p.cfg.Env...)

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap(nil),
		Cmd:              cmd,
		Logger:           p.cfg.Logger.Named(filepath.Base(entryPath)),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		StartTimeout:     p.cfg.StartTimeout,
		Managed:          true,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to module process: %w", err)
	}
	raw, err := rpcClient.Dispense(pluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense module: %w", err)
	}
	remote, ok := raw.(RemoteModule)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("module process returned %T", raw)
	}

	return newRemote(remote, client.Kill, p.cfg.MaxBodyBytes), nil
}

// ResolveHandler implements sdk.Resolver. Process modules serve their own
// handlers through sdk.HandlerProvider.
func (p *Process) ResolveHandler(ctx context.Context, handlerPath string) (http.Handler, error) {
	return nil, sdk.ErrNotResolvable
}

// Close kills every module process still running
func (p *Process) Close() {
	plugin.CleanupClients()
}

// remote adapts a RemoteModule to sdk.Module and sdk.HandlerProvider
type remote struct {
	impl    RemoteModule
	kill    func()
	maxBody int64
}

func newRemote(impl RemoteModule, kill func(), maxBody int64) *remote {
	if kill == nil {
		kill = func() {}
	}
	return &remote{impl: impl, kill: kill, maxBody: maxBody}
}

func (r *remote) Initialize(ctx *sdk.Context) error {
	settings, err := json.Marshal(ctx.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return r.impl.Initialize(InitRequest{Name: ctx.Name, Version: ctx.Version, Settings: settings})
}

func (r *remote) Cleanup(ctx *sdk.Context) error {
	defer r.kill()
	return r.impl.Cleanup()
}

func (r *remote) Handler(ref sdk.HandlerRef) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, r.maxBody))
		if err != nil {
			httputil.WriteBadRequest(w, "failed to read request body")
			return
		}
		resp, err := r.impl.Handle(HTTPRequest{
			Handler: ref.Declared,
			Method:  req.Method,
			URL:     req.URL.String(),
			Header:  req.Header.Clone(),
			Body:    body,
		})
		if err != nil {
			httputil.WriteErrorMessage(w, http.StatusBadGateway, err.Error())
			return
		}

		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write(resp.Body)
	}), nil
}
