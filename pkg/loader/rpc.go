package loader

import (
	"net/http"
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// Handshake must match between the host and a module process
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MODHOST_MODULE",
	MagicCookieValue: "b4a7c1e0-modhost",
}

const pluginName = "module"

// InitRequest is what a module process receives on Initialize. Settings are
// JSON encoded.
type InitRequest struct {
	Name     string
	Version  string
	Settings []byte
}

// HTTPRequest is a route request forwarded to a module process
type HTTPRequest struct {
	Handler string
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
}

// HTTPResponse is a module process's reply to an HTTPRequest
type HTTPResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// RemoteModule is implemented by module processes
type RemoteModule interface {
	Initialize(req InitRequest) error
	Cleanup() error
	Handle(req HTTPRequest) (HTTPResponse, error)
}

// Serve runs a module process. Call it from the module binary's main.
func Serve(impl RemoteModule) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap(impl),
	})
}

// PluginMap is the go-plugin set for impl; nil on the host side
func PluginMap(impl RemoteModule) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{pluginName: &modulePlugin{impl: impl}}
}

type modulePlugin struct {
	impl RemoteModule
}

func (p *modulePlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &rpcServer{impl: p.impl}, nil
}

func (p *modulePlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &rpcClient{client: c}, nil
}

type rpcServer struct {
	impl RemoteModule
}

func (s *rpcServer) Initialize(req InitRequest, _ *interface{}) error {
	return s.impl.Initialize(req)
}

func (s *rpcServer) Cleanup(_ interface{}, _ *interface{}) error {
	return s.impl.Cleanup()
}

func (s *rpcServer) Handle(req HTTPRequest, resp *HTTPResponse) error {
	out, err := s.impl.Handle(req)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

// rpcClient is the host side of RemoteModule
type rpcClient struct {
	client *rpc.Client
}

func (c *rpcClient) Initialize(req InitRequest) error {
	var resp interface{}
	return c.client.Call("Plugin.Initialize", req, &resp)
}

func (c *rpcClient) Cleanup() error {
	var resp interface{}
	return c.client.Call("Plugin.Cleanup", new(interface{}), &resp)
}

func (c *rpcClient) Handle(req HTTPRequest) (HTTPResponse, error) {
	var resp HTTPResponse
	err := c.client.Call("Plugin.Handle", req, &resp)
	return resp, err
}
