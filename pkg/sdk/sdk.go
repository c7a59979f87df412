package sdk

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Module is the code a module ships. Initialize runs once per enable,
// Cleanup once per disable (or when an enable attempt is unwound).
type Module interface {
	Initialize(ctx *Context) error
	Cleanup(ctx *Context) error
}

// HandlerRef identifies a route handler: the value declared in the manifest
// and the absolute path it resolves to inside the install directory.
type HandlerRef struct {
	Declared string
	Path     string
}

// HandlerProvider is implemented by modules that serve their own route handlers
type HandlerProvider interface {
	Handler(ref HandlerRef) (http.Handler, error)
}

// Resolver loads module code. Both paths are absolute.
type Resolver interface {
	Resolve(ctx context.Context, entryPath string) (Module, error)
	ResolveHandler(ctx context.Context, handlerPath string) (http.Handler, error)
}

// ErrNotResolvable is returned by a Resolver that does not handle a path
var ErrNotResolvable = errors.New("path cannot be resolved by this loader")

// DB is the database handle handed to modules. *sql.DB satisfies it.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// HTTPClient performs outbound HTTP requests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Notification is a message sent through the host's notification service
type Notification struct {
	Channel  string            `json:"channel"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Automation runs a named task in the host's automation engine
type Automation interface {
	Run(ctx context.Context, task string, input map[string]interface{}) (map[string]interface{}, error)
}

// Files is module-scoped file storage. Keys are relative to the module's area.
type Files interface {
	Put(ctx context.Context, key string, body io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Capabilities are the optional host services exposed to a module. A nil
// field means the capability is not available to it.
type Capabilities struct {
	HTTP       HTTPClient
	Notifier   Notifier
	Automation Automation
	Files      Files
}

// Context is everything a module receives from the host
type Context struct {
	Logger       logrus.FieldLogger
	DB           DB
	Name         string
	Version      string
	Settings     map[string]interface{}
	Capabilities Capabilities
}

// Setting returns the default of a declared setting
func (c *Context) Setting(key string) (interface{}, bool) {
	v, ok := c.Settings[key]
	return v, ok
}

// Funcs adapts plain functions to Module. Nil functions are no-ops.
type Funcs struct {
	InitializeFunc func(ctx *Context) error
	CleanupFunc    func(ctx *Context) error
}

// Initialize implements Module
func (f Funcs) Initialize(ctx *Context) error {
	if f.InitializeFunc == nil {
		return nil
	}
	return f.InitializeFunc(ctx)
}

// Cleanup implements Module
func (f Funcs) Cleanup(ctx *Context) error {
	if f.CleanupFunc == nil {
		return nil
	}
	return f.CleanupFunc(ctx)
}

// Noop is the module used when a manifest declares no entry
var Noop Module = Funcs{}
