package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/modhost/pkg/api"
	"github.com/platinummonkey/modhost/pkg/audit"
)

// APIError is a non-2xx answer from the admin API
type APIError struct {
	Status  int
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin API returned %d: %s", e.Status, e.Message)
}

// Client calls a host's admin API
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the host at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + api.Prefix,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// List returns every registered module
func (c *Client) List(ctx context.Context) ([]api.Module, error) {
	var out struct {
		Modules []api.Module `json:"modules"`
	}
	if err := c.do(ctx, http.MethodGet, "/modules", nil, &out); err != nil {
		return nil, err
	}
	return out.Modules, nil
}

// Get returns one module including its stored manifest
func (c *Client) Get(ctx context.Context, name string) (*api.Module, error) {
	var out api.Module
	if err := c.do(ctx, http.MethodGet, "/modules/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register registers the module in installDir on the host
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (*api.Module, error) {
	var out api.Module
	if err := c.do(ctx, http.MethodPost, "/modules", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit starts a lifecycle command; update carries the new manifest for update
func (c *Client) Submit(ctx context.Context, name, command string, update *api.UpdateRequest) (*api.Accepted, error) {
	var body interface{}
	if update != nil {
		body = update
	}
	var out api.Accepted
	if err := c.do(ctx, http.MethodPost, "/modules/"+url.PathEscape(name)+"/"+command, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events reads the audit trail, scoped to module when it is not empty
func (c *Client) Events(ctx context.Context, module string, filter url.Values) ([]audit.Event, error) {
	path := "/events"
	if module != "" {
		path = "/modules/" + url.PathEscape(module) + "/events"
	}
	if len(filter) > 0 {
		path += "?" + filter.Encode()
	}
	var out struct {
		Events []audit.Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach admin API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string          `json:"error"`
			Details json.RawMessage `json:"details"`
		}
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error, Details: apiErr.Details}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
