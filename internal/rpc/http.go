package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/DegrassiAaron/mcpcode/internal/catalog"
	"github.com/DegrassiAaron/mcpcode/internal/config"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

// httpConn posts one JSON-RPC object per request to a remote server URL.
// Unlike stdio connections there is no long-lived process; liveness is
// assumed until a request fails.
type httpConn struct {
	name   string
	url    string
	client *retryablehttp.Client
	logger *zap.Logger

	mu     sync.Mutex
	nextID uint64
	closed bool
}

// dialHTTP validates the server URL against the network policy before any
// request leaves the host. Mode off refuses HTTP transports outright.
func dialHTTP(name string, spec config.ServerSpec, policy config.NetworkPolicy, logger *zap.Logger) (*httpConn, error) {
	parsed, err := url.Parse(spec.URL)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ConfigError, "invalid server url", err)
	}
	if policy.Mode == config.NetworkOff {
		return nil, errdefs.Newf(errdefs.TransportError,
			"network policy is off; HTTP server %s is unreachable", name)
	}
	if !policy.Allows(parsed.Hostname()) {
		return nil, errdefs.Newf(errdefs.TransportError,
			"host %s is not in the network allowlist", parsed.Hostname())
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	return &httpConn{name: name, url: spec.URL, client: client, logger: logger}, nil
}

func (c *httpConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *httpConn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errdefs.Newf(errdefs.TransportError, "server %s connection closed", c.name)
	}
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	payload, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.Internal, "encoding request", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.TransportError, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errdefs.Wrap(errdefs.Cancelled, "request cancelled", ctx.Err())
		}
		return nil, errdefs.Wrap(errdefs.TransportError, "posting request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, errdefs.Newf(errdefs.TransportError, "server %s returned status %d", c.name, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.TransportError, "reading response", err)
	}
	var decoded response
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, errdefs.Wrap(errdefs.TransportError, "decoding response", err)
	}
	if decoded.ID != id {
		return nil, errdefs.Newf(errdefs.TransportError, "response id %d does not match request %d", decoded.ID, id)
	}
	if decoded.Error != nil {
		return nil, toolError(decoded.Error)
	}
	return decoded.Result, nil
}

func (c *httpConn) CallTool(ctx context.Context, tool string, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.Call(ctx, "tools/call", map[string]any{"name": tool, "arguments": args})
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, errdefs.Wrap(errdefs.TransportError, "decoding tools/call result", err)
	}
	return value, nil
}

func (c *httpConn) ListTools(ctx context.Context) ([]catalog.Descriptor, error) {
	raw, err := c.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tools []catalog.Descriptor `json:"tools"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errdefs.Wrap(errdefs.TransportError, "decoding tools/list result", err)
	}
	for i := range payload.Tools {
		payload.Tools[i].Server = c.name
		payload.Tools[i].ContentHash = payload.Tools[i].Hash()
	}
	return payload.Tools, nil
}

func (c *httpConn) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.client.HTTPClient.CloseIdleConnections()
	return nil
}
