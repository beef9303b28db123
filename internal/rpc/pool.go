package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DegrassiAaron/mcpcode/internal/catalog"
	"github.com/DegrassiAaron/mcpcode/internal/config"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

// respawnBackoff is the pause before the single spawn retry.
const respawnBackoff = 200 * time.Millisecond

// Transport is one live server connection, stdio or HTTP.
type Transport interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	CallTool(ctx context.Context, tool string, args map[string]any) (any, error)
	ListTools(ctx context.Context) ([]catalog.Descriptor, error)
	Close(ctx context.Context) error
	Alive() bool
}

// Pool owns the server connections for one engine instance, keyed by name
// and opened lazily on first use. A dead connection is replaced on the next
// call; it is never resurrected in place.
type Pool struct {
	servers     map[string]config.ServerSpec
	network     config.NetworkPolicy
	logger      *zap.Logger
	callTimeout time.Duration

	mu    sync.Mutex
	conns map[string]Transport
}

// NewPool builds a pool over the registered servers.
func NewPool(servers map[string]config.ServerSpec, network config.NetworkPolicy, logger *zap.Logger, callTimeout time.Duration) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		servers:     servers,
		network:     network,
		logger:      logger,
		callTimeout: callTimeout,
		conns:       map[string]Transport{},
	}
}

// AddServer registers a server at runtime and spawns it immediately.
func (p *Pool) AddServer(name string, spec config.ServerSpec) (Transport, error) {
	p.mu.Lock()
	if p.servers == nil {
		p.servers = map[string]config.ServerSpec{}
	}
	p.servers[name] = spec
	p.mu.Unlock()
	return p.connect(name)
}

func (p *Pool) connect(name string) (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[name]; ok && conn.Alive() {
		return conn, nil
	}
	spec, ok := p.servers[name]
	if !ok {
		return nil, errdefs.Newf(errdefs.ConfigError, "unknown server %q", name)
	}

	var conn Transport
	var err error
	switch {
	case spec.IsStdio():
		conn, err = dial(name, spec, p.logger, p.callTimeout)
		if err != nil {
			// One retry with backoff covers transient spawn failures.
			time.Sleep(respawnBackoff)
			conn, err = dial(name, spec, p.logger, p.callTimeout)
		}
	case spec.IsHTTP():
		conn, err = dialHTTP(name, spec, p.network, p.logger)
	default:
		return nil, errdefs.Newf(errdefs.ConfigError, "server %q has neither command nor url", name)
	}
	if err != nil {
		return nil, err
	}
	p.conns[name] = conn
	return conn, nil
}

// Get returns a live connection for the named server, spawning if needed.
func (p *Pool) Get(name string) (Transport, error) {
	return p.connect(name)
}

// CallTool routes a dispatcher invocation by fully qualified tool name
// ("server.tool") to the owning server.
func (p *Pool) CallTool(ctx context.Context, fqn string, args map[string]any) (any, error) {
	server, tool, ok := strings.Cut(fqn, ".")
	if !ok {
		return nil, errdefs.Newf(errdefs.TransportError, "tool name %q is not server-qualified", fqn)
	}
	conn, err := p.connect(server)
	if err != nil {
		return nil, err
	}
	return conn.CallTool(ctx, tool, args)
}

// Disconnect tears down one connection. Pending waiters reject with
// Cancelled.
func (p *Pool) Disconnect(ctx context.Context, name string) error {
	p.mu.Lock()
	conn, ok := p.conns[name]
	delete(p.conns, name)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.Close(ctx)
}

// DisconnectAll tears down every connection concurrently.
func (p *Pool) DisconnectAll(ctx context.Context) error {
	p.mu.Lock()
	conns := p.conns
	p.conns = map[string]Transport{}
	p.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for name, conn := range conns {
		g.Go(func() error {
			if err := conn.Close(ctx); err != nil {
				p.logger.Warn("server teardown failed", zap.String("server", name), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}
