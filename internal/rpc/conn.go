package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DegrassiAaron/mcpcode/internal/catalog"
	"github.com/DegrassiAaron/mcpcode/internal/config"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
	"github.com/DegrassiAaron/mcpcode/internal/util"
)

// Connection states.
const (
	stateInit = iota
	stateStarting
	stateReady
	stateCalling
	stateShuttingDown
	stateClosed
)

// shutdownGrace is how long Close waits for the child after closing stdin.
const shutdownGrace = 2 * time.Second

// maxLineBytes bounds one NDJSON frame from a server.
const maxLineBytes = 8 * 1024 * 1024

type waiter struct {
	ch chan callResult
}

type callResult struct {
	raw json.RawMessage
	err error
}

// Conn is one active stdio tool-server connection. Request ids are unique
// and monotonically increasing for the lifetime of the connection; each id
// resolves exactly once, by response, timeout, or teardown.
type Conn struct {
	name        string
	logger      *zap.Logger
	callTimeout time.Duration

	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex

	mu      sync.Mutex
	state   int
	nextID  uint64
	pending map[uint64]waiter

	done     chan struct{}
	exitOnce sync.Once
	exitErr  error
}

func newConn(name string, logger *zap.Logger, callTimeout time.Duration) *Conn {
	if callTimeout <= 0 {
		callTimeout = config.DefaultCallTimeout
	}
	return &Conn{
		name:        name,
		logger:      logger,
		callTimeout: callTimeout,
		state:       stateInit,
		pending:     map[uint64]waiter{},
		done:        make(chan struct{}),
	}
}

// dial spawns the server child and wires its stdio. The child environment is
// exactly the server spec's env block; nothing ambient leaks in.
func dial(name string, spec config.ServerSpec, logger *zap.Logger, callTimeout time.Duration) (*Conn, error) {
	c := newConn(name, logger, callTimeout)
	c.state = stateStarting

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = envList(spec.ExpandedEnv())
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.TransportError, "opening stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.TransportError, "opening stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.TransportError, "opening stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errdefs.Wrap(errdefs.TransportError, "spawning tool server", err)
	}
	c.cmd = cmd
	c.stdin = stdin
	c.setState(stateReady)

	go c.readLoop(stdout)
	go c.stderrLoop(stderr)
	go func() {
		err := cmd.Wait()
		c.markExited(err)
	}()
	return c, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func (c *Conn) setState(s int) {
	c.mu.Lock()
	if c.state != stateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

// Alive reports whether the connection can still carry requests.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateReady || c.state == stateCalling
}

// readLoop consumes NDJSON frames from the server. A line that does not
// parse as a complete JSON object is dropped; framing never resynchronizes
// on partial lines.
func (c *Conn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("malformed frame from server, skipping",
				zap.String("server", c.name), zap.Error(err))
			continue
		}
		c.dispatch(resp)
	}
	c.markExited(errors.New("stdout closed"))
}

func (c *Conn) dispatch(resp response) {
	c.mu.Lock()
	w, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	if len(c.pending) == 0 && c.state == stateCalling {
		c.state = stateReady
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("late or unknown response id, dropping",
			zap.String("server", c.name), zap.Uint64("id", resp.ID))
		return
	}
	if resp.Error != nil {
		w.ch <- callResult{err: toolError(resp.Error)}
		return
	}
	w.ch <- callResult{raw: resp.Result}
}

// stderrLoop captures server stderr line-wise into the structured log,
// with secret shapes scrubbed first.
func (c *Conn) stderrLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.logger.Info("server stderr",
			zap.String("server", c.name),
			zap.String("line", util.RedactSecrets(scanner.Text())))
	}
}

func (c *Conn) markExited(cause error) {
	c.exitOnce.Do(func() {
		c.mu.Lock()
		wasShuttingDown := c.state == stateShuttingDown
		c.state = stateClosed
		orphaned := c.pending
		c.pending = map[uint64]waiter{}
		c.mu.Unlock()

		kind := errdefs.ServerExited
		if wasShuttingDown {
			kind = errdefs.Cancelled
		}
		for id, w := range orphaned {
			w.ch <- callResult{err: errdefs.Newf(kind, "server %s: request %d abandoned", c.name, id)}
		}
		c.exitErr = cause
		close(c.done)
	})
}

// Call sends one request and waits for its correlated response. Timeouts
// remove the id from pending; a reply arriving later is dropped with a
// warning by the read loop.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != stateReady && c.state != stateCalling {
		c.mu.Unlock()
		return nil, errdefs.Newf(errdefs.ServerExited, "server %s is not running", c.name)
	}
	c.nextID++
	id := c.nextID
	w := waiter{ch: make(chan callResult, 1)}
	c.pending[id] = w
	c.state = stateCalling
	c.mu.Unlock()

	line, err := encodeLine(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		c.abandon(id)
		return nil, err
	}
	c.writeMu.Lock()
	_, err = c.stdin.Write(line)
	c.writeMu.Unlock()
	if err != nil {
		c.abandon(id)
		return nil, errdefs.Wrap(errdefs.TransportError, "writing request", err)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()
	select {
	case res := <-w.ch:
		return res.raw, res.err
	case <-timer.C:
		c.abandon(id)
		return nil, errdefs.Newf(errdefs.Timeout, "server %s: request %d timed out after %s", c.name, id, c.callTimeout)
	case <-ctx.Done():
		c.abandon(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errdefs.Wrap(errdefs.Timeout, "request deadline exceeded", ctx.Err())
		}
		return nil, errdefs.Wrap(errdefs.Cancelled, "request cancelled", ctx.Err())
	}
}

// Notify sends a request without an id; no response is expected.
func (c *Conn) Notify(method string, params any) error {
	line, err := encodeLine(request{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(line); err != nil {
		return errdefs.Wrap(errdefs.TransportError, "writing notification", err)
	}
	return nil
}

func (c *Conn) abandon(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	if len(c.pending) == 0 && c.state == stateCalling {
		c.state = stateReady
	}
	c.mu.Unlock()
}

// Close sends a best-effort shutdown, closes stdin, waits out the grace
// period, then kills. Every pending waiter rejects with Cancelled.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateClosed || c.state == stateShuttingDown {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.state = stateShuttingDown
	c.mu.Unlock()

	_ = c.Notify("shutdown", nil)
	if c.stdin != nil {
		_ = c.stdin.Close()
	}

	grace := time.NewTimer(shutdownGrace)
	defer grace.Stop()
	select {
	case <-c.done:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	<-c.done
	return nil
}

// ListTools fetches the server's descriptors via tools/list.
func (c *Conn) ListTools(ctx context.Context) ([]catalog.Descriptor, error) {
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

// GetTool fetches a single schema via tools/get.
func (c *Conn) GetTool(ctx context.Context, name string) (catalog.Descriptor, error) {
	raw, err := c.Call(ctx, "tools/get", map[string]any{"name": name})
	if err != nil {
		return catalog.Descriptor{}, err
	}
	var desc catalog.Descriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return catalog.Descriptor{}, errdefs.Wrap(errdefs.TransportError, "decoding tools/get result", err)
	}
	desc.Server = c.name
	desc.ContentHash = desc.Hash()
	return desc, nil
}

// CallTool invokes a tool via tools/call and returns the decoded result.
func (c *Conn) CallTool(ctx context.Context, tool string, args map[string]any) (any, error) {
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
