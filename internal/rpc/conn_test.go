package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

// fakeServer drives a Conn over in-memory pipes. handle receives each decoded
// request and returns the raw line(s) to write back, or nil to stay silent.
type fakeServer struct {
	conn   *Conn
	out    *io.PipeWriter
	mu     sync.Mutex
	closed bool
}

func startFakeServer(t *testing.T, timeout time.Duration, handle func(req request) []string) *fakeServer {
	t.Helper()
	c := newConn("test", zap.NewNop(), timeout)
	serverIn, stdin := io.Pipe()
	stdout, serverOut := io.Pipe()
	c.stdin = stdin
	c.state = stateReady
	go c.readLoop(stdout)

	fs := &fakeServer{conn: c, out: serverOut}
	go func() {
		scanner := bufio.NewScanner(serverIn)
		for scanner.Scan() {
			var req request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			for _, line := range handle(req) {
				fs.write(line)
			}
		}
	}()
	t.Cleanup(func() { fs.close() })
	return fs
}

func (fs *fakeServer) write(line string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return
	}
	_, _ = fs.out.Write([]byte(line + "\n"))
}

func (fs *fakeServer) close() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.closed {
		fs.closed = true
		_ = fs.out.Close()
	}
}

func resultLine(id uint64, result string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result)
}

func TestCallRoundTrip(t *testing.T) {
	fs := startFakeServer(t, time.Second, func(req request) []string {
		return []string{resultLine(req.ID, `{"content":"hello"}`)}
	})
	raw, err := fs.conn.Call(context.Background(), "tools/call", map[string]any{"name": "read_file"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(raw) != `{"content":"hello"}` {
		t.Fatalf("unexpected result %s", raw)
	}
}

func TestCallCorrelationOutOfOrder(t *testing.T) {
	var mu sync.Mutex
	var held []request
	fs := startFakeServer(t, time.Second, func(req request) []string {
		mu.Lock()
		defer mu.Unlock()
		held = append(held, req)
		if len(held) < 2 {
			return nil
		}
		// Answer the second request first.
		return []string{
			resultLine(held[1].ID, `"second"`),
			resultLine(held[0].ID, `"first"`),
		}
	})

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, err := fs.conn.Call(context.Background(), "m", nil)
			if err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			results[i] = string(raw)
		}()
		// Dispatch order is submission order; give the first write a head start.
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()
	if results[0] != `"first"` || results[1] != `"second"` {
		t.Fatalf("correlation by id failed: %v", results)
	}
}

func TestCallTimeoutAndLateReplyDropped(t *testing.T) {
	replies := make(chan string, 1)
	fs := startFakeServer(t, 50*time.Millisecond, func(req request) []string {
		replies <- resultLine(req.ID, `"late"`)
		return nil
	})
	_, err := fs.conn.Call(context.Background(), "slow", nil)
	if errdefs.KindOf(err) != errdefs.Timeout {
		t.Fatalf("expected Timeout, got %v", err)
	}
	// Deliver the reply after the waiter gave up; it must be dropped without
	// disturbing the next call.
	fs.write(<-replies)
	done := make(chan string, 1)
	go func() {
		raw, err := fs.conn.Call(context.Background(), "fast", nil)
		if err != nil {
			done <- err.Error()
			return
		}
		done <- string(raw)
	}()
	// The second request has a fresh id; answer it.
	time.Sleep(20 * time.Millisecond)
	fs.conn.mu.Lock()
	var pendingID uint64
	for id := range fs.conn.pending {
		pendingID = id
	}
	fs.conn.mu.Unlock()
	if pendingID == 0 {
		t.Fatalf("expected a pending request")
	}
	fs.write(resultLine(pendingID, `"ok"`))
	if got := <-done; got != `"ok"` {
		t.Fatalf("expected ok, got %s", got)
	}
}

func TestCallIDsMonotonicallyIncrease(t *testing.T) {
	fs := startFakeServer(t, time.Second, func(req request) []string {
		return []string{resultLine(req.ID, `null`)}
	})
	for i := 0; i < 5; i++ {
		if _, err := fs.conn.Call(context.Background(), "m", nil); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	fs.conn.mu.Lock()
	defer fs.conn.mu.Unlock()
	if fs.conn.nextID != 5 {
		t.Fatalf("expected 5 allocated ids, got %d", fs.conn.nextID)
	}
	if len(fs.conn.pending) != 0 {
		t.Fatalf("pending should be empty, got %d", len(fs.conn.pending))
	}
}

func TestMalformedLineSkipped(t *testing.T) {
	fs := startFakeServer(t, time.Second, func(req request) []string {
		return []string{"this is not json", resultLine(req.ID, `"ok"`)}
	})
	raw, err := fs.conn.Call(context.Background(), "m", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(raw) != `"ok"` {
		t.Fatalf("unexpected result %s", raw)
	}
}

func TestToolErrorPreservesCodeAndMessage(t *testing.T) {
	fs := startFakeServer(t, time.Second, func(req request) []string {
		return []string{fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"no such method"}}`, req.ID)}
	})
	_, err := fs.conn.Call(context.Background(), "missing", nil)
	if errdefs.KindOf(err) != errdefs.ToolError {
		t.Fatalf("expected ToolError, got %v", err)
	}
	var obj *ErrorObject
	if !errors.As(err, &obj) {
		t.Fatalf("expected wrapped ErrorObject, got %v", err)
	}
	if obj.Code != -32601 || obj.Message != "no such method" {
		t.Fatalf("code/message not preserved: %+v", obj)
	}
}

func TestServerExitRejectsPending(t *testing.T) {
	fs := startFakeServer(t, time.Second, func(req request) []string {
		return nil // never answer
	})
	errs := make(chan error, 1)
	go func() {
		_, err := fs.conn.Call(context.Background(), "m", nil)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	fs.close()
	err := <-errs
	if errdefs.KindOf(err) != errdefs.ServerExited {
		t.Fatalf("expected ServerExited, got %v", err)
	}
	if fs.conn.Alive() {
		t.Fatalf("connection should be dead")
	}
}

func TestCallCancellation(t *testing.T) {
	fs := startFakeServer(t, time.Second, func(req request) []string {
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := fs.conn.Call(ctx, "m", nil)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errs; errdefs.KindOf(err) != errdefs.Cancelled {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}
