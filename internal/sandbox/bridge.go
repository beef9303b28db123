package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

// callFrame is one dispatcher request from the sandboxed unit, read as a
// {"__call": {...}} line on its stdout.
type callFrame struct {
	ID   uint64         `json:"id"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type unitFrame struct {
	Call *callFrame       `json:"__call"`
	Out  *json.RawMessage `json:"__out"`
}

type resultFrame struct {
	ID     uint64 `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// runBridged starts the prepared command and speaks the dispatcher protocol
// over its stdio until exit, wall-clock expiry, or cancellation. The wall
// clock starts when the process is observed running; on expiry the process
// group is killed and in-flight dispatcher calls are cancelled. onStart, if
// set, runs once the child is observed running, before any frames are read.
func runBridged(ctx context.Context, cmd *exec.Cmd, limits ResourceLimits, onStart func(*exec.Cmd), dispatch Dispatcher, logger *zap.Logger) (RunOutput, error) {
	var out RunOutput

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return out, errdefs.Wrap(errdefs.Internal, "opening sandbox stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return out, errdefs.Wrap(errdefs.Internal, "opening sandbox stdout", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return out, errdefs.Wrap(errdefs.SandboxUnavailable, "starting sandbox process", err)
	}
	start := time.Now()
	if onStart != nil {
		onStart(cmd)
	}

	runCtx, cancelCalls := context.WithCancel(ctx)
	defer cancelCalls()

	var writeMu sync.Mutex
	writeFrame := func(frame resultFrame) {
		payload, err := json.Marshal(map[string]resultFrame{"__result": frame})
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_, _ = stdin.Write(append(payload, '\n'))
	}

	var stdoutLines []string
	var readWG sync.WaitGroup
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			var frame unitFrame
			if err := json.Unmarshal(line, &frame); err == nil && (frame.Call != nil || frame.Out != nil) {
				if frame.Out != nil {
					var value any
					if err := json.Unmarshal(*frame.Out, &value); err == nil {
						out.Value = value
						out.Emitted = true
					}
					continue
				}
				call := *frame.Call
				readWG.Add(1)
				go func() {
					defer readWG.Done()
					value, err := dispatch(runCtx, call.Tool, call.Args)
					if err != nil {
						logger.Warn("dispatcher call failed",
							zap.String("tool", call.Tool), zap.Error(err))
						writeFrame(resultFrame{ID: call.ID, Error: err.Error()})
						return
					}
					writeFrame(resultFrame{ID: call.ID, Result: value})
				}()
				continue
			}
			stdoutLines = append(stdoutLines, string(line))
		}
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	timer := time.NewTimer(limits.WallClock)
	defer timer.Stop()

	var runErr error
	select {
	case err := <-waitErr:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				out.Metrics.ExitStatus = exitErr.ExitCode()
			} else {
				runErr = errdefs.Wrap(errdefs.Internal, "sandbox wait", err)
			}
		}
	case <-timer.C:
		cancelCalls()
		killProcessGroup(cmd)
		<-waitErr
		out.Metrics.ExitStatus = -1
		runErr = errdefs.Newf(errdefs.Timeout, "sandbox exceeded wall clock %s", limits.WallClock)
	case <-ctx.Done():
		cancelCalls()
		killProcessGroup(cmd)
		<-waitErr
		out.Metrics.ExitStatus = -1
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			runErr = errdefs.Wrap(errdefs.Timeout, "sandbox deadline exceeded", ctx.Err())
		} else {
			runErr = errdefs.Wrap(errdefs.Cancelled, "sandbox cancelled", ctx.Err())
		}
	}
	_ = stdin.Close()
	<-readDone
	readWG.Wait()

	out.Stdout = strings.Join(stdoutLines, "\n")
	out.Stderr = stderr.String()
	out.Metrics.WallMS = time.Since(start).Milliseconds()
	out.Metrics.MemoryPeakBytes = peakRSS(cmd)
	return out, runErr
}
