package sandbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/DegrassiAaron/mcpcode/internal/codegen"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

// VMRuntime executes JavaScript units inside an embedded interpreter with
// no host I/O surface. The only capabilities reachable from sandboxed code
// are the injected call, emit, and print functions; eval and Function are
// shadowed to throw.
type VMRuntime struct {
	logger *zap.Logger
}

// NewVMRuntime constructs the embedded-interpreter runtime.
func NewVMRuntime(logger *zap.Logger) *VMRuntime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VMRuntime{logger: logger}
}

func (r *VMRuntime) Level() string { return LevelVM }

func (r *VMRuntime) Available(language string) error {
	if language != codegen.LangTypeScript {
		return errdefs.Newf(errdefs.SandboxUnavailable,
			"embedded interpreter cannot run %s", language)
	}
	return nil
}

func (r *VMRuntime) Run(ctx context.Context, unit codegen.Unit, sbx Context, dispatch Dispatcher) (RunOutput, error) {
	var out RunOutput
	if err := r.Available(unit.Language); err != nil {
		return out, err
	}
	limits := limitsOrDefault(sbx.Limits)
	start := time.Now()

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	runCtx, cancel := context.WithTimeout(ctx, limits.WallClock)
	defer cancel()
	stop := context.AfterFunc(runCtx, func() {
		vm.Interrupt(runCtx.Err())
	})
	defer stop()

	var stdoutLines []string
	err := vm.Set("call", func(tool string, args map[string]any) (any, error) {
		return dispatch(runCtx, tool, args)
	})
	if err == nil {
		err = vm.Set("emit", func(value goja.Value) {
			out.Value = value.Export()
			out.Emitted = true
		})
	}
	if err == nil {
		err = vm.Set("print", func(parts ...goja.Value) {
			rendered := make([]string, len(parts))
			for i, p := range parts {
				rendered[i] = p.String()
			}
			stdoutLines = append(stdoutLines, strings.Join(rendered, " "))
		})
	}
	if err == nil {
		_, err = vm.RunString(`
			const console = { log: print, error: print, warn: print };
			globalThis.eval = () => { throw new Error("eval is disabled"); };
			globalThis.Function = () => { throw new Error("Function is disabled"); };
		`)
	}
	if err != nil {
		return out, errdefs.Wrap(errdefs.Internal, "preparing interpreter", err)
	}

	value, runErr := vm.RunString(unit.VMSource)
	out.Stdout = strings.Join(stdoutLines, "\n")
	out.Metrics.WallMS = time.Since(start).Milliseconds()

	if runErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			out.Metrics.ExitStatus = -1
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return out, errdefs.Newf(errdefs.Timeout, "sandbox exceeded wall clock %s", limits.WallClock)
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return out, errdefs.Wrap(errdefs.Timeout, "sandbox deadline exceeded", ctx.Err())
			}
			return out, errdefs.Wrap(errdefs.Cancelled, "sandbox cancelled", runCtx.Err())
		}
		// A throwing unit is a failed run, not a host error; mirror what a
		// crashing interpreter subprocess reports.
		out.Metrics.ExitStatus = 1
		var exception *goja.Exception
		if errors.As(runErr, &exception) {
			out.Stderr = exception.Value().String()
		} else {
			out.Stderr = runErr.Error()
		}
		return out, nil
	}
	// The unit is an async IIFE; dispatcher calls resolve synchronously, so
	// the returned promise has settled by the time RunString returns.
	if promise, ok := value.Export().(*goja.Promise); ok && promise.State() == goja.PromiseStateRejected {
		out.Metrics.ExitStatus = 1
		out.Stderr = promise.Result().String()
	}
	return out, nil
}
