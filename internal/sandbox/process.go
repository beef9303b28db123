package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/DegrassiAaron/mcpcode/internal/codegen"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

// ProcessRuntime runs the unit in a managed interpreter subprocess under
// OS-level resource limits. Network policy holds because the dispatcher
// preamble carries no network primitives and the environment is stripped to
// the allowlist.
type ProcessRuntime struct {
	logger *zap.Logger
}

// NewProcessRuntime constructs the process-level runtime.
func NewProcessRuntime(logger *zap.Logger) *ProcessRuntime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessRuntime{logger: logger}
}

func (r *ProcessRuntime) Level() string { return LevelProcess }

func (r *ProcessRuntime) Available(language string) error {
	if _, err := exec.LookPath(interpreterFor(language)); err != nil {
		return errdefs.Newf(errdefs.SandboxUnavailable,
			"interpreter %s not found on host", interpreterFor(language))
	}
	return nil
}

func (r *ProcessRuntime) Run(ctx context.Context, unit codegen.Unit, sbx Context, dispatch Dispatcher) (RunOutput, error) {
	workdir, cleanup, err := enterWorkdir()
	if err != nil {
		return RunOutput{}, err
	}
	defer cleanup()
	sbx.Workdir = workdir
	limits := limitsOrDefault(sbx.Limits)

	unitPath := filepath.Join(workdir, unitFileName(unit.Language))
	if err := writeUnitFile(unitPath, unit.RuntimeSource); err != nil {
		return RunOutput{}, err
	}

	cmd := exec.Command(interpreterFor(unit.Language), interpreterArgs(unit.Language, limits, unitPath)...)
	cmd.Dir = workdir
	cmd.Env = buildEnv(sbx.EnvAllowlist)
	setProcessGroup(cmd)

	limitAddressSpace := unit.Language == codegen.LangPython
	onStart := func(c *exec.Cmd) {
		if err := applyRlimits(c, limits, limitAddressSpace); err != nil {
			r.logger.Debug("resource limits not applied", zap.Error(err))
		}
	}
	return runBridged(ctx, cmd, limits, onStart, dispatch, r.logger)
}

// interpreterArgs builds the interpreter invocation for one unit. Node
// cannot run under an address-space rlimit sized to the memory cap because
// V8 reserves multi-gigabyte virtual ranges before any user code executes,
// so its heap is bounded through --max-old-space-size instead.
func interpreterArgs(language string, limits ResourceLimits, unitPath string) []string {
	if language == codegen.LangPython {
		return []string{unitPath}
	}
	heapMB := limits.MemoryBytes / (1 << 20)
	if heapMB < 16 {
		heapMB = 16
	}
	return []string{fmt.Sprintf("--max-old-space-size=%d", heapMB), unitPath}
}
