package sandbox

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/DegrassiAaron/mcpcode/internal/codegen"
	"github.com/DegrassiAaron/mcpcode/internal/config"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
	"github.com/DegrassiAaron/mcpcode/internal/guard"
)

// Isolation levels.
const (
	LevelProcess   = "process"
	LevelVM        = "vm"
	LevelContainer = "container"
)

// ResourceLimits caps one sandboxed run.
type ResourceLimits struct {
	CPUQuota    float64
	MemoryBytes int64
	WallClock   time.Duration
	DiskBytes   int64
}

// DefaultLimits are applied where the caller leaves a limit unset.
var DefaultLimits = ResourceLimits{
	CPUQuota:    1,
	MemoryBytes: 256 * 1024 * 1024,
	WallClock:   30 * time.Second,
	DiskBytes:   64 * 1024 * 1024,
}

// Context is the frozen configuration for one run. Limits do not change once
// the sandbox is entered; the workdir is removed on every exit path.
type Context struct {
	IsolationLevel string
	Limits         ResourceLimits
	Network        config.NetworkPolicy
	EnvAllowlist   []string
	Workdir        string
}

// Metrics describes one finished run.
type Metrics struct {
	WallMS          int64 `json:"wall_ms"`
	MemoryPeakBytes int64 `json:"memory_peak_bytes"`
	ExitStatus      int   `json:"exit_status"`
}

// RunOutput is what a runtime hands back to the orchestrator.
type RunOutput struct {
	Value   any
	Emitted bool
	Stdout  string
	Stderr  string
	Metrics Metrics
}

// Dispatcher forwards one tool invocation from sandboxed code to the
// external-tool client.
type Dispatcher func(ctx context.Context, tool string, args map[string]any) (any, error)

// Runtime executes one unit under a specific isolation level.
type Runtime interface {
	Level() string
	// Available reports nil when the runtime can execute the language on
	// this host, SandboxUnavailable otherwise.
	Available(language string) error
	Run(ctx context.Context, unit codegen.Unit, sbx Context, dispatch Dispatcher) (RunOutput, error)
}

// LevelForRisk maps a validator risk level to the minimum safe isolation
// level. Critical never reaches the sandbox.
func LevelForRisk(riskLevel string) string {
	switch riskLevel {
	case guard.LevelLow:
		return LevelProcess
	case guard.LevelMedium:
		return LevelVM
	default:
		return LevelContainer
	}
}

// Select resolves the isolation level for a run. A pinned level is honored
// or fails; there is no silent downgrade. Otherwise the risk-mapped level is
// used, stepping vm up to container for languages the embedded interpreter
// cannot run.
func Select(runtimes map[string]Runtime, pinned, riskLevel, language string) (Runtime, error) {
	level := pinned
	if level == "" {
		level = LevelForRisk(riskLevel)
		if level == LevelVM {
			if rt, ok := runtimes[LevelVM]; ok && rt.Available(language) != nil {
				level = LevelContainer
			}
		}
	}
	rt, ok := runtimes[level]
	if !ok {
		return nil, errdefs.Newf(errdefs.SandboxUnavailable, "isolation level %q is not configured", level)
	}
	if err := rt.Available(language); err != nil {
		return nil, err
	}
	return rt, nil
}

// enterWorkdir creates the per-run scratch directory.
func enterWorkdir() (string, func(), error) {
	dir, err := os.MkdirTemp("", "mcpcode-"+uuid.NewString()[:8]+"-")
	if err != nil {
		return "", nil, errdefs.Wrap(errdefs.IOError, "creating workdir", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// buildEnv starts from empty and copies only allowlisted variables.
func buildEnv(allowlist []string) []string {
	var env []string
	for _, name := range allowlist {
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	return env
}

// writeUnitFile places the runtime unit read-only inside the workdir.
func writeUnitFile(path, source string) error {
	if err := os.WriteFile(path, []byte(source), 0o444); err != nil {
		return errdefs.Wrap(errdefs.IOError, "writing runtime unit", err)
	}
	return nil
}

// unitFileName is the on-disk name of the runtime unit per language.
func unitFileName(language string) string {
	if language == codegen.LangPython {
		return "unit.py"
	}
	return "unit.js"
}

// interpreterFor returns the host interpreter command per language.
func interpreterFor(language string) string {
	if language == codegen.LangPython {
		return "python3"
	}
	return "node"
}

func limitsOrDefault(l ResourceLimits) ResourceLimits {
	if l.CPUQuota <= 0 {
		l.CPUQuota = DefaultLimits.CPUQuota
	}
	if l.MemoryBytes <= 0 {
		l.MemoryBytes = DefaultLimits.MemoryBytes
	}
	if l.WallClock <= 0 {
		l.WallClock = DefaultLimits.WallClock
	}
	if l.DiskBytes <= 0 {
		l.DiskBytes = DefaultLimits.DiskBytes
	}
	return l
}

