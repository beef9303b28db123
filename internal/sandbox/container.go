package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/DegrassiAaron/mcpcode/internal/codegen"
	"github.com/DegrassiAaron/mcpcode/internal/config"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

// Container images per language. Pinned minor versions keep runs
// reproducible across hosts.
const (
	nodeImage   = "node:22-alpine"
	pythonImage = "python:3.12-alpine"
)

// ContainerRuntime runs the unit inside a locked-down docker container:
// read-only root, no capabilities, no network unless the policy grants an
// allowlist, and the docker-enforced memory, CPU, and pid limits. The
// dispatcher still rides the container's stdio.
type ContainerRuntime struct {
	logger *zap.Logger
}

// NewContainerRuntime constructs the container-level runtime.
func NewContainerRuntime(logger *zap.Logger) *ContainerRuntime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContainerRuntime{logger: logger}
}

func (r *ContainerRuntime) Level() string { return LevelContainer }

func (r *ContainerRuntime) Available(language string) error {
	if _, err := exec.LookPath("docker"); err != nil {
		return errdefs.New(errdefs.SandboxUnavailable, "docker not found on host")
	}
	return nil
}

func (r *ContainerRuntime) Run(ctx context.Context, unit codegen.Unit, sbx Context, dispatch Dispatcher) (RunOutput, error) {
	workdir, cleanup, err := enterWorkdir()
	if err != nil {
		return RunOutput{}, err
	}
	defer cleanup()
	sbx.Workdir = workdir
	limits := limitsOrDefault(sbx.Limits)

	unitName := unitFileName(unit.Language)
	if err := writeUnitFile(filepath.Join(workdir, unitName), unit.RuntimeSource); err != nil {
		return RunOutput{}, err
	}

	args := r.dockerArgs(unit.Language, workdir, unitName, limits, sbx)
	cmd := exec.Command("docker", args...)
	cmd.Env = os.Environ() // docker client needs its own environment
	setProcessGroup(cmd)

	r.logger.Debug("starting container", zap.String("image", imageFor(unit.Language)))
	return runBridged(ctx, cmd, limits, nil, dispatch, r.logger)
}

func (r *ContainerRuntime) dockerArgs(language, workdir, unitName string, limits ResourceLimits, sbx Context) []string {
	args := []string{
		"run", "--rm", "-i",
		"--read-only",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--pids-limit", "64",
		"--memory", strconv.FormatInt(limits.MemoryBytes, 10),
		"--cpus", strconv.FormatFloat(limits.CPUQuota, 'f', -1, 64),
		"--tmpfs", "/tmp:rw,size=" + strconv.FormatInt(limits.DiskBytes, 10),
		"-v", workdir + ":/unit:ro",
		"-w", "/unit",
	}
	if sbx.Network.Mode == config.NetworkAllowlist && len(sbx.Network.Hosts) > 0 {
		args = append(args, "--network", "bridge")
	} else {
		args = append(args, "--network", "none")
	}
	for _, name := range sbx.EnvAllowlist {
		if value, ok := os.LookupEnv(name); ok {
			args = append(args, "-e", fmt.Sprintf("%s=%s", name, value))
		}
	}
	args = append(args, imageFor(language), interpreterFor(language), unitName)
	return args
}

func imageFor(language string) string {
	if language == codegen.LangPython {
		return pythonImage
	}
	return nodeImage
}
