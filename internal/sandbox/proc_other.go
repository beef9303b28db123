//go:build !linux

package sandbox

import (
	"errors"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func applyRlimits(cmd *exec.Cmd, limits ResourceLimits, addressSpace bool) error {
	return errors.New("OS resource limits are only enforced on linux")
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func peakRSS(cmd *exec.Cmd) int64 { return 0 }
