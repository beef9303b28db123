//go:build linux

package sandbox

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup detaches the child into its own process group so a
// timeout kill reaches interpreter descendants too.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// applyRlimits pins CPU seconds and file size on the running child via
// prlimit. The address-space cap is opt-in: interpreters that reserve
// large virtual ranges up front (V8) enforce memory through their own heap
// flag instead.
func applyRlimits(cmd *exec.Cmd, limits ResourceLimits, addressSpace bool) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	cpuSeconds := uint64(limits.CPUQuota * limits.WallClock.Seconds())
	if cpuSeconds == 0 {
		cpuSeconds = 1
	}
	type rlimit struct {
		resource int
		value    uint64
	}
	rlimits := []rlimit{
		{unix.RLIMIT_CPU, cpuSeconds},
		{unix.RLIMIT_FSIZE, uint64(limits.DiskBytes)},
	}
	if addressSpace {
		rlimits = append(rlimits, rlimit{unix.RLIMIT_AS, uint64(limits.MemoryBytes)})
	}
	for _, rl := range rlimits {
		lim := unix.Rlimit{Cur: rl.value, Max: rl.value}
		if err := unix.Prlimit(pid, rl.resource, &lim, nil); err != nil {
			return err
		}
	}
	return nil
}

// killProcessGroup delivers SIGKILL to the child's process group, falling
// back to the process alone when no group was created.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
		_ = unix.Kill(-pgid, unix.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}

// peakRSS reads the child's maximum resident set size from the rusage
// recorded at wait time. Linux reports Maxrss in kilobytes.
func peakRSS(cmd *exec.Cmd) int64 {
	if cmd.ProcessState == nil {
		return 0
	}
	usage, ok := cmd.ProcessState.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	return usage.Maxrss * 1024
}
