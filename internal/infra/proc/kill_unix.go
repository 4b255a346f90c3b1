//go:build unix || darwin || linux

package proc

import (
	"os/exec"
	"syscall"
	"time"
)

// setupProcessGroup puts the child in its own process group so the whole
// tree can be signaled at once. The wrapped training tools spawn their own
// workers; killing only the immediate child would leave them behind.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGTERM to the process group, waits up to grace for
// the leader to exit, then force-kills the group.
func killProcessGroup(cmd *exec.Cmd, grace time.Duration) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid

	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		// No group to signal; fall back to the immediate child.
		_ = cmd.Process.Signal(syscall.SIGTERM)
		time.Sleep(grace)
		_ = cmd.Process.Kill()
		return
	}

	// Negative PID targets the entire process group.
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err != nil {
			return // leader is gone
		}
		time.Sleep(50 * time.Millisecond)
	}

	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
