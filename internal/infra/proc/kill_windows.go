//go:build windows

package proc

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// setupProcessGroup creates a new process group on Windows so the child tree
// can be terminated together.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// killProcessGroup tries CTRL_BREAK first, waits up to grace, then kills the
// process tree with taskkill.
func killProcessGroup(cmd *exec.Cmd, grace time.Duration) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid

	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	generateConsoleCtrlEvent := kernel32.NewProc("GenerateConsoleCtrlEvent")
	_, _, _ = generateConsoleCtrlEvent.Call(
		uintptr(syscall.CTRL_BREAK_EVENT),
		uintptr(pid),
	)

	time.Sleep(grace)

	// /T takes the whole tree down, matching the Unix group kill.
	killCmd := exec.Command("taskkill", "/F", "/T", "/PID", fmt.Sprintf("%d", pid))
	_ = killCmd.Run()
	_ = cmd.Process.Kill()
}
