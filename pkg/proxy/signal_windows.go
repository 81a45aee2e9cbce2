//go:build windows

package proxy

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// sendTermSignal terminates the process. Windows has no graceful signal for
// detached processes, so this is equivalent to a forced kill.
func sendTermSignal(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Kill()
}

// sendKillSignal forcibly kills the process
func sendKillSignal(pid int) error {
	return sendTermSignal(pid)
}

// sendReloadSignal is unsupported on Windows; callers fall back to a restart
func sendReloadSignal(pid int) error {
	return fmt.Errorf("in-place reload is not supported on windows")
}

// setupDetachedAttributes detaches the spawned process from the console
func setupDetachedAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x00000008, // DETACHED_PROCESS
	}
}
