//go:build !windows

package proxy

import (
	"os/exec"
	"syscall"
)

// sendTermSignal sends SIGTERM to the process, preferring its process group
// so the entire tree is terminated, not just the leader
func sendTermSignal(pid int) error {
	return signalProcess(pid, syscall.SIGTERM)
}

// sendKillSignal forcibly kills the process, preferring its process group
func sendKillSignal(pid int) error {
	return signalProcess(pid, syscall.SIGKILL)
}

// signalProcess signals the process group led by pid when there is one.
// Adopted instances that were started by something else need not lead a
// group; for those the group signal fails with ESRCH and the process is
// signaled directly instead.
func signalProcess(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if err == syscall.ESRCH {
		return syscall.Kill(pid, sig)
	}
	return err
}

// sendReloadSignal asks the process to reload its configuration in place
func sendReloadSignal(pid int) error {
	return syscall.Kill(pid, syscall.SIGHUP)
}

// setupDetachedAttributes puts the spawned process in its own process group
// so it survives the controlling terminal and this process's exit
func setupDetachedAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
