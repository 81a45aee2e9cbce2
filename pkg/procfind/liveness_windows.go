//go:build windows

package procfind

import (
	"fmt"
	"syscall"
)

// stillActive is the exit code Windows reports for a process that has not
// terminated.
const stillActive = 259

// isProcessAlive opens pid with query-limited rights and inspects its exit
// code. A handle that cannot be opened means the process is gone or out of
// reach, which counts as not running for supervision purposes.
func isProcessAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid pid %d", pid)
	}

	const queryLimitedInformation = 0x1000
	handle, err := syscall.OpenProcess(queryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false, nil
	}
	defer syscall.CloseHandle(handle)

	var exitCode uint32
	if err := syscall.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false, err
	}
	return exitCode == stillActive, nil
}
