//go:build !windows

package procfind

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// isProcessAlive checks pid with the null signal. os.FindProcess succeeds for
// any pid on Unix, so the signal result is the only evidence: ESRCH means the
// process is gone, EPERM means it exists under another owner.
func isProcessAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid pid %d", pid)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = proc.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return false, nil
	case errors.Is(err, syscall.EPERM):
		return true, nil
	}
	return false, err
}
