package proxy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/proxy-tools/caddyctl/pkg/errors"
	"github.com/proxy-tools/caddyctl/pkg/pidfile"
)

// validateTimeout bounds the config validation subcommand
const validateTimeout = 15 * time.Second

// systemctlTimeout bounds the conflicting-service check
const systemctlTimeout = 5 * time.Second

// validateConfig asks the proxy binary itself to check a configuration file.
// Exit status is the oracle; captured output is attached to the error for
// diagnostics only.
func (s *Supervisor) validateConfig(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.binaryPath, "validate", "--config", configPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		s.logger.Errorf("Configuration validation failed, config: %s, output: %s", configPath, string(output))
		return errors.NewValidationError("proxy binary rejected the configuration", err).
			WithContext("config_file", configPath).
			WithContext("output", strings.TrimSpace(string(output)))
	}

	s.logger.Debugf("Configuration validated, config: %s", configPath)
	return nil
}

// checkSystemServiceConflict detects a systemd-managed instance of the same
// binary. Supervising alongside one would fight over the port and the config
// file, so this aborts before anything is spawned. A missing systemctl means
// no systemd, which is not a conflict.
func (s *Supervisor) checkSystemServiceConflict(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, systemctlTimeout)
	defer cancel()

	serviceName := filepath.Base(s.binaryPath)
	output, err := exec.CommandContext(ctx, "systemctl", "is-active", serviceName).Output()
	if err != nil {
		// Non-zero exit means inactive or systemctl unavailable.
		return nil
	}

	if strings.TrimSpace(string(output)) == "active" {
		return errors.NewConflictError(
			fmt.Sprintf("a systemd service %q is already active; stop it first (systemctl stop %s) or manage the proxy through systemd instead",
				serviceName, serviceName), nil)
	}
	return nil
}

// spawn launches the proxy binary detached from this process's lifetime.
// Secrets travel only via the child environment. Returns the child PID.
func (s *Supervisor) spawn(configPath string, elevated bool) (int, error) {
	args := []string{"run", "--config", configPath, "--pidfile", s.pidFiles.PIDFilePath(s.serviceName)}

	var cmd *exec.Cmd
	if elevated {
		// sudo -n fails fast instead of prompting when no cached
		// credentials exist.
		sudoArgs := append([]string{"-n", s.binaryPath}, args...)
		cmd = exec.Command("sudo", sudoArgs...)
	} else {
		cmd = exec.Command(s.binaryPath, args...)
	}

	cmd.Env = append(os.Environ(), s.secretEnv...)
	setupDetachedAttributes(cmd)

	logPath := s.pidFiles.LogFilePath(s.serviceName)
	if err := pidfile.ValidateDirectory(logPath); err != nil {
		return 0, err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, errors.NewIOError("failed to open proxy log file", err).WithContext("log_file", logPath)
	}
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return 0, errors.NewLaunchError("failed to spawn proxy process", err).
			WithContext("binary", s.binaryPath).
			WithContext("config_file", configPath)
	}

	pid := cmd.Process.Pid
	// Reap the child ourselves. Without a Wait, a proxy that exits right
	// away stays a zombie of this process for as long as we live, and the
	// signal-0 liveness check reports zombies as running.
	done := make(chan struct{})
	s.spawnPID = pid
	s.spawnDone = done
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	s.logger.Infof("Spawned proxy process, pid: %d, elevated: %v", pid, elevated)
	return pid, nil
}

// logTail returns the last n lines of the proxy's log file for diagnostics.
// Best effort: an unreadable log yields an empty string, never an error.
func (s *Supervisor) logTail(n int) string {
	content, err := os.ReadFile(s.pidFiles.LogFilePath(s.serviceName))
	if err != nil {
		return ""
	}
	return tailLines(string(content), n)
}

// tailLines returns the last n non-empty-trimmed lines of text
func tailLines(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return ""
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// looksLikePrivilegeError reports whether diagnostic text indicates the
// process could not bind a privileged port
func looksLikePrivilegeError(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "operation not permitted") ||
		strings.Contains(lower, "bind: permission")
}
