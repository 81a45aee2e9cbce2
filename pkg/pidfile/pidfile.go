package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/adrg/xdg"

	"github.com/proxy-tools/caddyctl/pkg/errors"
	"github.com/proxy-tools/caddyctl/pkg/logging"
)

// Default application name used for state subdirectories
const DefaultAppName = "caddyctl"

// Config holds configuration for runtime state file generation (PID files, log paths)
type Config struct {
	// Base directory for state files. If empty, uses OS-appropriate default
	BaseDirectory string

	// Service context - affects directory selection
	ServiceContext ServiceContext

	// Application name for subdirectory creation
	AppName string
}

// ServiceContext defines the context in which the supervised proxy runs
type ServiceContext string

const (
	// SystemService runs as a system service (daemon)
	SystemService ServiceContext = "system"

	// UserService runs as a user service
	UserService ServiceContext = "user"
)

// Manager provides PID file path generation and management for the supervised proxy
type Manager struct {
	config Config
	logger logging.Logger
}

// NewManager creates a new PID file manager with the given configuration
func NewManager(config Config, logger logging.Logger) *Manager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}

	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}

	return &Manager{
		config: config,
		logger: logger,
	}
}

// PIDFilePath generates the PID file path for the given service name
func (m *Manager) PIDFilePath(name string) string {
	return filepath.Join(m.baseDirectory(), name+".pid")
}

// LogFilePath generates the log file path for the given service name
func (m *Manager) LogFilePath(name string) string {
	return filepath.Join(m.logBaseDirectory(), name+".log")
}

// Write writes the process PID to the PID file for the given service name
func (m *Manager) Write(name string, pid int) error {
	path := m.PIDFilePath(name)
	m.logger.Debugf("Writing PID file, service: %s, pid: %d, path: %s", name, pid, path)

	if err := ValidateDirectory(path); err != nil {
		m.logger.Errorf("PID file directory validation failed, service: %s, path: %s, error: %v", name, path, err)
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", path)
	}

	content := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, service: %s, pid: %d, path: %s, error: %v", name, pid, path, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", path).WithContext("pid", pid)
	}

	m.logger.Infof("PID file written, service: %s, pid: %d, path: %s", name, pid, path)
	return nil
}

// Read reads the recorded PID for the given service name. The recorded PID is
// a cache: callers must validate the process is alive and matches before
// trusting it. Returns a NotFoundError if no PID file exists.
func (m *Manager) Read(name string) (int, error) {
	path := m.PIDFilePath(name)
	m.logger.Debugf("Reading PID file, service: %s, path: %s", name, path)

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("PID file does not exist", err).WithContext("pid_file", path)
		}
		m.logger.Warnf("Failed to read PID file, service: %s, path: %s, error: %v", name, path, err)
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", path)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		m.logger.Errorf("Invalid content in PID file, service: %s, path: %s, content: %s", name, path, pidStr)
		return 0, errors.NewValidationError("invalid PID in PID file", err).WithContext("pid_file", path).WithContext("content", pidStr)
	}

	m.logger.Debugf("PID file read, service: %s, pid: %d, path: %s", name, pid, path)
	return pid, nil
}

// Remove deletes the PID file for the given service name. A missing file is
// not an error.
func (m *Manager) Remove(name string) error {
	path := m.PIDFilePath(name)

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		m.logger.Warnf("Failed to remove PID file, service: %s, path: %s, error: %v", name, path, err)
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", path)
	}

	m.logger.Debugf("PID file removed, service: %s, path: %s", name, path)
	return nil
}

// baseDirectory returns the appropriate base directory for PID files
func (m *Manager) baseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case SystemService:
		return m.systemServiceDirectory()
	default:
		return filepath.Join(xdg.DataHome, m.config.AppName)
	}
}

// systemServiceDirectory returns the PID directory for system services
func (m *Manager) systemServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = "C:\\ProgramData"
		}
		return filepath.Join(programData, m.config.AppName)

	case "darwin":
		return filepath.Join("/var/run", m.config.AppName)

	default:
		// Modern standard is /run, with fallback to /var/run
		if _, err := os.Stat("/run"); err == nil {
			return filepath.Join("/run", m.config.AppName)
		}
		return filepath.Join("/var/run", m.config.AppName)
	}
}

// logBaseDirectory returns the appropriate base directory for log files
func (m *Manager) logBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return filepath.Join(m.config.BaseDirectory, "logs")
	}

	switch m.config.ServiceContext {
	case SystemService:
		switch runtime.GOOS {
		case "windows":
			programData := os.Getenv("PROGRAMDATA")
			if programData == "" {
				programData = "C:\\ProgramData"
			}
			return filepath.Join(programData, m.config.AppName, "logs")
		default:
			return filepath.Join("/var/log", m.config.AppName)
		}
	default:
		return filepath.Join(xdg.DataHome, m.config.AppName, "logs")
	}
}

// ValidateDirectory validates that the state file directory exists and is
// writable, creating it if necessary
func ValidateDirectory(path string) error {
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return errors.NewIOError("failed to create state directory", err).WithContext("directory", dir)
			}
		} else {
			return errors.NewIOError("failed to access state directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("state file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	if file, err := os.Create(testFile); err != nil {
		return errors.NewPermissionError("state directory is not writable", err).WithContext("directory", dir)
	} else {
		file.Close()
		os.Remove(testFile)
	}

	return nil
}
