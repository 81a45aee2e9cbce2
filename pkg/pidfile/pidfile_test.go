package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxy-tools/caddyctl/pkg/errors"
)

// PIDFileMockLogger is a simple mock implementation of Logger for testing
type PIDFileMockLogger struct{}

func (m *PIDFileMockLogger) Debugf(format string, args ...interface{}) {}
func (m *PIDFileMockLogger) Infof(format string, args ...interface{})  {}
func (m *PIDFileMockLogger) Warnf(format string, args ...interface{})  {}
func (m *PIDFileMockLogger) Errorf(format string, args ...interface{}) {}

func TestNewManager_WithDefaults(t *testing.T) {
	manager := NewManager(Config{}, &PIDFileMockLogger{})

	assert.NotNil(t, manager)
	assert.Equal(t, DefaultAppName, manager.config.AppName)
	assert.Equal(t, UserService, manager.config.ServiceContext)
}

func TestPIDFilePath_UsesBaseDirectory(t *testing.T) {
	config := Config{
		BaseDirectory: "/tmp/caddyctl-test",
		AppName:       "test-app",
	}

	manager := NewManager(config, &PIDFileMockLogger{})
	path := manager.PIDFilePath("caddy")

	assert.Equal(t, filepath.Join("/tmp/caddyctl-test", "caddy.pid"), path)
}

func TestPIDFilePath_SystemService(t *testing.T) {
	config := Config{
		ServiceContext: SystemService,
		AppName:        "test-app",
	}

	manager := NewManager(config, &PIDFileMockLogger{})
	path := manager.PIDFilePath("caddy")

	assert.NotEmpty(t, path)
	assert.Contains(t, path, "test-app")
	assert.Contains(t, path, "caddy.pid")
}

func TestLogFilePath(t *testing.T) {
	config := Config{
		BaseDirectory: "/tmp/caddyctl-test",
	}

	manager := NewManager(config, &PIDFileMockLogger{})
	path := manager.LogFilePath("caddy")

	assert.Equal(t, filepath.Join("/tmp/caddyctl-test", "logs", "caddy.log"), path)
}

func TestWriteReadRemove_RoundTrip(t *testing.T) {
	config := Config{BaseDirectory: t.TempDir()}
	manager := NewManager(config, &PIDFileMockLogger{})

	require.NoError(t, manager.Write("caddy", 12345))

	pid, err := manager.Read("caddy")
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	require.NoError(t, manager.Remove("caddy"))

	_, err = manager.Read("caddy")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestWrite_CreatesMissingDirectory(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "state")
	manager := NewManager(Config{BaseDirectory: base}, &PIDFileMockLogger{})

	require.NoError(t, manager.Write("caddy", 42))

	content, err := os.ReadFile(filepath.Join(base, "caddy.pid"))
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(content))
}

func TestRead_InvalidContent(t *testing.T) {
	base := t.TempDir()
	manager := NewManager(Config{BaseDirectory: base}, &PIDFileMockLogger{})

	require.NoError(t, os.WriteFile(filepath.Join(base, "caddy.pid"), []byte("not-a-pid\n"), 0644))

	_, err := manager.Read("caddy")
	assert.True(t, errors.IsValidationError(err))
}

func TestRead_NegativePID(t *testing.T) {
	base := t.TempDir()
	manager := NewManager(Config{BaseDirectory: base}, &PIDFileMockLogger{})

	require.NoError(t, os.WriteFile(filepath.Join(base, "caddy.pid"), []byte("-5\n"), 0644))

	_, err := manager.Read("caddy")
	assert.True(t, errors.IsValidationError(err))
}

func TestRemove_MissingFileIsNotAnError(t *testing.T) {
	manager := NewManager(Config{BaseDirectory: t.TempDir()}, &PIDFileMockLogger{})

	assert.NoError(t, manager.Remove("caddy"))
}

func TestValidateDirectory_RejectsFileAsDirectory(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	err := ValidateDirectory(filepath.Join(blocker, "caddy.pid"))
	assert.True(t, errors.IsValidationError(err))
}
