package procfind

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ProcFindMockLogger is a simple mock implementation of Logger for testing
type ProcFindMockLogger struct{}

func (m *ProcFindMockLogger) Debugf(format string, args ...interface{}) {}
func (m *ProcFindMockLogger) Infof(format string, args ...interface{})  {}
func (m *ProcFindMockLogger) Warnf(format string, args ...interface{})  {}
func (m *ProcFindMockLogger) Errorf(format string, args ...interface{}) {}

func TestMatchExact_Selectivity(t *testing.T) {
	candidates := []candidate{
		{pid: 100, cmdline: "/opt/bin/proxy run --config x"},
		{pid: 200, cmdline: "tail -f /var/log/proxy-access.log"},
		{pid: 300, cmdline: "vim proxy.go"},
	}

	pids := matchExact(candidates, "/opt/bin/proxy", "run")

	assert.Equal(t, []int{100}, pids)
}

func TestMatchExact_RequiresRunToken(t *testing.T) {
	candidates := []candidate{
		{pid: 100, cmdline: "/opt/bin/proxy validate --config x"},
		{pid: 101, cmdline: "/opt/bin/proxy run --config x"},
	}

	pids := matchExact(candidates, "/opt/bin/proxy", "run")

	assert.Equal(t, []int{101}, pids)
}

func TestMatchExact_RunTokenMustBeWholeArgument(t *testing.T) {
	candidates := []candidate{
		{pid: 100, cmdline: "/opt/bin/proxy rundown --config x"},
	}

	pids := matchExact(candidates, "/opt/bin/proxy", "run")

	assert.Empty(t, pids)
}

func TestMatchByName_FallbackMatchesDifferentInstallPath(t *testing.T) {
	candidates := []candidate{
		{pid: 100, cmdline: "/usr/local/bin/caddy run --config /etc/caddy/Caddyfile"},
		{pid: 200, cmdline: "grep caddy run.log"},
	}

	pids := matchByName(candidates, "caddy", "run")

	assert.Equal(t, []int{100}, pids)
}

func TestMatchByName_RequiresBasenameEquality(t *testing.T) {
	candidates := []candidate{
		{pid: 100, cmdline: "/usr/bin/caddy-exporter run"},
	}

	pids := matchByName(candidates, "caddy", "run")

	assert.Empty(t, pids)
}

func TestContainsToken(t *testing.T) {
	assert.True(t, containsToken("/opt/bin/proxy run --config x", "run"))
	assert.False(t, containsToken("/opt/bin/proxy rundown", "run"))
	assert.False(t, containsToken("", "run"))
}

func TestIsRunning_SelfPID(t *testing.T) {
	locator := NewLocator(&ProcFindMockLogger{})

	assert.True(t, locator.IsRunning(os.Getpid()))
}

func TestIsRunning_InvalidPID(t *testing.T) {
	locator := NewLocator(&ProcFindMockLogger{})

	assert.False(t, locator.IsRunning(0))
	assert.False(t, locator.IsRunning(-1))
}
