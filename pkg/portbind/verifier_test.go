package portbind

import (
	"context"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// PortBindMockLogger is a simple mock implementation of Logger for testing
type PortBindMockLogger struct{}

func (m *PortBindMockLogger) Debugf(format string, args ...interface{}) {}
func (m *PortBindMockLogger) Infof(format string, args ...interface{})  {}
func (m *PortBindMockLogger) Warnf(format string, args ...interface{})  {}
func (m *PortBindMockLogger) Errorf(format string, args ...interface{}) {}

func TestScanLsofListeners(t *testing.T) {
	output := `COMMAND  PID USER   FD   TYPE DEVICE SIZE/OFF NODE NAME
caddy   4321 root    7u  IPv6  41234      0t0  TCP *:443 (LISTEN)
`
	assert.True(t, scanLsofListeners(output, 4321))
	assert.False(t, scanLsofListeners(output, 1234))
}

func TestScanLsofListeners_HeaderOnly(t *testing.T) {
	output := "COMMAND  PID USER   FD   TYPE DEVICE SIZE/OFF NODE NAME\n"
	assert.False(t, scanLsofListeners(output, 4321))
}

func TestScanNetstatListeners(t *testing.T) {
	output := `Active Internet connections (only servers)
Proto Recv-Q Send-Q Local Address           Foreign Address         State       PID/Program name
tcp6       0      0 :::443                  :::*                    LISTEN      4321/caddy
tcp        0      0 127.0.0.1:9090          0.0.0.0:*               LISTEN      999/backend
`
	assert.True(t, scanNetstatListeners(output, 4321, 443))
	assert.False(t, scanNetstatListeners(output, 4321, 9090))
	assert.False(t, scanNetstatListeners(output, 999, 443))
}

func TestScanNetstatListeners_IgnoresNonListening(t *testing.T) {
	output := `tcp        0      0 10.0.0.5:443            10.0.0.9:51234          ESTABLISHED 4321/caddy
`
	assert.False(t, scanNetstatListeners(output, 4321, 443))
}

func TestScanNetstatListeners_PortSuffixIsExact(t *testing.T) {
	output := `tcp        0      0 0.0.0.0:4430            0.0.0.0:*               LISTEN      4321/caddy
`
	assert.False(t, scanNetstatListeners(output, 4321, 443))
}

func TestScanSsListeners(t *testing.T) {
	output := `State    Recv-Q   Send-Q    Local Address:Port    Peer Address:Port   Process
LISTEN   0        4096                  *:443                *:*       users:(("caddy",pid=4321,fd=7))
LISTEN   0        4096          127.0.0.1:9090         0.0.0.0:*       users:(("backend",pid=999,fd=3))
`
	assert.True(t, scanSsListeners(output, 4321, 443))
	assert.False(t, scanSsListeners(output, 999, 443))
	assert.False(t, scanSsListeners(output, 4321, 9090))
}

func TestScanSsListeners_PidMarkerIsExact(t *testing.T) {
	output := `LISTEN   0   4096   *:443   *:*   users:(("caddy",pid=43210,fd=7))
`
	assert.False(t, scanSsListeners(output, 4321, 443))
}

func TestIsBound_OwnListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	verifier := NewVerifier(&PortBindMockLogger{})

	assert.True(t, verifier.IsBound(context.Background(), os.Getpid(), port))
}

func TestIsBound_NotListening(t *testing.T) {
	verifier := NewVerifier(&PortBindMockLogger{})

	// Port 1 is privileged and almost certainly unbound by this process.
	assert.False(t, verifier.IsBound(context.Background(), os.Getpid(), 1))
}
