package portbind

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/proxy-tools/caddyctl/pkg/logging"
)

// toolTimeout bounds each diagnostic tool invocation
const toolTimeout = 5 * time.Second

// Verifier confirms that a specific process is the one listening on a
// specific TCP port. Diagnostic tools vary across platforms and versions, so
// verification is a fallback chain over several of them, each consulted only
// when the previous gave no definitive answer. When no tool yields evidence
// the verdict is false: binding is never assumed without proof.
type Verifier struct {
	logger logging.Logger
}

// NewVerifier creates a port binding verifier
func NewVerifier(logger logging.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// IsBound reports whether the process at pid is listening on the given port
func (v *Verifier) IsBound(ctx context.Context, pid, port int) bool {
	if bound, conclusive := v.checkConnections(ctx, pid, port); conclusive {
		return bound
	}
	if bound, conclusive := v.checkLsofScoped(ctx, pid, port); conclusive {
		return bound
	}
	if bound, conclusive := v.checkLsofGeneral(ctx, pid, port); conclusive {
		return bound
	}
	if bound, conclusive := v.checkNetstat(ctx, pid, port); conclusive {
		return bound
	}
	if bound, conclusive := v.checkSs(ctx, pid, port); conclusive {
		return bound
	}

	v.logger.Warnf("No diagnostic tool could verify binding, pid: %d, port: %d", pid, port)
	return false
}

// checkConnections queries the process's own socket table
func (v *Verifier) checkConnections(ctx context.Context, pid, port int) (bool, bool) {
	conns, err := gopsnet.ConnectionsPidWithContext(ctx, "tcp", int32(pid))
	if err != nil {
		v.logger.Debugf("Socket table query failed, pid: %d, error: %v", pid, err)
		return false, false
	}

	for _, conn := range conns {
		if conn.Status == "LISTEN" && conn.Laddr.Port == uint32(port) {
			return true, true
		}
	}
	// The table was readable and the port was not there: definitive no.
	return false, true
}

// checkLsofScoped asks lsof for listeners on the port restricted to the pid
func (v *Verifier) checkLsofScoped(ctx context.Context, pid, port int) (bool, bool) {
	output, err := v.run(ctx, "lsof", "-nP",
		fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN", "-a", "-p", strconv.Itoa(pid))
	if err != nil {
		// lsof exits 1 both for "no match" and some failures; the output
		// distinguishes them poorly, so treat errors as inconclusive.
		return false, false
	}
	return strings.Contains(output, strconv.Itoa(pid)), true
}

// checkLsofGeneral asks lsof for all listeners on the port and scans for pid
func (v *Verifier) checkLsofGeneral(ctx context.Context, pid, port int) (bool, bool) {
	output, err := v.run(ctx, "lsof", "-nP",
		fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN")
	if err != nil {
		return false, false
	}
	return scanLsofListeners(output, pid), true
}

// checkNetstat scans netstat listener output for the pid holding the port
func (v *Verifier) checkNetstat(ctx context.Context, pid, port int) (bool, bool) {
	output, err := v.run(ctx, "netstat", "-tulpn")
	if err != nil {
		return false, false
	}
	return scanNetstatListeners(output, pid, port), true
}

// checkSs scans ss listener output for the pid holding the port
func (v *Verifier) checkSs(ctx context.Context, pid, port int) (bool, bool) {
	output, err := v.run(ctx, "ss", "-tlnp")
	if err != nil {
		return false, false
	}
	return scanSsListeners(output, pid, port), true
}

// run executes a diagnostic tool under a bounded timeout
func (v *Verifier) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		v.logger.Debugf("Diagnostic tool failed, tool: %s, error: %v", name, err)
		return "", err
	}
	return string(output), nil
}

// scanLsofListeners reports whether any lsof output line names pid as a
// listener. lsof columns: COMMAND PID USER ... NAME.
func scanLsofListeners(output string, pid int) bool {
	pidStr := strconv.Itoa(pid)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == pidStr {
			return true
		}
	}
	return false
}

// scanNetstatListeners reports whether a netstat -tulpn line shows pid
// listening on port. The PID column has the form "pid/program".
func scanNetstatListeners(output string, pid, port int) bool {
	portSuffix := ":" + strconv.Itoa(port)
	pidPrefix := strconv.Itoa(pid) + "/"
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "LISTEN") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasSuffix(fields[3], portSuffix) {
			continue
		}
		if strings.Contains(line, pidPrefix) {
			return true
		}
	}
	return false
}

// scanSsListeners reports whether a ss -tlnp line shows pid listening on
// port. The process column has the form users:(("name",pid=N,fd=M)).
func scanSsListeners(output string, pid, port int) bool {
	portSuffix := ":" + strconv.Itoa(port)
	pidMarker := "pid=" + strconv.Itoa(pid) + ","
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "LISTEN") {
			continue
		}
		fields := strings.Fields(line)
		listens := false
		for _, field := range fields {
			if strings.HasSuffix(field, portSuffix) {
				listens = true
				break
			}
		}
		if listens && strings.Contains(line, pidMarker) {
			return true
		}
	}
	return false
}
