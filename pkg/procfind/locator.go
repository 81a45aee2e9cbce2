package procfind

import (
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/proxy-tools/caddyctl/pkg/logging"
)

// DefaultRunToken is the subcommand token that identifies a serving instance
// of the supervised binary, as opposed to one-shot invocations like "validate".
const DefaultRunToken = "run"

// pgrepTimeout bounds the external process search so a stuck introspection
// tool cannot hang the controller.
const pgrepTimeout = 5 * time.Second

// candidate is a process table entry considered during discovery
type candidate struct {
	pid     int
	cmdline string
}

// Locator finds running instances of the supervised binary in the OS process
// table. Discovery is layered: an exact command-line match is preferred, with
// progressively looser strategies used only when the stricter ones find
// nothing. All strategies degrade gracefully when introspection is
// unavailable.
type Locator struct {
	runToken string
	logger   logging.Logger
}

// NewLocator creates a process locator
func NewLocator(logger logging.Logger) *Locator {
	return &Locator{
		runToken: DefaultRunToken,
		logger:   logger,
	}
}

// FindProcesses returns the PIDs of processes that are serving instances of
// the given binary. Returns an empty slice when nothing matches or the
// process table cannot be read.
func (l *Locator) FindProcesses(ctx context.Context, binaryPath string) []int {
	candidates := l.snapshot(ctx)

	// Strategy 1: exact binary path plus the run subcommand token.
	pids := matchExact(candidates, binaryPath, l.runToken)
	if len(pids) > 0 {
		l.logger.Debugf("Process discovery matched exact path, binary: %s, pids: %v", binaryPath, pids)
		return pids
	}

	// Strategy 2: binary name only, still requiring the run token.
	pids = matchByName(candidates, filepath.Base(binaryPath), l.runToken)
	if len(pids) > 0 {
		l.logger.Warnf("Process discovery fell back to name-only match, binary: %s, pids: %v", binaryPath, pids)
		return pids
	}

	// Strategy 3: external name-pattern search, each hit re-validated
	// against the exact binary path before being accepted.
	pids = l.pgrepSearch(ctx, binaryPath)
	if len(pids) > 0 {
		l.logger.Warnf("Process discovery fell back to pgrep, binary: %s, pids: %v", binaryPath, pids)
	}
	return pids
}

// IsRunning reports whether a process with the given PID exists. A failure to
// signal the process means not running.
func (l *Locator) IsRunning(pid int) bool {
	alive, err := isProcessAlive(pid)
	if err != nil {
		l.logger.Debugf("Liveness check failed, pid: %d, error: %v", pid, err)
		return false
	}
	return alive
}

// MatchesBinary reports whether the process at pid has a command line
// referencing the given binary path. Used to detect PID recycling: a live PID
// whose command line no longer matches is not our process. Inconclusive when
// the command line cannot be read, in which case liveness alone decides and
// this returns true.
func (l *Locator) MatchesBinary(ctx context.Context, pid int, binaryPath string) bool {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return true
	}
	cmdline, err := p.CmdlineWithContext(ctx)
	if err != nil || cmdline == "" {
		l.logger.Debugf("Command line unavailable for pid %d, accepting liveness alone", pid)
		return true
	}
	return strings.Contains(cmdline, binaryPath) ||
		containsToken(cmdline, filepath.Base(binaryPath))
}

// snapshot reads the process table. An empty result means introspection is
// unavailable, not that no processes exist.
func (l *Locator) snapshot(ctx context.Context) []candidate {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		l.logger.Warnf("Failed to enumerate processes: %v", err)
		return nil
	}

	candidates := make([]candidate, 0, len(procs))
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue
		}
		candidates = append(candidates, candidate{pid: int(p.Pid), cmdline: cmdline})
	}
	return candidates
}

// pgrepSearch runs pgrep as a last resort and re-validates every hit
func (l *Locator) pgrepSearch(ctx context.Context, binaryPath string) []int {
	ctx, cancel := context.WithTimeout(ctx, pgrepTimeout)
	defer cancel()

	name := filepath.Base(binaryPath)
	output, err := exec.CommandContext(ctx, "pgrep", "-f", name).Output()
	if err != nil {
		// Exit status 1 means no match; anything else means the tool is
		// unavailable. Either way discovery degrades to an empty result.
		l.logger.Debugf("pgrep search yielded nothing, name: %s, error: %v", name, err)
		return nil
	}

	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		if l.MatchesBinary(ctx, pid, binaryPath) && l.IsRunning(pid) {
			pids = append(pids, pid)
		}
	}
	return pids
}

// matchExact keeps candidates whose command line contains the exact binary
// path and the run token
func matchExact(candidates []candidate, binaryPath, runToken string) []int {
	var pids []int
	for _, c := range candidates {
		if strings.Contains(c.cmdline, binaryPath) && containsToken(c.cmdline, runToken) {
			pids = append(pids, c.pid)
		}
	}
	return pids
}

// matchByName keeps candidates whose argv[0] basename equals the binary name
// and whose command line contains the run token
func matchByName(candidates []candidate, name, runToken string) []int {
	var pids []int
	for _, c := range candidates {
		fields := strings.Fields(c.cmdline)
		if len(fields) == 0 {
			continue
		}
		if filepath.Base(fields[0]) == name && containsToken(c.cmdline, runToken) {
			pids = append(pids, c.pid)
		}
	}
	return pids
}

// containsToken reports whether cmdline contains token as a whole
// whitespace-separated argument, not a substring
func containsToken(cmdline, token string) bool {
	for _, field := range strings.Fields(cmdline) {
		if field == token {
			return true
		}
	}
	return false
}
