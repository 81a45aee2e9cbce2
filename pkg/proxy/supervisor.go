package proxy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/proxy-tools/caddyctl/pkg/caddyfile"
	"github.com/proxy-tools/caddyctl/pkg/config"
	"github.com/proxy-tools/caddyctl/pkg/errors"
	"github.com/proxy-tools/caddyctl/pkg/logging"
	"github.com/proxy-tools/caddyctl/pkg/pidfile"
	"github.com/proxy-tools/caddyctl/pkg/portbind"
	"github.com/proxy-tools/caddyctl/pkg/procfind"
)

// Startup polling budget: liveness and binding are re-checked this many
// times with this delay between attempts before the verdict is settled.
const (
	defaultStartAttempts = 15
	defaultStartDelay    = 2 * time.Second

	defaultStopGraceTimeout = 10 * time.Second
	defaultStopKillTimeout  = 5 * time.Second
	defaultStopPollInterval = 500 * time.Millisecond

	defaultReloadDelay = time.Second

	logTailLines = 20
)

// Status describes the supervised proxy at a point in time
type Status struct {
	Running bool
	PID     int

	// BindingVerified is false when the process is alive but no diagnostic
	// tool confirmed it listening on the expected port
	BindingVerified bool

	ConfigFile string
	Port       int
}

// Supervisor owns the proxy process lifecycle across CLI invocations. The
// PID file is the only persisted handle between invocations, and it is
// treated as a cache: every use is cross-validated against the live process
// table.
type Supervisor struct {
	binaryPath  string
	configFile  string
	httpsPort   int
	email       string
	serviceName string
	secretEnv   []string
	siteAuth    string
	acmeAuth    string

	// Most recent child spawned by this invocation, tracked so its exit is
	// observed through the reaper instead of through signal checks, which
	// report unreaped zombies as alive.
	spawnPID  int
	spawnDone chan struct{}

	locator  *procfind.Locator
	verifier *portbind.Verifier
	pidFiles *pidfile.Manager
	parser   *caddyfile.Parser
	writer   *caddyfile.Writer
	engine   *caddyfile.Engine
	logger   logging.Logger

	startAttempts    int
	startDelay       time.Duration
	stopGraceTimeout time.Duration
	stopKillTimeout  time.Duration
	reloadDelay      time.Duration
}

// NewSupervisor creates a supervisor for the proxy described by cfg
func NewSupervisor(cfg *config.Config, logger logging.Logger) *Supervisor {
	serviceContext := pidfile.UserService
	if cfg.Proxy.SystemService {
		serviceContext = pidfile.SystemService
	}
	pidFiles := pidfile.NewManager(pidfile.Config{
		ServiceContext: serviceContext,
		AppName:        config.AppName,
	}, logger)

	siteAuth, acmeAuth := cloudflareAuthConfig(&cfg.DNS)

	return &Supervisor{
		binaryPath:       cfg.Proxy.BinaryPath,
		configFile:       cfg.Proxy.ConfigFile,
		httpsPort:        cfg.Proxy.HTTPSPort,
		email:            cfg.Proxy.Email,
		serviceName:      filepath.Base(cfg.Proxy.BinaryPath),
		secretEnv:        credentialEnv(&cfg.DNS),
		siteAuth:         siteAuth,
		acmeAuth:         acmeAuth,
		locator:          procfind.NewLocator(logger),
		verifier:         portbind.NewVerifier(logger),
		pidFiles:         pidFiles,
		parser:           caddyfile.NewParser(logger),
		writer:           caddyfile.NewWriter(logger),
		engine:           caddyfile.NewEngine(logger),
		logger:           logger,
		startAttempts:    defaultStartAttempts,
		startDelay:       defaultStartDelay,
		stopGraceTimeout: defaultStopGraceTimeout,
		stopKillTimeout:  defaultStopKillTimeout,
		reloadDelay:      defaultReloadDelay,
	}
}

// credentialEnv maps available Cloudflare credentials into child environment
// entries. Secrets reach the proxy only this way, never through the
// configuration file.
func credentialEnv(dns *config.DNSConfig) []string {
	var env []string
	if dns.APIToken != "" {
		env = append(env, "CLOUDFLARE_API_TOKEN="+dns.APIToken)
	}
	if dns.APIKey != "" {
		env = append(env, "CLOUDFLARE_API_KEY="+dns.APIKey)
	}
	if dns.APIEmail != "" {
		env = append(env, "CLOUDFLARE_EMAIL="+dns.APIEmail)
	}
	return env
}

// cloudflareAuthConfig selects the Caddyfile auth arguments matching the
// credentials that credentialEnv exports: the API token when present, the
// legacy global key plus email otherwise. The arguments reference {env.*}
// run-time placeholders so no secret ever lands in the configuration file.
func cloudflareAuthConfig(dns *config.DNSConfig) (siteAuth, acmeAuth string) {
	if dns.APIToken == "" && dns.APIKey != "" && dns.APIEmail != "" {
		return "{env.CLOUDFLARE_API_KEY} {env.CLOUDFLARE_EMAIL}",
			"acme_dns cloudflare {env.CLOUDFLARE_API_KEY} {env.CLOUDFLARE_EMAIL}"
	}
	return "{env.CLOUDFLARE_API_TOKEN}", "acme_dns cloudflare {env.CLOUDFLARE_API_TOKEN}"
}

// Deploy renders a site block for domain proxying to target and merges it
// into the managed configuration file. Existing blocks for other domains are
// preserved byte for byte. The merged configuration is validated by the
// proxy binary against a scratch copy before the real file is touched. If
// the proxy is already running it is reloaded to pick up the change.
//
// Extra directive lines, when given, are spliced into the site block before
// its closing brace. With fresh set, a malformed existing file is abandoned
// and rebuilt from scratch instead of aborting; without it a parse failure
// is fatal.
func (s *Supervisor) Deploy(ctx context.Context, domain, target string, extras []string, fresh bool) error {
	doc, err := s.loadDocument(fresh)
	if err != nil {
		return err
	}

	if len(doc.GlobalOptions) == 0 {
		if err := s.installGlobalOptions(doc); err != nil {
			return err
		}
	}

	rendered := s.engine.RenderWithExtras(caddyfile.SiteTemplate, map[string]string{
		"domain":          domain,
		"target":          target,
		"cloudflare_auth": s.siteAuth,
		"log_path":        s.pidFiles.LogFilePath(domain),
	}, extras)
	renderedDoc, err := s.parser.Parse(rendered)
	if err != nil {
		return errors.NewFormatError("rendered site block does not parse", err).WithContext("domain", domain)
	}
	body, ok := renderedDoc.Block(domain)
	if !ok {
		return errors.NewInternalError("rendered site block is missing its own domain", nil).WithContext("domain", domain)
	}
	doc.UpsertBlock(domain, body)

	if err := s.validateDocument(ctx, doc); err != nil {
		return err
	}

	if err := s.writer.Save(doc, s.configFile); err != nil {
		return err
	}
	s.logger.Infof("Deployed site, domain: %s, target: %s, config: %s", domain, target, s.configFile)

	if status := s.Status(ctx); status.Running {
		return s.Reload(ctx)
	}
	return nil
}

// Remove deletes the site block for domain from the managed configuration
// and reloads the proxy if it is running
func (s *Supervisor) Remove(ctx context.Context, domain string) error {
	doc, err := s.loadDocument(false)
	if err != nil {
		return err
	}

	if !doc.RemoveBlock(domain) {
		return errors.NewNotFoundError("no deployed site for domain", nil).WithContext("domain", domain)
	}

	if err := s.validateDocument(ctx, doc); err != nil {
		return err
	}
	if err := s.writer.Save(doc, s.configFile); err != nil {
		return err
	}
	s.logger.Infof("Removed site, domain: %s", domain)

	if status := s.Status(ctx); status.Running {
		return s.Reload(ctx)
	}
	return nil
}

// Start brings the proxy up. Calling it while the proxy is already confirmed
// running returns immediately with the existing PID; no second process is
// spawned. Preflight conflict checks run before anything is launched.
func (s *Supervisor) Start(ctx context.Context) (Status, error) {
	if status := s.Status(ctx); status.Running {
		s.logger.Infof("Proxy already running, pid: %d", status.PID)
		return status, nil
	}

	if err := s.checkPortConflict(ctx); err != nil {
		return Status{}, err
	}
	if err := s.checkSystemServiceConflict(ctx); err != nil {
		return Status{}, err
	}

	if _, err := os.Stat(s.configFile); err != nil {
		return Status{}, errors.NewNotFoundError("no managed configuration file; deploy a site first", err).WithContext("config_file", s.configFile)
	}
	if err := s.validateConfig(ctx, s.configFile); err != nil {
		return Status{}, err
	}

	pid, err := s.spawn(s.configFile, false)
	if err != nil {
		return Status{}, err
	}
	if err := s.pidFiles.Write(s.serviceName, pid); err != nil {
		return Status{}, err
	}

	status, err := s.awaitRunning(ctx, pid, false)
	if err != nil {
		return status, err
	}
	return status, nil
}

// awaitRunning polls liveness and port binding until the process is
// confirmed bound, confirmed dead, or the polling budget runs out. A live
// process with unverified binding is degraded success, not failure. A
// privilege error observed in the proxy's log triggers one elevated relaunch
// before giving up.
func (s *Supervisor) awaitRunning(ctx context.Context, pid int, elevated bool) (Status, error) {
	for attempt := 0; attempt < s.startAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Status{}, errors.NewTimeoutError("startup wait canceled", ctx.Err())
			case <-time.After(s.startDelay):
			}
		}

		if s.spawnExited(pid) || !s.locator.IsRunning(pid) {
			tail := s.logTail(logTailLines)
			if !elevated && looksLikePrivilegeError(tail) {
				s.logger.Warnf("Proxy exited with a privilege error, retrying elevated, pid: %d", pid)
				return s.relaunchElevated(ctx)
			}
			_ = s.pidFiles.Remove(s.serviceName)
			return Status{}, errors.NewLaunchError(
				fmt.Sprintf("proxy process exited during startup\n%s", tail), nil).WithContext("pid", pid)
		}

		if s.verifier.IsBound(ctx, pid, s.httpsPort) {
			s.logger.Infof("Proxy running and bound, pid: %d, port: %d", pid, s.httpsPort)
			return Status{Running: true, PID: pid, BindingVerified: true, ConfigFile: s.configFile, Port: s.httpsPort}, nil
		}

		if !elevated && looksLikePrivilegeError(s.logTail(logTailLines)) {
			s.logger.Warnf("Privilege error while binding port %d, retrying elevated", s.httpsPort)
			s.terminatePID(pid)
			return s.relaunchElevated(ctx)
		}
	}

	s.logger.Warnf("Proxy alive but binding unverified after %d attempts, pid: %d, port: %d",
		s.startAttempts, pid, s.httpsPort)
	return Status{Running: true, PID: pid, BindingVerified: false, ConfigFile: s.configFile, Port: s.httpsPort},
		errors.NewBindingUnverifiedError(
			fmt.Sprintf("proxy is running (pid %d) but binding on port %d could not be verified", pid, s.httpsPort), nil)
}

// relaunchElevated retries the spawn once under elevated privileges
func (s *Supervisor) relaunchElevated(ctx context.Context) (Status, error) {
	pid, err := s.spawn(s.configFile, true)
	if err != nil {
		return Status{}, errors.NewPermissionError("elevated relaunch failed", err)
	}
	if err := s.pidFiles.Write(s.serviceName, pid); err != nil {
		return Status{}, err
	}
	return s.awaitRunning(ctx, pid, true)
}

// Stop terminates the proxy. Graceful first, forced second, and every wait
// is bounded so this can never hang. The PID file is removed on any outcome
// where the process is confirmed gone.
func (s *Supervisor) Stop(ctx context.Context) error {
	status := s.Status(ctx)
	if !status.Running {
		s.logger.Infof("Proxy is not running")
		return s.pidFiles.Remove(s.serviceName)
	}
	pid := status.PID

	s.logger.Infof("Stopping proxy, pid: %d", pid)
	if err := sendTermSignal(pid); err != nil {
		s.logger.Warnf("Graceful signal failed, pid: %d, error: %v", pid, err)
	}
	if s.waitForExit(pid, s.stopGraceTimeout) {
		s.logger.Infof("Proxy stopped gracefully, pid: %d", pid)
		return s.pidFiles.Remove(s.serviceName)
	}

	s.logger.Warnf("Proxy ignored graceful signal, forcing, pid: %d", pid)
	if err := sendKillSignal(pid); err != nil {
		s.logger.Warnf("Forced signal failed, pid: %d, error: %v", pid, err)
	}
	if s.waitForExit(pid, s.stopKillTimeout) {
		s.logger.Infof("Proxy stopped after forced signal, pid: %d", pid)
		return s.pidFiles.Remove(s.serviceName)
	}

	return errors.NewStopTimeoutError(
		fmt.Sprintf("proxy process %d survived both graceful and forced termination", pid), nil)
}

// Reload sends the reload signal and re-checks liveness after a short delay.
// Port binding is not re-verified: reload is expected to be in place.
func (s *Supervisor) Reload(ctx context.Context) error {
	status := s.Status(ctx)
	if !status.Running {
		return errors.NewProcessError("proxy is not running", nil)
	}

	s.logger.Infof("Reloading proxy, pid: %d", status.PID)
	if err := sendReloadSignal(status.PID); err != nil {
		return errors.NewProcessError("failed to send reload signal", err).WithContext("pid", status.PID)
	}

	time.Sleep(s.reloadDelay)
	if !s.locator.IsRunning(status.PID) {
		return errors.NewProcessError(
			fmt.Sprintf("proxy died during reload\n%s", s.logTail(logTailLines)), nil).WithContext("pid", status.PID)
	}
	s.logger.Infof("Proxy reloaded, pid: %d", status.PID)
	return nil
}

// Status reports the proxy's current state without mutating it, except for
// self-healing: when the PID file is stale or missing but discovery finds
// exactly one live instance, that instance is adopted and re-persisted.
func (s *Supervisor) Status(ctx context.Context) Status {
	if pid, err := s.pidFiles.Read(s.serviceName); err == nil {
		if s.locator.IsRunning(pid) && s.locator.MatchesBinary(ctx, pid, s.binaryPath) {
			bound := s.verifier.IsBound(ctx, pid, s.httpsPort)
			return Status{Running: true, PID: pid, BindingVerified: bound, ConfigFile: s.configFile, Port: s.httpsPort}
		}
		s.logger.Debugf("PID file is stale, pid: %d", pid)
	}

	pids := s.locator.FindProcesses(ctx, s.binaryPath)
	if len(pids) == 1 {
		pid := pids[0]
		s.logger.Infof("Adopting discovered proxy instance, pid: %d", pid)
		if err := s.pidFiles.Write(s.serviceName, pid); err != nil {
			s.logger.Warnf("Failed to re-persist adopted pid: %v", err)
		}
		bound := s.verifier.IsBound(ctx, pid, s.httpsPort)
		return Status{Running: true, PID: pid, BindingVerified: bound, ConfigFile: s.configFile, Port: s.httpsPort}
	}
	if len(pids) > 1 {
		s.logger.Warnf("Multiple proxy instances found, refusing to adopt any: %v", pids)
	}

	return Status{ConfigFile: s.configFile, Port: s.httpsPort}
}

// checkPortConflict aborts startup when the target port is already held by a
// process that is not an instance of the supervised binary
func (s *Supervisor) checkPortConflict(ctx context.Context) error {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		// Evidence unavailable; startup proceeds and the polling loop
		// will surface a binding failure if there is one.
		s.logger.Debugf("Port conflict check unavailable: %v", err)
		return nil
	}

	for _, conn := range conns {
		if conn.Status != "LISTEN" || conn.Laddr.Port != uint32(s.httpsPort) {
			continue
		}
		holder := int(conn.Pid)
		if holder <= 0 {
			continue
		}
		if s.locator.MatchesBinary(ctx, holder, s.binaryPath) {
			continue
		}
		return errors.NewConflictError(
			fmt.Sprintf("port %d is already held by an unrelated process (pid %d); stop it or change the configured port",
				s.httpsPort, holder), nil)
	}
	return nil
}

// spawnExited reports whether a child spawned by this invocation has already
// exited and been reaped. The reaper's verdict takes precedence over the
// signal check for our own children.
func (s *Supervisor) spawnExited(pid int) bool {
	if pid != s.spawnPID || s.spawnDone == nil {
		return false
	}
	select {
	case <-s.spawnDone:
		return true
	default:
		return false
	}
}

// waitForExit polls liveness until the process is gone or the timeout lapses
func (s *Supervisor) waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.spawnExited(pid) || !s.locator.IsRunning(pid) {
			return true
		}
		time.Sleep(defaultStopPollInterval)
	}
	return s.spawnExited(pid) || !s.locator.IsRunning(pid)
}

// terminatePID is a best-effort kill used when abandoning a half-started
// process before an elevated relaunch
func (s *Supervisor) terminatePID(pid int) {
	if err := sendTermSignal(pid); err != nil {
		s.logger.Debugf("Termination of abandoned process failed, pid: %d, error: %v", pid, err)
	}
	s.waitForExit(pid, s.stopKillTimeout)
}

// loadDocument parses the managed configuration file, or returns an empty
// document when it does not exist yet. With fresh set, a malformed file is
// discarded with a warning rather than aborting the operation.
func (s *Supervisor) loadDocument(fresh bool) (*caddyfile.Document, error) {
	content, err := os.ReadFile(s.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return caddyfile.NewDocument(), nil
		}
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("config_file", s.configFile)
	}

	doc, err := s.parser.Parse(string(content))
	if err != nil {
		if fresh && errors.IsFormatError(err) {
			s.logger.Warnf("Existing configuration is malformed, starting fresh: %v", err)
			return caddyfile.NewDocument(), nil
		}
		return nil, err
	}
	return doc, nil
}

// installGlobalOptions renders the global options block into doc
func (s *Supervisor) installGlobalOptions(doc *caddyfile.Document) error {
	email := s.email
	if email == "" {
		email = "admin@localhost"
	}
	rendered := s.engine.Render(caddyfile.GlobalTemplate, map[string]string{
		"email":         email,
		"data_dir":      filepath.Join(filepath.Dir(s.pidFiles.LogFilePath(s.serviceName)), "data"),
		"acme_dns_auth": s.acmeAuth,
	})
	renderedDoc, err := s.parser.Parse(rendered)
	if err != nil {
		return errors.NewFormatError("rendered global options do not parse", err)
	}
	doc.SetGlobalOptions(renderedDoc.GlobalOptions)
	return nil
}

// validateDocument serializes doc to a scratch file and has the proxy binary
// validate it. The managed file is never overwritten with unvalidated text.
func (s *Supervisor) validateDocument(ctx context.Context, doc *caddyfile.Document) error {
	scratch, err := os.CreateTemp("", "caddyctl-validate-*.caddyfile")
	if err != nil {
		return errors.NewIOError("failed to create scratch file for validation", err)
	}
	defer os.Remove(scratch.Name())

	if _, err := scratch.WriteString(s.writer.Serialize(doc)); err != nil {
		scratch.Close()
		return errors.NewIOError("failed to write scratch file for validation", err)
	}
	scratch.Close()

	return s.validateConfig(ctx, scratch.Name())
}
