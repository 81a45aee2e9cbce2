package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	flags "github.com/jessevdk/go-flags"

	"github.com/proxy-tools/caddyctl/pkg/config"
	"github.com/proxy-tools/caddyctl/pkg/dns"
	"github.com/proxy-tools/caddyctl/pkg/errors"
	"github.com/proxy-tools/caddyctl/pkg/logging"
	"github.com/proxy-tools/caddyctl/pkg/proxy"
)

type globalOptions struct {
	ConfigPath string `long:"config" short:"c" description:"path to the caddyctl configuration file"`
	Verbose    bool   `long:"verbose" short:"v" description:"enable debug logging"`
}

var globalOpts globalOptions

// app bundles everything a command needs
type app struct {
	cfg        *config.Config
	logger     logging.Logger
	supervisor *proxy.Supervisor
}

func buildApp() (*app, error) {
	cfg, err := config.Load(globalOpts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if globalOpts.Verbose {
		level = "debug"
	}
	zapLogger, err := logging.NewZapLogger(logging.ZapConfig{
		Level:      level,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger("caddyctl: ", logging.LogFuncs{
		Debugf: zapLogger.Debugf,
		Infof:  zapLogger.Infof,
		Warnf:  zapLogger.Warnf,
		Errorf: zapLogger.Errorf,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		supervisor: proxy.NewSupervisor(cfg, logger),
	}, nil
}

// zoneFor returns the configured zone, or derives it from the domain by
// stripping the leftmost label
func zoneFor(cfg *config.Config, domain string) string {
	if cfg.DNS.Zone != "" {
		return cfg.DNS.Zone
	}
	parts := strings.SplitN(domain, ".", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return domain
}

type initCommand struct {
	Binary string `long:"binary" description:"path to the caddy binary" default:"/usr/bin/caddy"`
	Email  string `long:"email" description:"ACME account email"`
	Zone   string `long:"zone" description:"Cloudflare zone name, e.g. example.com"`
	Port   int    `long:"port" description:"public HTTPS port" default:"443"`
	Force  bool   `long:"force" description:"overwrite an existing configuration file"`
}

func (c *initCommand) Execute(args []string) error {
	path := globalOpts.ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return errors.NewConflictError(
			fmt.Sprintf("configuration file %s already exists; pass --force to overwrite", path), nil)
	}

	cfg := &config.Config{}
	cfg.Proxy.BinaryPath = c.Binary
	cfg.Proxy.Email = c.Email
	cfg.Proxy.HTTPSPort = c.Port
	cfg.DNS.Zone = c.Zone

	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	fmt.Println("Set CLOUDFLARE_API_TOKEN in the environment (or a .env file) before deploying.")
	return nil
}

type deployCommand struct {
	ForceDNS    bool `long:"force-dns" description:"update the DNS record if it already exists"`
	SkipDNS     bool `long:"skip-dns" description:"do not touch DNS records"`
	NoStart     bool `long:"no-start" description:"update the configuration without starting the proxy"`
	FreshConfig bool `long:"fresh-config" description:"rebuild the configuration file from scratch if it is malformed"`

	Extra []string `long:"extra" short:"e" description:"extra directive line to splice into the site block (repeatable)"`

	Args struct {
		Domain string `positional-arg-name:"DOMAIN" required:"yes" description:"fully qualified domain to serve"`
		Target string `positional-arg-name:"TARGET" required:"yes" description:"backend address, e.g. localhost:9090"`
	} `positional-args:"yes"`
}

func (c *deployCommand) Execute(args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	ctx := context.Background()

	target, err := config.ValidateTarget(c.Args.Target)
	if err != nil {
		return err
	}

	if !c.SkipDNS {
		if err := c.ensureDNS(ctx, a); err != nil {
			return err
		}
	}

	if err := a.supervisor.Deploy(ctx, c.Args.Domain, target, c.Extra, c.FreshConfig); err != nil {
		return err
	}
	fmt.Printf("Deployed %s -> %s\n", c.Args.Domain, target)

	if c.NoStart {
		return nil
	}
	status, err := a.supervisor.Start(ctx)
	if errors.IsBindingUnverifiedError(err) {
		fmt.Printf("Proxy running (pid %d), but binding on port %d could not be verified\n", status.PID, status.Port)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Proxy running (pid %d) on port %d\n", status.PID, status.Port)
	return nil
}

// ensureDNS points an A record for the deployed domain at this machine's
// public address
func (c *deployCommand) ensureDNS(ctx context.Context, a *app) error {
	if !a.cfg.DNS.HasCredentials() {
		a.logger.Warnf("No Cloudflare credentials in environment, skipping DNS record management")
		return nil
	}

	client, err := dns.NewClient(&a.cfg.DNS, zoneFor(a.cfg, c.Args.Domain), a.logger)
	if err != nil {
		return err
	}

	ip, err := dns.PublicIP(ctx, a.logger)
	if err != nil {
		return err
	}

	record, err := client.EnsureRecord(ctx, dns.Record{
		Name:    c.Args.Domain,
		Type:    "A",
		Content: ip,
		Proxied: a.cfg.DNS.Proxied,
	}, c.ForceDNS)
	if err != nil {
		return err
	}
	fmt.Printf("DNS record %s -> %s (proxied: %v)\n", record.Name, record.Content, record.Proxied)
	return nil
}

type removeCommand struct {
	KeepDNS bool `long:"keep-dns" description:"leave the DNS record in place"`

	Args struct {
		Domain string `positional-arg-name:"DOMAIN" required:"yes" description:"domain to remove"`
	} `positional-args:"yes"`
}

func (c *removeCommand) Execute(args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if err := a.supervisor.Remove(ctx, c.Args.Domain); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", c.Args.Domain)

	if c.KeepDNS || !a.cfg.DNS.HasCredentials() {
		return nil
	}
	client, err := dns.NewClient(&a.cfg.DNS, zoneFor(a.cfg, c.Args.Domain), a.logger)
	if err != nil {
		return err
	}
	records, err := client.ListRecords(ctx, c.Args.Domain, "A")
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := client.DeleteRecord(ctx, record.ID); err != nil {
			return err
		}
		fmt.Printf("Deleted DNS record %s (%s)\n", record.Name, record.ID)
	}
	return nil
}

type startCommand struct{}

func (c *startCommand) Execute(args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	status, err := a.supervisor.Start(context.Background())
	if errors.IsBindingUnverifiedError(err) {
		fmt.Printf("Proxy running (pid %d), but binding on port %d could not be verified\n", status.PID, status.Port)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Proxy running (pid %d) on port %d\n", status.PID, status.Port)
	return nil
}

type stopCommand struct{}

func (c *stopCommand) Execute(args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	if err := a.supervisor.Stop(context.Background()); err != nil {
		return err
	}
	fmt.Println("Proxy stopped")
	return nil
}

type reloadCommand struct{}

func (c *reloadCommand) Execute(args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	if err := a.supervisor.Reload(context.Background()); err != nil {
		return err
	}
	fmt.Println("Proxy reloaded")
	return nil
}

type statusCommand struct{}

func (c *statusCommand) Execute(args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	status := a.supervisor.Status(context.Background())
	if !status.Running {
		fmt.Println("Proxy is not running")
		return nil
	}
	fmt.Printf("Proxy is running (pid %d)\n", status.PID)
	fmt.Printf("  port:    %d (binding verified: %v)\n", status.Port, status.BindingVerified)
	fmt.Printf("  config:  %s\n", status.ConfigFile)
	return nil
}

func main() {
	parser := flags.NewParser(&globalOpts, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = "Deploy local services behind a Cloudflare-backed Caddy reverse proxy"

	mustAdd := func(name, short, long string, data interface{}) {
		if _, err := parser.AddCommand(name, short, long, data); err != nil {
			fmt.Fprintf(os.Stderr, "failed to register command %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	mustAdd("init", "Write a starter configuration file", "", &initCommand{})
	mustAdd("deploy", "Deploy a domain in front of a local service", "", &deployCommand{})
	mustAdd("remove", "Remove a deployed domain", "", &removeCommand{})
	mustAdd("start", "Start the reverse proxy", "", &startCommand{})
	mustAdd("stop", "Stop the reverse proxy", "", &stopCommand{})
	mustAdd("reload", "Reload the proxy configuration in place", "", &reloadCommand{})
	mustAdd("status", "Show the proxy's current state", "", &statusCommand{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
