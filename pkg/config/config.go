package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/proxy-tools/caddyctl/pkg/errors"
)

// AppName is used for configuration and state directory placement
const AppName = "caddyctl"

// Config is the top-level caddyctl configuration
type Config struct {
	Proxy   ProxyConfig   `yaml:"proxy"`
	DNS     DNSConfig     `yaml:"dns"`
	Logging LoggingConfig `yaml:"logging"`
}

// ProxyConfig describes the supervised reverse proxy
type ProxyConfig struct {
	// Path to the caddy binary
	BinaryPath string `yaml:"binary_path" env:"CADDYCTL_BINARY_PATH"`

	// Path to the managed Caddyfile. Defaults to the XDG config directory.
	ConfigFile string `yaml:"config_file" env:"CADDYCTL_CONFIG_FILE"`

	// Public TLS port the proxy listens on
	HTTPSPort int `yaml:"https_port" env:"CADDYCTL_HTTPS_PORT"`

	// ACME account email for certificate issuance
	Email string `yaml:"email" env:"CADDYCTL_EMAIL"`

	// Run the proxy as a system service rather than a user process
	SystemService bool `yaml:"system_service" env:"CADDYCTL_SYSTEM_SERVICE"`
}

// DNSConfig describes the Cloudflare zone the deployed domains live in.
// Credentials are environment-only: they are never read from or written to
// the configuration file.
type DNSConfig struct {
	// Zone name, e.g. "example.com". Derived from the domain when empty.
	Zone string `yaml:"zone" env:"CADDYCTL_DNS_ZONE"`

	// Route traffic through Cloudflare's proxy rather than DNS-only
	Proxied bool `yaml:"proxied" env:"CADDYCTL_DNS_PROXIED"`

	APIToken string `yaml:"-" env:"CLOUDFLARE_API_TOKEN"`
	APIKey   string `yaml:"-" env:"CLOUDFLARE_API_KEY"`
	APIEmail string `yaml:"-" env:"CLOUDFLARE_EMAIL"`
}

// LoggingConfig controls caddyctl's own log output
type LoggingConfig struct {
	Level      string `yaml:"level" env:"CADDYCTL_LOG_LEVEL"`
	FilePath   string `yaml:"file_path" env:"CADDYCTL_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultConfigPath returns the default configuration file location
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// DefaultCaddyfilePath returns the default managed Caddyfile location
func DefaultCaddyfilePath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "Caddyfile")
}

// Load reads configuration from the given YAML file, applies defaults, and
// overlays environment variables. A missing file is not an error: defaults
// plus environment are enough to run. A .env file in the working directory
// is honored when present.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	if path == "" {
		path = DefaultConfigPath()
	}

	config := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", path)
		}
	} else {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", path)
		}
	}

	setDefaults(config)

	if err := env.Parse(config); err != nil {
		return nil, errors.NewValidationError("failed to apply environment overrides", err)
	}

	return config, nil
}

// Save writes the configuration as YAML to the given path, creating parent
// directories as needed. Credential fields are excluded by their yaml tags.
func Save(config *Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.NewInternalError("failed to marshal configuration", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewIOError("failed to create configuration directory", err).WithContext("directory", filepath.Dir(path))
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.NewIOError("failed to write configuration file", err).WithContext("filename", path)
	}
	return nil
}

// setDefaults fills unset fields with working defaults
func setDefaults(config *Config) {
	if config.Proxy.BinaryPath == "" {
		config.Proxy.BinaryPath = "/usr/bin/caddy"
	}
	if config.Proxy.ConfigFile == "" {
		config.Proxy.ConfigFile = DefaultCaddyfilePath()
	}
	if config.Proxy.HTTPSPort == 0 {
		config.Proxy.HTTPSPort = 443
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.MaxSizeMB == 0 {
		config.Logging.MaxSizeMB = 10
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = 3
	}
	if config.Logging.MaxAgeDays == 0 {
		config.Logging.MaxAgeDays = 30
	}
}

// Validate checks the configuration for structural problems
func Validate(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if !filepath.IsAbs(config.Proxy.BinaryPath) {
		return errors.NewValidationError("proxy binary path must be absolute", nil).WithContext("binary_path", config.Proxy.BinaryPath)
	}

	if config.Proxy.HTTPSPort < 1 || config.Proxy.HTTPSPort > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid HTTPS port: %d", config.Proxy.HTTPSPort), nil)
	}

	if config.Proxy.Email != "" && !strings.Contains(config.Proxy.Email, "@") {
		return errors.NewValidationError("invalid ACME email", nil).WithContext("email", config.Proxy.Email)
	}

	return nil
}

// HasCredentials reports whether Cloudflare credentials are available in the
// environment, either a scoped API token or a global key with account email
func (d *DNSConfig) HasCredentials() bool {
	return d.APIToken != "" || (d.APIKey != "" && d.APIEmail != "")
}

// ValidateTarget checks a deploy target of the form host:port or a URL
func ValidateTarget(target string) (string, error) {
	if target == "" {
		return "", errors.NewValidationError("deploy target cannot be empty", nil)
	}

	// Accept full URLs and reduce them to host:port.
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil || u.Host == "" {
			return "", errors.NewValidationError("invalid deploy target URL", err).WithContext("target", target)
		}
		return u.Host, nil
	}

	if strings.HasPrefix(target, ":") {
		return "localhost" + target, nil
	}
	return target, nil
}
