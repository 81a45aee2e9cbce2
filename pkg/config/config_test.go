package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxy-tools/caddyctl/pkg/errors"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/caddy", config.Proxy.BinaryPath)
	assert.Equal(t, 443, config.Proxy.HTTPSPort)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoad_YAMLValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `proxy:
  binary_path: /usr/local/bin/caddy
  https_port: 8443
  email: ops@example.com
dns:
  zone: example.com
  proxied: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/caddy", config.Proxy.BinaryPath)
	assert.Equal(t, 8443, config.Proxy.HTTPSPort)
	assert.Equal(t, "ops@example.com", config.Proxy.Email)
	assert.Equal(t, "example.com", config.DNS.Zone)
	assert.True(t, config.DNS.Proxied)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proxy: [unclosed"), 0644))

	_, err := Load(path)
	assert.True(t, errors.IsValidationError(err))
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proxy:\n  https_port: 8443\n"), 0644))

	t.Setenv("CADDYCTL_HTTPS_PORT", "9443")
	t.Setenv("CLOUDFLARE_API_TOKEN", "test-token")

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9443, config.Proxy.HTTPSPort)
	assert.Equal(t, "test-token", config.DNS.APIToken)
}

func TestSave_ExcludesCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	config := &Config{}
	setDefaults(config)
	config.DNS.APIToken = "secret-token"
	config.DNS.APIKey = "secret-key"

	require.NoError(t, Save(config, path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "secret-token")
	assert.NotContains(t, string(content), "secret-key")
}

func TestValidate(t *testing.T) {
	config := &Config{}
	setDefaults(config)

	assert.NoError(t, Validate(config))
}

func TestValidate_RelativeBinaryPath(t *testing.T) {
	config := &Config{}
	setDefaults(config)
	config.Proxy.BinaryPath = "caddy"

	assert.True(t, errors.IsValidationError(Validate(config)))
}

func TestValidate_BadPort(t *testing.T) {
	config := &Config{}
	setDefaults(config)
	config.Proxy.HTTPSPort = 70000

	assert.True(t, errors.IsValidationError(Validate(config)))
}

func TestValidate_BadEmail(t *testing.T) {
	config := &Config{}
	setDefaults(config)
	config.Proxy.Email = "not-an-email"

	assert.True(t, errors.IsValidationError(Validate(config)))
}

func TestHasCredentials(t *testing.T) {
	assert.False(t, (&DNSConfig{}).HasCredentials())
	assert.True(t, (&DNSConfig{APIToken: "t"}).HasCredentials())
	assert.False(t, (&DNSConfig{APIKey: "k"}).HasCredentials())
	assert.True(t, (&DNSConfig{APIKey: "k", APIEmail: "e@x.com"}).HasCredentials())
}

func TestValidateTarget(t *testing.T) {
	host, err := ValidateTarget("localhost:9090")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9090", host)

	host, err = ValidateTarget("http://127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", host)

	host, err = ValidateTarget(":3000")
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", host)

	_, err = ValidateTarget("")
	assert.True(t, errors.IsValidationError(err))
}
