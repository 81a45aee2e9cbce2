package dns

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/proxy-tools/caddyctl/pkg/errors"
	"github.com/proxy-tools/caddyctl/pkg/logging"
)

// publicIPServices are tried in order until one answers with a valid address
var publicIPServices = []string{
	"https://api.ipify.org",
	"https://ipinfo.io/ip",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

const publicIPTimeout = 5 * time.Second

// PublicIP detects this machine's public address by asking a series of
// plain-text IP echo services
func PublicIP(ctx context.Context, logger logging.Logger) (string, error) {
	client := &http.Client{Timeout: publicIPTimeout}

	for _, service := range publicIPServices {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, service, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			logger.Debugf("Public IP service unavailable: %s, error: %v", service, err)
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}

		ip := strings.TrimSpace(string(body))
		if net.ParseIP(ip) == nil {
			logger.Debugf("Public IP service returned garbage: %s, body: %q", service, ip)
			continue
		}
		logger.Debugf("Detected public IP %s via %s", ip, service)
		return ip, nil
	}

	return "", errors.NewNetworkError("could not determine public IP address", nil)
}
