package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/proxy-tools/caddyctl/pkg/config"
	"github.com/proxy-tools/caddyctl/pkg/errors"
	"github.com/proxy-tools/caddyctl/pkg/logging"
)

// DefaultBaseURL is the Cloudflare v4 API endpoint
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

const requestTimeout = 30 * time.Second

// Record is one DNS record in the managed zone
type Record struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
	TTL     int    `json:"ttl"`
}

// apiEnvelope is the response wrapper every v4 endpoint uses
type apiEnvelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result json.RawMessage `json:"result"`
}

// Client manages DNS records in one Cloudflare zone. Authentication is
// either a scoped API token (preferred) or the legacy global key plus
// account email.
type Client struct {
	baseURL    string
	zone       string
	apiToken   string
	apiKey     string
	apiEmail   string
	httpClient *http.Client
	logger     logging.Logger

	zoneID string
}

// NewClient creates a Cloudflare DNS client for the given zone
func NewClient(dnsConfig *config.DNSConfig, zone string, logger logging.Logger) (*Client, error) {
	if !dnsConfig.HasCredentials() {
		return nil, errors.NewValidationError(
			"no Cloudflare credentials; set CLOUDFLARE_API_TOKEN or CLOUDFLARE_API_KEY and CLOUDFLARE_EMAIL", nil)
	}
	if zone == "" {
		return nil, errors.NewValidationError("zone name cannot be empty", nil)
	}

	return &Client{
		baseURL:    DefaultBaseURL,
		zone:       zone,
		apiToken:   strings.TrimSpace(dnsConfig.APIToken),
		apiKey:     strings.TrimSpace(dnsConfig.APIKey),
		apiEmail:   strings.TrimSpace(dnsConfig.APIEmail),
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}, nil
}

// ZoneID resolves and caches the zone identifier for the configured zone
func (c *Client) ZoneID(ctx context.Context) (string, error) {
	if c.zoneID != "" {
		return c.zoneID, nil
	}

	var zones []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	query := url.Values{"name": {c.zone}}
	if err := c.do(ctx, http.MethodGet, "/zones?"+query.Encode(), nil, &zones); err != nil {
		return "", err
	}
	if len(zones) == 0 {
		return "", errors.NewNotFoundError(
			fmt.Sprintf("zone %q not found in the Cloudflare account", c.zone), nil)
	}

	c.zoneID = zones[0].ID
	c.logger.Debugf("Resolved zone, name: %s, id: %s", c.zone, c.zoneID)
	return c.zoneID, nil
}

// EnsureRecord creates the record, or updates the existing record of the
// same name and type when forceUpdate is set. Without forceUpdate an
// existing record is a conflict.
func (c *Client) EnsureRecord(ctx context.Context, record Record, forceUpdate bool) (*Record, error) {
	existing, err := c.ListRecords(ctx, record.Name, record.Type)
	if err != nil {
		return nil, err
	}

	if len(existing) > 0 {
		if !forceUpdate {
			return nil, errors.NewConflictError(
				fmt.Sprintf("DNS record %s already exists; pass force to update it", record.Name), nil)
		}
		record.ID = existing[0].ID
		c.logger.Infof("Updating existing DNS record, name: %s, id: %s", record.Name, record.ID)
		return c.UpdateRecord(ctx, record)
	}

	return c.CreateRecord(ctx, record)
}

// CreateRecord creates a DNS record in the zone
func (c *Client) CreateRecord(ctx context.Context, record Record) (*Record, error) {
	zoneID, err := c.ZoneID(ctx)
	if err != nil {
		return nil, err
	}

	normalizeRecord(&record)
	c.logger.Infof("Creating DNS record, name: %s, type: %s, content: %s, proxied: %v",
		record.Name, record.Type, record.Content, record.Proxied)

	var created Record
	if err := c.do(ctx, http.MethodPost, "/zones/"+zoneID+"/dns_records", record, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateRecord replaces the record identified by record.ID
func (c *Client) UpdateRecord(ctx context.Context, record Record) (*Record, error) {
	if record.ID == "" {
		return nil, errors.NewValidationError("record ID is required for update", nil)
	}
	zoneID, err := c.ZoneID(ctx)
	if err != nil {
		return nil, err
	}

	normalizeRecord(&record)
	var updated Record
	if err := c.do(ctx, http.MethodPut, "/zones/"+zoneID+"/dns_records/"+record.ID, record, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// GetRecord fetches one record by ID
func (c *Client) GetRecord(ctx context.Context, recordID string) (*Record, error) {
	zoneID, err := c.ZoneID(ctx)
	if err != nil {
		return nil, err
	}

	var record Record
	if err := c.do(ctx, http.MethodGet, "/zones/"+zoneID+"/dns_records/"+recordID, nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRecords lists records in the zone, optionally filtered by exact name
// and type
func (c *Client) ListRecords(ctx context.Context, name, recordType string) ([]Record, error) {
	zoneID, err := c.ZoneID(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if name != "" {
		query.Set("name", name)
	}
	if recordType != "" {
		query.Set("type", recordType)
	}
	path := "/zones/" + zoneID + "/dns_records"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var records []Record
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteRecord removes one record by ID
func (c *Client) DeleteRecord(ctx context.Context, recordID string) error {
	zoneID, err := c.ZoneID(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/zones/"+zoneID+"/dns_records/"+recordID, nil, nil)
}

// normalizeRecord fills API defaults: TTL 1 means automatic, type defaults
// to an A record
func normalizeRecord(record *Record) {
	if record.TTL == 0 {
		record.TTL = 1
	}
	if record.Type == "" {
		record.Type = "A"
	}
}

// do executes one API call and decodes the result envelope into out
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.NewInternalError("failed to encode API request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.NewInternalError("failed to build API request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	} else {
		req.Header.Set("X-Auth-Key", c.apiKey)
		req.Header.Set("X-Auth-Email", c.apiEmail)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewNetworkError("Cloudflare API request failed", err).WithContext("path", path)
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errors.NewNetworkError("failed to decode Cloudflare API response", err).
			WithContext("path", path).WithContext("status", resp.StatusCode)
	}

	if !envelope.Success {
		message := "unknown API error"
		if len(envelope.Errors) > 0 {
			message = envelope.Errors[0].Message
		}
		if strings.Contains(strings.ToLower(message), "already exists") {
			return errors.NewConflictError(message, nil).WithContext("path", path)
		}
		return errors.NewNetworkError(
			fmt.Sprintf("Cloudflare API error: %s", message), nil).
			WithContext("path", path).WithContext("status", resp.StatusCode)
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return errors.NewNetworkError("failed to decode API result", err).WithContext("path", path)
		}
	}
	return nil
}
