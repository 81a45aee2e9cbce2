package dns

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxy-tools/caddyctl/pkg/config"
	"github.com/proxy-tools/caddyctl/pkg/errors"
)

// DNSMockLogger is a simple mock implementation of Logger for testing
type DNSMockLogger struct{}

func (m *DNSMockLogger) Debugf(format string, args ...interface{}) {}
func (m *DNSMockLogger) Infof(format string, args ...interface{})  {}
func (m *DNSMockLogger) Warnf(format string, args ...interface{})  {}
func (m *DNSMockLogger) Errorf(format string, args ...interface{}) {}

// fakeCloudflare serves a minimal in-memory zone
type fakeCloudflare struct {
	records   map[string]Record
	nextID    int
	lastAuth  http.Header
	failAll   bool
	zoneEmpty bool
}

func (f *fakeCloudflare) handler() http.Handler {
	mux := http.NewServeMux()

	writeResult := func(w http.ResponseWriter, result interface{}) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"errors":  []interface{}{},
			"result":  result,
		})
	}
	writeError := func(w http.ResponseWriter, message string) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"errors":  []map[string]interface{}{{"code": 1000, "message": message}},
		})
	}

	mux.HandleFunc("/zones", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth = r.Header.Clone()
		if f.zoneEmpty {
			writeResult(w, []interface{}{})
			return
		}
		writeResult(w, []map[string]string{{"id": "zone-1", "name": r.URL.Query().Get("name")}})
	})

	mux.HandleFunc("/zones/zone-1/dns_records", func(w http.ResponseWriter, r *http.Request) {
		if f.failAll {
			writeError(w, "internal error")
			return
		}
		switch r.Method {
		case http.MethodGet:
			var matches []Record
			for _, rec := range f.records {
				if name := r.URL.Query().Get("name"); name != "" && rec.Name != name {
					continue
				}
				if rt := r.URL.Query().Get("type"); rt != "" && rec.Type != rt {
					continue
				}
				matches = append(matches, rec)
			}
			writeResult(w, matches)
		case http.MethodPost:
			var rec Record
			_ = json.NewDecoder(r.Body).Decode(&rec)
			for _, existing := range f.records {
				if existing.Name == rec.Name && existing.Type == rec.Type {
					writeError(w, "record already exists")
					return
				}
			}
			f.nextID++
			rec.ID = "rec-" + strconv.Itoa(f.nextID)
			f.records[rec.ID] = rec
			writeResult(w, rec)
		}
	})

	mux.HandleFunc("/zones/zone-1/dns_records/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/zones/zone-1/dns_records/"):]
		switch r.Method {
		case http.MethodGet:
			rec, ok := f.records[id]
			if !ok {
				writeError(w, "record not found")
				return
			}
			writeResult(w, rec)
		case http.MethodPut:
			var rec Record
			_ = json.NewDecoder(r.Body).Decode(&rec)
			rec.ID = id
			f.records[id] = rec
			writeResult(w, rec)
		case http.MethodDelete:
			delete(f.records, id)
			writeResult(w, map[string]string{"id": id})
		}
	})

	return mux
}

func newTestClient(t *testing.T, fake *fakeCloudflare, dnsConfig *config.DNSConfig) *Client {
	t.Helper()

	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(dnsConfig, "example.com", &DNSMockLogger{})
	require.NoError(t, err)
	client.baseURL = server.URL
	return client
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(&config.DNSConfig{}, "example.com", &DNSMockLogger{})
	assert.True(t, errors.IsValidationError(err))

	_, err = NewClient(&config.DNSConfig{APIToken: "t"}, "", &DNSMockLogger{})
	assert.True(t, errors.IsValidationError(err))
}

func TestZoneID_ResolvedOnceAndCached(t *testing.T) {
	fake := &fakeCloudflare{records: map[string]Record{}}
	client := newTestClient(t, fake, &config.DNSConfig{APIToken: "tok"})

	id, err := client.ZoneID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "zone-1", id)

	assert.Equal(t, "Bearer tok", fake.lastAuth.Get("Authorization"))

	id, err = client.ZoneID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "zone-1", id)
}

func TestZoneID_UnknownZone(t *testing.T) {
	fake := &fakeCloudflare{records: map[string]Record{}, zoneEmpty: true}
	client := newTestClient(t, fake, &config.DNSConfig{APIToken: "tok"})

	_, err := client.ZoneID(context.Background())
	assert.True(t, errors.IsNotFoundError(err))
}

func TestLegacyKeyAuthHeaders(t *testing.T) {
	fake := &fakeCloudflare{records: map[string]Record{}}
	client := newTestClient(t, fake, &config.DNSConfig{APIKey: "key", APIEmail: "ops@example.com"})

	_, err := client.ZoneID(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "key", fake.lastAuth.Get("X-Auth-Key"))
	assert.Equal(t, "ops@example.com", fake.lastAuth.Get("X-Auth-Email"))
	assert.Empty(t, fake.lastAuth.Get("Authorization"))
}

func TestCreateRecord_AppliesDefaults(t *testing.T) {
	fake := &fakeCloudflare{records: map[string]Record{}}
	client := newTestClient(t, fake, &config.DNSConfig{APIToken: "tok"})

	created, err := client.CreateRecord(context.Background(), Record{
		Name:    "svc.example.com",
		Content: "203.0.113.10",
		Proxied: true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "A", created.Type)
	assert.Equal(t, 1, created.TTL)
}

func TestEnsureRecord_ConflictWithoutForce(t *testing.T) {
	fake := &fakeCloudflare{records: map[string]Record{
		"rec-1": {ID: "rec-1", Name: "svc.example.com", Type: "A", Content: "198.51.100.1"},
	}}
	client := newTestClient(t, fake, &config.DNSConfig{APIToken: "tok"})

	_, err := client.EnsureRecord(context.Background(), Record{
		Name:    "svc.example.com",
		Type:    "A",
		Content: "203.0.113.10",
	}, false)

	assert.True(t, errors.IsConflictError(err))
}

func TestEnsureRecord_ForceUpdatesExisting(t *testing.T) {
	fake := &fakeCloudflare{records: map[string]Record{
		"rec-1": {ID: "rec-1", Name: "svc.example.com", Type: "A", Content: "198.51.100.1"},
	}}
	client := newTestClient(t, fake, &config.DNSConfig{APIToken: "tok"})

	updated, err := client.EnsureRecord(context.Background(), Record{
		Name:    "svc.example.com",
		Type:    "A",
		Content: "203.0.113.10",
	}, true)

	require.NoError(t, err)
	assert.Equal(t, "rec-1", updated.ID)
	assert.Equal(t, "203.0.113.10", updated.Content)
	assert.Equal(t, "203.0.113.10", fake.records["rec-1"].Content)
}

func TestEnsureRecord_CreatesWhenAbsent(t *testing.T) {
	fake := &fakeCloudflare{records: map[string]Record{}}
	client := newTestClient(t, fake, &config.DNSConfig{APIToken: "tok"})

	created, err := client.EnsureRecord(context.Background(), Record{
		Name:    "svc.example.com",
		Type:    "A",
		Content: "203.0.113.10",
	}, false)

	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Len(t, fake.records, 1)
}

func TestDeleteRecord(t *testing.T) {
	fake := &fakeCloudflare{records: map[string]Record{
		"rec-1": {ID: "rec-1", Name: "svc.example.com", Type: "A"},
	}}
	client := newTestClient(t, fake, &config.DNSConfig{APIToken: "tok"})

	require.NoError(t, client.DeleteRecord(context.Background(), "rec-1"))
	assert.Empty(t, fake.records)
}

func TestAPIErrorSurfacesMessage(t *testing.T) {
	fake := &fakeCloudflare{records: map[string]Record{}, failAll: true}
	client := newTestClient(t, fake, &config.DNSConfig{APIToken: "tok"})

	_, err := client.ListRecords(context.Background(), "", "")
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
	assert.Contains(t, err.Error(), "internal error")
}
