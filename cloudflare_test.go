package ipsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// cfResponse wraps a result the way the Cloudflare v4 API does. The
// result_info block tells the client there are no further pages to fetch.
func cfResponse(result string) string {
	return `{
  "success": true,
  "errors": [],
  "messages": [],
  "result": ` + result + `,
  "result_info": {"page": 1, "per_page": 100, "count": 1, "total_count": 1, "total_pages": 1}
}`
}

const cfHomeRecords = `[{"id": "rec1", "zone_id": "zone123", "type": "A", "name": "home.example.com", "content": "198.51.100.1", "ttl": 300, "proxied": false}]`

func newTestProvider(t *testing.T, handler http.Handler) (*cloudflareProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cf, err := newCloudflareProvider("test-token")
	if err != nil {
		t.Fatalf("newCloudflareProvider failed: %s", err)
	}
	cf.api.BaseURL = srv.URL
	return cf, srv
}

type recordUpdate struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied *bool  `json:"proxied"`
	Comment string `json:"comment"`
}

func TestUpdateRecords(t *testing.T) {
	var listQuery string
	var updateMethod string
	var update recordUpdate

	mux := http.NewServeMux()
	mux.HandleFunc("/zones/zone123/dns_records", func(w http.ResponseWriter, r *http.Request) {
		listQuery = r.URL.RawQuery
		io.WriteString(w, cfResponse(cfHomeRecords))
	})
	mux.HandleFunc("/zones/zone123/dns_records/rec1", func(w http.ResponseWriter, r *http.Request) {
		updateMethod = r.Method
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			t.Errorf("error decoding update body: %s", err)
		}
		io.WriteString(w, cfResponse(`{"id": "rec1", "type": "A", "name": "home.example.com", "content": "203.0.113.5"}`))
	})

	cf, srv := newTestProvider(t, mux)
	domains := map[string]Zone{"home.example.com": {ZoneID: "zone123"}}
	if err := cf.UpdateRecords(context.Background(), domains, "203.0.113.5"); err != nil {
		t.Fatalf("UpdateRecords failed: %s", err)
	}
	srv.Close()

	if !strings.Contains(listQuery, "type=A") || !strings.Contains(listQuery, "name=home.example.com") {
		t.Fatalf("Expected the record listing to filter on the domain's A records; got query %q", listQuery)
	}
	if updateMethod != http.MethodPut && updateMethod != http.MethodPatch {
		t.Fatalf("Expected the record to be rewritten in place; got method %q", updateMethod)
	}
	if update.Content != "203.0.113.5" {
		t.Fatalf("Expected content \"203.0.113.5\"; got %q", update.Content)
	}
	if update.Type != "A" || update.Name != "home.example.com" {
		t.Fatalf("Expected an A record update for home.example.com; got type=%q name=%q", update.Type, update.Name)
	}
	if update.TTL != 1 {
		t.Fatalf("Expected the automatic TTL 1; got %d", update.TTL)
	}
	if update.Proxied == nil || *update.Proxied {
		t.Fatalf("Expected proxied to be explicitly false; got %v", update.Proxied)
	}
	if !strings.HasPrefix(update.Comment, "managed by ipsync") {
		t.Fatalf("Expected the update comment to identify this tool; got %q", update.Comment)
	}
}

func TestUpdateRecordsMissingZoneID(t *testing.T) {
	var hits int
	cf, srv := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		io.WriteString(w, cfResponse("[]"))
	}))

	err := cf.UpdateRecords(context.Background(), map[string]Zone{"home.example.com": {}}, "203.0.113.5")
	srv.Close()
	if err == nil {
		t.Fatalf("Expected an error for a domain with no zone_id; got err == nil")
	}
	var derr *DNSUpdateError
	if !errors.As(err, &derr) {
		t.Fatalf("Expected a *DNSUpdateError; got %T: %s", err, err)
	}
	if len(derr.Failures) != 1 || derr.Failures[0].Reason != "no zone_id configured" {
		t.Fatalf("Expected a single \"no zone_id configured\" failure; got %v", derr.Failures)
	}
	if hits != 0 {
		t.Fatalf("Expected no api calls for an unconfigured domain; got %d", hits)
	}
}

func TestUpdateRecordsNoARecord(t *testing.T) {
	var updated bool
	mux := http.NewServeMux()
	mux.HandleFunc("/zones/zone123/dns_records", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, cfResponse("[]"))
	})
	mux.HandleFunc("/zones/zone123/dns_records/", func(w http.ResponseWriter, r *http.Request) {
		updated = true
	})

	cf, srv := newTestProvider(t, mux)
	err := cf.UpdateRecords(context.Background(), map[string]Zone{"home.example.com": {ZoneID: "zone123"}}, "203.0.113.5")
	srv.Close()
	if err == nil {
		t.Fatalf("Expected an error for a domain with no A record; got err == nil")
	}
	var derr *DNSUpdateError
	if !errors.As(err, &derr) {
		t.Fatalf("Expected a *DNSUpdateError; got %T: %s", err, err)
	}
	if len(derr.Failures) != 1 || derr.Failures[0].Reason != "no A record found" {
		t.Fatalf("Expected a single \"no A record found\" failure; got %v", derr.Failures)
	}
	if updated {
		t.Fatalf("Expected no update when the domain has no A record")
	}
}

// A failing domain must not stop the remaining domains from being updated.
func TestUpdateRecordsPartialFailure(t *testing.T) {
	var goodUpdated bool
	mux := http.NewServeMux()
	mux.HandleFunc("/zones/zoneBAD/dns_records", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"success": false, "errors": [{"code": 9109, "message": "Invalid access token"}], "messages": [], "result": null}`)
	})
	mux.HandleFunc("/zones/zoneGOOD/dns_records", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, cfResponse(`[{"id": "rec2", "zone_id": "zoneGOOD", "type": "A", "name": "good.example.com", "content": "198.51.100.1", "ttl": 1, "proxied": false}]`))
	})
	mux.HandleFunc("/zones/zoneGOOD/dns_records/rec2", func(w http.ResponseWriter, r *http.Request) {
		goodUpdated = true
		io.WriteString(w, cfResponse(`{"id": "rec2", "type": "A", "name": "good.example.com", "content": "203.0.113.5"}`))
	})

	cf, srv := newTestProvider(t, mux)
	domains := map[string]Zone{
		"bad.example.com":  {ZoneID: "zoneBAD"},
		"good.example.com": {ZoneID: "zoneGOOD"},
	}
	err := cf.UpdateRecords(context.Background(), domains, "203.0.113.5")
	srv.Close()

	if !goodUpdated {
		t.Fatalf("Expected good.example.com to be updated despite the bad.example.com failure")
	}
	var derr *DNSUpdateError
	if !errors.As(err, &derr) {
		t.Fatalf("Expected a *DNSUpdateError; got %T: %s", err, err)
	}
	if len(derr.Failures) != 1 {
		t.Fatalf("Expected exactly 1 failure; got %d: %v", len(derr.Failures), derr.Failures)
	}
	if derr.Failures[0].Domain != "bad.example.com" {
		t.Fatalf("Expected the failure to name bad.example.com; got %q", derr.Failures[0].Domain)
	}
	if n := strings.Count(err.Error(), "bad.example.com"); n != 1 {
		t.Fatalf("Expected the error to name bad.example.com once; found it %d times in %q", n, err.Error())
	}
}

func TestUpdateRecordsUsesFirstRecord(t *testing.T) {
	var updatedPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/zones/zone123/dns_records", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, cfResponse(`[
  {"id": "rec1", "zone_id": "zone123", "type": "A", "name": "home.example.com", "content": "198.51.100.1", "ttl": 1, "proxied": false},
  {"id": "rec2", "zone_id": "zone123", "type": "A", "name": "home.example.com", "content": "198.51.100.2", "ttl": 1, "proxied": false}
]`))
	})
	mux.HandleFunc("/zones/zone123/dns_records/", func(w http.ResponseWriter, r *http.Request) {
		updatedPath = r.URL.Path
		io.WriteString(w, cfResponse(`{"id": "rec1", "type": "A", "name": "home.example.com", "content": "203.0.113.5"}`))
	})

	cf, srv := newTestProvider(t, mux)
	if err := cf.UpdateRecords(context.Background(), map[string]Zone{"home.example.com": {ZoneID: "zone123"}}, "203.0.113.5"); err != nil {
		t.Fatalf("UpdateRecords failed: %s", err)
	}
	srv.Close()

	if expected := "/zones/zone123/dns_records/rec1"; updatedPath != expected {
		t.Fatalf("Expected the first record %q to be updated; got %q", expected, updatedPath)
	}
}
