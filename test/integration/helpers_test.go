// Package integration provides integration tests for the proxified API.
//
// Tests run against a real proxified HTTP server backed by a temporary
// SQLite database, started in-process using net/http/httptest. The stack is
// assembled through pkg/bootstrap the same way cmd/server does it.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/proxified/pkg/auth"
	"github.com/rhuss/proxified/pkg/bootstrap"
	"github.com/rhuss/proxified/pkg/config"
	"github.com/rhuss/proxified/pkg/mcp"
	"github.com/rhuss/proxified/pkg/storage"
	transporthttp "github.com/rhuss/proxified/pkg/transport/http"
)

// API keys provisioned in the test environment.
const (
	keyOrg1    = "sk-integration-org1"
	keyOrg2    = "sk-integration-org2"
	keyOrg3    = "sk-integration-org3"
	keyLimited = "sk-integration-limited"

	limitedRPM = 2
)

// testEnv holds the shared server for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the proxified server and its backing store.
type TestEnvironment struct {
	Server  *httptest.Server
	backend storage.Backend
	dir     string
}

// TestMain starts the proxified server before running tests.
func TestMain(m *testing.M) {
	testEnv = setupTestEnvironment()
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

// setupTestEnvironment builds a server with API key auth for two tenants and
// a rate limited tier, the metrics endpoint and the MCP endpoint.
func setupTestEnvironment() *TestEnvironment {
	dir, err := os.MkdirTemp("", "proxified-integration-")
	if err != nil {
		panic(fmt.Sprintf("creating temp dir: %v", err))
	}

	cfg := config.Defaults()
	cfg.Storage.Type = "sqlite"
	cfg.Storage.SQLite.Path = filepath.Join(dir, "proxified.db")
	cfg.Auth.Type = "apikey"
	cfg.Auth.APIKeys = []config.APIKeyConfig{
		{Key: keyOrg1, Subject: "alice", TenantID: "org-1"},
		{Key: keyOrg2, Subject: "bob", TenantID: "org-2"},
		{Key: keyOrg3, Subject: "dave", TenantID: "org-3"},
		{Key: keyLimited, Subject: "carol", TenantID: "org-limited", ServiceTier: "limited"},
	}
	cfg.Auth.RateLimit = config.RateLimitConfig{Tiers: map[string]int{"limited": limitedRPM}}

	reg, backend, err := bootstrap.NewRegistry(context.Background(), &cfg)
	if err != nil {
		panic(fmt.Sprintf("creating registry: %v", err))
	}

	chain, err := bootstrap.NewAuthChain(cfg.Auth)
	if err != nil {
		panic(fmt.Sprintf("creating auth chain: %v", err))
	}

	srv := transporthttp.NewServer(reg,
		transporthttp.WithMiddleware(auth.Middleware(chain,
			bootstrap.NewRateLimiter(cfg.Auth.RateLimit),
			bootstrap.BypassEndpoints(&cfg),
		)),
		transporthttp.WithHandler("GET "+cfg.Observability.Metrics.Path, promhttp.Handler()),
		transporthttp.WithHandler(cfg.MCP.Path, mcp.NewServer(reg, "integration").Handler()),
	)

	return &TestEnvironment{
		Server:  httptest.NewServer(srv.Handler()),
		backend: backend,
		dir:     dir,
	}
}

// BaseURL returns the base URL of the proxified server.
func (e *TestEnvironment) BaseURL() string {
	return e.Server.URL
}

// Teardown stops the server and removes the database.
func (e *TestEnvironment) Teardown() {
	e.Server.Close()
	e.backend.Close()
	os.RemoveAll(e.dir)
}

// --- HTTP helpers ---

// do sends a request with an optional bearer key and JSON body.
func do(t *testing.T, method, path, key string, body any) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, testEnv.BaseURL()+path, r)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// getURL sends an authenticated GET request.
func getURL(t *testing.T, path, key string) *http.Response {
	t.Helper()
	return do(t, http.MethodGet, path, key, nil)
}

// putJSON sends an authenticated PUT request with a JSON body.
func putJSON(t *testing.T, path, key string, body any) *http.Response {
	t.Helper()
	return do(t, http.MethodPut, path, key, body)
}

// postJSON sends an authenticated POST request with a JSON body.
func postJSON(t *testing.T, path, key string, body any) *http.Response {
	t.Helper()
	return do(t, http.MethodPost, path, key, body)
}

// deleteURL sends an authenticated DELETE request.
func deleteURL(t *testing.T, path, key string) *http.Response {
	t.Helper()
	return do(t, http.MethodDelete, path, key, nil)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(body)
}

// decodeJSON reads the response body and decodes it into the target.
func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding JSON: %v", err)
	}
}

// expectStatus fails the test when resp does not carry want.
func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, readBody(t, resp))
	}
}
