package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/proxified/pkg/api"
	"github.com/rhuss/proxified/pkg/mcp"
)

// bearerTransport adds an API key to every outgoing request.
type bearerTransport struct {
	key string
}

func (b bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.key)
	return http.DefaultTransport.RoundTrip(req)
}

// mcpSession connects an MCP client to the server's MCP endpoint as key.
func mcpSession(t *testing.T, key string) *sdk.ClientSession {
	t.Helper()
	client := sdk.NewClient(&sdk.Implementation{Name: "integration-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(context.Background(), &sdk.StreamableClientTransport{
		Endpoint:   testEnv.BaseURL() + "/mcp",
		HTTPClient: &http.Client{Transport: bearerTransport{key: key}},
	}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestMCPRequiresCredentials(t *testing.T) {
	resp := postJSON(t, "/mcp", "", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "ping"})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestMCPSharesTenantWithHTTP(t *testing.T) {
	resp := putJSON(t, "/v1/containers/personal?initialize=true", keyOrg2, map[string]any{
		"descriptor": "socks://mcp.example.com:1080",
	})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	cs := mcpSession(t, keyOrg2)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      mcp.ToolGet,
		Arguments: map[string]any{"container_id": "personal"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}

	var out mcp.RecordOutput
	raw, _ := json.Marshal(res.StructuredContent)
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Container.Proxy.Host != "mcp.example.com" {
		t.Errorf("host = %q, want %q", out.Container.Proxy.Host, "mcp.example.com")
	}

	// A write through MCP is visible over HTTP for the same tenant only.
	res, err = cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      mcp.ToolSet,
		Arguments: map[string]any{"container_id": "banking", "descriptor": "https://bank-proxy.example.com"},
	})
	if err != nil || res.IsError {
		t.Fatalf("set via MCP: err=%v result=%+v", err, res)
	}

	resp = getURL(t, "/v1/containers/banking", keyOrg2)
	expectStatus(t, resp, http.StatusOK)
	var rec api.Record
	decodeJSON(t, resp, &rec)
	if rec.Proxy.Type != api.ProxyTypeHTTPS {
		t.Errorf("type = %q, want %q", rec.Proxy.Type, api.ProxyTypeHTTPS)
	}

	resp = getURL(t, "/v1/containers/banking/proxy", keyOrg1)
	expectStatus(t, resp, http.StatusOK)
	var proxy api.ProxyDescriptor
	decodeJSON(t, resp, &proxy)
	if !proxy.IsDirect() {
		t.Errorf("org-1 resolved %+v, want direct", proxy)
	}
}
