package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/rhuss/proxified/pkg/api"
)

// ClientConfig describes a connection to a remote proxified MCP endpoint.
type ClientConfig struct {
	// URL is the MCP endpoint, e.g. http://localhost:8080/mcp.
	URL string

	// Transport is "streamable-http" (default) or "sse".
	Transport string

	// Token is sent as a bearer token on every request.
	Token string

	// Headers are added to every request.
	Headers map[string]string

	// OAuth obtains bearer tokens through the client credentials grant
	// instead of a static Token.
	OAuth *OAuthConfig
}

// OAuthConfig configures the OAuth 2.0 client credentials grant.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Client calls the registry tools of a remote proxified server.
type Client struct {
	session *sdk.ClientSession
}

// ToolError is a tool call the server answered with an error result.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

// Dial connects to the endpoint described by cfg.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("MCP endpoint URL is required")
	}
	if cfg.Token != "" && cfg.OAuth != nil {
		return nil, fmt.Errorf("set either a token or OAuth credentials, not both")
	}

	var t sdk.Transport
	httpClient := buildHTTPClient(ctx, cfg)
	switch cfg.Transport {
	case "streamable-http", "":
		t = &sdk.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}
	case "sse":
		t = &sdk.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}
	default:
		return nil, fmt.Errorf("unsupported transport type %q", cfg.Transport)
	}
	return DialTransport(ctx, t)
}

// DialTransport connects over an existing transport.
func DialTransport(ctx context.Context, t sdk.Transport) (*Client, error) {
	client := sdk.NewClient(&sdk.Implementation{Name: "proxifiedctl", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server: %w", err)
	}
	return &Client{session: session}, nil
}

// buildHTTPClient layers static headers and bearer authentication over the
// default transport. The OAuth token source fetches with ctx.
func buildHTTPClient(ctx context.Context, cfg ClientConfig) *http.Client {
	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Token != "" {
		headers["Authorization"] = "Bearer " + cfg.Token
	}

	var rt http.RoundTripper = &headerTransport{base: http.DefaultTransport, headers: headers}
	if cfg.OAuth != nil {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		rt = &oauth2.Transport{Source: cc.TokenSource(ctx), Base: rt}
	}
	return &http.Client{Transport: rt}
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) > 0 {
		req = req.Clone(req.Context())
		for k, v := range t.headers {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// Close ends the MCP session.
func (c *Client) Close() error {
	return c.session.Close()
}

// Tools returns the names of the tools the server offers.
func (c *Client) Tools(ctx context.Context) ([]string, error) {
	var names []string
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools: %w", err)
		}
		names = append(names, tool.Name)
	}
	return names, nil
}

// List returns every record of the session's tenant.
func (c *Client) List(ctx context.Context) ([]api.Record, error) {
	out, err := callTool[ListOutput](ctx, c.session, ToolList, struct{}{})
	return out.Containers, err
}

// Retrieve returns the record for containerID.
func (c *Client) Retrieve(ctx context.Context, containerID string) (api.Record, error) {
	out, err := callTool[RecordOutput](ctx, c.session, ToolGet, ContainerInput{ContainerID: containerID})
	return out.Container, err
}

// RetrieveFromBackground resolves the proxy for containerID. Transport
// failures resolve to the direct proxy like any other lookup failure.
func (c *Client) RetrieveFromBackground(ctx context.Context, containerID string) api.ProxyDescriptor {
	out, err := callTool[ProxyOutput](ctx, c.session, ToolResolve, ContainerInput{ContainerID: containerID})
	if err != nil {
		return api.DirectProxy
	}
	return out.Proxy
}

// Set maps containerID to proxy.
func (c *Client) Set(ctx context.Context, containerID string, proxy api.ProxyDescriptor, initialize bool) (api.Record, error) {
	out, err := callTool[RecordOutput](ctx, c.session, ToolSet, SetInput{
		ContainerID: containerID,
		Descriptor:  proxy.String(),
		Initialize:  initialize,
	})
	return out.Container, err
}

// Delete removes the record for containerID.
func (c *Client) Delete(ctx context.Context, containerID string) error {
	_, err := callTool[DeleteOutput](ctx, c.session, ToolDelete, ContainerInput{ContainerID: containerID})
	return err
}

// Parse parses s on the server.
func (c *Client) Parse(ctx context.Context, s string) (api.ProxyDescriptor, bool, error) {
	out, err := callTool[ParseOutput](ctx, c.session, ToolParse, ParseInput{Descriptor: s})
	if err != nil || !out.Matched || out.Proxy == nil {
		return api.ProxyDescriptor{}, false, err
	}
	return *out.Proxy, true, nil
}

// callTool invokes name with in and decodes the structured result into Out.
func callTool[Out any](ctx context.Context, session *sdk.ClientSession, name string, in any) (Out, error) {
	var out Out
	res, err := session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: in})
	if err != nil {
		return out, fmt.Errorf("calling %s: %w", name, err)
	}
	if res.IsError {
		return out, &ToolError{Tool: name, Message: textContent(res)}
	}

	raw, err := json.Marshal(res.StructuredContent)
	if err != nil {
		return out, fmt.Errorf("encoding %s result: %w", name, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decoding %s result: %w", name, err)
	}
	return out, nil
}

func textContent(res *sdk.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
