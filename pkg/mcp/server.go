// Package mcp exposes the container proxy registry as Model Context Protocol
// tools, served over the streamable HTTP transport.
package mcp

import (
	"context"
	"net/http"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/proxified/pkg/api"
	"github.com/rhuss/proxified/pkg/auth"
	"github.com/rhuss/proxified/pkg/debug"
	"github.com/rhuss/proxified/pkg/observability"
	"github.com/rhuss/proxified/pkg/storage"
	"github.com/rhuss/proxified/pkg/transport"
)

// Tool names.
const (
	ToolList    = "list_container_proxies"
	ToolGet     = "get_container_proxy"
	ToolResolve = "resolve_container_proxy"
	ToolSet     = "set_container_proxy"
	ToolDelete  = "delete_container_proxy"
	ToolParse   = "parse_proxy"
)

// ContainerInput names a single container.
type ContainerInput struct {
	ContainerID string `json:"container_id" jsonschema:"browser container (cookie store) id, e.g. firefox-container-1"`
}

// SetInput maps a container to a proxy descriptor string.
type SetInput struct {
	ContainerID string `json:"container_id" jsonschema:"browser container (cookie store) id"`
	Descriptor  string `json:"descriptor" jsonschema:"proxy as scheme://[user:pass@]host[:port] or direct"`
	Initialize  bool   `json:"initialize,omitempty" jsonschema:"replace the whole collection with this single mapping"`
}

// ParseInput carries a descriptor string to parse.
type ParseInput struct {
	Descriptor string `json:"descriptor" jsonschema:"proxy descriptor string"`
}

// ListOutput is the result of list_container_proxies.
type ListOutput struct {
	Containers []api.Record `json:"containers"`
}

// RecordOutput carries a single mapping.
type RecordOutput struct {
	Container api.Record `json:"container"`
}

// ProxyOutput is the result of resolve_container_proxy.
type ProxyOutput struct {
	Proxy api.ProxyDescriptor `json:"proxy"`
}

// DeleteOutput is the result of delete_container_proxy.
type DeleteOutput struct {
	Deleted string `json:"deleted"`
}

// ParseOutput is the result of parse_proxy.
type ParseOutput struct {
	Matched bool                 `json:"matched"`
	Proxy   *api.ProxyDescriptor `json:"proxy,omitempty"`
}

// Server builds MCP servers backed by a container registry.
type Server struct {
	registry transport.ContainerRegistry
	version  string
}

// NewServer creates a Server. version is reported to MCP clients.
func NewServer(reg transport.ContainerRegistry, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{registry: reg, version: version}
}

// sessionHeader carries the MCP session id on streamable HTTP requests.
const sessionHeader = "Mcp-Session-Id"

// Handler returns the streamable HTTP handler. Each session is bound to the
// tenant and subject of the request that opened it; requests presenting the
// session id under another identity are rejected with 403.
func (s *Server) Handler() http.Handler {
	h := sdk.NewStreamableHTTPHandler(func(r *http.Request) *sdk.Server {
		return s.ForTenant(storage.GetTenant(r.Context()))
	}, nil)
	owners := &sessionOwners{owners: make(map[string]string)}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := storage.GetTenant(r.Context()) + "\x00" + auth.SubjectFromContext(r.Context())

		id := r.Header.Get(sessionHeader)
		if id == "" {
			h.ServeHTTP(&ownerRecorder{ResponseWriter: w, owners: owners, owner: owner}, r)
			return
		}

		if got, ok := owners.get(id); ok && got != owner {
			observability.AuthRejectedTotal.WithLabelValues("mcp_session_owner").Inc()
			debug.Log("mcp", "session owner mismatch", "subject", auth.SubjectFromContext(r.Context()))
			transport.WriteAPIError(w, api.NewPermissionError("MCP session belongs to another identity"))
			return
		}
		if r.Method == http.MethodDelete {
			defer owners.remove(id)
		}
		h.ServeHTTP(w, r)
	})
}

// sessionOwners maps session ids to the identity that opened them.
type sessionOwners struct {
	mu     sync.Mutex
	owners map[string]string
}

func (s *sessionOwners) get(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.owners[id]
	return owner, ok
}

func (s *sessionOwners) set(id, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[id] = owner
}

func (s *sessionOwners) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, id)
}

// ownerRecorder records the session id assigned by the response before any
// byte of it reaches the client.
type ownerRecorder struct {
	http.ResponseWriter
	owners   *sessionOwners
	owner    string
	recorded bool
}

func (o *ownerRecorder) record() {
	if o.recorded {
		return
	}
	o.recorded = true
	if id := o.Header().Get(sessionHeader); id != "" {
		o.owners.set(id, o.owner)
	}
}

func (o *ownerRecorder) WriteHeader(status int) {
	o.record()
	o.ResponseWriter.WriteHeader(status)
}

func (o *ownerRecorder) Write(b []byte) (int, error) {
	o.record()
	return o.ResponseWriter.Write(b)
}

func (o *ownerRecorder) Flush() {
	o.record()
	if f, ok := o.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (o *ownerRecorder) Unwrap() http.ResponseWriter {
	return o.ResponseWriter
}

// ForTenant returns an MCP server whose tools operate on tenant's registry
// key. An empty tenant uses the unscoped key.
func (s *Server) ForTenant(tenant string) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "proxified", Version: s.version}, nil)
	t := tools{registry: s.registry, tenant: tenant}

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolList,
		Description: "List every container to proxy mapping in insertion order",
	}, instrument(ToolList, t.list))
	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolGet,
		Description: "Return the proxy mapping of one container",
	}, instrument(ToolGet, t.get))
	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolResolve,
		Description: "Resolve the proxy a container's requests use, falling back to direct",
	}, instrument(ToolResolve, t.resolve))
	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolSet,
		Description: "Map a container to a proxy, replacing an existing mapping in place",
	}, instrument(ToolSet, t.set))
	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolDelete,
		Description: "Remove the proxy mapping of a container",
	}, instrument(ToolDelete, t.delete))
	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolParse,
		Description: "Parse a proxy descriptor string without storing it",
	}, instrument(ToolParse, parse))

	return server
}

type tools struct {
	registry transport.ContainerRegistry
	tenant   string
}

func (t tools) scope(ctx context.Context) context.Context {
	if t.tenant == "" {
		return ctx
	}
	return storage.SetTenant(ctx, t.tenant)
}

func (t tools) list(ctx context.Context, _ *sdk.CallToolRequest, _ struct{}) (*sdk.CallToolResult, ListOutput, error) {
	records, err := t.registry.List(t.scope(ctx))
	if err != nil {
		return nil, ListOutput{}, err
	}
	if records == nil {
		records = []api.Record{}
	}
	return nil, ListOutput{Containers: records}, nil
}

func (t tools) get(ctx context.Context, _ *sdk.CallToolRequest, in ContainerInput) (*sdk.CallToolResult, RecordOutput, error) {
	if err := api.ValidateContainerID(in.ContainerID); err != nil {
		return nil, RecordOutput{}, err
	}
	rec, err := t.registry.Retrieve(t.scope(ctx), in.ContainerID)
	if err != nil {
		return nil, RecordOutput{}, err
	}
	return nil, RecordOutput{Container: rec}, nil
}

func (t tools) resolve(ctx context.Context, _ *sdk.CallToolRequest, in ContainerInput) (*sdk.CallToolResult, ProxyOutput, error) {
	return nil, ProxyOutput{Proxy: t.registry.RetrieveFromBackground(t.scope(ctx), in.ContainerID)}, nil
}

func (t tools) set(ctx context.Context, _ *sdk.CallToolRequest, in SetInput) (*sdk.CallToolResult, RecordOutput, error) {
	if err := api.ValidateContainerID(in.ContainerID); err != nil {
		return nil, RecordOutput{}, err
	}
	proxy, err := api.ParseDescriptor(in.Descriptor)
	if err != nil {
		return nil, RecordOutput{}, err
	}
	rec, err := t.registry.Set(t.scope(ctx), in.ContainerID, proxy, in.Initialize)
	if err != nil {
		return nil, RecordOutput{}, err
	}
	return nil, RecordOutput{Container: rec}, nil
}

func (t tools) delete(ctx context.Context, _ *sdk.CallToolRequest, in ContainerInput) (*sdk.CallToolResult, DeleteOutput, error) {
	if err := api.ValidateContainerID(in.ContainerID); err != nil {
		return nil, DeleteOutput{}, err
	}
	if err := t.registry.Delete(t.scope(ctx), in.ContainerID); err != nil {
		return nil, DeleteOutput{}, err
	}
	return nil, DeleteOutput{Deleted: in.ContainerID}, nil
}

func parse(_ context.Context, _ *sdk.CallToolRequest, in ParseInput) (*sdk.CallToolResult, ParseOutput, error) {
	p, ok := api.ParseProxy(in.Descriptor)
	if !ok {
		return nil, ParseOutput{}, nil
	}
	return nil, ParseOutput{Matched: true, Proxy: &p}, nil
}

func instrument[In, Out any](name string, h sdk.ToolHandlerFor[In, Out]) sdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *sdk.CallToolRequest, in In) (*sdk.CallToolResult, Out, error) {
		start := time.Now()
		res, out, err := h(ctx, req, in)

		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.MCPToolCallsTotal.WithLabelValues(name, status).Inc()
		debug.Log("mcp", "tool call", "tool", name, "status", status, "duration", time.Since(start), "error", err)
		return res, out, err
	}
}
