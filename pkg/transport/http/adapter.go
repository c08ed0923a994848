package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/rhuss/proxified/pkg/api"
	"github.com/rhuss/proxified/pkg/debug"
	"github.com/rhuss/proxified/pkg/transport"
)

// Adapter serves the container registry API over HTTP.
// It routes requests to the registry and serializes responses.
type Adapter struct {
	registry transport.ContainerRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 64 << 10, // 64 KiB
	}
}

// ContainerList is the body of GET /v1/containers.
type ContainerList struct {
	Object string       `json:"object"`
	Data   []api.Record `json:"data"`
}

// SetContainerRequest is the body of PUT /v1/containers/{id}. Exactly one
// of Proxy and Descriptor must be set.
type SetContainerRequest struct {
	Proxy      *api.ProxyDescriptor `json:"proxy,omitempty"`
	Descriptor string               `json:"descriptor,omitempty"`
}

// ParseRequest is the body of POST /v1/proxies/parse.
type ParseRequest struct {
	Descriptor string `json:"descriptor"`
}

// NewAdapter creates an HTTP adapter for the given registry.
func NewAdapter(reg transport.ContainerRegistry, cfg Config) *Adapter {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	a := &Adapter{
		registry: reg,
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("GET /v1/containers", a.handleListContainers)
	a.mux.HandleFunc("GET /v1/containers/{id}", a.handleGetContainer)
	a.mux.HandleFunc("GET /v1/containers/{id}/proxy", a.handleResolveProxy)
	a.mux.HandleFunc("PUT /v1/containers/{id}", a.handleSetContainer)
	a.mux.HandleFunc("DELETE /v1/containers/{id}", a.handleDeleteContainer)
	a.mux.HandleFunc("POST /v1/proxies/parse", a.handleParseProxy)
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)

	return a
}

// Handle mounts an additional handler (metrics, MCP) on the adapter's mux.
func (a *Adapter) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest.
func (a *Adapter) Handler() http.Handler {
	return a.mux
}

// handleListContainers handles GET /v1/containers.
func (a *Adapter) handleListContainers(w http.ResponseWriter, r *http.Request) {
	records, err := a.registry.List(r.Context())
	if err != nil {
		transport.WriteAPIError(w, transport.APIErrorFromRegistry(err))
		return
	}
	transport.WriteJSON(w, http.StatusOK, ContainerList{Object: "list", Data: records})
}

// handleGetContainer handles GET /v1/containers/{id}.
func (a *Adapter) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	id, ok := containerID(w, r)
	if !ok {
		return
	}

	rec, err := a.registry.Retrieve(r.Context(), id)
	if err != nil {
		transport.WriteAPIError(w, transport.APIErrorFromRegistry(err))
		return
	}
	transport.WriteJSON(w, http.StatusOK, rec)
}

// handleResolveProxy handles GET /v1/containers/{id}/proxy. It always
// answers 200; unknown or malformed ids resolve to the direct proxy.
func (a *Adapter) handleResolveProxy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	transport.WriteJSON(w, http.StatusOK, a.registry.RetrieveFromBackground(r.Context(), id))
}

// handleSetContainer handles PUT /v1/containers/{id}[?initialize=true].
func (a *Adapter) handleSetContainer(w http.ResponseWriter, r *http.Request) {
	id, ok := containerID(w, r)
	if !ok {
		return
	}

	initialize := false
	if v := r.URL.Query().Get("initialize"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			transport.WriteAPIError(w, api.NewInvalidRequestError("initialize", "initialize must be a boolean"))
			return
		}
		initialize = b
	}

	var req SetContainerRequest
	if !a.decodeBody(w, r, &req) {
		return
	}

	proxy, apiErr := proxyFromRequest(req)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	rec, err := a.registry.Set(r.Context(), id, proxy, initialize)
	if err != nil {
		transport.WriteAPIError(w, transport.APIErrorFromRegistry(err))
		return
	}
	debug.Log("transport", "container set", "container", id, "proxy", proxy.Redacted(), "initialize", initialize)
	transport.WriteJSON(w, http.StatusOK, rec)
}

// handleDeleteContainer handles DELETE /v1/containers/{id}.
func (a *Adapter) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	id, ok := containerID(w, r)
	if !ok {
		return
	}

	if err := a.registry.Delete(r.Context(), id); err != nil {
		transport.WriteAPIError(w, transport.APIErrorFromRegistry(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleParseProxy handles POST /v1/proxies/parse.
func (a *Adapter) handleParseProxy(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if !a.decodeBody(w, r, &req) {
		return
	}

	proxy, ok := api.ParseProxy(req.Descriptor)
	if !ok {
		transport.WriteAPIError(w, api.NewInvalidRequestError("descriptor", api.ErrNoProxyMatch.Error()))
		return
	}
	transport.WriteJSON(w, http.StatusOK, proxy)
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.HealthCheck(r.Context()); err != nil {
		transport.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody checks the content type, limits the body size and decodes
// JSON into v. It writes the error response and returns false on failure.
func (a *Adapter) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
				http.StatusUnsupportedMediaType,
			)
			return false
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

// containerID extracts and validates the {id} path value.
func containerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if err := api.ValidateContainerID(id); err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", err.Error()))
		return "", false
	}
	return id, true
}

// proxyFromRequest resolves the descriptor carried by a set request.
func proxyFromRequest(req SetContainerRequest) (api.ProxyDescriptor, *api.APIError) {
	switch {
	case req.Proxy != nil && req.Descriptor != "":
		return api.ProxyDescriptor{}, api.NewInvalidRequestError("proxy", "set either proxy or descriptor, not both")
	case req.Proxy != nil:
		if err := req.Proxy.Validate(); err != nil {
			return api.ProxyDescriptor{}, api.NewInvalidRequestError("proxy", err.Error())
		}
		return *req.Proxy, nil
	case req.Descriptor != "":
		p, err := api.ParseDescriptor(req.Descriptor)
		if err != nil {
			return api.ProxyDescriptor{}, api.NewInvalidRequestError("descriptor", err.Error())
		}
		return p, nil
	default:
		return api.ProxyDescriptor{}, api.NewInvalidRequestError("proxy", "proxy or descriptor is required")
	}
}
