package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/rhuss/proxified/pkg/api"
	"github.com/rhuss/proxified/pkg/debug"
	"github.com/rhuss/proxified/pkg/observability"
	"github.com/rhuss/proxified/pkg/storage"
)

// DefaultKey is the storage key the browser extension keeps its list under.
const DefaultKey = "proxifiedContainersKey"

// Registry is the container-to-proxy mapping backed by a storage.Backend.
type Registry struct {
	backend  storage.Backend
	key      string
	reporter Reporter
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithKey overrides the storage key. Empty keys are ignored.
func WithKey(key string) Option {
	return func(r *Registry) {
		if key != "" {
			r.key = key
		}
	}
}

// WithReporter sets the diagnostic sink.
func WithReporter(rep Reporter) Option {
	return func(r *Registry) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// WithLogger sets the logger used for fallback and mutation logs.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Registry on top of backend.
func New(backend storage.Backend, opts ...Option) *Registry {
	r := &Registry{
		backend: backend,
		key:     DefaultKey,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.reporter == nil {
		r.reporter = SlogReporter{Logger: r.logger}
	}
	return r
}

// Key returns the unscoped storage key.
func (r *Registry) Key() string {
	return r.key
}

// List returns every record in insertion order. The result is never nil
// once the registry is initialized.
func (r *Registry) List(ctx context.Context) (records []api.Record, err error) {
	defer r.observe("list", time.Now(), &err)

	return r.load(ctx, "registry.list")
}

// Retrieve returns the record for containerID.
func (r *Registry) Retrieve(ctx context.Context, containerID string) (rec api.Record, err error) {
	defer r.observe("retrieve", time.Now(), &err)

	if err := checkID(containerID); err != nil {
		return api.Record{}, err
	}

	records, err := r.load(ctx, "registry.retrieve")
	if err != nil {
		return api.Record{}, err
	}
	if i := indexOf(records, containerID); i >= 0 {
		return records[i], nil
	}
	return api.Record{}, doesNotExist(containerID)
}

// RetrieveFromBackground returns the proxy for containerID and never fails:
// an empty id or any lookup error resolves to api.DirectProxy.
func (r *Registry) RetrieveFromBackground(ctx context.Context, containerID string) api.ProxyDescriptor {
	if containerID == "" {
		r.fallback(ctx, "empty_id", containerID, nil)
		return api.DirectProxy
	}

	rec, err := r.Retrieve(ctx, containerID)
	if err != nil {
		r.fallback(ctx, string(TagOf(err)), containerID, err)
		return api.DirectProxy
	}
	return rec.Proxy
}

// Set maps containerID to proxy and returns the stored record.
//
// With initialize set, the whole collection is replaced by a single record
// regardless of what was stored before. Otherwise the existing record for
// containerID is replaced in place, or a new one is appended; an
// uninitialized registry fails with TagUninitialized.
func (r *Registry) Set(ctx context.Context, containerID string, proxy api.ProxyDescriptor, initialize bool) (rec api.Record, err error) {
	op := "set"
	if initialize {
		op = "initialize"
	}
	defer r.observe(op, time.Now(), &err)

	if err := checkID(containerID); err != nil {
		return api.Record{}, err
	}
	rec = api.Record{ContainerID: containerID, Proxy: proxy}
	key := storage.ScopedKey(ctx, r.key)

	if initialize {
		data, err := json.Marshal([]api.Record{rec})
		if err != nil {
			return api.Record{}, internal("encode collection", err)
		}
		if err := r.backend.Set(ctx, key, data); err != nil {
			return api.Record{}, r.storageFailure(ctx, "registry.initialize", "write collection", err)
		}
		debug.Log("registry", "initialized", "key", key, "container", containerID, "proxy", proxy.Redacted())
		return rec, nil
	}

	err = r.backend.Update(ctx, key, func(cur []byte, found bool) ([]byte, error) {
		if !found {
			return nil, uninitialized()
		}
		records, err := r.decode(ctx, cur, "registry.set")
		if err != nil {
			return nil, err
		}
		if i := indexOf(records, containerID); i >= 0 {
			records[i] = rec
		} else {
			records = append(records, rec)
		}
		data, err := json.Marshal(records)
		if err != nil {
			return nil, internal("encode collection", err)
		}
		return data, nil
	})
	if err != nil {
		return api.Record{}, r.storageFailure(ctx, "registry.set", "update collection", err)
	}

	debug.Log("registry", "set", "key", key, "container", containerID, "proxy", proxy.Redacted())
	return rec, nil
}

// Delete removes the record for containerID. An unknown id fails with
// TagNotFound.
func (r *Registry) Delete(ctx context.Context, containerID string) (err error) {
	defer r.observe("delete", time.Now(), &err)

	if err := checkID(containerID); err != nil {
		return err
	}
	key := storage.ScopedKey(ctx, r.key)

	err = r.backend.Update(ctx, key, func(cur []byte, found bool) ([]byte, error) {
		if !found {
			return nil, uninitialized()
		}
		records, err := r.decode(ctx, cur, "registry.delete")
		if err != nil {
			return nil, err
		}
		i := indexOf(records, containerID)
		if i < 0 {
			return nil, notFound(containerID)
		}
		records = append(records[:i], records[i+1:]...)
		data, err := json.Marshal(records)
		if err != nil {
			return nil, internal("encode collection", err)
		}
		return data, nil
	})
	if err != nil {
		return r.storageFailure(ctx, "registry.delete", "update collection", err)
	}

	debug.Log("registry", "deleted", "key", key, "container", containerID)
	return nil
}

// HealthCheck reports whether the backing store is reachable.
func (r *Registry) HealthCheck(ctx context.Context) error {
	return r.backend.HealthCheck(ctx)
}

func (r *Registry) load(ctx context.Context, identifier string) ([]api.Record, error) {
	key := storage.ScopedKey(ctx, r.key)

	raw, found, err := r.backend.Get(ctx, key)
	if err != nil {
		return nil, r.storageFailure(ctx, identifier, "read collection", err)
	}
	if !found {
		return nil, uninitialized()
	}
	if debug.TraceIsEnabled("registry") {
		debug.Trace("registry", "loaded collection", "key", key, "bytes", len(raw))
	}
	return r.decode(ctx, raw, identifier)
}

// decode parses a stored collection. Corrupt data is reported and returned
// as an internal error.
func (r *Registry) decode(ctx context.Context, raw []byte, identifier string) ([]api.Record, error) {
	var records []api.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		rerr := internal("decode stored collection", err)
		r.reporter.Report(ctx, rerr, identifier)
		return nil, rerr
	}
	if records == nil {
		records = []api.Record{}
	}
	return records, nil
}

// storageFailure tags backend errors as internal and reports them. Tagged
// errors coming back out of an Update callback pass through untouched.
func (r *Registry) storageFailure(ctx context.Context, identifier, msg string, err error) error {
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	rerr := internal(msg, err)
	r.reporter.Report(ctx, rerr, identifier)
	return rerr
}

func (r *Registry) fallback(ctx context.Context, reason, containerID string, err error) {
	observability.RegistryFallbacksTotal.WithLabelValues(reason).Inc()
	r.logger.DebugContext(ctx, "falling back to direct proxy",
		"container", containerID,
		"reason", reason,
		"error", err,
	)
}

func (r *Registry) observe(op string, start time.Time, errp *error) {
	result := "ok"
	if *errp != nil {
		result = string(TagOf(*errp))
	}
	observability.RegistryOperationsTotal.WithLabelValues(op, result).Inc()
	observability.RegistryOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// checkID rejects ids that cannot survive a JSON round trip unchanged.
func checkID(containerID string) error {
	if containerID == "" {
		return invalid("container id is required")
	}
	if !utf8.ValidString(containerID) {
		return invalid("container id must be valid UTF-8")
	}
	return nil
}

func indexOf(records []api.Record, containerID string) int {
	for i, rec := range records {
		if rec.ContainerID == containerID {
			return i
		}
	}
	return -1
}
