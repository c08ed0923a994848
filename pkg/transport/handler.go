package transport

import (
	"context"

	"github.com/rhuss/proxified/pkg/api"
)

// ContainerRegistry is the set of registry operations exposed to clients.
type ContainerRegistry interface {
	// List returns every record in insertion order.
	List(ctx context.Context) ([]api.Record, error)

	// Retrieve returns the record for containerID.
	Retrieve(ctx context.Context, containerID string) (api.Record, error)

	// RetrieveFromBackground returns the proxy for containerID, falling
	// back to api.DirectProxy on any failure.
	RetrieveFromBackground(ctx context.Context, containerID string) api.ProxyDescriptor

	// Set maps containerID to proxy. initialize replaces the whole
	// collection.
	Set(ctx context.Context, containerID string, proxy api.ProxyDescriptor, initialize bool) (api.Record, error)

	// Delete removes the record for containerID.
	Delete(ctx context.Context, containerID string) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}
