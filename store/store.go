// Package store defines the persistent side of the gateway: zones, service
// candidates, load balancer assignments, and configuration blobs. The
// gateway core only ever sees this interface; the etcd implementation backs
// clustered deployments and the in-memory implementation backs tests and
// single-node use.
//
// The store is the source of truth. The in-memory registry is a projection
// of it, reconciled by the sync loop, so store implementations never need to
// know about sessions or counters.
package store

import (
	"context"
	"errors"

	"acorle/registry"
)

// ErrNotFound is returned when a keyed lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence contract. All implementations must be safe for
// concurrent use; the sync loop and control-plane writes overlap freely.
type Store interface {
	// Zones returns every zone.
	Zones(ctx context.Context) ([]registry.Zone, error)

	// GetZone returns one zone by key, or ErrNotFound.
	GetZone(ctx context.Context, key string) (*registry.Zone, error)

	// ServicesByZone returns every candidate persisted under a zone.
	ServicesByZone(ctx context.Context, zone string) ([]registry.Service, error)

	// PutService inserts or replaces a candidate row keyed by (zone, hash).
	PutService(ctx context.Context, service registry.Service) error

	// DeleteService removes a candidate row; it reports whether a row
	// actually existed.
	DeleteService(ctx context.Context, zone, hash string) (bool, error)

	// LoadBalancers returns every (zone, service) strategy assignment.
	LoadBalancers(ctx context.Context) ([]registry.LoadBalancerAssignment, error)

	// GetConfig returns one configuration blob, or ErrNotFound.
	GetConfig(ctx context.Context, zone, key string) (*registry.ServiceConfig, error)

	// PutConfig inserts or replaces a configuration blob keyed by
	// (zone, key).
	PutConfig(ctx context.Context, config registry.ServiceConfig) error

	// DeleteConfig removes a configuration blob; deleting an absent blob is
	// not an error.
	DeleteConfig(ctx context.Context, zone, key string) error
}
