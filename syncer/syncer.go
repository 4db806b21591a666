// Package syncer reconciles the persistent store into the in-memory
// registry on a fixed interval. It is the sole writer converging
// store→memory; dispatch-driven register/destroy calls write through to the
// store synchronously and are idempotent with respect to what a sync tick
// would produce, so the two writers never conflict destructively.
//
// Each tick runs three phases in order (zones, service contexts, load
// balancer assignments); a failure in one phase is logged and isolated
// from the others. Routing stays live throughout: every mutation is a
// per-bucket upsert or remove, never a rebuild.
package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"acorle/registry"
	"acorle/store"
)

type Syncer struct {
	store    store.Store
	registry *registry.Registry
	interval time.Duration
	logger   *zap.Logger
}

// New creates a syncer. An interval of zero disables the loop entirely;
// that is acceptable only outside clustered deployments, where this process
// is the only writer of the store.
func New(st store.Store, reg *registry.Registry, interval time.Duration, logger *zap.Logger) *Syncer {
	return &Syncer{store: st, registry: reg, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled. The first sync happens immediately so a
// freshly started gateway can route without waiting a full interval.
func (s *Syncer) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.SyncOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce performs one full reconciliation pass.
func (s *Syncer) SyncOnce(ctx context.Context) {
	zones := s.syncZones(ctx)
	s.syncContexts(ctx, zones)
	s.syncLoadBalancers(ctx)
}

// syncZones mirrors the store's zone table: zones absent upstream are
// removed, the rest are upserted patching only changed fields.
func (s *Syncer) syncZones(ctx context.Context) []registry.Zone {
	allZones, err := s.store.Zones(ctx)
	if err != nil {
		s.logger.Error("synchronizing zones", zap.Error(err))
		return nil
	}

	inStore := make(map[string]bool, len(allZones))
	for _, zone := range allZones {
		inStore[zone.Key] = true
	}
	s.registry.RangeZones(func(zone *registry.Zone) bool {
		if !inStore[zone.Key] {
			s.registry.RemoveZone(zone.Key)
		}
		return true
	})

	for i := range allZones {
		zoneInStore := allZones[i]
		existing, ok := s.registry.Zone(zoneInStore.Key)
		if !ok || *existing != zoneInStore {
			zone := zoneInStore
			s.registry.SetZone(&zone)
		}
	}
	return allZones
}

// syncContexts reconciles the candidate sessions of every known zone, then
// sweeps expired candidates globally, pruning emptied buckets.
func (s *Syncer) syncContexts(ctx context.Context, allZones []registry.Zone) {
	for _, zone := range allZones {
		allServices, err := s.store.ServicesByZone(ctx, zone.Key)
		if err != nil {
			s.logger.Error("synchronizing contexts", zap.String("zone", zone.Key), zap.Error(err))
			continue
		}

		keysInStore := make(map[string]bool)
		hashesInStore := make(map[string]bool, len(allServices))
		for _, service := range allServices {
			keysInStore[service.Key] = true
			hashesInStore[service.Key+"\x00"+service.Hash] = true
		}

		// Drop service keys gone upstream, and within surviving keys drop
		// candidate hashes gone upstream.
		s.registry.RangeContexts(zone.Key, func(serviceKey string, sessions *registry.SessionMap) bool {
			if !keysInStore[serviceKey] {
				s.registry.RemoveServiceKey(zone.Key, serviceKey)
				return true
			}
			sessions.Range(func(hash string, _ *registry.ServiceSession) bool {
				if !hashesInStore[serviceKey+"\x00"+hash] {
					sessions.Remove(hash)
				}
				return true
			})
			return true
		})

		for _, service := range allServices {
			s.upsertSession(service)
		}
	}

	s.sweepExpired()
}

// upsertSession inserts a fresh session with zero counters or patches the
// changed fields of an existing one. Timestamps are compared at millisecond
// precision because storage backends round differently than the clock we
// stamp with.
func (s *Syncer) upsertSession(service registry.Service) {
	sessions := s.registry.ZoneSessions(service.Zone, service.Key)
	session := sessions.GetOrAdd(service.Hash, func() *registry.ServiceSession {
		return registry.NewServiceSession(service)
	})
	session.UpdateService(func(current *registry.Service) {
		if current.Name != service.Name {
			current.Name = service.Name
		}
		if current.Url != service.Url {
			current.Url = service.Url
		}
		if current.Weight != service.Weight {
			current.Weight = service.Weight
		}
		if current.IsPrivate != service.IsPrivate {
			current.IsPrivate = service.IsPrivate
		}
		if current.AddedTime.UnixMilli() != service.AddedTime.UnixMilli() {
			current.AddedTime = service.AddedTime
		}
		if current.ExpireTime.UnixMilli() != service.ExpireTime.UnixMilli() {
			current.ExpireTime = service.ExpireTime
		}
	})
}

// sweepExpired removes every candidate whose expire time has elapsed, in
// every zone, pruning empty service keys and empty zone buckets.
func (s *Syncer) sweepExpired() {
	now := time.Now()
	s.registry.RangeZoneKeys(func(zone string) bool {
		zoneEmpty := true
		s.registry.RangeContexts(zone, func(serviceKey string, sessions *registry.SessionMap) bool {
			sessions.Range(func(hash string, session *registry.ServiceSession) bool {
				if !session.Live(now) {
					sessions.Remove(hash)
				}
				return true
			})
			if sessions.Empty() {
				s.registry.RemoveServiceKey(zone, serviceKey)
			} else {
				zoneEmpty = false
			}
			return true
		})
		if zoneEmpty {
			s.registry.RemoveZoneContexts(zone)
		}
		return true
	})
}

// syncLoadBalancers mirrors the persisted strategy table, removing stale
// assignments and upserting the rest.
func (s *Syncer) syncLoadBalancers(ctx context.Context) {
	allAssignments, err := s.store.LoadBalancers(ctx)
	if err != nil {
		s.logger.Error("synchronizing load balancers", zap.Error(err))
		return
	}

	inStore := make(map[string]registry.LoadBalancerType, len(allAssignments))
	for _, assignment := range allAssignments {
		inStore[assignment.Zone+"\x00"+assignment.Service] = assignment.Type
	}

	s.registry.RangeLoadBalancers(func(zone, serviceKey string, _ registry.LoadBalancerType) bool {
		if _, ok := inStore[zone+"\x00"+serviceKey]; !ok {
			s.registry.RemoveLoadBalancer(zone, serviceKey)
		}
		return true
	})

	for _, assignment := range allAssignments {
		s.registry.SetLoadBalancer(assignment.Zone, assignment.Service, assignment.Type)
	}
}
