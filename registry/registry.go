// Package registry holds the gateway's in-memory routing state: the
// three-level map zone → service key → candidate hash → session, the zone
// metadata map, and the per-(zone, key) load balancer assignments.
//
// All three structures support concurrent read/insert/remove with no global
// lock. Candidates under one (zone, key) bucket are independent of every
// other bucket, so per-bucket atomicity is all the dispatch path needs. The
// sync loop and direct register/destroy calls interleave freely because
// every mutation is an idempotent upsert or remove.
package registry

import (
	"sort"
	"sync"
)

// SessionMap is one (zone, service key) bucket: candidate hash → session.
type SessionMap struct {
	m sync.Map // hash → *ServiceSession
}

// GetOrAdd returns the session for hash, creating it with create on first
// sight. Concurrent callers observe exactly one session per hash.
func (sm *SessionMap) GetOrAdd(hash string, create func() *ServiceSession) *ServiceSession {
	if v, ok := sm.m.Load(hash); ok {
		return v.(*ServiceSession)
	}
	v, _ := sm.m.LoadOrStore(hash, create())
	return v.(*ServiceSession)
}

// Get returns the session for hash if present.
func (sm *SessionMap) Get(hash string) (*ServiceSession, bool) {
	v, ok := sm.m.Load(hash)
	if !ok {
		return nil, false
	}
	return v.(*ServiceSession), true
}

// Remove deletes a candidate; removing an absent hash is a no-op.
func (sm *SessionMap) Remove(hash string) {
	sm.m.Delete(hash)
}

// Len counts the candidates currently in the bucket.
func (sm *SessionMap) Len() int {
	n := 0
	sm.m.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Empty reports whether the bucket holds no candidates.
func (sm *SessionMap) Empty() bool {
	empty := true
	sm.m.Range(func(_, _ any) bool { empty = false; return false })
	return empty
}

// Range visits every candidate in the bucket.
func (sm *SessionMap) Range(fn func(hash string, s *ServiceSession) bool) {
	sm.m.Range(func(k, v any) bool {
		return fn(k.(string), v.(*ServiceSession))
	})
}

// Snapshot returns the bucket's sessions ordered by candidate hash. The
// stable order is what gives source-IP-hash affinity and the documented
// first-seen tie-breaks something to hold on to.
func (sm *SessionMap) Snapshot() []*ServiceSession {
	var sessions []*ServiceSession
	sm.m.Range(func(_, v any) bool {
		sessions = append(sessions, v.(*ServiceSession))
		return true
	})
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Service().Hash < sessions[j].Service().Hash
	})
	return sessions
}

// Registry is the process-wide routing state. It holds no external
// resources and needs no teardown; construct one per process (or per test).
type Registry struct {
	contexts      sync.Map // zoneKey → *sync.Map (serviceKey → *SessionMap)
	zones         sync.Map // zoneKey → *Zone
	loadBalancers sync.Map // zoneKey → *sync.Map (serviceKey → LoadBalancerType)
}

func New() *Registry {
	return &Registry{}
}

// ZoneSessions returns the live-mutable bucket for (zone, serviceKey),
// creating the intermediate levels on first use.
func (r *Registry) ZoneSessions(zone, serviceKey string) *SessionMap {
	entries := r.zoneEntries(zone)
	if v, ok := entries.Load(serviceKey); ok {
		return v.(*SessionMap)
	}
	v, _ := entries.LoadOrStore(serviceKey, &SessionMap{})
	return v.(*SessionMap)
}

// ServiceKeySessions returns the bucket for (zone, serviceKey) only if both
// levels already exist.
func (r *Registry) ServiceKeySessions(zone, serviceKey string) (*SessionMap, bool) {
	v, ok := r.contexts.Load(zone)
	if !ok {
		return nil, false
	}
	e, ok := v.(*sync.Map).Load(serviceKey)
	if !ok {
		return nil, false
	}
	return e.(*SessionMap), true
}

// HasZoneContexts reports whether any service key was ever registered under
// the zone. List and get report an unknown zone distinctly from a zone that
// merely has no candidates.
func (r *Registry) HasZoneContexts(zone string) bool {
	_, ok := r.contexts.Load(zone)
	return ok
}

// RangeContexts visits every (serviceKey, bucket) pair of a zone.
func (r *Registry) RangeContexts(zone string, fn func(serviceKey string, sessions *SessionMap) bool) {
	v, ok := r.contexts.Load(zone)
	if !ok {
		return
	}
	v.(*sync.Map).Range(func(k, e any) bool {
		return fn(k.(string), e.(*SessionMap))
	})
}

// RangeZoneKeys visits every zone key that has a context bucket.
func (r *Registry) RangeZoneKeys(fn func(zone string) bool) {
	r.contexts.Range(func(k, _ any) bool {
		return fn(k.(string))
	})
}

// RemoveServiceKey drops a whole (zone, serviceKey) bucket.
func (r *Registry) RemoveServiceKey(zone, serviceKey string) {
	if v, ok := r.contexts.Load(zone); ok {
		v.(*sync.Map).Delete(serviceKey)
	}
}

// RemoveZoneContexts drops every bucket of a zone.
func (r *Registry) RemoveZoneContexts(zone string) {
	r.contexts.Delete(zone)
}

func (r *Registry) zoneEntries(zone string) *sync.Map {
	if v, ok := r.contexts.Load(zone); ok {
		return v.(*sync.Map)
	}
	v, _ := r.contexts.LoadOrStore(zone, &sync.Map{})
	return v.(*sync.Map)
}

// Zone returns the zone metadata mirrored from the store.
func (r *Registry) Zone(key string) (*Zone, bool) {
	v, ok := r.zones.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Zone), true
}

// SetZone installs or replaces zone metadata.
func (r *Registry) SetZone(zone *Zone) {
	r.zones.Store(zone.Key, zone)
}

// RemoveZone drops zone metadata.
func (r *Registry) RemoveZone(key string) {
	r.zones.Delete(key)
}

// RangeZones visits every mirrored zone.
func (r *Registry) RangeZones(fn func(zone *Zone) bool) {
	r.zones.Range(func(_, v any) bool {
		return fn(v.(*Zone))
	})
}

// LoadBalancer returns the strategy assigned to (zone, serviceKey), or
// NoLoadBalance when nothing is assigned.
func (r *Registry) LoadBalancer(zone, serviceKey string) LoadBalancerType {
	v, ok := r.loadBalancers.Load(zone)
	if !ok {
		return NoLoadBalance
	}
	t, ok := v.(*sync.Map).Load(serviceKey)
	if !ok {
		return NoLoadBalance
	}
	return t.(LoadBalancerType)
}

// SetLoadBalancer assigns a strategy to (zone, serviceKey).
func (r *Registry) SetLoadBalancer(zone, serviceKey string, t LoadBalancerType) {
	v, ok := r.loadBalancers.Load(zone)
	if !ok {
		v, _ = r.loadBalancers.LoadOrStore(zone, &sync.Map{})
	}
	v.(*sync.Map).Store(serviceKey, t)
}

// RemoveLoadBalancer drops an assignment, pruning the zone level when it
// empties.
func (r *Registry) RemoveLoadBalancer(zone, serviceKey string) {
	v, ok := r.loadBalancers.Load(zone)
	if !ok {
		return
	}
	m := v.(*sync.Map)
	m.Delete(serviceKey)
	empty := true
	m.Range(func(_, _ any) bool { empty = false; return false })
	if empty {
		r.loadBalancers.Delete(zone)
	}
}

// RangeLoadBalancers visits every (zone, serviceKey, strategy) assignment.
func (r *Registry) RangeLoadBalancers(fn func(zone, serviceKey string, t LoadBalancerType) bool) {
	stop := false
	r.loadBalancers.Range(func(z, v any) bool {
		v.(*sync.Map).Range(func(k, t any) bool {
			if !fn(z.(string), k.(string), t.(LoadBalancerType)) {
				stop = true
				return false
			}
			return true
		})
		return !stop
	})
}
