package registry

import (
	"sync"
	"sync/atomic"
	"time"
)

// ServiceSession wraps one registered candidate with its live traffic state:
// in-flight, finished, and failed request counters, plus the rolling weight
// used by the smooth weighted round robin strategy.
//
// Counters are individually atomic but deliberately not consistent as a
// snapshot; a concurrent read of current+finished+failed may straddle an
// update. The Service fields are guarded by a per-session lock so the sync
// loop can patch metadata while dispatch reads it.
type ServiceSession struct {
	mu      sync.RWMutex
	service Service

	currentRequests  atomic.Int32
	finishedRequests atomic.Int64
	failedRequests   atomic.Int64
	currentWeight    atomic.Int32
}

// NewServiceSession creates a session with zeroed counters.
func NewServiceSession(service Service) *ServiceSession {
	return &ServiceSession{service: service}
}

// Service returns a copy of the candidate's current metadata.
func (s *ServiceSession) Service() Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.service
}

// UpdateService applies fn to the candidate metadata under the session lock.
func (s *ServiceSession) UpdateService(fn func(*Service)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.service)
}

// Live reports whether the candidate's expire time is strictly in the
// future. Expired sessions stay addressable by hash until the next sync
// sweep, but every load balancer filters them out.
func (s *ServiceSession) Live(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.service.ExpireTime.After(now)
}

func (s *ServiceSession) CurrentRequests() int32  { return s.currentRequests.Load() }
func (s *ServiceSession) FinishedRequests() int64 { return s.finishedRequests.Load() }
func (s *ServiceSession) FailedRequests() int64   { return s.failedRequests.Load() }

func (s *ServiceSession) IncrementCurrentRequests() int32  { return s.currentRequests.Add(1) }
func (s *ServiceSession) DecrementCurrentRequests() int32  { return s.currentRequests.Add(-1) }
func (s *ServiceSession) IncrementFinishedRequests() int64 { return s.finishedRequests.Add(1) }
func (s *ServiceSession) IncrementFailedRequests() int64   { return s.failedRequests.Add(1) }

// CurrentLoadBalanceWeight is the rolling weight owned by the smooth
// weighted round robin strategy. No other strategy touches it.
func (s *ServiceSession) CurrentLoadBalanceWeight() int32 { return s.currentWeight.Load() }

func (s *ServiceSession) SetCurrentLoadBalanceWeight(w int32) { s.currentWeight.Store(w) }
