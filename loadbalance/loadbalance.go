// Package loadbalance implements the five candidate-selection strategies a
// zone can assign per service key.
//
// Every strategy first narrows the bucket to live candidates (expire time
// strictly in the future) and returns nil when none remain; the caller maps
// nil to the not-found-or-unavailable response, which is not an error worth
// logging. Strategies operate on the bucket's hash-ordered snapshot, so
// "first" always means first in that stable order.
//
// Tie-breaking is intentionally not uniform across strategies: least
// connections keeps the first candidate it saw, while smooth weighted round
// robin keeps the last one whose rolling weight reached the maximum. Both
// behaviors are load-bearing and covered by tests.
package loadbalance

import (
	"hash/fnv"
	"math/rand"
	"time"

	"acorle/registry"
)

// Lease picks one live candidate from the bucket according to the given
// strategy, or nil when no live candidate exists. sourceHash only matters
// for the source-IP-hash strategy.
func Lease(t registry.LoadBalancerType, sessions *registry.SessionMap, sourceHash int) *registry.ServiceSession {
	live := liveSessions(sessions)
	if len(live) == 0 {
		return nil
	}
	switch t {
	case registry.LeastConnection:
		return leastConnections(live)
	case registry.Random:
		return live[rand.Intn(len(live))]
	case registry.SourceIpHash:
		return sourceIPHash(sourceHash, live)
	case registry.SmoothWeightRoundRobin:
		return smoothWeightRoundRobin(live)
	default:
		return live[0]
	}
}

// SourceHash maps a remote address to the integer the source-IP-hash
// strategy consumes. The same address always yields the same value.
func SourceHash(addr string) int {
	h := fnv.New32a()
	h.Write([]byte(addr))
	return int(int32(h.Sum32()))
}

func liveSessions(sessions *registry.SessionMap) []*registry.ServiceSession {
	now := time.Now()
	all := sessions.Snapshot()
	live := all[:0]
	for _, s := range all {
		if s.Live(now) {
			live = append(live, s)
		}
	}
	return live
}

// leastConnections picks the candidate with the fewest in-flight requests.
// Ties keep the first candidate seen.
func leastConnections(live []*registry.ServiceSession) *registry.ServiceSession {
	var hit *registry.ServiceSession
	least := int32(1<<31 - 1)
	for _, s := range live {
		if current := s.CurrentRequests(); current < least {
			hit = s
			least = current
		}
	}
	return hit
}

// sourceIPHash picks deterministically by |hash| mod live-count. Affinity
// holds as long as the live set is unchanged; adding or removing a
// candidate reshuffles assignments.
func sourceIPHash(sourceHash int, live []*registry.ServiceSession) *registry.ServiceSession {
	if sourceHash < 0 {
		sourceHash = -sourceHash
	}
	return live[sourceHash%len(live)]
}

// smoothWeightRoundRobin credits every live candidate its configured weight,
// picks the one with the largest rolling weight (ties keep the last seen),
// and debits the winner by the round's total weight. Heavier candidates win
// proportionally more rounds without being scheduled in bursts.
func smoothWeightRoundRobin(live []*registry.ServiceSession) *registry.ServiceSession {
	for _, s := range live {
		s.SetCurrentLoadBalanceWeight(s.CurrentLoadBalanceWeight() + int32(s.Service().Weight))
	}

	var hit *registry.ServiceSession
	weightSum := int32(0)
	maxCurrent := int32(0)
	for _, s := range live {
		weightSum += int32(s.Service().Weight)
		if current := s.CurrentLoadBalanceWeight(); current >= maxCurrent {
			hit = s
			maxCurrent = current
		}
	}

	hit.SetCurrentLoadBalanceWeight(maxCurrent - weightSum)
	return hit
}
