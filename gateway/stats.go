package gateway

import (
	"sort"
	"time"

	"acorle/registry"
)

// ServiceElement is one candidate's identity, metadata, and live counters
// as exposed on the statistics surface.
type ServiceElement struct {
	Hash             string    `json:"hash"`
	Key              string    `json:"key"`
	Name             string    `json:"name"`
	Url              string    `json:"url"`
	Weight           int       `json:"weight"`
	IsPrivate        bool      `json:"isPrivate"`
	AddedTime        time.Time `json:"addedTime"`
	ExpireTime       time.Time `json:"expireTime"`
	CurrentRequests  int32     `json:"currentRequests"`
	FinishedRequests int64     `json:"finishedRequests"`
	FailedRequests   int64     `json:"failedRequests"`
}

// ZoneStatistics groups a zone's candidates for the statistics surface.
type ZoneStatistics struct {
	Zone     string           `json:"zone"`
	Services []ServiceElement `json:"services"`
}

// Statistics snapshots the whole registry. Counters are individually
// atomic, not a consistent cut; the output is ordered for stable diffs.
func (g *Gateway) Statistics() []ZoneStatistics {
	stats := []ZoneStatistics{}
	g.registry.RangeZoneKeys(func(zone string) bool {
		element := ZoneStatistics{Zone: zone, Services: []ServiceElement{}}
		g.registry.RangeContexts(zone, func(_ string, sessions *registry.SessionMap) bool {
			for _, session := range sessions.Snapshot() {
				service := session.Service()
				element.Services = append(element.Services, ServiceElement{
					Hash:             service.Hash,
					Key:              service.Key,
					Name:             service.Name,
					Url:              service.Url,
					Weight:           service.Weight,
					IsPrivate:        service.IsPrivate,
					AddedTime:        service.AddedTime,
					ExpireTime:       service.ExpireTime,
					CurrentRequests:  session.CurrentRequests(),
					FinishedRequests: session.FinishedRequests(),
					FailedRequests:   session.FailedRequests(),
				})
			}
			return true
		})
		sort.Slice(element.Services, func(i, j int) bool {
			if element.Services[i].Key != element.Services[j].Key {
				return element.Services[i].Key < element.Services[j].Key
			}
			return element.Services[i].Hash < element.Services[j].Hash
		})
		stats = append(stats, element)
		return true
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].Zone < stats[j].Zone })
	return stats
}
