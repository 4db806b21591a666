package registry

import "time"

// Zone is one tenant boundary. Zones are created and edited only in the
// persistent store; the in-memory copy is maintained by the sync loop and is
// never mutated by request handling.
type Zone struct {
	Key                string `json:"key"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	Secret             string `json:"secret"`
	MaxServices        uint   `json:"maxServices"`        // 0 = unlimited
	RegIntervalSeconds uint   `json:"regIntervalSeconds"` // candidate lifetime per registration
	RpcTimeoutSeconds  uint   `json:"rpcTimeoutSeconds"`  // outbound forwarding timeout
	LogUserRequest     bool   `json:"logUserRequest"`
}

// Service is one candidate row as persisted: a (key, URL) pair addressed by
// its content hash, plus display metadata and lifetime.
type Service struct {
	Zone       string    `json:"zone"`
	Hash       string    `json:"hash"`
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Url        string    `json:"url"`
	Weight     int       `json:"weight"`
	IsPrivate  bool      `json:"isPrivate"`
	AddedTime  time.Time `json:"addedTime"`
	ExpireTime time.Time `json:"expireTime"`
}

// LoadBalancerType selects the candidate-selection strategy for one
// (zone, service key) pair.
type LoadBalancerType int

const (
	NoLoadBalance          LoadBalancerType = 0
	LeastConnection        LoadBalancerType = 1
	Random                 LoadBalancerType = 2
	SourceIpHash           LoadBalancerType = 3
	SmoothWeightRoundRobin LoadBalancerType = 4
)

// LoadBalancerAssignment is one persisted (zone, service) → strategy row.
type LoadBalancerAssignment struct {
	Zone    string           `json:"zone"`
	Service string           `json:"service"`
	Type    LoadBalancerType `json:"type"`
}

// ServiceConfig is one persisted configuration blob, deduplicated by the
// content hash of its text.
type ServiceConfig struct {
	Zone         string    `json:"zone"`
	Key          string    `json:"key"`
	Hash         string    `json:"hash"`
	Context      string    `json:"context"`
	LastModified time.Time `json:"lastModified"`
}
