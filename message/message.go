// Package message defines the inner payloads that travel inside protocol
// envelopes: the signed control-plane sub-envelope, the action-specific
// request bodies, and the forwarded request the gateway posts to a selected
// candidate.
//
// Decoding happens in two stages on purpose: the outer envelope and the
// signed sub-envelope are validated on raw bytes first, and only then is an
// action-specific structure parsed from the already-authenticated payload.
package message

import (
	"acorle/protocol"
)

// RpcRequest is the signed sub-envelope wrapped inside every control-plane
// request packet. Data is opaque until the signature has been verified.
type RpcRequest struct {
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
	Data      []byte `json:"data"`
}

// Validate performs the structural and anti-replay checks: signature and
// timestamp present, and the timestamp inside the configured window. A forged
// timestamp that passes here is still caught by Payload, because the
// timestamp participates in the signature.
func (r *RpcRequest) Validate(antiReplaySeconds uint) bool {
	if r == nil || r.Signature == "" || r.Timestamp <= 0 {
		return false
	}
	return protocol.TimestampInWindow(r.Timestamp, protocol.NowMillis(), antiReplaySeconds)
}

// Payload recomputes the signature with the zone's registered secret and
// returns the signed bytes, or nil when the signature does not match. A bad
// secret and a malformed body are indistinguishable to the caller.
func (r *RpcRequest) Payload(zone, secret string) []byte {
	if protocol.Signature(zone, secret, r.Timestamp) != r.Signature {
		return nil
	}
	return r.Data
}

// ServiceRequest is the data-plane payload: which service key to call and
// the bytes to hand to it.
type ServiceRequest struct {
	Key  string `json:"key"`
	Data []byte `json:"data"`
}

// Validate reports whether the request names a service key.
func (r *ServiceRequest) Validate() bool {
	return r != nil && r.Key != ""
}

// ServiceEntry is one candidate submitted for registration.
type ServiceEntry struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Url       string `json:"url"`
	Weight    int    `json:"weight"`
	IsPrivate bool   `json:"isPrivate"`
}

// RegisterRequest registers or renews a batch of candidates.
type RegisterRequest struct {
	Services []ServiceEntry `json:"services"`
}

// DestroyEntry identifies one candidate to remove by its (key, URL) pair.
type DestroyEntry struct {
	Key string `json:"key"`
	Url string `json:"url"`
}

// DestroyRequest removes a batch of candidates.
type DestroyRequest struct {
	Services []DestroyEntry `json:"services"`
}

// GetServiceRequest asks for the candidates registered under one key.
type GetServiceRequest struct {
	Key string `json:"key"`
}

// CallServiceRequest resolves one live candidate URL for sibling-to-sibling
// calls without proxying through the gateway.
type CallServiceRequest struct {
	Key string `json:"key"`
}

// GetConfigRequest fetches a configuration blob; Hash lets the caller
// short-circuit when its cached copy is already current.
type GetConfigRequest struct {
	Key  string `json:"key"`
	Hash string `json:"hash,omitempty"`
}

// SetConfigRequest stores a configuration blob. Empty context deletes it.
type SetConfigRequest struct {
	Key     string `json:"key"`
	Context string `json:"context"`
}

// ServiceInfo describes one registered candidate in list/get replies.
// Timestamps are Unix milliseconds.
type ServiceInfo struct {
	Hash            string `json:"hash"`
	Key             string `json:"key"`
	Name            string `json:"name"`
	Url             string `json:"url"`
	Weight          int    `json:"weight"`
	IsPrivate       bool   `json:"isPrivate"`
	AddedTimestamp  int64  `json:"addedTimestamp"`
	ExpireTimestamp int64  `json:"expireTimestamp"`
}

// ServiceList is the reply body of the list and get actions.
type ServiceList struct {
	Services []ServiceInfo `json:"services"`
}

// ConfigReply is the reply body of a config get that carried new content.
type ConfigReply struct {
	Zone                  string `json:"zone"`
	Key                   string `json:"key"`
	Hash                  string `json:"hash"`
	Context               string `json:"context"`
	LastModifiedTimestamp int64  `json:"lastModifiedTimestamp"`
}

// ForwardedRequest is what the gateway posts to a selected candidate: the
// caller's payload plus enough context for the candidate to authenticate the
// gateway and reconstruct the original request. The synthetic x-http-method
// header carries the end user's HTTP verb.
type ForwardedRequest struct {
	Signature string              `json:"signature"`
	Timestamp int64               `json:"timestamp"`
	Zone      string              `json:"zone"`
	Key       string              `json:"key"`
	Ip        string              `json:"ip"`
	Port      int                 `json:"port"`
	Headers   []protocol.HeaderKV `json:"headers"`
	Data      []byte              `json:"data"`
}

// NewForwardedRequest signs and assembles a forwarded request with the
// current timestamp.
func NewForwardedRequest(data []byte, zone, secret, key, ip string, port int, headers []protocol.HeaderKV) *ForwardedRequest {
	timestamp := protocol.NowMillis()
	return &ForwardedRequest{
		Signature: protocol.Signature(zone, secret, timestamp),
		Timestamp: timestamp,
		Zone:      zone,
		Key:       key,
		Ip:        ip,
		Port:      port,
		Headers:   headers,
		Data:      data,
	}
}
