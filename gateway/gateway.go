// Package gateway implements request dispatch: it ties registry lookup,
// load balancing, outbound forwarding, and per-candidate bookkeeping
// together behind the two protocol surfaces (control plane and data plane).
//
// Dispatch is invoked concurrently, once per inbound request, and never
// blocks on another dispatch call. The only suspension points are store
// reads/writes on control-plane actions and the outbound call itself.
package gateway

import (
	"go.uber.org/zap"

	"acorle/codec"
	"acorle/protocol"
	"acorle/registry"
	"acorle/store"
	"acorle/transport"
)

// Caller carries the transport-level facts about the requester that
// dispatch forwards to candidates and stamps into access logs.
type Caller struct {
	IP        string
	Port      int
	Method    string
	UserAgent string
	Headers   []protocol.HeaderKV
}

// Gateway routes validated envelopes. One instance serves the whole
// process; tests construct an isolated one per case.
type Gateway struct {
	registry *registry.Registry
	store    store.Store
	client   *transport.Client
	codec    codec.Codec
	logger   *zap.Logger

	defaultWeight     int
	antiReplaySeconds uint
}

type Options struct {
	// DefaultWeight replaces a zero weight submitted at registration.
	DefaultWeight int

	// AntiReplaySeconds is the permitted clock skew for control-plane
	// timestamps.
	AntiReplaySeconds uint
}

func New(reg *registry.Registry, st store.Store, client *transport.Client, logger *zap.Logger, opts Options) *Gateway {
	if opts.DefaultWeight <= 0 {
		opts.DefaultWeight = 1
	}
	return &Gateway{
		registry:          reg,
		store:             st,
		client:            client,
		codec:             codec.Default(),
		logger:            logger,
		defaultWeight:     opts.DefaultWeight,
		antiReplaySeconds: opts.AntiReplaySeconds,
	}
}

// Registry exposes the routing state for the statistics surface.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}
