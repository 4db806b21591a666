package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"acorle/loadbalance"
	"acorle/message"
	"acorle/protocol"
	"acorle/registry"
	"acorle/store"
)

// RpcMain handles one control-plane envelope from a child node. The outer
// packet has already passed magic/zone/payload validation; this layer peels
// the signed sub-envelope, anti-replays it, authenticates it against the
// zone's secret, and only then parses the action-specific payload from the
// authenticated bytes.
func (g *Gateway) RpcMain(ctx context.Context, packet *protocol.RequestPacket, caller *Caller) *protocol.ResponsePacket {
	var rpcRequest message.RpcRequest
	if err := g.codec.Decode(packet.Data, &rpcRequest); err != nil {
		return protocol.NewResponse(protocol.CodeBadRequest, nil)
	}
	if !rpcRequest.Validate(g.antiReplaySeconds) {
		return protocol.NewResponse(protocol.CodeBadRequest, nil)
	}

	zone, err := g.store.GetZone(ctx, packet.Zone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Unknown zones are not logged; scanners would fill the log.
			return protocol.NewResponse(protocol.CodeRpcInvalidZone, nil)
		}
		g.logger.Error("loading zone", zap.Error(err))
		return protocol.NewResponse(protocol.CodeServerException, nil)
	}

	// A wrong secret and a malformed body answer identically, so a caller
	// cannot probe which check failed.
	rawPayload := rpcRequest.Payload(packet.Zone, zone.Secret)
	if rawPayload == nil {
		return protocol.NewResponse(protocol.CodeInvalidBody, nil)
	}

	switch packet.Action {
	case protocol.ActionRpcRegister:
		var payload message.RegisterRequest
		if err := g.codec.Decode(rawPayload, &payload); err != nil {
			return protocol.NewResponse(protocol.CodeInvalidBody, nil)
		}
		return g.registerServices(ctx, zone, &payload)
	case protocol.ActionRpcList:
		return g.listServices(zone, "")
	case protocol.ActionRpcGet:
		var payload message.GetServiceRequest
		if err := g.codec.Decode(rawPayload, &payload); err != nil || payload.Key == "" {
			return protocol.NewResponse(protocol.CodeInvalidBody, nil)
		}
		return g.listServices(zone, payload.Key)
	case protocol.ActionRpcCall:
		var payload message.CallServiceRequest
		if err := g.codec.Decode(rawPayload, &payload); err != nil || payload.Key == "" {
			return protocol.NewResponse(protocol.CodeInvalidBody, nil)
		}
		return g.callService(zone, &payload, caller)
	case protocol.ActionRpcDestroy:
		var payload message.DestroyRequest
		if err := g.codec.Decode(rawPayload, &payload); err != nil {
			return protocol.NewResponse(protocol.CodeInvalidBody, nil)
		}
		return g.destroyServices(ctx, zone, &payload)
	case protocol.ActionRpcConfigGet:
		var payload message.GetConfigRequest
		if err := g.codec.Decode(rawPayload, &payload); err != nil || payload.Key == "" {
			return protocol.NewResponse(protocol.CodeInvalidBody, nil)
		}
		return g.getConfig(ctx, zone, &payload)
	case protocol.ActionRpcConfigSet:
		var payload message.SetConfigRequest
		if err := g.codec.Decode(rawPayload, &payload); err != nil || payload.Key == "" {
			return protocol.NewResponse(protocol.CodeInvalidBody, nil)
		}
		return g.setConfig(ctx, zone, &payload)
	default:
		return protocol.NewResponse(protocol.CodeBadRequest, nil)
	}
}

// registerServices upserts a batch of candidates into the registry and the
// store, renewing each candidate's expiry to now + the zone's registration
// interval. The whole batch is rejected on the first invalid entry; entries
// already applied in memory stay applied. The in-memory state is optimistic
// and the next sync tick converges it.
func (g *Gateway) registerServices(ctx context.Context, zone *registry.Zone, data *message.RegisterRequest) *protocol.ResponsePacket {
	var toPersist []registry.Service
	for _, entry := range data.Services {
		if entry.Key == "" || entry.Name == "" || entry.Url == "" {
			return protocol.NewResponse(protocol.CodeInvalidBody, nil)
		}

		hash := protocol.ServiceHash(entry.Key, entry.Url)
		sessions := g.registry.ZoneSessions(zone.Key, entry.Key)
		// Renewing an already-registered candidate stays allowed at the
		// quota; only genuinely new candidates are rejected.
		if zone.MaxServices != 0 && uint(sessions.Len()) >= zone.MaxServices {
			if _, exists := sessions.Get(hash); !exists {
				return protocol.NewResponse(protocol.CodeRpcRegLimit, nil)
			}
		}
		session := sessions.GetOrAdd(hash, func() *registry.ServiceSession {
			return registry.NewServiceSession(registry.Service{
				Zone:      zone.Key,
				Hash:      hash,
				Key:       entry.Key,
				Url:       entry.Url,
				AddedTime: time.Now().UTC(),
			})
		})

		weight := entry.Weight
		if weight == 0 {
			weight = g.defaultWeight
		}
		expire := time.Now().UTC().Add(time.Duration(zone.RegIntervalSeconds) * time.Second)
		session.UpdateService(func(s *registry.Service) {
			s.Name = entry.Name
			s.Weight = weight
			s.IsPrivate = entry.IsPrivate
			s.ExpireTime = expire
		})
		toPersist = append(toPersist, session.Service())
	}

	for _, service := range toPersist {
		if err := g.store.PutService(ctx, service); err != nil {
			g.logger.Error("saving to store", zap.Error(err))
			return protocol.NewResponse(protocol.CodeRpcOperationFailed, nil)
		}
	}
	return protocol.NewResponse(protocol.CodeOk, nil)
}

// destroyServices removes candidates from the registry and the store.
// Absence is not an error; destroy is idempotent.
func (g *Gateway) destroyServices(ctx context.Context, zone *registry.Zone, data *message.DestroyRequest) *protocol.ResponsePacket {
	for _, entry := range data.Services {
		if entry.Key == "" || entry.Url == "" {
			return protocol.NewResponse(protocol.CodeInvalidBody, nil)
		}
		if !g.registry.HasZoneContexts(zone.Key) {
			return protocol.NewResponse(protocol.CodeRpcInvalidZone, nil)
		}

		hash := protocol.ServiceHash(entry.Key, entry.Url)
		g.registry.ZoneSessions(zone.Key, entry.Key).Remove(hash)
		if _, err := g.store.DeleteService(ctx, zone.Key, hash); err != nil {
			g.logger.Error("deleting from store", zap.Error(err))
			return protocol.NewResponse(protocol.CodeRpcOperationFailed, nil)
		}
	}
	return protocol.NewResponse(protocol.CodeOk, nil)
}

// listServices reports the zone's in-memory candidates, optionally filtered
// to one service key. An unknown zone is distinct from a zone with no
// candidates under the requested key.
func (g *Gateway) listServices(zone *registry.Zone, serviceKey string) *protocol.ResponsePacket {
	if !g.registry.HasZoneContexts(zone.Key) {
		return protocol.NewResponse(protocol.CodeRpcInvalidZone, nil)
	}

	list := message.ServiceList{Services: []message.ServiceInfo{}}
	appendSessions := func(sessions *registry.SessionMap) {
		for _, session := range sessions.Snapshot() {
			service := session.Service()
			list.Services = append(list.Services, message.ServiceInfo{
				Hash:            service.Hash,
				Key:             service.Key,
				Name:            service.Name,
				Url:             service.Url,
				Weight:          service.Weight,
				IsPrivate:       service.IsPrivate,
				AddedTimestamp:  service.AddedTime.UnixMilli(),
				ExpireTimestamp: service.ExpireTime.UnixMilli(),
			})
		}
	}

	if serviceKey == "" {
		g.registry.RangeContexts(zone.Key, func(_ string, sessions *registry.SessionMap) bool {
			appendSessions(sessions)
			return true
		})
	} else if sessions, ok := g.registry.ServiceKeySessions(zone.Key, serviceKey); ok {
		appendSessions(sessions)
	}

	body, err := g.codec.Encode(&list)
	if err != nil {
		g.logger.Error("encoding service list", zap.Error(err))
		return protocol.NewResponse(protocol.CodeServerException, nil)
	}
	return protocol.NewResponse(protocol.CodeOk, body)
}

// callService resolves one live candidate URL through the zone's load
// balancer, for sibling-to-sibling calls that skip the double proxy hop.
// Selection counts as a finished request for the chosen candidate.
func (g *Gateway) callService(zone *registry.Zone, data *message.CallServiceRequest, caller *Caller) *protocol.ResponsePacket {
	sessions := g.registry.ZoneSessions(zone.Key, data.Key)
	lbType := g.registry.LoadBalancer(zone.Key, data.Key)

	hit := loadbalance.Lease(lbType, sessions, loadbalance.SourceHash(caller.IP))
	if hit == nil {
		return protocol.NewResponse(protocol.CodeSvcNotFoundOrUnavailable, nil)
	}
	hit.IncrementFinishedRequests()

	return protocol.NewResponse(protocol.CodeOk, []byte(hit.Service().Url))
}

// getConfig returns a configuration blob, short-circuiting to a bare ok
// when the caller's hash shows its copy is already current.
func (g *Gateway) getConfig(ctx context.Context, zone *registry.Zone, data *message.GetConfigRequest) *protocol.ResponsePacket {
	config, err := g.store.GetConfig(ctx, zone.Key, data.Key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.NewResponse(protocol.CodeRpcConfigNotFound, nil)
		}
		g.logger.Error("loading config", zap.Error(err))
		return protocol.NewResponse(protocol.CodeServerException, nil)
	}

	if data.Hash != "" && data.Hash == config.Hash {
		return protocol.NewResponse(protocol.CodeOk, nil)
	}

	body, err := g.codec.Encode(&message.ConfigReply{
		Zone:                  zone.Key,
		Key:                   data.Key,
		Hash:                  config.Hash,
		Context:               config.Context,
		LastModifiedTimestamp: config.LastModified.UnixMilli(),
	})
	if err != nil {
		g.logger.Error("encoding config", zap.Error(err))
		return protocol.NewResponse(protocol.CodeServerException, nil)
	}
	return protocol.NewResponse(protocol.CodeOk, body)
}

// setConfig stores, replaces, or deletes a configuration blob. Content is
// deduplicated by hash: a set whose content is already stored is an
// idempotent success, and an empty context deletes the entry.
func (g *Gateway) setConfig(ctx context.Context, zone *registry.Zone, data *message.SetConfigRequest) *protocol.ResponsePacket {
	existing, err := g.store.GetConfig(ctx, zone.Key, data.Key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		g.logger.Error("loading config", zap.Error(err))
		return protocol.NewResponse(protocol.CodeServerException, nil)
	}

	if data.Context == "" {
		if existing == nil {
			return protocol.NewResponse(protocol.CodeOk, nil)
		}
		if err := g.store.DeleteConfig(ctx, zone.Key, data.Key); err != nil {
			g.logger.Error("deleting config", zap.Error(err))
			return protocol.NewResponse(protocol.CodeRpcOperationFailed, nil)
		}
		return protocol.NewResponse(protocol.CodeOk, nil)
	}

	hash := protocol.ContentHash(data.Context)
	if existing != nil && hash == existing.Hash {
		return protocol.NewResponse(protocol.CodeOk, nil)
	}

	err = g.store.PutConfig(ctx, registry.ServiceConfig{
		Zone:         zone.Key,
		Key:          data.Key,
		Hash:         hash,
		Context:      data.Context,
		LastModified: time.Now().UTC(),
	})
	if err != nil {
		g.logger.Error("saving config", zap.Error(err))
		return protocol.NewResponse(protocol.CodeRpcOperationFailed, nil)
	}
	return protocol.NewResponse(protocol.CodeOk, nil)
}
