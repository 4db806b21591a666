package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"acorle/loadbalance"
	"acorle/message"
	"acorle/protocol"
	"acorle/transport"
)

// ServiceEnvelope handles one framed data-plane request: unwrap the service
// request and run the shared call path.
func (g *Gateway) ServiceEnvelope(ctx context.Context, packet *protocol.RequestPacket, caller *Caller) *protocol.ResponsePacket {
	var request message.ServiceRequest
	if err := g.codec.Decode(packet.Data, &request); err != nil {
		return protocol.NewResponse(protocol.CodeBadRequest, nil)
	}
	if !request.Validate() {
		// Not logged; malformed traffic must not pile up anywhere.
		return protocol.NewResponse(protocol.CodeBadRequest, nil)
	}
	return g.ServiceCall(ctx, packet.Zone, request.Key, request.Data, caller)
}

// ServiceCall is the data-plane core shared by the envelope surface and the
// direct HTTP surface: resolve the zone from the registry, select a live
// non-private candidate, forward the payload, and keep the candidate's
// counters truthful on every exit path.
//
// The zone comes from the registry rather than the store on purpose: the
// data plane tolerates eventual freshness and must not touch the store.
func (g *Gateway) ServiceCall(ctx context.Context, zoneKey, serviceKey string, data []byte, caller *Caller) (resp *protocol.ResponsePacket) {
	zone, ok := g.registry.Zone(zoneKey)
	if !ok {
		// Unknown zones are not logged; scanners would fill the log.
		return protocol.NewResponse(protocol.CodeSvcInvalidZone, nil)
	}

	if zone.LogUserRequest {
		start := time.Now()
		defer func() {
			// Exactly one access record per call, whichever exit was taken.
			// resp is nil when a panic is unwinding through here; the
			// record must still be emitted without a secondary panic.
			code := protocol.CodeServerException
			if resp != nil {
				code = resp.Code
			}
			g.logger.Info("access",
				zap.Int64("elapsedMs", time.Since(start).Milliseconds()),
				zap.String("zone", zoneKey),
				zap.String("service", serviceKey),
				zap.String("code", code.Description()),
				zap.String("remote", caller.IP),
				zap.String("ua", caller.UserAgent),
			)
		}()
	}

	sessions := g.registry.ZoneSessions(zoneKey, serviceKey)
	lbType := g.registry.LoadBalancer(zoneKey, serviceKey)

	hit := loadbalance.Lease(lbType, sessions, loadbalance.SourceHash(caller.IP))
	if hit == nil || hit.Service().IsPrivate {
		// A private candidate is indistinguishable from an absent one.
		return protocol.NewResponse(protocol.CodeSvcNotFoundOrUnavailable, nil)
	}

	hit.IncrementCurrentRequests()
	defer func() {
		hit.DecrementCurrentRequests()
		hit.IncrementFinishedRequests()
	}()

	headers := append([]protocol.HeaderKV{}, caller.Headers...)
	headers = append(headers, protocol.HeaderKV{Key: "x-http-method", Values: []string{caller.Method}})

	service := hit.Service()
	upstream, err := g.client.Send(ctx, service.Url, data, zone.RpcTimeoutSeconds,
		zoneKey, zone.Secret, serviceKey, caller.IP, caller.Port, headers)
	if err != nil {
		hit.IncrementFailedRequests()
		switch {
		case errors.Is(err, transport.ErrTimeout):
			return protocol.NewResponse(protocol.CodeRpcResponseTimedout, nil)
		case errors.Is(err, transport.ErrNetwork):
			return protocol.NewResponse(protocol.CodeRpcNetworkException, nil)
		case errors.Is(err, transport.ErrBadResponse):
			return protocol.NewResponse(protocol.CodeRpcResponseError, nil)
		default:
			g.logger.Error("sending rpc request", zap.Error(err))
			return protocol.NewResponse(protocol.CodeServerException, nil)
		}
	}
	if upstream.Code != protocol.CodeOk {
		hit.IncrementFailedRequests()
		return protocol.NewResponse(protocol.CodeRpcResponseError, nil)
	}
	return upstream
}
