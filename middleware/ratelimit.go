package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"acorle/protocol"
)

// RateLimit applies a token-bucket limiter across all inbound envelopes.
// Over-limit requests are answered with service-unavailable before any
// parsing of the inner payload.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.RequestPacket) *protocol.ResponsePacket {
			if !limiter.Allow() {
				return protocol.NewResponse(protocol.CodeUnavailable, nil)
			}
			return next(ctx, req)
		}
	}
}
