// Package middleware wraps the gateway's envelope handlers in an onion of
// cross-cutting layers: panic recovery, rate limiting, and debug logging.
//
// Chain(A, B, C)(handler) → A(B(C(handler))), so the first middleware sees
// the request first and the response last.
package middleware

import (
	"context"

	"acorle/protocol"
)

// HandlerFunc processes one decoded request envelope into a response
// envelope. Handlers never return nil.
type HandlerFunc func(ctx context.Context, req *protocol.RequestPacket) *protocol.ResponsePacket

// Middleware wraps a handler with one cross-cutting concern.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. Middlewares apply in the order given.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
