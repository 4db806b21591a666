package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"acorle/protocol"
)

// Logging emits one debug line per envelope with the action, response code,
// and handling time. Debug level on purpose: per-zone access logging is the
// gateway's own concern, and malformed traffic must not be able to flood
// the logs at production levels.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.RequestPacket) *protocol.ResponsePacket {
			start := time.Now()
			resp := next(ctx, req)
			logger.Debug("handled envelope",
				zap.Uint8("action", uint8(req.Action)),
				zap.String("zone", req.Zone),
				zap.Uint8("code", uint8(resp.Code)),
				zap.Duration("elapsed", time.Since(start)),
			)
			return resp
		}
	}
}
