package middleware

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"acorle/protocol"
)

// Recovery converts a panic anywhere in the handler chain into the generic
// server-exception response. The process must never crash on a per-request
// failure; framed clients always receive a valid envelope.
func Recovery(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.RequestPacket) (resp *protocol.ResponsePacket) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 64<<10)
					buf = buf[:runtime.Stack(buf, false)]
					logger.Error("panic handling request",
						zap.Any("panic", r),
						zap.Uint8("action", uint8(req.Action)),
						zap.ByteString("stack", buf),
					)
					resp = protocol.NewResponse(protocol.CodeServerException, nil)
				}
			}()
			return next(ctx, req)
		}
	}
}
