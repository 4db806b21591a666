package client

import (
	"io"
	"net/http"

	"acorle/message"
	"acorle/protocol"
)

// ServiceFunc handles one forwarded request on a child node. The request is
// already authenticated when the function runs.
type ServiceFunc func(r *http.Request, fwd *message.ForwardedRequest) *protocol.ResponsePacket

// Handler adapts a ServiceFunc into the http.Handler a child node mounts at
// its registered URL: it decodes the forwarded request, checks the gateway's
// signature and timestamp, and frames the reply. AntiReplaySeconds of zero
// accepts any timestamp.
func (c *Client) Handler(antiReplaySeconds uint, fn ServiceFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writePacket(w, protocol.NewResponse(protocol.CodeBadRequest, nil))
			return
		}
		var fwd message.ForwardedRequest
		if err := c.codec.Decode(body, &fwd); err != nil {
			writePacket(w, protocol.NewResponse(protocol.CodeBadRequest, nil))
			return
		}
		if antiReplaySeconds != 0 && !protocol.TimestampInWindow(fwd.Timestamp, protocol.NowMillis(), antiReplaySeconds) {
			writePacket(w, protocol.NewResponse(protocol.CodeForbidden, nil))
			return
		}
		if protocol.Signature(fwd.Zone, c.secret, fwd.Timestamp) != fwd.Signature {
			writePacket(w, protocol.NewResponse(protocol.CodeForbidden, nil))
			return
		}
		writePacket(w, fn(r, &fwd))
	})
}

func writePacket(w http.ResponseWriter, packet *protocol.ResponsePacket) {
	w.Header().Set("Content-Type", protocol.ContentType)
	w.Write(protocol.EncodeResponse(packet))
}
