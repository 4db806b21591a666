// Package server exposes the gateway over HTTP:
//
//	POST /rpc                  control-plane envelopes
//	POST /                     data-plane envelopes (also PUT and PATCH)
//	GET  /                     registry statistics (when enabled)
//	ANY  /service/{zone}/{key} direct HTTP access without framing
//
// Framed surfaces always answer HTTP 200 with a response envelope, even on
// failure; the direct surface answers conventional HTTP statuses with a
// small JSON error body.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"acorle/gateway"
	"acorle/middleware"
	"acorle/protocol"
)

type Options struct {
	Addr             string
	MaxBodyBytes     int64
	EnableStatistics bool

	// Middlewares wrap the two envelope surfaces (recovery first is the
	// usual order).
	Middlewares []middleware.Middleware
}

type Server struct {
	gateway    *gateway.Gateway
	logger     *zap.Logger
	opts       Options
	rpcHandler middleware.HandlerFunc
	svcHandler middleware.HandlerFunc
	httpServer *http.Server
}

func New(gw *gateway.Gateway, logger *zap.Logger, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	s := &Server{gateway: gw, logger: logger, opts: opts}

	chain := middleware.Chain(opts.Middlewares...)
	s.rpcHandler = chain(func(ctx context.Context, req *protocol.RequestPacket) *protocol.ResponsePacket {
		return gw.RpcMain(ctx, req, callerFromContext(ctx))
	})
	s.svcHandler = chain(func(ctx context.Context, req *protocol.RequestPacket) *protocol.ResponsePacket {
		return gw.ServiceEnvelope(ctx, req, callerFromContext(ctx))
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRpc)
	mux.HandleFunc("/service/", s.handleDirect)
	mux.HandleFunc("/", s.handleRoot)
	s.httpServer = &http.Server{Addr: opts.Addr, Handler: mux}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the routing table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type callerKey struct{}

func callerFromContext(ctx context.Context) *gateway.Caller {
	if c, ok := ctx.Value(callerKey{}).(*gateway.Caller); ok {
		return c
	}
	return &gateway.Caller{}
}

// caller extracts the requester's transport facts once per request.
func caller(r *http.Request) *gateway.Caller {
	ip, portStr, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	port := 0
	for _, ch := range portStr {
		if ch < '0' || ch > '9' {
			port = 0
			break
		}
		port = port*10 + int(ch-'0')
	}
	headers := make([]protocol.HeaderKV, 0, len(r.Header))
	for key, values := range r.Header {
		headers = append(headers, protocol.HeaderKV{Key: key, Values: values})
	}
	return &gateway.Caller{
		IP:        ip,
		Port:      port,
		Method:    r.Method,
		UserAgent: r.UserAgent(),
		Headers:   headers,
	}
}

// readPacket reads and decodes one framed envelope from the request body,
// enforcing the body size limit before parsing anything.
func (s *Server) readPacket(w http.ResponseWriter, r *http.Request) (*protocol.RequestPacket, protocol.Code) {
	if r.ContentLength > s.opts.MaxBodyBytes {
		return nil, protocol.CodeInvalidBody
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, protocol.CodeInvalidBody
		}
		s.logger.Error("reading body", zap.Error(err))
		return nil, protocol.CodeServerException
	}
	packet, err := protocol.DecodeRequest(body)
	if err != nil {
		return nil, protocol.CodeBadRequest
	}
	if !protocol.ValidateRequest(packet) {
		return nil, protocol.CodeBadRequest
	}
	return packet, protocol.CodeOk
}

func (s *Server) handleRpc(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeFramed(w, protocol.NewResponse(protocol.CodeMethodNotAllowed, nil))
		return
	}
	packet, code := s.readPacket(w, r)
	if code != protocol.CodeOk {
		writeFramed(w, protocol.NewResponse(code, nil))
		return
	}
	switch packet.Action {
	case protocol.ActionRpcRegister, protocol.ActionRpcList, protocol.ActionRpcGet,
		protocol.ActionRpcCall, protocol.ActionRpcDestroy,
		protocol.ActionRpcConfigGet, protocol.ActionRpcConfigSet:
		ctx := context.WithValue(r.Context(), callerKey{}, caller(r))
		writeFramed(w, s.rpcHandler(ctx, packet))
	default:
		writeFramed(w, protocol.NewResponse(protocol.CodeMethodNotAllowed, nil))
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.plainError(w, protocol.CodeNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.handleStatistics(w)
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		packet, code := s.readPacket(w, r)
		if code != protocol.CodeOk {
			writeFramed(w, protocol.NewResponse(code, nil))
			return
		}
		if packet.Action != protocol.ActionSvcRequest {
			writeFramed(w, protocol.NewResponse(protocol.CodeMethodNotAllowed, nil))
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, caller(r))
		writeFramed(w, s.svcHandler(ctx, packet))
	default:
		writeFramed(w, protocol.NewResponse(protocol.CodeMethodNotAllowed, nil))
	}
}

// handleStatistics dumps the registry as JSON. With the toggle off it
// answers an empty list rather than revealing whether anything exists.
func (s *Server) handleStatistics(w http.ResponseWriter) {
	stats := []gateway.ZoneStatistics{}
	if s.opts.EnableStatistics {
		stats = s.gateway.Statistics()
	}
	noCache(w)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.Error("encoding statistics", zap.Error(err))
	}
}

// handleDirect serves /service/{zone}/{key}: no framing in, upstream
// headers/status/body re-emitted directly out.
func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/service/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		s.plainError(w, protocol.CodeNotFound)
		return
	}
	zone, key := parts[0], parts[1]

	var body []byte
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodDelete:
		// No payload on these verbs; the candidate still learns the verb
		// from the forwarded x-http-method header.
	case http.MethodPost:
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
		if err != nil {
			s.plainError(w, protocol.CodeBadRequest)
			return
		}
	default:
		s.plainError(w, protocol.CodeMethodNotAllowed)
		return
	}

	packet := s.dispatchDirect(r.Context(), zone, key, body, caller(r))
	if packet.Code != protocol.CodeOk {
		s.plainError(w, packet.Code)
		return
	}

	contentType := "application/octet-stream"
	status := http.StatusOK
	for _, header := range packet.Headers {
		lower := strings.ToLower(header.Key)
		if lower == "content-type" && len(header.Values) != 0 {
			contentType = header.Values[0]
			continue
		}
		if lower == "status" && len(header.Values) != 0 {
			status = parseStatusToken(header.Values[0])
			continue
		}
		for _, value := range header.Values {
			w.Header().Add(header.Key, value)
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(packet.Data)
}

// dispatchDirect runs the data-plane call with the same panic safety the
// framed surfaces get from the middleware chain: the direct surface bypasses
// that chain, so a panic would otherwise reach net/http and drop the
// connection instead of producing the JSON error body.
func (s *Server) dispatchDirect(ctx context.Context, zone, key string, body []byte, c *gateway.Caller) (packet *protocol.ResponsePacket) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			buf = buf[:runtime.Stack(buf, false)]
			s.logger.Error("panic handling direct request",
				zap.Any("panic", r),
				zap.String("zone", zone),
				zap.String("service", key),
				zap.ByteString("stack", buf),
			)
			packet = protocol.NewResponse(protocol.CodeServerException, nil)
		}
	}()
	return s.gateway.ServiceCall(ctx, zone, key, body, c)
}

// parseStatusToken reads the leading integer of a status pseudo-header like
// "404" or "404 Not Found", defaulting to 200 when missing or invalid.
func parseStatusToken(value string) int {
	token := strings.SplitN(strings.TrimSpace(value), " ", 2)[0]
	status := 0
	for _, ch := range token {
		if ch < '0' || ch > '9' {
			return http.StatusOK
		}
		status = status*10 + int(ch-'0')
	}
	if status == 0 {
		return http.StatusOK
	}
	return status
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store,no-cache")
	w.Header().Set("Pragma", "no-cache")
}

// writeFramed answers a framed surface: always HTTP 200, failure travels in
// the envelope code.
func writeFramed(w http.ResponseWriter, packet *protocol.ResponsePacket) {
	noCache(w)
	w.Header().Set("Content-Type", protocol.ContentType)
	w.Write(protocol.EncodeResponse(packet))
}

// plainError answers the direct surface with a conventional HTTP status and
// a small JSON body. Internals never leak past the code's description.
func (s *Server) plainError(w http.ResponseWriter, code protocol.Code) {
	noCache(w)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(httpStatus(code))
	json.NewEncoder(w).Encode(map[string]any{
		"code":    int(code),
		"message": code.Description(),
	})
}

func httpStatus(code protocol.Code) int {
	switch code {
	case protocol.CodeRpcResponseError, protocol.CodeServerException:
		return http.StatusInternalServerError
	case protocol.CodeInvalidBody, protocol.CodeBadRequest:
		return http.StatusBadRequest
	case protocol.CodeForbidden:
		return http.StatusForbidden
	case protocol.CodeSvcNotFoundOrUnavailable, protocol.CodeRpcInvalidZone,
		protocol.CodeSvcInvalidZone, protocol.CodeNotFound:
		return http.StatusNotFound
	case protocol.CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case protocol.CodeBadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}
