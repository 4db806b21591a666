package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"acorle/codec"
	"acorle/gateway"
	"acorle/loadbalance"
	"acorle/message"
	"acorle/middleware"
	"acorle/protocol"
	"acorle/registry"
	"acorle/store"
	"acorle/transport"
)

const (
	testZone   = "z1"
	testSecret = "s3cret"
)

type fixture struct {
	front *httptest.Server
	reg   *registry.Registry
	store *store.Memory
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st := store.NewMemory()
	require.NoError(t, st.PutZone(context.Background(), registry.Zone{
		Key: testZone, Secret: testSecret, RegIntervalSeconds: 60, RpcTimeoutSeconds: 5,
	}))
	reg := registry.New()
	reg.SetZone(&registry.Zone{
		Key: testZone, Secret: testSecret, RegIntervalSeconds: 60, RpcTimeoutSeconds: 5,
	})

	gw := gateway.New(reg, st, transport.NewClient("test-gateway"), zap.NewNop(), gateway.Options{
		DefaultWeight: 1, AntiReplaySeconds: 600,
	})
	if opts.Middlewares == nil {
		opts.Middlewares = []middleware.Middleware{middleware.Recovery(zap.NewNop())}
	}
	srv := New(gw, zap.NewNop(), opts)
	front := httptest.NewServer(srv.Handler())
	t.Cleanup(front.Close)
	return &fixture{front: front, reg: reg, store: st}
}

// addCandidate plants a live candidate straight into the registry, backed by
// the given upstream handler.
func (f *fixture) addCandidate(t *testing.T, key string, handler http.HandlerFunc) {
	t.Helper()
	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)

	hash := protocol.ServiceHash(key, upstream.URL)
	f.reg.ZoneSessions(testZone, key).GetOrAdd(hash, func() *registry.ServiceSession {
		return registry.NewServiceSession(registry.Service{
			Zone:       testZone,
			Hash:       hash,
			Key:        key,
			Name:       key,
			Url:        upstream.URL,
			Weight:     1,
			ExpireTime: time.Now().Add(time.Minute),
		})
	})
}

func decodeFramed(t *testing.T, resp *http.Response) *protocol.ResponsePacket {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "framed surfaces always answer 200")
	require.Equal(t, protocol.ContentType, resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	packet, err := protocol.DecodeResponse(raw)
	require.NoError(t, err)
	return packet
}

func TestStatisticsDisabledAnswersEmptyList(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCandidate(t, "echo", func(w http.ResponseWriter, r *http.Request) {})

	resp, err := http.Get(f.front.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store,no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no-cache", resp.Header.Get("Pragma"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(body))
}

func TestStatisticsEnabledListsCandidates(t *testing.T) {
	f := newFixture(t, Options{EnableStatistics: true})
	f.addCandidate(t, "echo", func(w http.ResponseWriter, r *http.Request) {})

	resp, err := http.Get(f.front.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats []gateway.ZoneStatistics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Len(t, stats, 1)
	assert.Equal(t, testZone, stats[0].Zone)
	require.Len(t, stats[0].Services, 1)
	assert.Equal(t, "echo", stats[0].Services[0].Key)
}

func TestUnknownPathIsPlainNotFound(t *testing.T) {
	f := newFixture(t, Options{})
	resp, err := http.Get(f.front.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, protocol.CodeNotFound, body["code"])
}

func TestRpcRejectsWrongMethodFramed(t *testing.T) {
	f := newFixture(t, Options{})
	resp, err := http.Get(f.front.URL + "/rpc")
	require.NoError(t, err)
	packet := decodeFramed(t, resp)
	assert.Equal(t, protocol.CodeMethodNotAllowed, packet.Code)
}

func TestRpcRejectsUnframedBody(t *testing.T) {
	f := newFixture(t, Options{})
	resp, err := http.Post(f.front.URL+"/rpc", protocol.ContentType, bytes.NewBufferString("GET / HTTP/1.1"))
	require.NoError(t, err)
	packet := decodeFramed(t, resp)
	assert.Equal(t, protocol.CodeBadRequest, packet.Code)
}

func TestRpcRejectsServiceActionOnControlSurface(t *testing.T) {
	f := newFixture(t, Options{})
	frame := protocol.EncodeRequest(&protocol.RequestPacket{
		Action: protocol.ActionSvcRequest, Zone: testZone, Data: []byte("x"),
	})
	resp, err := http.Post(f.front.URL+"/rpc", protocol.ContentType, bytes.NewReader(frame))
	require.NoError(t, err)
	packet := decodeFramed(t, resp)
	assert.Equal(t, protocol.CodeMethodNotAllowed, packet.Code)
}

func TestRpcRejectsOversizedBody(t *testing.T) {
	f := newFixture(t, Options{MaxBodyBytes: 64})
	frame := protocol.EncodeRequest(&protocol.RequestPacket{
		Action: protocol.ActionRpcList, Zone: testZone, Data: bytes.Repeat([]byte("x"), 128),
	})
	resp, err := http.Post(f.front.URL+"/rpc", protocol.ContentType, bytes.NewReader(frame))
	require.NoError(t, err)
	packet := decodeFramed(t, resp)
	assert.Equal(t, protocol.CodeInvalidBody, packet.Code)
}

func TestEnvelopedServiceCall(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCandidate(t, "echo", func(w http.ResponseWriter, r *http.Request) {
		var fwd message.ForwardedRequest
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, codec.Default().Decode(body, &fwd))
		w.Write(protocol.EncodeResponse(&protocol.ResponsePacket{
			Code: protocol.CodeOk,
			Data: fwd.Data,
		}))
	})

	inner, err := codec.Default().Encode(&message.ServiceRequest{Key: "echo", Data: []byte("ping")})
	require.NoError(t, err)
	frame := protocol.EncodeRequest(&protocol.RequestPacket{
		Action: protocol.ActionSvcRequest, Zone: testZone, Data: inner,
	})

	resp, err := http.Post(f.front.URL+"/", protocol.ContentType, bytes.NewReader(frame))
	require.NoError(t, err)
	packet := decodeFramed(t, resp)
	require.Equal(t, protocol.CodeOk, packet.Code)
	assert.Equal(t, []byte("ping"), packet.Data)
}

func TestDirectCallTranslatesPseudoHeaders(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCandidate(t, "pages", func(w http.ResponseWriter, r *http.Request) {
		var fwd message.ForwardedRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, codec.Default().Decode(body, &fwd))
		// The end user's verb travels in the forwarded headers.
		verb := ""
		for _, h := range fwd.Headers {
			if h.Key == "x-http-method" {
				verb = h.Values[0]
			}
		}
		assert.Equal(t, http.MethodGet, verb)

		w.Write(protocol.EncodeResponse(&protocol.ResponsePacket{
			Code: protocol.CodeOk,
			Headers: []protocol.HeaderKV{
				{Key: "content-type", Values: []string{"text/html"}},
				{Key: "status", Values: []string{"404 Not Found"}},
				{Key: "x-page", Values: []string{"missing"}},
			},
			Data: []byte("<h1>gone</h1>"),
		}))
	})

	resp, err := http.Get(f.front.URL + "/service/" + testZone + "/pages")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	assert.Equal(t, "missing", resp.Header.Get("x-page"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "<h1>gone</h1>", string(body))
}

func TestDirectCallDefaultsStatusTo200(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCandidate(t, "echo", func(w http.ResponseWriter, r *http.Request) {
		w.Write(protocol.EncodeResponse(&protocol.ResponsePacket{
			Code: protocol.CodeOk,
			Headers: []protocol.HeaderKV{
				{Key: "status", Values: []string{"not-a-number"}},
			},
			Data: []byte("ok"),
		}))
	})

	resp, err := http.Get(f.front.URL + "/service/" + testZone + "/echo")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDirectCallForwardsPostBody(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCandidate(t, "sink", func(w http.ResponseWriter, r *http.Request) {
		var fwd message.ForwardedRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, codec.Default().Decode(body, &fwd))
		w.Write(protocol.EncodeResponse(&protocol.ResponsePacket{
			Code: protocol.CodeOk,
			Data: fwd.Data,
		}))
	})

	resp, err := http.Post(f.front.URL+"/service/"+testZone+"/sink", "text/plain", bytes.NewBufferString("raw payload"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "raw payload", string(body))
}

func TestDirectCallErrorMapping(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCandidate(t, "echo", func(w http.ResponseWriter, r *http.Request) {})

	cases := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   protocol.Code
	}{
		{"unknown zone", "/service/nope/echo", http.StatusNotFound, protocol.CodeSvcInvalidZone},
		{"unknown service", "/service/" + testZone + "/nope", http.StatusNotFound, protocol.CodeSvcNotFoundOrUnavailable},
		{"missing key segment", "/service/" + testZone, http.StatusNotFound, protocol.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(f.front.URL + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			assert.Equal(t, "no-store,no-cache", resp.Header.Get("Cache-Control"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.EqualValues(t, tc.wantCode, body["code"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestDirectCallAnswersJsonErrorWhenSelectionPanics(t *testing.T) {
	f := newFixture(t, Options{})
	for i := 0; i < 3; i++ {
		f.addCandidate(t, "flaky", func(w http.ResponseWriter, r *http.Request) {})
	}
	f.reg.SetLoadBalancer(testZone, "flaky", registry.SmoothWeightRoundRobin)

	// One selection round debits the winner's rolling weight below zero;
	// expiring the losers leaves a bucket where every live weight is
	// negative, which makes the next selection panic. The direct surface
	// must still answer the JSON 500, not drop the connection.
	sessions := f.reg.ZoneSessions(testZone, "flaky")
	winner := loadbalance.Lease(registry.SmoothWeightRoundRobin, sessions, 0)
	require.NotNil(t, winner)
	sessions.Range(func(hash string, s *registry.ServiceSession) bool {
		if hash != winner.Service().Hash {
			s.UpdateService(func(svc *registry.Service) {
				svc.ExpireTime = time.Now().Add(-time.Minute)
			})
		}
		return true
	})

	resp, err := http.Get(f.front.URL + "/service/" + testZone + "/flaky")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "no-store,no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no-cache", resp.Header.Get("Pragma"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, protocol.CodeServerException, body["code"])
	assert.Equal(t, protocol.CodeServerException.Description(), body["message"])
}

func TestDirectCallRejectsUnsupportedMethod(t *testing.T) {
	f := newFixture(t, Options{})
	req, err := http.NewRequest(http.MethodPatch, f.front.URL+"/service/"+testZone+"/echo", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRateLimitMiddlewareOnFramedSurface(t *testing.T) {
	f := newFixture(t, Options{
		Middlewares: []middleware.Middleware{middleware.RateLimit(0, 0)},
	})
	frame := protocol.EncodeRequest(&protocol.RequestPacket{
		Action: protocol.ActionRpcList, Zone: testZone, Data: []byte("x"),
	})
	resp, err := http.Post(f.front.URL+"/rpc", protocol.ContentType, bytes.NewReader(frame))
	require.NoError(t, err)
	packet := decodeFramed(t, resp)
	assert.Equal(t, protocol.CodeUnavailable, packet.Code)
}
