package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"acorle/codec"
	"acorle/message"
	"acorle/protocol"
)

func TestSendDeliversSignedForwardedRequest(t *testing.T) {
	var received message.ForwardedRequest
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != protocol.ContentType {
			t.Errorf("content type %q", ct)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("user agent %q", ua)
		}
		body, _ := io.ReadAll(r.Body)
		if err := codec.Default().Decode(body, &received); err != nil {
			t.Errorf("decoding forwarded request: %v", err)
		}
		w.Write(protocol.EncodeResponse(protocol.NewResponse(protocol.CodeOk, []byte("pong"))))
	}))
	defer upstream.Close()

	client := NewClient("test-agent")
	resp, err := client.Send(context.Background(), upstream.URL, []byte("ping"), 5,
		"z1", "s3cret", "echo", "10.1.1.1", 40000, []protocol.HeaderKV{{Key: "accept", Values: []string{"*/*"}}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Code != protocol.CodeOk || !bytes.Equal(resp.Data, []byte("pong")) {
		t.Errorf("unexpected response %+v", resp)
	}

	if received.Zone != "z1" || received.Key != "echo" || received.Ip != "10.1.1.1" || received.Port != 40000 {
		t.Errorf("forwarded metadata %+v", received)
	}
	if received.Signature != protocol.Signature("z1", "s3cret", received.Timestamp) {
		t.Error("forwarded request signature does not verify")
	}
	if !bytes.Equal(received.Data, []byte("ping")) {
		t.Errorf("forwarded data %q", received.Data)
	}
}

func TestSendClassifiesNonSuccessStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	_, err := NewClient("ua").Send(context.Background(), upstream.URL, nil, 5, "z", "s", "k", "", 0, nil)
	if !errors.Is(err, ErrBadResponse) {
		t.Errorf("got %v, want ErrBadResponse", err)
	}
}

func TestSendClassifiesUnframedBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text, no envelope"))
	}))
	defer upstream.Close()

	_, err := NewClient("ua").Send(context.Background(), upstream.URL, nil, 5, "z", "s", "k", "", 0, nil)
	if !errors.Is(err, ErrBadResponse) {
		t.Errorf("got %v, want ErrBadResponse", err)
	}
}

func TestSendClassifiesConnectionRefused(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	_, err := NewClient("ua").Send(context.Background(), url, nil, 5, "z", "s", "k", "", 0, nil)
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("got %v, want ErrNetwork", err)
	}
}

func TestSendClassifiesExpiredDeadline(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	// A zero-second budget expires before the request leaves.
	_, err := NewClient("ua").Send(context.Background(), upstream.URL, nil, 0, "z", "s", "k", "", 0, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}
