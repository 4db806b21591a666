// Package transport performs the gateway's outbound call to a selected
// candidate URL: sign, POST, parse the response envelope, and classify what
// went wrong so dispatch can map each failure class to its own response
// code. No retry happens here or anywhere else; the original caller decides
// whether to try again.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"acorle/codec"
	"acorle/message"
	"acorle/protocol"
)

var (
	// ErrTimeout means the candidate did not answer within the zone's RPC
	// timeout.
	ErrTimeout = errors.New("transport: request timed out")

	// ErrNetwork means the call failed below HTTP: refused connection, DNS
	// failure, reset.
	ErrNetwork = errors.New("transport: network error")

	// ErrBadResponse means the candidate answered with a non-success HTTP
	// status or a body that is not a valid response envelope.
	ErrBadResponse = errors.New("transport: bad upstream response")
)

// Client posts forwarded requests to candidate URLs. One Client is shared by
// all dispatch goroutines; per-call timeouts ride on the request context.
type Client struct {
	http      *http.Client
	codec     codec.Codec
	userAgent string
}

func NewClient(userAgent string) *Client {
	return &Client{
		http:      &http.Client{},
		codec:     codec.Default(),
		userAgent: userAgent,
	}
}

// Send signs data for the zone, wraps it in a forwarded request together
// with the caller's metadata, and posts it to serviceURL. The call is
// bounded by timeoutSeconds.
func (c *Client) Send(ctx context.Context, serviceURL string, data []byte, timeoutSeconds uint,
	zone, secret, key, remoteIP string, remotePort int, headers []protocol.HeaderKV) (*protocol.ResponsePacket, error) {

	outbound := message.NewForwardedRequest(data, zone, secret, key, remoteIP, remotePort, headers)
	body, err := c.codec.Encode(outbound)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serviceURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", protocol.ContentType)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}
	packet, err := protocol.DecodeResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return packet, nil
}

// classify folds transport-level errors into the two classes dispatch
// distinguishes. Context expiry means the zone's timeout fired; everything
// else below HTTP is a network exception.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
