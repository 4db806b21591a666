// Package client is the child-node SDK: it registers services with a
// gateway, keeps the registrations alive, and performs control-plane and
// data-plane calls on the node's behalf.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"acorle/codec"
	"acorle/message"
	"acorle/protocol"
)

// RpcError is a gateway reply whose envelope code was not ok.
type RpcError struct {
	Code protocol.Code
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("client: gateway answered %d (%s)", e.Code, e.Code.Description())
}

type Options struct {
	// Endpoint is the gateway base URL, e.g. "http://gateway:7000".
	Endpoint string

	// Zone and Secret authenticate every control-plane call.
	Zone   string
	Secret string

	// RenewInterval is how often Run re-registers the tracked services.
	// It should be shorter than the zone's registration interval so a
	// missed tick does not expire the node.
	RenewInterval time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to one gateway for one zone. All methods are safe for
// concurrent use.
type Client struct {
	endpoint string
	zone     string
	secret   string
	renew    time.Duration
	http     *http.Client
	codec    codec.Codec
	logger   *zap.Logger

	mu       sync.Mutex
	services []message.ServiceEntry
}

func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RenewInterval <= 0 {
		opts.RenewInterval = 15 * time.Second
	}
	return &Client{
		endpoint: opts.Endpoint,
		zone:     opts.Zone,
		secret:   opts.Secret,
		renew:    opts.RenewInterval,
		http:     opts.HTTPClient,
		codec:    codec.Default(),
		logger:   opts.Logger,
	}
}

// Register registers the given services and remembers them so Run can keep
// renewing them. Calling it again replaces the tracked set.
func (c *Client) Register(ctx context.Context, services ...message.ServiceEntry) error {
	if err := c.rpc(ctx, protocol.ActionRpcRegister, &message.RegisterRequest{Services: services}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.services = append([]message.ServiceEntry{}, services...)
	c.mu.Unlock()
	return nil
}

// Run renews the tracked registrations until ctx is cancelled. Renewal
// failures are logged and retried on the next tick; the gateway keeps the
// last successful registration alive until its interval lapses.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.renew)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			services := append([]message.ServiceEntry{}, c.services...)
			c.mu.Unlock()
			if len(services) == 0 {
				continue
			}
			if err := c.rpc(ctx, protocol.ActionRpcRegister, &message.RegisterRequest{Services: services}, nil); err != nil {
				c.logger.Warn("renewing registration", zap.Error(err))
			}
		}
	}
}

// Destroy removes registrations from the gateway and stops renewing them.
func (c *Client) Destroy(ctx context.Context, entries ...message.DestroyEntry) error {
	if err := c.rpc(ctx, protocol.ActionRpcDestroy, &message.DestroyRequest{Services: entries}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	kept := c.services[:0]
	for _, svc := range c.services {
		removed := false
		for _, entry := range entries {
			if entry.Key == svc.Key && entry.Url == svc.Url {
				removed = true
				break
			}
		}
		if !removed {
			kept = append(kept, svc)
		}
	}
	c.services = kept
	c.mu.Unlock()
	return nil
}

// List returns every candidate registered in the zone.
func (c *Client) List(ctx context.Context) ([]message.ServiceInfo, error) {
	var list message.ServiceList
	if err := c.rpc(ctx, protocol.ActionRpcList, nil, &list); err != nil {
		return nil, err
	}
	return list.Services, nil
}

// Get returns the candidates registered under one service key.
func (c *Client) Get(ctx context.Context, key string) ([]message.ServiceInfo, error) {
	var list message.ServiceList
	if err := c.rpc(ctx, protocol.ActionRpcGet, &message.GetServiceRequest{Key: key}, &list); err != nil {
		return nil, err
	}
	return list.Services, nil
}

// ResolveURL asks the gateway's load balancer for one live candidate URL,
// for calling a sibling directly instead of proxying through the gateway.
func (c *Client) ResolveURL(ctx context.Context, key string) (string, error) {
	packet, err := c.roundTrip(ctx, "/rpc", c.signedPacket(protocol.ActionRpcCall, &message.CallServiceRequest{Key: key}))
	if err != nil {
		return "", err
	}
	if packet.Code != protocol.CodeOk {
		return "", &RpcError{Code: packet.Code}
	}
	return string(packet.Data), nil
}

// GetConfig fetches a configuration blob. Passing the hash of a cached copy
// lets the gateway answer with an empty body when nothing changed; the
// second return value reports whether the reply carries new content.
func (c *Client) GetConfig(ctx context.Context, key, cachedHash string) (*message.ConfigReply, bool, error) {
	packet, err := c.roundTrip(ctx, "/rpc", c.signedPacket(protocol.ActionRpcConfigGet, &message.GetConfigRequest{Key: key, Hash: cachedHash}))
	if err != nil {
		return nil, false, err
	}
	if packet.Code != protocol.CodeOk {
		return nil, false, &RpcError{Code: packet.Code}
	}
	if len(packet.Data) == 0 {
		return nil, false, nil
	}
	var reply message.ConfigReply
	if err := c.codec.Decode(packet.Data, &reply); err != nil {
		return nil, false, err
	}
	return &reply, true, nil
}

// SetConfig stores a configuration blob. An empty value deletes it.
func (c *Client) SetConfig(ctx context.Context, key, value string) error {
	return c.rpc(ctx, protocol.ActionRpcConfigSet, &message.SetConfigRequest{Key: key, Context: value}, nil)
}

// Call invokes a service through the gateway's data plane and returns the
// upstream response envelope.
func (c *Client) Call(ctx context.Context, key string, data []byte) (*protocol.ResponsePacket, error) {
	body, err := c.codec.Encode(&message.ServiceRequest{Key: key, Data: data})
	if err != nil {
		return nil, err
	}
	packet, err := c.roundTrip(ctx, "/", &protocol.RequestPacket{
		Action: protocol.ActionSvcRequest,
		Zone:   c.zone,
		Data:   body,
	})
	if err != nil {
		return nil, err
	}
	if packet.Code != protocol.CodeOk {
		return nil, &RpcError{Code: packet.Code}
	}
	return packet, nil
}

// rpc runs one signed control-plane action and decodes the reply body into
// out when out is non-nil.
func (c *Client) rpc(ctx context.Context, action protocol.Action, payload, out any) error {
	packet, err := c.roundTrip(ctx, "/rpc", c.signedPacket(action, payload))
	if err != nil {
		return err
	}
	if packet.Code != protocol.CodeOk {
		return &RpcError{Code: packet.Code}
	}
	if out != nil {
		return c.codec.Decode(packet.Data, out)
	}
	return nil
}

// signedPacket wraps an action payload in the signed sub-envelope. Encoding
// failures surface later as a decode error on the gateway; the payload types
// here cannot fail to marshal.
func (c *Client) signedPacket(action protocol.Action, payload any) *protocol.RequestPacket {
	var data []byte
	if payload != nil {
		data, _ = c.codec.Encode(payload)
	}
	timestamp := protocol.NowMillis()
	body, _ := c.codec.Encode(&message.RpcRequest{
		Signature: protocol.Signature(c.zone, c.secret, timestamp),
		Timestamp: timestamp,
		Data:      data,
	})
	return &protocol.RequestPacket{Action: action, Zone: c.zone, Data: body}
}

func (c *Client) roundTrip(ctx context.Context, path string, packet *protocol.RequestPacket) (*protocol.ResponsePacket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(protocol.EncodeRequest(packet)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", protocol.ContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: reading response: %w", err)
	}
	reply, err := protocol.DecodeResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("client: decoding response: %w", err)
	}
	return reply, nil
}
