// Package codec serializes the inner payload structs defined in package
// message. The interface exists so the payload encoding can evolve without
// touching the envelope framing in package protocol.
package codec

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
}

// Default is the codec used by the gateway and the child SDK.
func Default() Codec {
	return &JSONCodec{}
}
