// Package protocol implements the binary envelope that wraps every request
// and response crossing an Acorle gateway surface.
//
// Both frames start with a fixed 3-byte magic marker so the gateway can
// cheaply reject traffic that was never meant for it (scanners, misrouted
// HTTP clients) before any business logic runs.
//
// Request frame:
//
//	0      3    4        6          6+z        10+z
//	┌──────┬────┬────────┬──────────┬──────────┬───────────────┐
//	│magic │act │ zoneLen│   zone   │ dataLen  │    data ...    │
//	│3 byte│ 1  │ uint16 │ zoneLen  │ uint32   │ dataLen bytes  │
//	└──────┴────┴────────┴──────────┴──────────┴───────────────┘
//
// Response frame:
//
//	0      3    4        6          6+h        10+h
//	┌──────┬────┬────────┬──────────┬──────────┬───────────────┐
//	│magic │code│ hdrLen │ headers  │ dataLen  │    data ...    │
//	│3 byte│ 1  │ uint16 │ JSON     │ uint32   │ dataLen bytes  │
//	└──────┴────┴────────┴──────────┴──────────┴───────────────┘
//
// The headers block is present only on forwarded service responses, where a
// candidate wants to smuggle HTTP headers back to the end user; control
// plane replies encode it as zero-length.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
)

// Magic marker bytes. A frame that does not open with these three bytes is
// not an Acorle frame.
const (
	MagicByte0 byte = 0xAC
	MagicByte1 byte = 0x02
	MagicByte2 byte = 0x1E
)

// ContentType is the media type of framed envelopes on the wire.
const ContentType = "application/x-acorle"

var (
	ErrBadMagic   = errors.New("protocol: invalid magic marker")
	ErrShortFrame = errors.New("protocol: truncated frame")
)

// RequestPacket is the outer envelope of an inbound request: which zone it
// targets, which action it asks for, and the opaque action payload.
type RequestPacket struct {
	Action Action
	Zone   string
	Data   []byte
}

// ResponsePacket is the outer envelope of every reply the gateway produces.
type ResponsePacket struct {
	Code    Code
	Headers []HeaderKV
	Data    []byte
}

// HeaderKV carries one HTTP header (possibly multi-valued) across the
// protocol boundary.
type HeaderKV struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// EncodeRequest serializes a request packet into a frame.
func EncodeRequest(p *RequestPacket) []byte {
	buf := make([]byte, 3+1+2+len(p.Zone)+4+len(p.Data))
	buf[0], buf[1], buf[2] = MagicByte0, MagicByte1, MagicByte2
	buf[3] = byte(p.Action)
	offset := 4
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(p.Zone)))
	offset += 2
	copy(buf[offset:], p.Zone)
	offset += len(p.Zone)
	binary.BigEndian.PutUint32(buf[offset:], uint32(len(p.Data)))
	offset += 4
	copy(buf[offset:], p.Data)
	return buf
}

// DecodeRequest parses a frame into a request packet. It validates only the
// shape of the frame; use ValidateRequest for the semantic checks.
func DecodeRequest(data []byte) (*RequestPacket, error) {
	if len(data) < 10 {
		return nil, ErrShortFrame
	}
	if data[0] != MagicByte0 || data[1] != MagicByte1 || data[2] != MagicByte2 {
		return nil, ErrBadMagic
	}
	p := &RequestPacket{Action: Action(data[3])}
	offset := 4
	zoneLen := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2
	if len(data) < offset+zoneLen+4 {
		return nil, ErrShortFrame
	}
	p.Zone = string(data[offset : offset+zoneLen])
	offset += zoneLen
	dataLen := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if len(data) < offset+dataLen {
		return nil, ErrShortFrame
	}
	p.Data = data[offset : offset+dataLen]
	return p, nil
}

// EncodeResponse serializes a response packet into a frame.
func EncodeResponse(p *ResponsePacket) []byte {
	var headers []byte
	if len(p.Headers) != 0 {
		headers, _ = json.Marshal(p.Headers)
	}
	buf := make([]byte, 3+1+2+len(headers)+4+len(p.Data))
	buf[0], buf[1], buf[2] = MagicByte0, MagicByte1, MagicByte2
	buf[3] = byte(p.Code)
	offset := 4
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(headers)))
	offset += 2
	copy(buf[offset:], headers)
	offset += len(headers)
	binary.BigEndian.PutUint32(buf[offset:], uint32(len(p.Data)))
	offset += 4
	copy(buf[offset:], p.Data)
	return buf
}

// DecodeResponse parses a frame into a response packet.
func DecodeResponse(data []byte) (*ResponsePacket, error) {
	if len(data) < 10 {
		return nil, ErrShortFrame
	}
	if data[0] != MagicByte0 || data[1] != MagicByte1 || data[2] != MagicByte2 {
		return nil, ErrBadMagic
	}
	p := &ResponsePacket{Code: Code(data[3])}
	offset := 4
	hdrLen := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2
	if len(data) < offset+hdrLen+4 {
		return nil, ErrShortFrame
	}
	if hdrLen != 0 {
		if err := json.Unmarshal(data[offset:offset+hdrLen], &p.Headers); err != nil {
			return nil, ErrShortFrame
		}
	}
	offset += hdrLen
	dataLen := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if len(data) < offset+dataLen {
		return nil, ErrShortFrame
	}
	p.Data = data[offset : offset+dataLen]
	return p, nil
}

// ValidateRequest reports whether a decoded request packet is usable: it
// must name a zone and carry a payload. Rejections here are deliberately not
// logged anywhere; malformed traffic must not be able to flood the logs.
func ValidateRequest(p *RequestPacket) bool {
	return p != nil && p.Zone != "" && len(p.Data) != 0
}

// NewResponse builds a response packet with the given code and optional
// payload.
func NewResponse(code Code, data []byte) *ResponsePacket {
	return &ResponsePacket{Code: code, Data: data}
}
