package codec

import (
	"encoding/json"
)

// JSONCodec uses encoding/json. Human-readable and cross-language, which
// matters because child nodes are written in several languages.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Name() string {
	return "json"
}
