package handler

import (
	"encoding/json"
)

// CodecName is the gRPC content subtype carried by billing calls.
const CodecName = "json"

// JSONCodec lets the billing service speak gRPC with plain Go structs
// instead of generated protobuf messages.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string {
	return CodecName
}
