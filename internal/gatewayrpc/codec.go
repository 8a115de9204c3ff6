// ABOUTME: JSON codec for gRPC registered under the "json" content-subtype
// ABOUTME: Uses protojson for protobuf messages and encoding/json for plain structs

package gatewayrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Codec is the content-subtype clients must request.
const Codec = "json"

type jsonCodec struct{}

func (jsonCodec) Name() string { return Codec }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if pm, ok := v.(proto.Message); ok {
		return protojson.Marshal(pm)
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if pm, ok := v.(proto.Message); ok {
		return protojson.Unmarshal(data, pm)
	}
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
