// Package codec (de)serializes structured message payloads. Channels carry
// opaque bytes; user code picks a codec to put structure inside them.
package codec

import (
	"fmt"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec converts between a structured payload and message bytes.
type Codec interface {
	Name() string
	Marshal(v map[string]any) ([]byte, error)
	Unmarshal(data []byte) (map[string]any, error)
}

// Proto encodes payloads as a protobuf google.protobuf.Struct.
type Proto struct{}

func (Proto) Name() string { return "proto" }

func (Proto) Marshal(v map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(v)
	if err != nil {
		return nil, fmt.Errorf("proto codec: %w", err)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(s)
}

func (Proto) Unmarshal(data []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("proto codec: %w", err)
	}
	return s.AsMap(), nil
}

// JSON encodes payloads as JSON.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Marshal(v map[string]any) ([]byte, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec: %w", err)
	}
	return data, nil
}

func (JSON) Unmarshal(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("json codec: %w", err)
	}
	return out, nil
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "proto":
		return Proto{}, true
	case "json":
		return JSON{}, true
	default:
		return nil, false
	}
}
