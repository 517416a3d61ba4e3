package protocol

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Proto encodes envelopes as binary frames holding a google.protobuf.Struct
// with "type" and "data" fields.
var Proto Codec = protoCodec{}

type protoCodec struct{}

func (protoCodec) Name() string { return "proto" }

func (protoCodec) Binary() bool { return true }

func (protoCodec) Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, ErrMissingType
	}
	generic, err := toGeneric(env.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	data, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		"type": structpb.NewStringValue(env.Type),
		"data": structpb.NewStructValue(data),
	}}
	out, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return out, nil
}

func (protoCodec) Decode(data []byte) (Envelope, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}

	var w wireEnvelope
	if tv, ok := msg.Fields["type"]; ok {
		s, ok := tv.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return Envelope{}, fmt.Errorf("failed to decode envelope: type is %T", tv.GetKind())
		}
		w.Type = &s.StringValue
	}
	if dv, ok := msg.Fields["data"]; ok {
		switch kind := dv.GetKind().(type) {
		case *structpb.Value_StructValue:
			w.Data = kind.StructValue.AsMap()
		case *structpb.Value_NullValue:
		default:
			return Envelope{}, fmt.Errorf("failed to decode envelope: data is %T", kind)
		}
	}
	return w.envelope()
}
