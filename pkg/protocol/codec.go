package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Codec converts envelopes to and from wire frames.
type Codec interface {
	// Name identifies the codec in configuration.
	Name() string

	// Binary reports whether frames go out as binary rather than text messages.
	Binary() bool

	// Encode serializes an envelope into a single frame.
	Encode(env Envelope) ([]byte, error)

	// Decode parses a single frame. Malformed frames return an error and
	// never a partially filled envelope.
	Decode(data []byte) (Envelope, error)
}

// JSON is the default codec: one text frame holding {"type", "data"}.
var JSON Codec = jsonCodec{}

// LookupCodec resolves a codec by its configured name.
func LookupCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, nil
	case "proto", "protobuf":
		return Proto, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type wireEnvelope struct {
	Type *string        `json:"type" cbor:"type"`
	Data map[string]any `json:"data" cbor:"data"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, ErrMissingType
	}
	typ := env.Type
	data, err := json.Marshal(wireEnvelope{Type: &typ, Data: env.dataOrEmpty()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if dec.More() {
		return Envelope{}, errors.New("failed to decode envelope: trailing data after object")
	}
	return w.envelope()
}

func (w wireEnvelope) envelope() (Envelope, error) {
	if w.Type == nil || *w.Type == "" {
		return Envelope{}, ErrMissingType
	}
	data := w.Data
	if data == nil {
		data = map[string]any{}
	}
	normalize(data)
	return Envelope{Type: *w.Type, Data: data}, nil
}

// toGeneric reduces arbitrary payload values (structs, typed slices) to the
// JSON data model so binary codecs only ever see maps, slices and scalars.
func toGeneric(data map[string]any) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	normalize(out)
	return out, nil
}

// normalize rewrites decoded numbers in place: integral values become int64,
// everything else float64.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	default:
		return v
	}
}
