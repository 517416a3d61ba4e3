package protocol

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encodes envelopes as binary frames using Core Deterministic Encoding.
var CBOR Codec = cborCodec{}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Binary() bool { return true }

func (cborCodec) Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, ErrMissingType
	}
	data, err := toGeneric(env.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	typ := env.Type
	out, err := cborEnc.Marshal(wireEnvelope{Type: &typ, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return out, nil
}

func (cborCodec) Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := cborDec.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return w.envelope()
}
