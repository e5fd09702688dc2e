// Package codec encodes sync messages for the wire. JSON is the default and
// matches what browser windows post; CBOR is a compact alternative for
// Go-only sessions.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"pkt.systems/panelsync/schema"
)

// JSON encodes messages as JSON objects.
type JSON struct{}

// Encode implements core.Codec.
func (JSON) Encode(msg schema.Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode implements core.Codec.
func (JSON) Decode(payload []byte) (schema.Message, error) {
	var msg schema.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return schema.Message{}, fmt.Errorf("%w: %w", schema.ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return schema.Message{}, err
	}
	return msg, nil
}

// CBOR encodes messages with Core Deterministic Encoding.
type CBOR struct{}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	// styles decode into map[string]any so they match the JSON path
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode implements core.Codec.
func (CBOR) Encode(msg schema.Message) ([]byte, error) {
	return encMode.Marshal(msg)
}

// Decode implements core.Codec.
func (CBOR) Decode(payload []byte) (schema.Message, error) {
	var msg schema.Message
	if err := decMode.Unmarshal(payload, &msg); err != nil {
		return schema.Message{}, fmt.Errorf("%w: %w", schema.ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return schema.Message{}, err
	}
	return msg, nil
}

// Named codec identifiers accepted by ByName.
const (
	NameJSON = "json"
	NameCBOR = "cbor"
)

// Codec converts messages to and from channel payloads.
type Codec interface {
	Encode(msg schema.Message) ([]byte, error)
	Decode(payload []byte) (schema.Message, error)
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameJSON:
		return JSON{}, nil
	case NameCBOR:
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", name)
	}
}
