// Package codec
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Payload codecs for frame bodies and async results. The engine core never
// looks inside a body; only the script bridge decodes it.

package codec

import (
	"errors"
	"fmt"
)

// ErrMalformed reports a body that does not match the codec layout.
var ErrMalformed = errors.New("malformed payload")

// Codec encodes and decodes message bodies and plain values.
type Codec interface {
	// Name identifies the codec in configuration.
	Name() string
	// EncodeMessage builds a frame body for a named message.
	EncodeMessage(name string, payload any) ([]byte, error)
	// DecodeMessage splits a frame body into message name and payload.
	DecodeMessage(body []byte) (string, any, error)
	// EncodeValue serializes a standalone value.
	EncodeValue(v any) ([]byte, error)
	// DecodeValue parses a standalone value.
	DecodeValue(data []byte) (any, error)
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "cbor":
		return NewCBOR()
	default:
		return nil, fmt.Errorf("codec %q: unknown", name)
	}
}
