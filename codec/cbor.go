// File: codec/cbor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encodes a message as the two-element array [name, payload].
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR builds a CBOR codec with canonical encoding. Maps decode as
// map[any]any and integers as uint64/int64.
func NewCBOR() (*CBOR, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{MaxNestedLevels: 64}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}
	return &CBOR{enc: enc, dec: dec}, nil
}

func (c *CBOR) Name() string { return "cbor" }

func (c *CBOR) EncodeMessage(name string, payload any) ([]byte, error) {
	b, err := c.enc.Marshal([]any{name, payload})
	if err != nil {
		return nil, fmt.Errorf("cbor encode %q: %w", name, err)
	}
	return b, nil
}

func (c *CBOR) DecodeMessage(body []byte) (string, any, error) {
	var parts []cbor.RawMessage
	if err := c.dec.Unmarshal(body, &parts); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(parts) == 0 || len(parts) > 2 {
		return "", nil, fmt.Errorf("%w: want [name, payload], got %d elements", ErrMalformed, len(parts))
	}
	var name string
	if err := c.dec.Unmarshal(parts[0], &name); err != nil || name == "" {
		return "", nil, fmt.Errorf("%w: message name must be a non-empty string", ErrMalformed)
	}
	if len(parts) == 1 {
		return name, nil, nil
	}
	v, err := c.DecodeValue(parts[1])
	if err != nil {
		return "", nil, err
	}
	return name, v, nil
}

func (c *CBOR) EncodeValue(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBOR) DecodeValue(data []byte) (any, error) {
	var v any
	if err := c.dec.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}
