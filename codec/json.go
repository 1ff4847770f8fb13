// File: codec/json.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON encodes a message as {"name": ..., "payload": ...}.
type JSON struct{}

type jsonMessage struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (JSON) Name() string { return "json" }

func (JSON) EncodeMessage(name string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json encode %q: %w", name, err)
	}
	return json.Marshal(jsonMessage{Name: name, Payload: raw})
}

func (JSON) DecodeMessage(body []byte) (string, any, error) {
	var msg jsonMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Name == "" {
		return "", nil, fmt.Errorf("%w: missing message name", ErrMalformed)
	}
	if len(msg.Payload) == 0 {
		return msg.Name, nil, nil
	}
	v, err := decodeJSON(msg.Payload)
	if err != nil {
		return "", nil, err
	}
	return msg.Name, v, nil
}

func (JSON) EncodeValue(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) DecodeValue(data []byte) (any, error) {
	return decodeJSON(data)
}

// decodeJSON keeps integers exact by decoding numbers as json.Number.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}
