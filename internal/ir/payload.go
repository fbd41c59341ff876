package ir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
)

// Payload is the opaque field set carried by CREATE and UPDATE actions.
//
// Numbers are kept as json.Number so integers wider than 2^53 and exact
// decimals survive storage round-trips unchanged.
type Payload map[string]any

// ParsePayload decodes a JSON object. null, arrays and scalars are rejected,
// as is trailing data after the object.
func ParsePayload(data []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("payload is empty")
	}
	if trimmed[0] != '{' {
		return nil, errors.New("payload must be a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if dec.More() {
		return nil, errors.New("payload has trailing data")
	}
	if m == nil {
		m = map[string]any{}
	}
	return Payload(m), nil
}

// UnmarshalJSON decodes with UseNumber so stored payloads keep number fidelity.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if strings.TrimSpace(string(data)) == "null" {
		*p = nil
		return nil
	}
	parsed, err := ParsePayload(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Clone returns a shallow copy. Nested maps and slices are shared.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Merge returns a copy of p with every key of patch applied on top.
func (p Payload) Merge(patch Payload) Payload {
	out := make(Payload, len(p)+len(patch))
	maps.Copy(out, p)
	maps.Copy(out, patch)
	return out
}

// String returns the field value when key holds a string.
func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}
