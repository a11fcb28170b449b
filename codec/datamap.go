package codec

import (
	"fmt"
)

// Datamap is an auxiliary untyped key-value payload carried alongside a
// structured message, for data the static schema cannot represent. It holds
// the raw CBOR map so it can be forwarded without re-encoding.
type Datamap []byte

// NewDatamap encodes a string-keyed map. A nil map encodes as an empty map.
func NewDatamap(m map[string]any) (Datamap, error) {
	if m == nil {
		m = map[string]any{}
	}
	raw, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return Datamap(raw), nil
}

// DatamapFromRaw validates that raw holds a CBOR map and wraps it. The
// contents are not otherwise inspected.
func DatamapFromRaw(raw []byte) (Datamap, error) {
	var m map[string]any
	if err := Decode(raw, &m); err != nil {
		return nil, fmt.Errorf("datamap root must be a map: %w", err)
	}
	return Datamap(raw), nil
}

// DatamapFromTyped encodes any struct with string-keyed fields as a datamap.
func DatamapFromTyped(v any) (Datamap, error) {
	raw, err := Encode(v)
	if err != nil {
		return nil, err
	}
	if _, err := DatamapFromRaw(raw); err != nil {
		return nil, err
	}
	return Datamap(raw), nil
}

// Raw returns the underlying CBOR bytes.
func (d Datamap) Raw() []byte {
	return []byte(d)
}

// Map decodes the datamap into a generic string-keyed map.
func (d Datamap) Map() (map[string]any, error) {
	if len(d) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := Decode([]byte(d), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeInto deserializes the datamap into a typed struct.
func (d Datamap) DecodeInto(out any) error {
	return Decode([]byte(d), out)
}
