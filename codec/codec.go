// Package codec serializes structured message payloads and the auxiliary
// datamap. Payloads are CBOR: self-describing, deterministic under the
// canonical encoding options, and able to carry every value the protocol
// schemas describe without generated code.
package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrDecode marks a payload that does not match the expected schema. The
// failure is scoped to the one call or signal that carried the payload; it
// never tears down the connection.
var ErrDecode = errors.New("codec: decode error")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: building encode mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		UTF8:             cbor.UTF8RejectInvalid,
		MaxNestedLevels:  32,
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: building decode mode: %v", err))
	}
}

// Encode serializes v into canonical CBOR.
func Encode(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return data, nil
}

// Decode deserializes data into out, which must be a pointer. Any failure
// wraps ErrDecode so dispatch can report a schema mismatch to the caller
// without killing the connection.
func Decode(data []byte, out any) error {
	if err := decMode.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
