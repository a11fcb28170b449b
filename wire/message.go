// Package wire defines the binary message envelope exchanged between a
// Stardust client and server. Every frame on the socket carries exactly one
// Message: a fixed logical header (kind, call id, target node/aspect/member)
// followed by a schema-encoded payload and an optional untyped datamap.
//
// The body is encoded in protobuf wire format, assembled by hand with
// encoding/protowire so the envelope stays free of generated code and unknown
// fields from newer peers are skipped instead of rejected.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind discriminates the four envelope types. The numbering matches the
// original Stardust wire protocol and must not be reordered.
type Kind uint8

const (
	KindError          Kind = 0
	KindSignal         Kind = 1
	KindMethodCall     Kind = 2
	KindMethodResponse Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindSignal:
		return "signal"
	case KindMethodCall:
		return "method_call"
	case KindMethodResponse:
		return "method_response"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether the kind is one of the four known envelope types.
func (k Kind) Valid() bool {
	return k <= KindMethodResponse
}

// Field numbers of the envelope. Stable wire contract; append only.
const (
	fieldKind    protowire.Number = 1
	fieldCallID  protowire.Number = 2
	fieldNodeID  protowire.Number = 3
	fieldAspect  protowire.Number = 4
	fieldMember  protowire.Number = 5
	fieldError   protowire.Number = 6
	fieldPayload protowire.Number = 7
	fieldDatamap protowire.Number = 8
)

// Message is one decoded envelope.
//
// CallID is zero for signals. NodeID/AspectID/MemberID address the target for
// signals and method calls; responses and errors carry them back for tracing
// only. Datamap, when present, is an auxiliary untyped key-value payload for
// data the static schema cannot represent.
type Message struct {
	Kind     Kind
	CallID   uint64
	NodeID   uint64
	AspectID uint64
	MemberID uint64
	ErrorMsg string
	Payload  []byte
	Datamap  []byte
}

// NewSignal builds a one-way signal envelope.
func NewSignal(nodeID, aspectID, memberID uint64, payload, datamap []byte) *Message {
	return &Message{
		Kind:     KindSignal,
		NodeID:   nodeID,
		AspectID: aspectID,
		MemberID: memberID,
		Payload:  payload,
		Datamap:  datamap,
	}
}

// NewMethodCall builds a request envelope correlated by callID.
func NewMethodCall(callID, nodeID, aspectID, memberID uint64, payload, datamap []byte) *Message {
	return &Message{
		Kind:     KindMethodCall,
		CallID:   callID,
		NodeID:   nodeID,
		AspectID: aspectID,
		MemberID: memberID,
		Payload:  payload,
		Datamap:  datamap,
	}
}

// NewMethodResponse builds the successful response to a method call.
func NewMethodResponse(callID, nodeID, aspectID, memberID uint64, payload, datamap []byte) *Message {
	return &Message{
		Kind:     KindMethodResponse,
		CallID:   callID,
		NodeID:   nodeID,
		AspectID: aspectID,
		MemberID: memberID,
		Payload:  payload,
		Datamap:  datamap,
	}
}

// NewError builds the failure response to a method call.
func NewError(callID, nodeID, aspectID, memberID uint64, errMsg string) *Message {
	return &Message{
		Kind:     KindError,
		CallID:   callID,
		NodeID:   nodeID,
		AspectID: aspectID,
		MemberID: memberID,
		ErrorMsg: errMsg,
	}
}

// Marshal encodes the envelope body. The transport layer adds the outer
// length prefix.
func (m *Message) Marshal() []byte {
	b := make([]byte, 0, 64+len(m.Payload)+len(m.Datamap))
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind))
	if m.CallID != 0 {
		b = protowire.AppendTag(b, fieldCallID, protowire.VarintType)
		b = protowire.AppendVarint(b, m.CallID)
	}
	if m.NodeID != 0 {
		b = protowire.AppendTag(b, fieldNodeID, protowire.VarintType)
		b = protowire.AppendVarint(b, m.NodeID)
	}
	if m.AspectID != 0 {
		b = protowire.AppendTag(b, fieldAspect, protowire.VarintType)
		b = protowire.AppendVarint(b, m.AspectID)
	}
	if m.MemberID != 0 {
		b = protowire.AppendTag(b, fieldMember, protowire.VarintType)
		b = protowire.AppendVarint(b, m.MemberID)
	}
	if m.ErrorMsg != "" {
		b = protowire.AppendTag(b, fieldError, protowire.BytesType)
		b = protowire.AppendString(b, m.ErrorMsg)
	}
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	if len(m.Datamap) > 0 {
		b = protowire.AppendTag(b, fieldDatamap, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Datamap)
	}
	return b
}

// Unmarshal decodes one envelope body. A malformed body means the peer can no
// longer be trusted; callers treat the error as connection-fatal.
func Unmarshal(data []byte) (*Message, error) {
	m := &Message{}
	sawKind := false
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: malformed tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType && num == fieldKind:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: malformed kind: %w", protowire.ParseError(n))
			}
			m.Kind = Kind(v)
			sawKind = true
			data = data[n:]
		case typ == protowire.VarintType && num >= fieldCallID && num <= fieldMember:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: malformed field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case fieldCallID:
				m.CallID = v
			case fieldNodeID:
				m.NodeID = v
			case fieldAspect:
				m.AspectID = v
			case fieldMember:
				m.MemberID = v
			}
			data = data[n:]
		case typ == protowire.BytesType && num == fieldError:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: malformed error field: %w", protowire.ParseError(n))
			}
			m.ErrorMsg = v
			data = data[n:]
		case typ == protowire.BytesType && num == fieldPayload:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: malformed payload: %w", protowire.ParseError(n))
			}
			m.Payload = append([]byte(nil), v...)
			data = data[n:]
		case typ == protowire.BytesType && num == fieldDatamap:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: malformed datamap: %w", protowire.ParseError(n))
			}
			m.Datamap = append([]byte(nil), v...)
			data = data[n:]
		default:
			// Unknown field from a newer peer; skip it.
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("wire: malformed field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if !sawKind {
		return nil, fmt.Errorf("wire: envelope missing kind")
	}
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("wire: envelope kind %d out of bounds", uint8(m.Kind))
	}
	return m, nil
}
