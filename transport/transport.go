// Package transport turns one duplex byte-stream connection into a sequence
// of discrete binary frames. It owns nothing above the frame boundary: the
// envelope inside each frame belongs to the wire package and the routing of
// envelopes to the messenger.
package transport

import (
	"errors"
)

// DefaultMaxFrameSize bounds a single frame body. A length prefix above the
// limit is a protocol violation: byte alignment can no longer be trusted, so
// the connection must be torn down.
const DefaultMaxFrameSize = 16 << 20

var (
	// ErrClosed is returned by Send and Receive after Close, without
	// attempting any I/O.
	ErrClosed = errors.New("transport: closed")

	// ErrFrameTooLarge is returned when a peer announces a frame larger
	// than the configured limit. Connection-fatal.
	ErrFrameTooLarge = errors.New("transport: frame exceeds size limit")
)

// Transport carries whole frames over one established duplex connection.
//
// Send is safe for concurrent use and writes each frame atomically: one
// frame's bytes are never interleaved with another's. Receive is
// single-consumer; the messenger's read loop is the only caller. Receive
// returns io.EOF on clean peer close at a frame boundary and
// io.ErrUnexpectedEOF when the stream dies mid-frame.
type Transport interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	Close() error
}
