package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/libp2p/go-msgio"
)

// StreamTransport frames an io.ReadWriteCloser (unix or tcp socket,
// net.Pipe, libp2p stream) with a 4-byte big-endian length prefix via
// go-msgio. Partial reads and writes loop to completion inside msgio.
type StreamTransport struct {
	rwc    io.ReadWriteCloser
	reader msgio.ReadCloser
	writer msgio.WriteCloser

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewStream wraps an established duplex byte stream. maxFrameSize <= 0 uses
// DefaultMaxFrameSize.
func NewStream(rwc io.ReadWriteCloser, maxFrameSize int) *StreamTransport {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &StreamTransport{
		rwc:    rwc,
		reader: msgio.NewReaderSize(rwc, maxFrameSize),
		writer: msgio.NewWriter(rwc),
	}
}

// Send writes one length-prefixed frame. The mutex serializes writers so
// frames are never interleaved; cross-sender ordering is acceptance order.
func (t *StreamTransport) Send(frame []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed.Load() {
		return ErrClosed
	}
	if err := t.writer.WriteMsg(frame); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

// Receive reads the next frame. A 0-byte read mid-frame surfaces as
// io.ErrUnexpectedEOF; clean close at a frame boundary is io.EOF.
func (t *StreamTransport) Receive() ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	msg, err := t.reader.ReadMsg()
	if err != nil {
		if t.closed.Load() {
			return nil, ErrClosed
		}
		if errors.Is(err, msgio.ErrMsgTooLarge) {
			return nil, ErrFrameTooLarge
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return nil, fmt.Errorf("transport: read frame: %w", err)
	}
	// msgio reuses its buffers; hand the caller a stable copy.
	frame := append([]byte(nil), msg...)
	t.reader.ReleaseMsg(msg)
	return frame, nil
}

// Close shuts down the underlying stream. Idempotent.
func (t *StreamTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.rwc.Close()
}
