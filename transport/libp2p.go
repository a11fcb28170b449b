package transport

import (
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
)

// ProtocolID identifies Stardust message streams when peers connect over
// libp2p instead of a local socket.
const ProtocolID protocol.ID = "/stardust-xr/message/0.1.0"

// Libp2pTransport frames a libp2p stream. A libp2p stream is a duplex byte
// stream, so framing is identical to StreamTransport; the adapter adds
// stream reset on teardown so the peer sees the failure promptly instead of
// a silent half-close.
type Libp2pTransport struct {
	*StreamTransport
	stream network.Stream
}

// NewLibp2p wraps an open libp2p stream negotiated on ProtocolID.
func NewLibp2p(s network.Stream, maxFrameSize int) *Libp2pTransport {
	return &Libp2pTransport{
		StreamTransport: NewStream(s, maxFrameSize),
		stream:          s,
	}
}

// RemoteAddr reports the peer's multiaddr for logging and diagnostics.
func (t *Libp2pTransport) RemoteAddr() ma.Multiaddr {
	return t.stream.Conn().RemoteMultiaddr()
}

// Close resets the stream: pending reads and writes on both sides fail
// immediately rather than waiting out a half-closed stream.
func (t *Libp2pTransport) Close() error {
	err := t.StreamTransport.Close()
	t.stream.Reset()
	return err
}
