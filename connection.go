// Package core is the communication substrate shared by Stardust clients and
// servers: one Connection per duplex stream, holding the connection-scoped
// node registry, aspect dispatcher, and messenger. Generated protocol stubs
// sit on top of this package; nothing here knows about any specific aspect.
package core

import (
	"io"
	"log/slog"

	"github.com/StardustXR/core/messenger"
	"github.com/StardustXR/core/scenegraph"
	"github.com/StardustXR/core/transport"
)

type config struct {
	logger          *slog.Logger
	maxFrameSize    int
	writeQueueDepth int
}

// Option tunes a Connection at construction time.
type Option func(*config)

// WithLogger routes message traces and teardown causes to the given logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMaxFrameSize bounds a single frame body for stream transports built by
// NewStreamConnection.
func WithMaxFrameSize(n int) Option {
	return func(c *config) { c.maxFrameSize = n }
}

// WithWriteQueueDepth bounds the outbound frame queue.
func WithWriteQueueDepth(n int) Option {
	return func(c *config) { c.writeQueueDepth = n }
}

// Connection owns one transport, one registry, one dispatcher, and one
// messenger. It is created once the stream is established and torn down with
// it; reconnection means a new Connection. No state is shared between
// Connections, so a server holds one per client.
type Connection struct {
	transport transport.Transport
	registry  *scenegraph.Registry
	dispatch  *scenegraph.Dispatch
	messenger *messenger.Messenger
}

// NewConnection builds a Connection over an established transport. Register
// aspect handlers on Scenegraph(), then call Start to begin processing
// frames.
func NewConnection(t transport.Transport, opts ...Option) *Connection {
	cfg := config{
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		writeQueueDepth: messenger.DefaultConfig().WriteQueueDepth,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	registry := scenegraph.NewRegistry()
	dispatch := scenegraph.NewDispatch()
	msgr := messenger.New(t, registry, dispatch, messenger.Config{
		Logger:          cfg.logger,
		WriteQueueDepth: cfg.writeQueueDepth,
	})
	return &Connection{
		transport: t,
		registry:  registry,
		dispatch:  dispatch,
		messenger: msgr,
	}
}

// NewStreamConnection frames rwc (unix or tcp socket, pipe) with the
// standard length-prefix discipline and builds a Connection over it.
func NewStreamConnection(rwc io.ReadWriteCloser, opts ...Option) *Connection {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewConnection(transport.NewStream(rwc, cfg.maxFrameSize), opts...)
}

// Start launches the read and write loops. Handler registration must be
// complete; inbound frames can arrive immediately.
func (c *Connection) Start() {
	c.messenger.Start()
}

// Registry returns the connection-scoped node registry.
func (c *Connection) Registry() *scenegraph.Registry {
	return c.registry
}

// Scenegraph returns the aspect dispatcher for handler registration.
func (c *Connection) Scenegraph() *scenegraph.Dispatch {
	return c.dispatch
}

// Messenger returns the messenger for issuing calls and signals.
func (c *Connection) Messenger() *messenger.Messenger {
	return c.messenger
}

// Close tears the connection down: the transport closes and every pending
// call resolves with messenger.ErrDisconnected. Idempotent.
func (c *Connection) Close() error {
	return c.messenger.Close()
}

// Done is closed once the connection has torn down, whether from Close, peer
// close, or a fatal transport error.
func (c *Connection) Done() <-chan struct{} {
	return c.messenger.Done()
}

// Err returns the teardown cause, nil for a deliberate or clean close.
func (c *Connection) Err() error {
	return c.messenger.Err()
}
