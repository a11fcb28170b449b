// Package messenger drives one connection's message flow: it assigns call
// ids, owns the in-flight call table, pumps inbound frames to the scenegraph
// dispatcher, and resolves pending calls when responses arrive.
//
// Concurrency contract: frames are read on a single ordered path and signals
// are dispatched inline, so inbound signal order matches arrival order.
// Inbound method handlers run on their own goroutine so a slow or re-entrant
// handler, including one that calls back to the peer, can never stall frame
// ingestion. All writes funnel through one pump; frames go out in acceptance
// order.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/StardustXR/core/scenegraph"
	"github.com/StardustXR/core/transport"
	"github.com/StardustXR/core/wire"
)

// Config tunes one messenger.
type Config struct {
	// Logger receives message traces at debug level and teardown causes at
	// warn. nil discards everything.
	Logger *slog.Logger

	// WriteQueueDepth bounds the outbound frame queue. Senders block once
	// the queue fills.
	WriteQueueDepth int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		WriteQueueDepth: 256,
	}
}

// Stats is a snapshot of messenger counters.
type Stats struct {
	CallsSent        uint64
	SignalsSent      uint64
	CallsServed      uint64
	SignalsReceived  uint64
	DroppedResponses uint64
	UnknownNode      uint64
}

type callResult struct {
	payload []byte
	datamap []byte
	err     error
}

// Messenger is the symmetric message engine for one connection; client and
// server run the same code. It is torn down with the connection and never
// restartable.
type Messenger struct {
	transport transport.Transport
	registry  *scenegraph.Registry
	dispatch  *scenegraph.Dispatch
	log       *slog.Logger

	nextCallID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan callResult
	closed  bool
	cause   error

	writeCh chan *wire.Message
	done    chan struct{}

	handlerCtx    context.Context
	handlerCancel context.CancelFunc

	started  atomic.Bool
	teardown sync.Once

	callsSent        atomic.Uint64
	signalsSent      atomic.Uint64
	callsServed      atomic.Uint64
	signalsReceived  atomic.Uint64
	droppedResponses atomic.Uint64
	unknownNode      atomic.Uint64
}

// New wires a messenger to its connection-scoped registry and dispatcher.
// Call Start once handlers are registered.
func New(t transport.Transport, registry *scenegraph.Registry, dispatch *scenegraph.Dispatch, cfg Config) *Messenger {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.WriteQueueDepth <= 0 {
		cfg.WriteQueueDepth = DefaultConfig().WriteQueueDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Messenger{
		transport:     t,
		registry:      registry,
		dispatch:      dispatch,
		log:           cfg.Logger,
		pending:       make(map[uint64]chan callResult),
		writeCh:       make(chan *wire.Message, cfg.WriteQueueDepth),
		done:          make(chan struct{}),
		handlerCtx:    ctx,
		handlerCancel: cancel,
	}
}

// Start launches the read loop and write pump. Handler registration must be
// complete before Start; frames can arrive immediately after.
func (m *Messenger) Start() {
	if m.started.Swap(true) {
		return
	}
	go m.writePump()
	go m.readLoop()
}

// Done is closed when the messenger has torn down.
func (m *Messenger) Done() <-chan struct{} {
	return m.done
}

// Err returns the teardown cause: nil for a local Close or clean peer close,
// otherwise the fatal transport or protocol error.
func (m *Messenger) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}

// Close tears the messenger down. Every outstanding call resolves with
// ErrDisconnected; registry nodes are left untouched, since destruction is a
// protocol-level decision. Idempotent.
func (m *Messenger) Close() error {
	m.shutdown(nil)
	return nil
}

// CallMethod sends a method call and suspends the caller until the matching
// response arrives. Failure modes: *RemoteError when the peer answered with
// an error, ErrTimeout when ctx's deadline expires, ctx.Err() on
// cancellation, ErrDisconnected when the connection died first.
func (m *Messenger) CallMethod(ctx context.Context, nodeID, aspectID, memberID uint64, payload, datamap []byte) ([]byte, []byte, error) {
	ch := make(chan callResult, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, ErrDisconnected
	}
	id := m.nextCallID.Add(1)
	m.pending[id] = ch
	m.mu.Unlock()

	msg := wire.NewMethodCall(id, nodeID, aspectID, memberID, payload, datamap)
	if err := m.enqueue(msg); err != nil {
		m.dropPending(id)
		return nil, nil, err
	}
	m.callsSent.Add(1)

	select {
	case res := <-ch:
		return res.payload, res.datamap, res.err
	case <-ctx.Done():
		m.dropPending(id)
		// The response may have raced the deadline; prefer it if so.
		select {
		case res := <-ch:
			return res.payload, res.datamap, res.err
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("%w (call id %d)", ErrTimeout, id)
		}
		return nil, nil, ctx.Err()
	}
}

// SendSignal sends a one-way message. Fire and forget: only a synchronous
// failure to accept the frame is reported, and there is no acknowledgement.
// Signals of one direction are delivered in send order.
func (m *Messenger) SendSignal(nodeID, aspectID, memberID uint64, payload, datamap []byte) error {
	if err := m.enqueue(wire.NewSignal(nodeID, aspectID, memberID, payload, datamap)); err != nil {
		return err
	}
	m.signalsSent.Add(1)
	return nil
}

// Stats returns a counter snapshot.
func (m *Messenger) Stats() Stats {
	return Stats{
		CallsSent:        m.callsSent.Load(),
		SignalsSent:      m.signalsSent.Load(),
		CallsServed:      m.callsServed.Load(),
		SignalsReceived:  m.signalsReceived.Load(),
		DroppedResponses: m.droppedResponses.Load(),
		UnknownNode:      m.unknownNode.Load(),
	}
}

func (m *Messenger) enqueue(msg *wire.Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrDisconnected
	}
	m.mu.Unlock()

	select {
	case m.writeCh <- msg:
		return nil
	case <-m.done:
		return ErrDisconnected
	}
}

func (m *Messenger) writePump() {
	for {
		select {
		case msg := <-m.writeCh:
			m.trace(false, msg)
			if err := m.transport.Send(msg.Marshal()); err != nil {
				m.shutdown(fmt.Errorf("messenger: write failed: %w", err))
				return
			}
		case <-m.done:
			return
		}
	}
}

func (m *Messenger) readLoop() {
	for {
		frame, err := m.transport.Receive()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				// Clean peer close at a frame boundary.
				m.shutdown(nil)
			case errors.Is(err, transport.ErrClosed):
				m.shutdown(nil)
			default:
				m.shutdown(fmt.Errorf("messenger: read failed: %w", err))
			}
			return
		}
		msg, err := wire.Unmarshal(frame)
		if err != nil {
			// Framing trust is gone; nothing after this frame can be
			// believed.
			m.shutdown(fmt.Errorf("messenger: protocol violation: %w", err))
			return
		}
		m.trace(true, msg)
		m.handleInbound(msg)
	}
}

// handleInbound processes frames strictly in arrival order. Only method
// calls leave this goroutine.
func (m *Messenger) handleInbound(msg *wire.Message) {
	switch msg.Kind {
	case wire.KindMethodResponse:
		m.resolve(msg.CallID, callResult{payload: msg.Payload, datamap: msg.Datamap})
	case wire.KindError:
		m.resolve(msg.CallID, callResult{err: &RemoteError{Message: msg.ErrorMsg}})
	case wire.KindSignal:
		m.signalsReceived.Add(1)
		node, ok := m.registry.Lookup(msg.NodeID)
		if !ok {
			// Destroy races are expected; drop silently.
			m.unknownNode.Add(1)
			m.log.Debug("signal for unknown node dropped", "node", msg.NodeID, "aspect", msg.AspectID, "member", msg.MemberID)
			return
		}
		if err := m.dispatch.DispatchSignal(node, msg.AspectID, msg.MemberID, msg.Payload, msg.Datamap); err != nil {
			m.log.Debug("signal dropped", "node", msg.NodeID, "aspect", msg.AspectID, "member", msg.MemberID, "err", err)
		}
	case wire.KindMethodCall:
		go m.serveMethod(msg)
	}
}

// resolve fulfills the pending call exactly once. A response whose call id
// is no longer pending (timed out, cancelled) is dropped silently.
func (m *Messenger) resolve(callID uint64, res callResult) {
	m.mu.Lock()
	ch, ok := m.pending[callID]
	if ok {
		delete(m.pending, callID)
	}
	m.mu.Unlock()
	if !ok {
		m.droppedResponses.Add(1)
		m.log.Debug("response without pending call dropped", "call_id", callID)
		return
	}
	ch <- res
}

func (m *Messenger) dropPending(callID uint64) {
	m.mu.Lock()
	delete(m.pending, callID)
	m.mu.Unlock()
}

// serveMethod runs an inbound method call outside the read loop so handlers
// can block or call back to the peer without deadlocking ingestion.
func (m *Messenger) serveMethod(msg *wire.Message) {
	node, ok := m.registry.Lookup(msg.NodeID)
	if !ok {
		m.replyError(msg, scenegraph.ErrNodeNotFound)
		return
	}
	resp, respDatamap, err := m.dispatch.DispatchMethod(m.handlerCtx, node, msg.AspectID, msg.MemberID, msg.Payload, msg.Datamap)
	if err != nil {
		m.replyError(msg, err)
		return
	}
	m.callsServed.Add(1)
	if err := m.enqueue(wire.NewMethodResponse(msg.CallID, msg.NodeID, msg.AspectID, msg.MemberID, resp, respDatamap)); err != nil {
		m.log.Debug("response not sent", "call_id", msg.CallID, "err", err)
	}
}

func (m *Messenger) replyError(msg *wire.Message, cause error) {
	reply := wire.NewError(msg.CallID, msg.NodeID, msg.AspectID, msg.MemberID, cause.Error())
	if err := m.enqueue(reply); err != nil {
		m.log.Debug("error reply not sent", "call_id", msg.CallID, "err", err)
	}
}

// shutdown tears the messenger down exactly once: the transport closes,
// every pending call resolves ErrDisconnected, and later sends fail fast.
func (m *Messenger) shutdown(cause error) {
	m.teardown.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.cause = cause
		pend := m.pending
		m.pending = make(map[uint64]chan callResult)
		m.mu.Unlock()

		m.handlerCancel()
		close(m.done)
		m.transport.Close()

		for _, ch := range pend {
			ch <- callResult{err: ErrDisconnected}
		}
		if cause != nil {
			m.log.Warn("connection torn down", "err", cause)
		} else {
			m.log.Debug("connection closed")
		}
	})
}

func (m *Messenger) trace(incoming bool, msg *wire.Message) {
	level := slog.LevelDebug
	if msg.Kind == wire.KindError {
		level = slog.LevelWarn
	}
	if !m.log.Enabled(context.Background(), level) {
		return
	}
	direction := "outgoing"
	if incoming {
		direction = "incoming"
	}
	m.log.Log(context.Background(), level, "stardust message",
		"direction", direction,
		"kind", msg.Kind.String(),
		"call_id", msg.CallID,
		"node", msg.NodeID,
		"aspect", msg.AspectID,
		"member", msg.MemberID,
		"err", msg.ErrorMsg,
		"payload_len", len(msg.Payload),
	)
}
