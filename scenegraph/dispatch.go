package scenegraph

import (
	"context"
	"fmt"
)

// SignalHandler handles a one-way member. Returning an error drops the
// signal; nothing is reported to the peer.
type SignalHandler func(node *Node, payload, datamap []byte) error

// MethodHandler handles a request/response member. It returns the response
// payload and optional response datamap; an error is answered to the remote
// caller as the call's failure.
type MethodHandler func(ctx context.Context, node *Node, payload, datamap []byte) (respPayload, respDatamap []byte, err error)

type memberKey struct {
	aspect uint64
	member uint64
}

// Dispatch routes (node, aspect, member) to registered handlers. Generated
// stubs populate the tables at startup, before the connection's read loop
// starts; the tables are never mutated concurrently with dispatch, so no lock
// guards them.
type Dispatch struct {
	signals map[memberKey]SignalHandler
	methods map[memberKey]MethodHandler
}

// NewDispatch creates empty handler tables.
func NewDispatch() *Dispatch {
	return &Dispatch{
		signals: make(map[memberKey]SignalHandler),
		methods: make(map[memberKey]MethodHandler),
	}
}

// HandleSignal registers a handler for a one-way member of an aspect.
func (d *Dispatch) HandleSignal(aspectID, memberID uint64, h SignalHandler) {
	d.signals[memberKey{aspectID, memberID}] = h
}

// HandleMethod registers a handler for a request/response member of an
// aspect.
func (d *Dispatch) HandleMethod(aspectID, memberID uint64, h MethodHandler) {
	d.methods[memberKey{aspectID, memberID}] = h
}

// DispatchSignal invokes the signal handler for (aspect, member) if the
// node's aspect set contains the aspect. ErrUnimplemented otherwise.
func (d *Dispatch) DispatchSignal(node *Node, aspectID, memberID uint64, payload, datamap []byte) error {
	if !node.HasAspect(aspectID) {
		return fmt.Errorf("%w: node %d lacks aspect %d", ErrUnimplemented, node.ID(), aspectID)
	}
	h, ok := d.signals[memberKey{aspectID, memberID}]
	if !ok {
		return fmt.Errorf("%w: no signal handler for aspect %d member %d", ErrUnimplemented, aspectID, memberID)
	}
	return h(node, payload, datamap)
}

// DispatchMethod invokes the method handler for (aspect, member) if the
// node's aspect set contains the aspect. ErrUnimplemented otherwise.
func (d *Dispatch) DispatchMethod(ctx context.Context, node *Node, aspectID, memberID uint64, payload, datamap []byte) ([]byte, []byte, error) {
	if !node.HasAspect(aspectID) {
		return nil, nil, fmt.Errorf("%w: node %d lacks aspect %d", ErrUnimplemented, node.ID(), aspectID)
	}
	h, ok := d.methods[memberKey{aspectID, memberID}]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no method handler for aspect %d member %d", ErrUnimplemented, aspectID, memberID)
	}
	return h(ctx, node, payload, datamap)
}
