package scenegraph

import "errors"

var (
	// ErrDuplicateID is returned when creating a node whose id is already
	// registered on this connection.
	ErrDuplicateID = errors.New("scenegraph: duplicate node id")

	// ErrNodeNotFound is returned when a signal or method call addresses a
	// node id that is unknown or already destroyed. For method calls it is
	// answered back to the remote caller; signals are dropped silently so
	// destroy races stay harmless.
	ErrNodeNotFound = errors.New("scenegraph: node not found")

	// ErrUnimplemented is returned when the target node does not carry the
	// aspect, or no handler is registered for the member. Defensive: a
	// misbehaving peer must never crash the process.
	ErrUnimplemented = errors.New("scenegraph: member not implemented")
)
