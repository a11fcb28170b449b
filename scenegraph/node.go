// Package scenegraph mirrors the remote-addressable nodes of one connection
// and routes inbound signals and method calls to the right node and aspect
// handler. All state is connection-scoped: a server holds one independent
// registry per client.
package scenegraph

import (
	"sort"
	"sync/atomic"
)

// Node is one addressable entity shared across a connection. Its aspect set
// is fixed at creation; capabilities are data, not type identity, so one node
// can compose arbitrarily many independently defined aspects.
//
// Parent and child links are plain id references for spatial queries. They
// never imply memory ownership: every node is owned by the registry's primary
// map, and a dangling parent id after a destroy is expected, not an error.
type Node struct {
	id      uint64
	aspects map[uint64]struct{}
	alive   atomic.Bool

	// Guarded by the owning registry's mutex.
	parentID uint64
	children map[uint64]struct{}
}

func newNode(id uint64, aspects []uint64) *Node {
	set := make(map[uint64]struct{}, len(aspects))
	for _, a := range aspects {
		set[a] = struct{}{}
	}
	n := &Node{
		id:       id,
		aspects:  set,
		children: make(map[uint64]struct{}),
	}
	n.alive.Store(true)
	return n
}

// ID returns the node's connection-unique id.
func (n *Node) ID() uint64 {
	return n.id
}

// Alive reports whether the node has not been destroyed.
func (n *Node) Alive() bool {
	return n.alive.Load()
}

// HasAspect reports whether the node carries the aspect.
func (n *Node) HasAspect(aspectID uint64) bool {
	_, ok := n.aspects[aspectID]
	return ok
}

// Aspects returns the node's aspect ids in ascending order.
func (n *Node) Aspects() []uint64 {
	out := make([]uint64, 0, len(n.aspects))
	for a := range n.aspects {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
