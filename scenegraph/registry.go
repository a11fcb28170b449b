package scenegraph

import (
	"sync"
	"sync/atomic"
)

// RegistryStats tracks registry activity.
type RegistryStats struct {
	Created   uint64
	Destroyed uint64
	Misses    uint64
}

// Registry owns every node of one connection, keyed by id. Lookups are O(1);
// destruction is idempotent and terminal.
type Registry struct {
	mu    sync.RWMutex
	nodes map[uint64]*Node

	created   atomic.Uint64
	destroyed atomic.Uint64
	misses    atomic.Uint64
}

// NewRegistry creates an empty, connection-scoped registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[uint64]*Node)}
}

// CreateNode registers a live node with a fixed aspect set. Fails with
// ErrDuplicateID if the id is already present.
func (r *Registry) CreateNode(id uint64, aspects ...uint64) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[id]; exists {
		return nil, ErrDuplicateID
	}
	n := newNode(id, aspects)
	r.nodes[id] = n
	r.created.Add(1)
	return n, nil
}

// Lookup returns the live node with the given id.
func (r *Registry) Lookup(id uint64) (*Node, bool) {
	r.mu.RLock()
	n, ok := r.nodes[id]
	r.mu.RUnlock()
	if !ok {
		r.misses.Add(1)
	}
	return n, ok
}

// Destroy marks the node dead and detaches it from its parent's child set.
// Children are not cascaded: they keep a now-invalid parent id and stay
// alive. Replays after destroy are no-ops, not errors.
func (r *Registry) Destroy(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return
	}
	n.alive.Store(false)
	if parent, ok := r.nodes[n.parentID]; ok {
		delete(parent.children, id)
	}
	delete(r.nodes, id)
	r.destroyed.Add(1)
}

// SetParent links child to parent by id. Fails gracefully with
// ErrNodeNotFound if either id is unknown.
func (r *Registry) SetParent(childID, parentID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	child, ok := r.nodes[childID]
	if !ok {
		return ErrNodeNotFound
	}
	parent, ok := r.nodes[parentID]
	if !ok {
		return ErrNodeNotFound
	}
	if old, ok := r.nodes[child.parentID]; ok {
		delete(old.children, childID)
	}
	child.parentID = parentID
	parent.children[childID] = struct{}{}
	return nil
}

// Parent returns the node's parent id. ok is false when the node is unknown
// or has no parent; a dangling parent id (parent destroyed) is still
// returned, since the link is plain data.
func (r *Registry) Parent(id uint64) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok || n.parentID == 0 {
		return 0, false
	}
	return n.parentID, true
}

// Children returns the ids currently linked under the node.
func (r *Registry) Children(id uint64) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, len(n.children))
	for c := range n.children {
		out = append(out, c)
	}
	return out
}

// Len returns the number of live nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() RegistryStats {
	return RegistryStats{
		Created:   r.created.Load(),
		Destroyed: r.destroyed.Load(),
		Misses:    r.misses.Load(),
	}
}
