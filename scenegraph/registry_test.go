package scenegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aspectSpatial  = uint64(1)
	aspectDrawable = uint64(2)
)

func TestRegistry_CreateLookup(t *testing.T) {
	r := NewRegistry()

	n, err := r.CreateNode(10, aspectSpatial, aspectDrawable)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n.ID())
	assert.True(t, n.Alive())
	assert.True(t, n.HasAspect(aspectSpatial))
	assert.False(t, n.HasAspect(99))
	assert.Equal(t, []uint64{aspectSpatial, aspectDrawable}, n.Aspects())

	got, ok := r.Lookup(10)
	require.True(t, ok)
	assert.Same(t, n, got)

	_, ok = r.Lookup(11)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DuplicateID(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateNode(10, aspectSpatial)
	require.NoError(t, err)

	_, err = r.CreateNode(10, aspectDrawable)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestRegistry_DestroyIdempotent(t *testing.T) {
	r := NewRegistry()
	n, err := r.CreateNode(10, aspectSpatial)
	require.NoError(t, err)

	r.Destroy(10)
	assert.False(t, n.Alive())
	_, ok := r.Lookup(10)
	assert.False(t, ok)

	// Replays are no-ops, never errors or double notifications.
	r.Destroy(10)
	r.Destroy(10)
	assert.Equal(t, uint64(1), r.Stats().Destroyed)
}

func TestRegistry_ParentChildLinks(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateNode(1, aspectSpatial)
	require.NoError(t, err)
	_, err = r.CreateNode(2, aspectSpatial)
	require.NoError(t, err)

	require.NoError(t, r.SetParent(2, 1))
	parent, ok := r.Parent(2)
	require.True(t, ok)
	assert.Equal(t, uint64(1), parent)
	assert.Equal(t, []uint64{2}, r.Children(1))

	// Reparenting moves the child out of the old parent's set.
	_, err = r.CreateNode(3, aspectSpatial)
	require.NoError(t, err)
	require.NoError(t, r.SetParent(2, 3))
	assert.Empty(t, r.Children(1))
	assert.Equal(t, []uint64{2}, r.Children(3))
}

func TestRegistry_DestroyDoesNotCascade(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateNode(1, aspectSpatial)
	require.NoError(t, err)
	child, err := r.CreateNode(2, aspectSpatial)
	require.NoError(t, err)
	require.NoError(t, r.SetParent(2, 1))

	r.Destroy(1)

	// The child survives, holding a now-invalid parent reference.
	got, ok := r.Lookup(2)
	require.True(t, ok)
	assert.True(t, got.Alive())
	parent, ok := r.Parent(2)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), parent)
	_, ok = r.Lookup(1)
	assert.False(t, ok)
	assert.Same(t, child, got)
}

func TestRegistry_SetParentDangling(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateNode(1, aspectSpatial)
	require.NoError(t, err)

	assert.ErrorIs(t, r.SetParent(1, 404), ErrNodeNotFound)
	assert.ErrorIs(t, r.SetParent(404, 1), ErrNodeNotFound)
}
