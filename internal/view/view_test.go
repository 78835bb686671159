package view

import (
	"testing"

	"github.com/alpha-unito/gam/internal/backend"
	"github.com/alpha-unito/gam/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestMapGetUnmap(t *testing.T) {
	v := New()
	_, ok := v.Get(1)
	require.False(t, ok)
	require.False(t, v.Mapped(1))

	v.Map(1, Record{AccessLevel: wire.AccessPublic, Author: 0})
	require.True(t, v.Mapped(1))
	r, ok := v.Get(1)
	require.True(t, ok)
	require.Equal(t, wire.AccessPublic, r.AccessLevel)

	removed, ok := v.Unmap(1)
	require.True(t, ok)
	require.Equal(t, wire.AccessPublic, removed.AccessLevel)
	require.False(t, v.Mapped(1))

	_, ok = v.Unmap(1)
	require.False(t, ok)
}

func TestGetReturnsACopy(t *testing.T) {
	v := New()
	v.Map(1, Record{Owner: 0})
	r, _ := v.Get(1)
	r.Owner = 99
	r2, _ := v.Get(1)
	require.Equal(t, uint32(0), r2.Owner)
}

func TestBindOwnerAndCommitted(t *testing.T) {
	v := New()
	v.Map(1, Record{Owner: 0})
	v.BindOwner(1, 3)
	r, _ := v.Get(1)
	require.Equal(t, uint32(3), r.Owner)

	c := backend.New(42, nil)
	v.BindCommitted(1, c)
	r, _ = v.Get(1)
	require.Same(t, c, r.Committed)
}

func TestChildBindingAndInverse(t *testing.T) {
	v := New()
	v.Map(1, Record{})
	child := v.NewChildID()
	require.NotZero(t, child)

	v.BindChild(1, child)
	r, _ := v.Get(1)
	require.Equal(t, child, r.Child)

	require.True(t, v.HasParent(child))
	addr, ok := v.Parent(child)
	require.True(t, ok)
	require.Equal(t, uint64(1), addr)

	v.UnbindParent(child)
	require.False(t, v.HasParent(child))
	r, _ = v.Get(1)
	require.Equal(t, child, r.Child, "severing the inverse mapping does not touch the forward record")
}

func TestUnmapSeversChildBinding(t *testing.T) {
	v := New()
	v.Map(1, Record{})
	child := v.NewChildID()
	v.BindChild(1, child)

	_, ok := v.Unmap(1)
	require.True(t, ok)
	require.False(t, v.HasParent(child))
}

func TestNewChildIDIsMonotonicAndUnique(t *testing.T) {
	v := New()
	seen := make(map[uint64]bool)
	var prev uint64
	for i := 0; i < 100; i++ {
		id := v.NewChildID()
		require.False(t, seen[id])
		require.Greater(t, id, prev)
		seen[id] = true
		prev = id
	}
}

func TestLen(t *testing.T) {
	v := New()
	require.Equal(t, 0, v.Len())
	v.Map(1, Record{})
	v.Map(2, Record{})
	require.Equal(t, 2, v.Len())
	v.Unmap(1)
	require.Equal(t, 1, v.Len())
}
