package gam

import (
	"github.com/alpha-unito/gam/internal/backend"
	"github.com/alpha-unito/gam/internal/wire"
)

// UniqueChild is the local handle LocalPrivate returns: a PRIVATE
// object withdrawn from the global address space into plain local
// memory, still remembering the address it was bound to so it can be
// written back later.
type UniqueChild[T any] struct {
	ctx     *Context
	addr    uint64
	childID uint64
	value   T
	closed  bool
}

func newUniqueChild[T any](c *Context, addr uint64, childID uint64, value T) *UniqueChild[T] {
	return &UniqueChild[T]{ctx: c, addr: addr, childID: childID, value: value}
}

// Get returns a pointer to the withdrawn value.
func (u *UniqueChild[T]) Get() *T {
	return &u.value
}

// IntoPrivatePtr writes the (possibly mutated) value back into the
// address it was withdrawn from and returns a PrivatePtr bound to it.
// If the child is no longer bound to any address (its parent binding
// was already severed), a fresh PRIVATE address is minted instead.
func (u *UniqueChild[T]) IntoPrivatePtr() (*PrivatePtr[T], error) {
	if u.closed {
		return nil, ErrNoParent
	}
	addr, ok := u.ctx.view.Parent(u.childID)
	if !ok {
		u.closed = true
		return &PrivatePtr[T]{ctx: u.ctx, pointer: MmapPrivate(u.ctx, u.value, nil)}, nil
	}
	p := wire.GlobalPointer(addr)
	if !u.ctx.AmOwner(p) {
		return nil, ErrNotOwner
	}
	u.ctx.view.BindCommitted(addr, backend.New(u.value, nil))
	u.ctx.view.UnbindParent(u.childID)
	u.closed = true
	return &PrivatePtr[T]{ctx: u.ctx, pointer: p}, nil
}

// Close severs the child's binding and unmaps the address it was
// withdrawn from, if still bound. Use IntoPrivatePtr instead when the
// value should be written back rather than discarded.
func (u *UniqueChild[T]) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	if addr, ok := u.ctx.view.Parent(u.childID); ok {
		return u.ctx.Unmap(wire.GlobalPointer(addr))
	}
	return nil
}
