package gam

import "github.com/alpha-unito/gam/internal/wire"

// PublicPtr is the application-facing handle to a PUBLIC address:
// ref-counted, replicated via the read-through cache, and freely
// copyable in the sense that Push can hand a copy to any peer without
// transferring ownership.
type PublicPtr[T any] struct {
	ctx     *Context
	pointer wire.GlobalPointer
}

// NewPublic allocates a fresh PUBLIC address for value, owned by ctx.
func NewPublic[T any](ctx *Context, value T, deleter func(*T)) *PublicPtr[T] {
	return &PublicPtr[T]{ctx: ctx, pointer: MmapPublic(ctx, value, deleter)}
}

// PullPublicPtr blocks until a PUBLIC capability arrives and wraps it.
func PullPublicPtr[T any](ctx *Context, from ...uint32) (*PublicPtr[T], error) {
	p, err := ctx.PullPublic(from...)
	if err != nil {
		return nil, err
	}
	return &PublicPtr[T]{ctx: ctx, pointer: p}, nil
}

// Pointer returns the underlying GlobalPointer.
func (p *PublicPtr[T]) Pointer() wire.GlobalPointer { return p.pointer }

// IsNull reports whether this handle names no address.
func (p *PublicPtr[T]) IsNull() bool { return p.pointer.IsNull() }

// Local materializes a read-only local copy of the pointed-to object.
func (p *PublicPtr[T]) Local() (*SharedLocal[T], error) {
	return LocalPublic[T](p.ctx, p.pointer)
}

// Push hands a reference to to, incrementing the shared reference
// count.
func (p *PublicPtr[T]) Push(to uint32) error {
	if p.pointer.IsNull() {
		return p.ctx.PushReserved(p.pointer, to)
	}
	return p.ctx.PushPublic(p.pointer, to)
}

// UseCount returns the current reference count.
func (p *PublicPtr[T]) UseCount() (uint64, error) {
	return p.ctx.RCGet(p.pointer)
}

// Reset decrements the reference count this handle holds and
// neutralizes it. A decrement forwarded to a remote author is not
// waited for; when the count reaches zero at the author, the author
// unmaps the address and releases the object.
func (p *PublicPtr[T]) Reset() {
	if p.pointer.IsNull() {
		return
	}
	p.ctx.RCDec(p.pointer)
	p.pointer = 0
}
