package gam

import (
	"github.com/alpha-unito/gam/internal/wire"
	"github.com/pkg/errors"
)

// PrivatePtr is the application-facing handle to a PRIVATE address:
// single-owner and migratable by Push. Go's type system cannot
// forbid a struct copy outright, so every operation checks ownership
// instead: a copy still naming an address this rank has pushed away
// gets ErrNotOwner, and a handle that Push/Local/Publish/Reset has
// already neutralized names no address and gets ErrNotAddress (Reset
// on it returns nil), rather than panicking.
type PrivatePtr[T any] struct {
	ctx     *Context
	pointer wire.GlobalPointer
}

// NewPrivate allocates a fresh PRIVATE address for value, owned by
// ctx.
func NewPrivate[T any](ctx *Context, value T, deleter func(*T)) *PrivatePtr[T] {
	return &PrivatePtr[T]{ctx: ctx, pointer: MmapPrivate(ctx, value, deleter)}
}

// PullPrivatePtr blocks until a PRIVATE capability arrives and wraps
// it, registering this rank as the new owner.
func PullPrivatePtr[T any](ctx *Context, from ...uint32) (*PrivatePtr[T], error) {
	p, err := ctx.PullPrivate(from...)
	if err != nil {
		return nil, err
	}
	return &PrivatePtr[T]{ctx: ctx, pointer: p}, nil
}

// Pointer returns the underlying GlobalPointer.
func (p *PrivatePtr[T]) Pointer() wire.GlobalPointer { return p.pointer }

// IsNull reports whether this handle names no address.
func (p *PrivatePtr[T]) IsNull() bool { return p.pointer.IsNull() }

// Local withdraws the pointed-to object into local memory. The
// caller must own it; on success this handle is neutralized, since
// ownership of the global binding has moved into the returned
// UniqueChild.
func (p *PrivatePtr[T]) Local() (*UniqueChild[T], error) {
	child, err := LocalPrivate[T](p.ctx, p.pointer)
	if err != nil {
		return nil, err
	}
	p.pointer = 0
	return child, nil
}

// Push migrates ownership to to. The caller must currently own the
// address; on success this handle is neutralized.
func (p *PrivatePtr[T]) Push(to uint32) error {
	if err := p.ctx.PushPrivate(p.pointer, to); err != nil {
		return err
	}
	p.pointer = 0
	return nil
}

// Publish converts the PRIVATE address into a freshly minted PUBLIC
// one holding the same value. The caller must own it; on success
// this handle is neutralized.
func (p *PrivatePtr[T]) Publish() (*PublicPtr[T], error) {
	newAddr, err := Publish[T](p.ctx, p.pointer)
	if err != nil {
		return nil, err
	}
	p.pointer = 0
	return &PublicPtr[T]{ctx: p.ctx, pointer: newAddr}, nil
}

// Release neutralizes this handle without any side effect, returning
// the address it named. Used when ownership of the global binding is
// being handed off through some other means (e.g. it is already
// being tracked by a UniqueChild).
func (p *PrivatePtr[T]) Release() wire.GlobalPointer {
	addr := p.pointer
	p.pointer = 0
	return addr
}

// Reset releases this handle's ownership: the author is told to
// forget the address if this rank is not the author, or the address
// is unmapped outright if it is.
func (p *PrivatePtr[T]) Reset() error {
	if p.pointer.IsNull() {
		return nil
	}
	addr := p.pointer
	p.pointer = 0
	if p.ctx.AmAuthor(addr) {
		return p.ctx.Unmap(addr)
	}
	author := p.ctx.Author(addr)
	err := p.ctx.local.Send(author, wire.DaemonMessage{Op: wire.OpPVTReset, Pointer: addr, From: p.ctx.rank})
	return errors.Wrap(err, "gam: forwarding private reset to author")
}
