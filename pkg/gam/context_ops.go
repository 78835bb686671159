package gam

import (
	"github.com/alpha-unito/gam/internal/backend"
	"github.com/alpha-unito/gam/internal/cache"
	"github.com/alpha-unito/gam/internal/daemon"
	"github.com/alpha-unito/gam/internal/view"
	"github.com/alpha-unito/gam/internal/wire"
	"github.com/pkg/errors"
)

// MmapPublic allocates a fresh PUBLIC address authored and owned by
// this rank, and binds value to it.
func MmapPublic[T any](c *Context, value T, deleter func(*T)) wire.GlobalPointer {
	addr := wire.NewAddress(c.allocate(), c.rank)
	c.view.Map(addr.Address(), view.Record{
		AccessLevel: wire.AccessPublic,
		Author:      c.rank,
		Owner:       c.rank,
		Committed:   backend.New(value, deleter),
	})
	if err := c.mc.Init(addr.Address()); err != nil {
		c.log.WithError(err).Warn("gam: initializing reference count for freshly minted address")
	}
	return addr
}

// MmapPrivate allocates a fresh PRIVATE address authored and owned by
// this rank, and binds value to it.
func MmapPrivate[T any](c *Context, value T, deleter func(*T)) wire.GlobalPointer {
	addr := wire.NewAddress(c.allocate(), c.rank)
	c.view.Map(addr.Address(), view.Record{
		AccessLevel: wire.AccessPrivate,
		Author:      c.rank,
		Owner:       c.rank,
		Committed:   backend.New(value, deleter),
	})
	return addr
}

// Unmap releases the view record (and its committed object, if any)
// for p. Calling it on an address this rank never mapped is
// programmer misuse: it is reported, not panicked.
func (c *Context) Unmap(p wire.GlobalPointer) error {
	if !p.IsAddress() {
		return ErrNotAddress
	}
	addr := p.Address()
	r, ok := c.view.Unmap(addr)
	if !ok {
		return ErrUnmapped
	}
	if r.Committed != nil {
		r.Committed.Close()
	}
	c.mc.Forget(addr)
	return nil
}

// PushPublic transmits the capability for a PUBLIC address to to and
// records the new reference, forwarding to the author if this rank
// did not author it.
func (c *Context) PushPublic(p wire.GlobalPointer, to uint32) error {
	if !p.IsAddress() {
		return ErrNotAddress
	}
	if !c.IsPublic(p) {
		return ErrAccessMismatch
	}
	if err := c.pap.Send(to, wire.PapMessage{Pointer: p, Author: c.resolveAuthor(p), AccessLevel: wire.AccessPublic}); err != nil {
		return errors.Wrap(err, "gam: pushing public pointer")
	}
	c.RCInc(p)
	return nil
}

// PushPrivate transmits ownership of a PRIVATE address to to. The
// sender must currently own it; afterwards it no longer does.
func (c *Context) PushPrivate(p wire.GlobalPointer, to uint32) error {
	if !p.IsAddress() {
		return ErrNotAddress
	}
	if !c.AmOwner(p) {
		return ErrNotOwner
	}
	if err := c.pap.Send(to, wire.PapMessage{Pointer: p, Author: c.resolveAuthor(p), AccessLevel: wire.AccessPrivate}); err != nil {
		return errors.Wrap(err, "gam: pushing private pointer")
	}
	c.view.BindOwner(p.Address(), to)
	return nil
}

// PushReserved transmits an application-defined sentinel value
// (never an address) to to over the capability-passing channel.
func (c *Context) PushReserved(token wire.GlobalPointer, to uint32) error {
	if token.IsAddress() {
		return errors.Wrap(ErrAccessMismatch, "gam: pushing an address as a reserved sentinel")
	}
	return errors.Wrap(c.pap.Send(to, wire.PapMessage{Pointer: token, Author: c.rank}), "gam: pushing reserved sentinel")
}

// PullPublic blocks until a PUBLIC capability arrives, from a
// specific sender when from names exactly one, or from any sender
// when called with none. An address that arrives tagged PRIVATE
// yields ErrAccessMismatch and a null pointer.
func (c *Context) PullPublic(from ...uint32) (wire.GlobalPointer, error) {
	msg, err := c.pullPap(from...)
	if err != nil {
		return 0, err
	}
	if msg.Pointer.IsAddress() && msg.AccessLevel != wire.AccessPublic {
		return 0, ErrAccessMismatch
	}
	if msg.Pointer.IsAddress() && !c.view.Mapped(msg.Pointer.Address()) {
		c.view.Map(msg.Pointer.Address(), view.Record{AccessLevel: wire.AccessPublic, Author: msg.Author})
	}
	return msg.Pointer, nil
}

// PullPrivate blocks until a PRIVATE capability arrives and registers
// this rank as the new owner. An address that arrives tagged PUBLIC
// yields ErrAccessMismatch and a null pointer.
func (c *Context) PullPrivate(from ...uint32) (wire.GlobalPointer, error) {
	msg, err := c.pullPap(from...)
	if err != nil {
		return 0, err
	}
	if msg.Pointer.IsAddress() && msg.AccessLevel != wire.AccessPrivate {
		return 0, ErrAccessMismatch
	}
	if msg.Pointer.IsAddress() {
		addr := msg.Pointer.Address()
		if !c.view.Mapped(addr) {
			c.view.Map(addr, view.Record{AccessLevel: wire.AccessPrivate, Author: msg.Author, Owner: c.rank})
		} else {
			c.view.BindOwner(addr, c.rank)
			c.view.BindAuthor(addr, msg.Author)
		}
	}
	return msg.Pointer, nil
}

// PullReserved blocks until a reserved sentinel arrives, ignoring its
// (meaningless) author field.
func (c *Context) PullReserved(from ...uint32) (wire.GlobalPointer, error) {
	msg, err := c.pullPap(from...)
	if err != nil {
		return 0, err
	}
	return msg.Pointer, nil
}

func (c *Context) pullPap(from ...uint32) (wire.PapMessage, error) {
	if len(from) > 1 {
		return wire.PapMessage{}, errors.New("gam: pull accepts at most one explicit sender")
	}
	if len(from) == 1 {
		return c.pap.Recv(from[0]), nil
	}
	msg, _ := c.pap.RecvAny()
	return msg, nil
}

// RCInc increments p's reference count, forwarding to the author
// when this rank did not mint the address. Forwarded increments are
// fire-and-forget; the return value is only meaningful when this
// rank is the author.
func (c *Context) RCInc(p wire.GlobalPointer) uint64 {
	addr := p.Address()
	author := c.resolveAuthor(p)
	if author == c.rank {
		return c.mc.Inc(addr)
	}
	c.metrics.RCRequests.WithLabelValues("inc").Inc()
	if err := c.local.Send(author, wire.DaemonMessage{Op: wire.OpRCInc, Pointer: p, From: c.rank}); err != nil {
		c.log.WithError(err).Warn("gam: forwarding RC_INC")
	}
	return 0
}

// RCDec decrements p's reference count, forwarding to the author
// when needed. When the count reaches zero at the author, the address
// is unmapped and its committed object released. See RCInc for the
// fire-and-forget caveat.
func (c *Context) RCDec(p wire.GlobalPointer) uint64 {
	addr := p.Address()
	author := c.resolveAuthor(p)
	if author == c.rank {
		n := c.mc.Dec(addr)
		if n == 0 {
			_ = c.Unmap(p)
		}
		return n
	}
	c.metrics.RCRequests.WithLabelValues("dec").Inc()
	if err := c.local.Send(author, wire.DaemonMessage{Op: wire.OpRCDec, Pointer: p, From: c.rank}); err != nil {
		c.log.WithError(err).Warn("gam: forwarding RC_DEC")
	}
	return 0
}

// RCGet returns p's current reference count, forwarding to and
// blocking on a reply from the author when needed.
func (c *Context) RCGet(p wire.GlobalPointer) (uint64, error) {
	addr := p.Address()
	author := c.resolveAuthor(p)
	if author == c.rank {
		return c.mc.Get(addr), nil
	}
	c.metrics.RCRequests.WithLabelValues("get").Inc()
	if err := c.local.Send(author, wire.DaemonMessage{Op: wire.OpRCGet, Pointer: p, From: c.rank}); err != nil {
		return 0, errors.Wrap(err, "gam: requesting reference count")
	}
	reply := c.local.RawRecv(author)
	return daemon.DecodeUint64(reply), nil
}

// LocalPublic materializes a read-only local copy of a PUBLIC
// object: a direct copy for the author, a cache hit, or a remote
// load followed by a cache fill.
func LocalPublic[T any](c *Context, p wire.GlobalPointer) (*SharedLocal[T], error) {
	if !p.IsAddress() {
		return nil, ErrNotAddress
	}
	addr := p.Address()
	author := c.resolveAuthor(p)
	var out T

	if author == c.rank {
		r, ok := c.view.Get(addr)
		if !ok {
			return nil, ErrUnmapped
		}
		bp, err := committedAs[T](r.Committed)
		if err != nil {
			return nil, err
		}
		if err := backend.Copy(&out, bp.Get()); err != nil {
			return nil, err
		}
		return newSharedLocal(out), nil
	}

	if hit, err := cacheLoad(c, addr, &out); err != nil {
		return nil, err
	} else if hit {
		c.metrics.CacheHits.Inc()
		return newSharedLocal(out), nil
	}

	c.metrics.CacheMisses.Inc()
	c.metrics.RemoteLoads.Inc()
	if err := c.local.Send(author, wire.DaemonMessage{Op: wire.OpRLoad, Pointer: p, From: c.rank}); err != nil {
		return nil, errors.Wrap(err, "gam: requesting remote load")
	}
	if err := backend.Unmarshal(&out, func() ([]byte, error) { return c.local.RawRecv(author), nil }); err != nil {
		return nil, errors.Wrap(err, "gam: decoding remote load")
	}
	if err := cacheStore(c, addr, out); err != nil {
		c.log.WithError(err).Debug("gam: caching remote load")
	}
	return newSharedLocal(out), nil
}

// LocalPrivate withdraws a PRIVATE object into a purely local child,
// removing it from the global address space until it is published
// back or the child is released. The caller must own p.
func LocalPrivate[T any](c *Context, p wire.GlobalPointer) (*UniqueChild[T], error) {
	if !p.IsAddress() {
		return nil, ErrNotAddress
	}
	if !c.AmOwner(p) {
		return nil, ErrNotOwner
	}
	addr := p.Address()
	author := c.resolveAuthor(p)
	var value T

	if author == c.rank {
		r, ok := c.view.Get(addr)
		if !ok {
			return nil, ErrUnmapped
		}
		bp, err := committedAs[T](r.Committed)
		if err != nil {
			return nil, err
		}
		value = *bp.Get()
		c.view.BindCommitted(addr, nil)
	} else {
		if err := c.local.Send(author, wire.DaemonMessage{Op: wire.OpRLoad, Pointer: p, From: c.rank}); err != nil {
			return nil, errors.Wrap(err, "gam: requesting private object from author")
		}
		if err := backend.Unmarshal(&value, func() ([]byte, error) { return c.local.RawRecv(author), nil }); err != nil {
			return nil, errors.Wrap(err, "gam: decoding private object from author")
		}
		// PVT_RESET must be sent after the RLOAD it depends on, over
		// the same connection, so the author's daemon never processes
		// it out of order.
		if err := c.local.Send(author, wire.DaemonMessage{Op: wire.OpPVTReset, Pointer: p, From: c.rank}); err != nil {
			return nil, errors.Wrap(err, "gam: notifying author of withdraw")
		}
		if !c.view.Mapped(addr) {
			c.view.Map(addr, view.Record{AccessLevel: wire.AccessPrivate, Author: c.rank, Owner: c.rank})
		} else {
			c.view.BindAuthor(addr, c.rank)
		}
	}

	childID := c.view.NewChildID()
	c.view.BindChild(addr, childID)
	return newUniqueChild(c, addr, childID, value), nil
}

// Publish converts a PRIVATE address this rank owns into a freshly
// minted PUBLIC address holding the same value.
func Publish[T any](c *Context, p wire.GlobalPointer) (wire.GlobalPointer, error) {
	if !p.IsAddress() {
		return 0, ErrNotAddress
	}
	if !c.AmOwner(p) {
		return 0, ErrNotOwner
	}
	addr := p.Address()
	author := c.resolveAuthor(p)
	var value T

	if author == c.rank {
		r, ok := c.view.Get(addr)
		if !ok {
			return 0, ErrUnmapped
		}
		bp, err := committedAs[T](r.Committed)
		if err != nil {
			return 0, err
		}
		value = *bp.Get()
		_ = c.Unmap(p)
	} else {
		if err := c.local.Send(author, wire.DaemonMessage{Op: wire.OpRLoad, Pointer: p, From: c.rank}); err != nil {
			return 0, errors.Wrap(err, "gam: loading private object to publish")
		}
		if err := backend.Unmarshal(&value, func() ([]byte, error) { return c.local.RawRecv(author), nil }); err != nil {
			return 0, errors.Wrap(err, "gam: decoding private object to publish")
		}
		if err := c.local.Send(author, wire.DaemonMessage{Op: wire.OpPVTReset, Pointer: p, From: c.rank}); err != nil {
			return 0, errors.Wrap(err, "gam: notifying author before publish")
		}
		c.view.Unmap(addr)
	}

	return MmapPublic(c, value, nil), nil
}

func cacheLoad[T any](c *Context, addr uint64, dst *T) (bool, error) {
	return cache.Load(c.cache, addr, dst)
}

func cacheStore[T any](c *Context, addr uint64, value T) error {
	err := c.cache.Store(addr, backend.New(value, nil))
	if errors.Is(err, cache.ErrAlreadyCached) {
		return nil
	}
	return err
}

// daemonHandler adapts Context to daemon.Handler. It is a distinct
// type rather than Context itself because the application-facing
// RCInc/RCDec/RCGet operate on a wire.GlobalPointer and forward to a
// remote author, while the daemon calls back with the bare address
// it is already authoritative for.
type daemonHandler struct{ c *Context }

var _ daemon.Handler = daemonHandler{}

func (h daemonHandler) RCInc(addr uint64, from uint32) { h.c.mc.Inc(addr) }
func (h daemonHandler) RCDec(addr uint64, from uint32) {
	if h.c.mc.Dec(addr) == 0 {
		_ = h.c.Unmap(wire.GlobalPointer(addr))
	}
}
func (h daemonHandler) RCGet(addr uint64, from uint32) uint64 {
	return h.c.mc.Get(addr)
}

// PrivateReset implements daemon.Handler: the author forgets its
// bookkeeping for addr once another rank has withdrawn it locally.
func (h daemonHandler) PrivateReset(addr uint64, from uint32) {
	if r, ok := h.c.view.Unmap(addr); ok && r.Committed != nil {
		r.Committed.Close()
	}
}

// RLoad implements daemon.Handler: it returns the marshalled regions
// of addr's committed object, used to reply to a remote RLOAD
// request.
func (h daemonHandler) RLoad(addr uint64, from uint32) ([][]byte, error) {
	r, ok := h.c.view.Get(addr)
	if !ok || r.Committed == nil {
		return nil, ErrUnmapped
	}
	return r.Committed.Marshal()
}
