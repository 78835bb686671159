// Package backend owns the local, type-erased storage for one
// materialized object: the polymorphic "committed" slot a view
// Record points at, and the marshal/ingest strategy that turns it
// into wire regions and back. Go interfaces stand in for what would
// otherwise need a polymorphic base type.
package backend

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Committed is the type-erased handle a view Record holds: something
// that can be marshalled onto the wire and released when unmapped,
// satisfied by the generic Ptr[T] below.
type Committed interface {
	Marshal() ([][]byte, error)
	Close()
}

// Marshaler lets a type take over its own wire representation instead
// of the default cbor round-trip: a type that knows how to chunk
// itself into regions (and read them back) gets to.
type Marshaler interface {
	MarshalRegions() ([][]byte, error)
	UnmarshalRegions(next func() ([]byte, error)) error
}

// Ptr is the generic, typed owner of one materialized T: the
// original's backend_typed_ptr<T, Deleter>. A nil Deleter means "no
// cleanup owed", matching nop_deleter.
type Ptr[T any] struct {
	value   T
	deleter func(*T)
}

// New wraps value, to be released by deleter (nil for none) when
// Close is called.
func New[T any](value T, deleter func(*T)) *Ptr[T] {
	return &Ptr[T]{value: value, deleter: deleter}
}

// Get returns a pointer to the owned value.
func (p *Ptr[T]) Get() *T {
	return &p.value
}

// Close runs the deleter, if any. Safe to call on a nil *Ptr.
func (p *Ptr[T]) Close() {
	if p == nil || p.deleter == nil {
		return
	}
	p.deleter(&p.value)
}

// Marshal implements Committed. A type implementing Marshaler
// chunks itself; otherwise the value is cbor-encoded as one region.
func (p *Ptr[T]) Marshal() ([][]byte, error) {
	if m, ok := any(&p.value).(Marshaler); ok {
		return m.MarshalRegions()
	}
	b, err := cbor.Marshal(p.value)
	if err != nil {
		return nil, errors.Wrap(err, "backend: cbor marshal")
	}
	return [][]byte{b}, nil
}

// Unmarshal reconstructs a *T from wire regions supplied one at a
// time by next. A type implementing Marshaler drives its own number
// of reads; otherwise exactly one region is expected and cbor-decoded.
func Unmarshal[T any](dst *T, next func() ([]byte, error)) error {
	if m, ok := any(dst).(Marshaler); ok {
		return m.UnmarshalRegions(next)
	}
	b, err := next()
	if err != nil {
		return errors.Wrap(err, "backend: reading region")
	}
	if err := cbor.Unmarshal(b, dst); err != nil {
		return errors.Wrap(err, "backend: cbor unmarshal")
	}
	return nil
}

// Copy performs copy-assignment without a raw memcpy; it is what a
// local read of a PUBLIC address uses on the author. Cache loads and
// remote loads decode wire regions with Unmarshal instead. A type
// that implements Cloner takes over; otherwise a cbor round trip
// stands in for copy-assignment.
func Copy[T any](dst *T, src *T) error {
	if c, ok := any(src).(Cloner[T]); ok {
		*dst = c.Clone()
		return nil
	}
	b, err := cbor.Marshal(*src)
	if err != nil {
		return errors.Wrap(err, "backend: cbor marshal during copy")
	}
	if err := cbor.Unmarshal(b, dst); err != nil {
		return errors.Wrap(err, "backend: cbor unmarshal during copy")
	}
	return nil
}

// Cloner lets a type define its own deep copy instead of a cbor
// round trip, for types where that would be lossy or expensive.
type Cloner[T any] interface {
	Clone() T
}
