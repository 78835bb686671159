// Package view implements the per-executor address table: the map
// from a GlobalPointer's 64-bit descriptor to everything the runtime knows about
// it locally (access level, author, owner, committed backing object,
// bound child), plus its inverse, from a locally minted child id back
// to the address it is bound under.
package view

import (
	"sync"

	"github.com/alpha-unito/gam/internal/backend"
	"github.com/alpha-unito/gam/internal/wire"
)

// Record is everything the view knows about one address.
type Record struct {
	AccessLevel wire.AccessLevel
	Author      uint32
	Owner       uint32 // meaningful only when AccessLevel == AccessPrivate
	Committed   backend.Committed
	Child       uint64 // id of the bound local child, 0 if none
}

// View is the concurrent address table. Each of the two maps it
// wraps is guarded by its own mutex: the address table and the
// inverse child table are never locked together.
type View struct {
	mu      sync.Mutex
	records map[uint64]*Record

	parentsMu sync.Mutex
	parents   map[uint64]uint64 // child id -> address

	nextChild uint64
}

// New returns an empty View.
func New() *View {
	return &View{
		records: make(map[uint64]*Record),
		parents: make(map[uint64]uint64),
	}
}

// NewChildID mints a fresh, process-unique id to stand in for a
// locally materialized child object, independent of the object's
// address in memory (which the Go runtime is free to move).
func (v *View) NewChildID() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextChild++
	return v.nextChild
}

// Mapped reports whether a has a record.
func (v *View) Mapped(a uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.records[a]
	return ok
}

// Get returns a's record and true, or a zero Record and false if a is
// not mapped. The returned Record is a copy; callers mutate the view
// through Map and the Bind* methods, never through the copy.
func (v *View) Get(a uint64) (Record, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.records[a]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Map inserts a fresh record for a, overwriting any previous one.
func (v *View) Map(a uint64, r Record) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[a] = &r
}

// Unmap removes a's record, if any, returning it for the caller to
// release (closing any committed backend object is the caller's
// responsibility). It also severs any child binding.
func (v *View) Unmap(a uint64) (Record, bool) {
	v.mu.Lock()
	r, ok := v.records[a]
	if ok {
		delete(v.records, a)
	}
	v.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	if r.Child != 0 {
		v.parentsMu.Lock()
		delete(v.parents, r.Child)
		v.parentsMu.Unlock()
	}
	return *r, true
}

// BindCommitted attaches a committed backend object to a's record.
func (v *View) BindCommitted(a uint64, c backend.Committed) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if r, ok := v.records[a]; ok {
		r.Committed = c
	}
}

// BindOwner rewrites a's owner. Used when a private address migrates.
func (v *View) BindOwner(a uint64, owner uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if r, ok := v.records[a]; ok {
		r.Owner = owner
	}
}

// BindAuthor rewrites a's author. Used when a rank withdraws a private
// object it did not mint: it becomes the address's new author.
func (v *View) BindAuthor(a uint64, author uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if r, ok := v.records[a]; ok {
		r.Author = author
	}
}

// BindChild binds a's record to a locally minted child id and
// records the inverse mapping.
func (v *View) BindChild(a uint64, child uint64) {
	v.mu.Lock()
	if r, ok := v.records[a]; ok {
		r.Child = child
	}
	v.mu.Unlock()

	v.parentsMu.Lock()
	v.parents[child] = a
	v.parentsMu.Unlock()
}

// UnbindParent severs the inverse mapping for child without touching
// the forward record (used when a local child is released but its
// address keeps living, e.g. after a private withdraw completes).
func (v *View) UnbindParent(child uint64) {
	v.parentsMu.Lock()
	defer v.parentsMu.Unlock()
	delete(v.parents, child)
}

// HasParent reports whether child is currently bound to an address.
func (v *View) HasParent(child uint64) bool {
	v.parentsMu.Lock()
	defer v.parentsMu.Unlock()
	_, ok := v.parents[child]
	return ok
}

// Parent returns the address child is bound to, if any.
func (v *View) Parent(child uint64) (uint64, bool) {
	v.parentsMu.Lock()
	defer v.parentsMu.Unlock()
	a, ok := v.parents[child]
	return a, ok
}

// Len reports the number of live records, used by tests asserting
// that a scenario leaves no residual state behind.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.records)
}
