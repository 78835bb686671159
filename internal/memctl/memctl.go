// Package memctl tracks the reference counts backing every PUBLIC
// address, using a mutex-guarded map of *atomic.Uint64 counters. The
// map lock is only ever held long enough to locate or create an
// address's counter; the increment/decrement itself happens without
// it.
package memctl

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrAlreadyInitialized is returned by Init when the address already
// has a reference count.
var ErrAlreadyInitialized = errors.New("memctl: address already initialized")

type Controller struct {
	mu     sync.Mutex
	counts map[uint64]*atomic.Uint64
}

func New() *Controller {
	return &Controller{counts: make(map[uint64]*atomic.Uint64)}
}

// Init seeds a's reference count at 1, the value every address is
// born with: one implicit reference held by its creator.
func (c *Controller) Init(a uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counts[a]; ok {
		return ErrAlreadyInitialized
	}
	v := &atomic.Uint64{}
	v.Store(1)
	c.counts[a] = v
	return nil
}

func (c *Controller) entry(a uint64) *atomic.Uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.counts[a]
	if !ok {
		v = &atomic.Uint64{}
		c.counts[a] = v
	}
	return v
}

// Inc increments a's reference count and returns the new value.
func (c *Controller) Inc(a uint64) uint64 {
	return c.entry(a).Add(1)
}

// Dec decrements a's reference count and returns the new value.
func (c *Controller) Dec(a uint64) uint64 {
	v := c.entry(a)
	for {
		cur := v.Load()
		if cur == 0 {
			return 0
		}
		if v.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// Get returns a's current reference count.
func (c *Controller) Get(a uint64) uint64 {
	return c.entry(a).Load()
}

// Forget drops a's counter entirely, once the last reference has
// gone and the address has been unmapped.
func (c *Controller) Forget(a uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, a)
}
