// Package cache implements the read-through replica of remote PUBLIC
// objects: a small Backend interface with an in-memory default and an
// optional on-disk implementation, selected at construction time
// rather than hard-wired.
package cache

import (
	"sync"

	"github.com/alpha-unito/gam/internal/backend"
	"github.com/pkg/errors"
)

// ErrAlreadyCached is returned by Store when the address already has
// an entry.
var ErrAlreadyCached = errors.New("cache: address already cached")

// Backend stores and retrieves the marshalled wire regions of one
// object, keyed by address. Implementations never interpret the
// bytes; Cache is the layer that knows how to re-typed them.
type Backend interface {
	Put(addr uint64, regions [][]byte) error
	Get(addr uint64) ([][]byte, bool, error)
	Has(addr uint64) bool
	Close() error
}

// Cache is the read-through replica Context consults before issuing
// a remote load. It is unbounded; eviction is future work, not a
// behaviour this implementation claims to have.
type Cache struct {
	mu      sync.Mutex
	backend Backend
}

// New wraps backend as a Cache.
func New(b Backend) *Cache {
	return &Cache{backend: b}
}

// Store marshals committed and inserts it under addr. It is an error
// to store into an address already cached: a cache entry for a
// PUBLIC address is only ever populated once, on the first remote
// load.
func (c *Cache) Store(addr uint64, committed backend.Committed) error {
	regions, err := committed.Marshal()
	if err != nil {
		return errors.Wrap(err, "cache: marshalling for store")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend.Has(addr) {
		return ErrAlreadyCached
	}
	return c.backend.Put(addr, regions)
}

// Available reports whether addr currently has a cached entry,
// without materializing it.
func (c *Cache) Available(addr uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Has(addr)
}

// Close releases the underlying backend's resources.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Close()
}

// Load fetches addr's cached regions and decodes them into dst,
// reporting whether the address was present. Go cannot attach a type
// parameter to a method, so this is a package-level function rather
// than Cache.Load[T].
func Load[T any](c *Cache, addr uint64, dst *T) (bool, error) {
	c.mu.Lock()
	regions, ok, err := c.backend.Get(addr)
	c.mu.Unlock()
	if err != nil {
		return false, errors.Wrap(err, "cache: reading backend")
	}
	if !ok {
		return false, nil
	}
	i := 0
	err = backend.Unmarshal(dst, func() ([]byte, error) {
		if i >= len(regions) {
			return nil, errors.New("cache: region underflow decoding cached entry")
		}
		r := regions[i]
		i++
		return r, nil
	})
	if err != nil {
		return false, errors.Wrap(err, "cache: decoding cached entry")
	}
	return true, nil
}
