package cache

import "sync"

// memBackend is the default Backend: an unbounded in-memory map used
// as the always-available fallback when no persistent store is
// configured.
type memBackend struct {
	mu      sync.Mutex
	regions map[uint64][][]byte
}

// NewMemBackend returns the default in-memory Backend.
func NewMemBackend() Backend {
	return &memBackend{regions: make(map[uint64][][]byte)}
}

func (b *memBackend) Put(addr uint64, regions [][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regions[addr] = regions
	return nil
}

func (b *memBackend) Get(addr uint64) ([][]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.regions[addr]
	return r, ok, nil
}

func (b *memBackend) Has(addr uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.regions[addr]
	return ok
}

func (b *memBackend) Close() error {
	return nil
}
