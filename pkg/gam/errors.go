package gam

import "github.com/pkg/errors"

// Sentinel errors for programmer-misuse conditions: these are
// returned, never panicked, and are meant to be compared with
// errors.Is.
var (
	ErrNotAddress     = errors.New("gam: global pointer does not name an address")
	ErrNotOwner       = errors.New("gam: rank does not own this private address")
	ErrNotAuthor      = errors.New("gam: rank did not author this address")
	ErrAccessMismatch = errors.New("gam: access level mismatch for this operation")
	ErrUnmapped       = errors.New("gam: global pointer has no view record")
	ErrTypeMismatch   = errors.New("gam: committed object does not match requested type")
	ErrNoParent       = errors.New("gam: local child is not bound to a global address")
	ErrShuttingDown   = errors.New("gam: context is shutting down")
)
