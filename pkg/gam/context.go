// Package gam is the public surface of the runtime: Context, the
// per-executor coordinator, and the PublicPtr/PrivatePtr facades
// application code actually holds. Everything in internal/ is wired
// together here behind a single entry point.
package gam

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alpha-unito/gam/internal/backend"
	"github.com/alpha-unito/gam/internal/bootstrap"
	"github.com/alpha-unito/gam/internal/cache"
	"github.com/alpha-unito/gam/internal/daemon"
	"github.com/alpha-unito/gam/internal/links"
	"github.com/alpha-unito/gam/internal/memctl"
	"github.com/alpha-unito/gam/internal/metrics"
	"github.com/alpha-unito/gam/internal/view"
	"github.com/alpha-unito/gam/internal/wire"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Context is the coordinator every executor constructs exactly once:
// it owns the view, the reference-count table, the read-through
// cache, the three Links channels and the daemon thread serving
// remote requests.
type Context struct {
	rank        uint32
	cardinality uint32

	log *logrus.Entry

	view   *view.View
	mc     *memctl.Controller
	cache  *cache.Cache
	metrics *metrics.Registry

	pap    *links.Links[wire.PapMessage]
	local  *links.Links[wire.DaemonMessage]
	remote *links.Links[wire.DaemonMessage]

	nextOffset atomic.Uint32

	daemon *daemon.Daemon
	stop   chan struct{}
	wg     sync.WaitGroup
}

// Option configures optional pieces of a Context at construction.
type Option func(*options)

type options struct {
	cacheBackend  cache.Backend
	registerer    prometheus.Registerer
}

// WithCacheBackend overrides the default unbounded in-memory cache
// backend, e.g. with cache.NewBoltBackend for --cache-backend=bbolt.
func WithCacheBackend(b cache.Backend) Option {
	return func(o *options) { o.cacheBackend = b }
}

// WithMetricsRegisterer registers this executor's metrics against r
// instead of the fresh, private registry New creates by default.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// New wires a Context for cfg: binds the three Links channels,
// connects to every peer and starts the daemon goroutine. Failure to
// bind or to reach a peer is a configuration error and is returned,
// never panicked.
func New(cfg bootstrap.Config, opts ...Option) (*Context, error) {
	o := options{cacheBackend: cache.NewMemBackend(), registerer: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(&o)
	}

	log := logrus.WithFields(logrus.Fields{
		"component": "gam.Context",
		"rank":      cfg.Rank,
	})
	if cfg.LogPrefix != "" {
		log = log.WithField("prefix", cfg.LogPrefix)
	}

	c := &Context{
		rank:        cfg.Rank,
		cardinality: cfg.Cardinality,
		log:         log,
		view:        view.New(),
		mc:          memctl.New(),
		cache:       cache.New(o.cacheBackend),
		metrics:     metrics.New(o.registerer),
		stop:        make(chan struct{}),
	}

	self := cfg.Nodes[cfg.Rank]
	c.pap = links.New[wire.PapMessage](cfg.Rank, log.WithField("link", "pap"))
	c.local = links.New[wire.DaemonMessage](cfg.Rank, log.WithField("link", "local"))
	c.remote = links.New[wire.DaemonMessage](cfg.Rank, log.WithField("link", "remote"))

	if err := c.pap.Init(hostPort(self.Host, self.SvcPap)); err != nil {
		return nil, errors.Wrap(err, "gam: binding pap channel")
	}
	if err := c.local.Init(hostPort(self.Host, self.SvcMem)); err != nil {
		return nil, errors.Wrap(err, "gam: binding local channel")
	}
	if err := c.remote.Init(hostPort(self.Host, self.SvcDmn)); err != nil {
		return nil, errors.Wrap(err, "gam: binding remote channel")
	}

	// Cross-wiring: local sends requests to the peer's remote
	// endpoint; remote sends replies to the peer's local endpoint.
	// This keeps every request and its FIFO-dependent follow-up on
	// the same persistent connection.
	for i := uint32(0); i < cfg.Cardinality; i++ {
		if i == cfg.Rank {
			continue
		}
		node := cfg.Nodes[i]
		if err := c.pap.Peer(i, hostPort(node.Host, node.SvcPap)); err != nil {
			return nil, errors.Wrapf(err, "gam: peering pap channel with rank %d", i)
		}
		if err := c.local.Peer(i, hostPort(node.Host, node.SvcDmn)); err != nil {
			return nil, errors.Wrapf(err, "gam: peering local channel with rank %d", i)
		}
		if err := c.remote.Peer(i, hostPort(node.Host, node.SvcMem)); err != nil {
			return nil, errors.Wrapf(err, "gam: peering remote channel with rank %d", i)
		}
	}

	c.daemon = daemon.New(cfg.Rank, c.remote, c.local, daemonHandler{c}, log.WithField("component", "daemon"))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.daemon.Run(c.stop, int(cfg.Cardinality)-1)
	}()

	return c, nil
}

func hostPort(host, svc string) string {
	return fmt.Sprintf("%s:%s", host, svc)
}

// Shutdown signals the daemon to broadcast termination and drain,
// then releases the Links channels. Calling it more than once is not
// supported.
func (c *Context) Shutdown() {
	close(c.stop)
	c.wg.Wait()
	_ = c.pap.Close()
	_ = c.local.Close()
	_ = c.remote.Close()
	_ = c.cache.Close()
}

// Rank returns this executor's rank.
func (c *Context) Rank() uint32 { return c.rank }

// Cardinality returns the fixed size of the executor group.
func (c *Context) Cardinality() uint32 { return c.cardinality }

func (c *Context) allocate() uint32 {
	return c.nextOffset.Add(1)
}

// IsPublic reports whether p is mapped with PUBLIC access.
func (c *Context) IsPublic(p wire.GlobalPointer) bool {
	r, ok := c.view.Get(p.Address())
	return ok && r.AccessLevel == wire.AccessPublic
}

// IsPrivate reports whether p is mapped with PRIVATE access.
func (c *Context) IsPrivate(p wire.GlobalPointer) bool {
	r, ok := c.view.Get(p.Address())
	return ok && r.AccessLevel == wire.AccessPrivate
}

// AmOwner reports whether this rank currently owns the PRIVATE
// address p (meaningless, and false, for a PUBLIC address).
func (c *Context) AmOwner(p wire.GlobalPointer) bool {
	r, ok := c.view.Get(p.Address())
	return ok && r.AccessLevel == wire.AccessPrivate && r.Owner == c.rank
}

// AmAuthor reports whether this rank currently authors p.
func (c *Context) AmAuthor(p wire.GlobalPointer) bool {
	return c.resolveAuthor(p) == c.rank
}

// Author returns the rank that currently authors p: the view
// record's stored author when this rank has one for p, since
// authorship of a PRIVATE address migrates on withdraw (LocalPrivate);
// the pointer's home field otherwise, since that is where an
// unmapped address's original author can still be recovered from.
func (c *Context) Author(p wire.GlobalPointer) uint32 {
	return c.resolveAuthor(p)
}

func (c *Context) resolveAuthor(p wire.GlobalPointer) uint32 {
	if r, ok := c.view.Get(p.Address()); ok {
		return r.Author
	}
	return p.Home()
}

// HasParent reports whether the local child identified by childID is
// currently bound to a global address.
func (c *Context) HasParent(childID uint64) bool {
	return c.view.HasParent(childID)
}

// Parent returns the global address childID is bound to.
func (c *Context) Parent(childID uint64) (wire.GlobalPointer, bool) {
	a, ok := c.view.Parent(childID)
	if !ok {
		return 0, false
	}
	return wire.GlobalPointer(a), true
}

func committedAs[T any](c backend.Committed) (*backend.Ptr[T], error) {
	p, ok := c.(*backend.Ptr[T])
	if !ok {
		return nil, ErrTypeMismatch
	}
	return p, nil
}
