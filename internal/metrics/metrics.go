// Package metrics exposes the ambient Prometheus counters and gauges
// a running executor carries alongside the coherence protocol: it is
// deliberately kept out of internal/view, internal/memctl and
// internal/daemon's hot paths, wired in only where pkg/gam's Context
// calls out to it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric one executor process exposes.
// pkg/gam's Context updates RCRequests, RemoteLoads, CacheHits and
// CacheMisses; DaemonOps, ViewSize and CacheSize are registered but
// nothing updates them, so they stay at zero.
type Registry struct {
	RCRequests    *prometheus.CounterVec
	DaemonOps     *prometheus.CounterVec
	ViewSize      prometheus.Gauge
	CacheSize     prometheus.Gauge
	RemoteLoads   prometheus.Counter
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
}

// New registers every metric against reg and returns the bundle.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gam_rc_requests_total",
			Help: "Reference-count requests forwarded to a remote author, by operation.",
		}, []string{"op"}),
		DaemonOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gam_daemon_ops_total",
			Help: "Requests served by the daemon loop, by opcode.",
		}, []string{"op"}),
		ViewSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gam_view_records",
			Help: "Number of live address records in this executor's view.",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gam_cache_entries",
			Help: "Number of entries in this executor's read-through cache.",
		}),
		RemoteLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gam_remote_loads_total",
			Help: "RLOAD requests issued to a remote author.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gam_cache_hits_total",
			Help: "Local reads of a PUBLIC object satisfied by the cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gam_cache_misses_total",
			Help: "Local reads of a PUBLIC object that required a remote load.",
		}),
	}
	reg.MustRegister(r.RCRequests, r.DaemonOps, r.ViewSize, r.CacheSize, r.RemoteLoads, r.CacheHits, r.CacheMisses)
	return r
}
