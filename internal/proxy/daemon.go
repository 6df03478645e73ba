package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshuafuller/beacon/querier"

	"github.com/mdns-discovery-proxy/proxy/internal/mdnsengine"
	"github.com/mdns-discovery-proxy/proxy/internal/rrcache"
)

// Config bundles the runtime settings a Daemon needs, already validated and
// normalized by internal/config.
type Config struct {
	DiscoveryDomain    string
	CacheEnabled       bool
	CacheTTL           time.Duration
	SuppressionEnabled bool
	Timeouts           mdnsengine.Timeouts
}

// Daemon owns the mDNS querier, the shared result cache, and the Handler
// that serves both the UDP and TCP listeners. Start/Shutdown give the
// daemon an explicit lifecycle distinct from the dns.Server instances that
// use it, so the mDNS socket is opened once regardless of how many
// transports are listening.
type Daemon struct {
	cfg     Config
	log     *logrus.Logger
	querier *querier.Querier
	cache   *rrcache.Cache
	Handler *Handler
}

// NewDaemon constructs a Daemon. The mDNS socket is not opened until Start
// is called. When cfg.CacheEnabled is false, no cache is constructed at
// all: the Handler's Cache field stays nil, and every cache check along the
// lookup path already treats a nil *rrcache.Cache as "skip this step", which
// functionally disables the cache per spec §4.3/§3's cache.enabled knob.
func NewDaemon(cfg Config, log *logrus.Logger) *Daemon {
	d := &Daemon{cfg: cfg, log: log}
	if cfg.CacheEnabled {
		d.cache = rrcache.New(cfg.CacheTTL)
	}
	return d
}

// Start opens the multicast querier and wires the proxy Handler. It must
// complete before either dns.Server is handed the Daemon's Handler.
func (d *Daemon) Start(ctx context.Context) error {
	q, err := querier.New()
	if err != nil {
		return fmt.Errorf("starting mdns querier: %w", err)
	}
	d.querier = q

	engine := mdnsengine.New(q, d.cfg.Timeouts, d.log)

	d.Handler = &Handler{
		DiscoveryDomain:    d.cfg.DiscoveryDomain,
		Engine:             engine,
		Cache:              d.cache,
		SuppressionEnabled: d.cfg.SuppressionEnabled,
		Log:                d.log,
	}

	return nil
}

// Shutdown releases the multicast querier's socket. Safe to call even if
// Start failed or was never called.
func (d *Daemon) Shutdown() error {
	if d.querier == nil {
		return nil
	}
	return d.querier.Close()
}

// CacheStats exposes the shared cache's hit/miss/entry counters, surfaced by
// the daemon for an operational debug log line. Returns the zero Stats when
// the cache is disabled.
func (d *Daemon) CacheStats() rrcache.Stats {
	if d.cache == nil {
		return rrcache.Stats{}
	}
	return d.cache.Stats()
}
