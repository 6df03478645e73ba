// Package rrcache implements the per-record-type query-result cache that
// shields the shared mDNS daemon from duplicate concurrent browses.
//
// It is modeled on the teacher resolver's cache.Cache (keyed LRU map guarded
// by a single mutex) but generalized to the proxy's semantics: keys are
// (owner name, record type) rather than (server address, question), there is
// no size-bounded LRU eviction, and entries expire purely by TTL with a lazy
// sweep on insert. The map lookup in Get takes a shared lock, but Get then
// takes the exclusive lock briefly to update the hit/miss counters, so
// concurrent Gets do serialize on that counter update; Insert holds the
// exclusive lock for the store and the sweep.
package rrcache

import (
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Key identifies a cache entry: the owner name in canonical lower-case
// UTF-8 form (the discovery-domain form, not the ".local." form) and the
// queried record type.
type Key struct {
	Owner string
	Type  uint16
}

// NewKey builds a Key from an owner name and record type, lower-casing the
// owner so lookups are case-insensitive per spec.
func NewKey(owner string, qtype uint16) Key {
	return Key{Owner: toLower(owner), Type: qtype}
}

func toLower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

type entry struct {
	records    []dns.RR
	insertedAt time.Time
}

// Stats reports a point-in-time snapshot of cache activity, ported from the
// original implementation's per-query-type counters (used for an
// operational debug log line, not a metrics endpoint).
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// Cache is a TTL-bounded, thread-safe map of Key to a recorded RR set.
//
// A ttl of zero functionally disables the cache: every entry is immediately
// considered stale on the next Get.
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[Key]entry

	hits   uint64
	misses uint64
}

// New returns a Cache whose entries are considered fresh for ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: map[Key]entry{},
	}
}

// Get returns the cached record set for key if present and still within
// TTL. The returned slice is a fresh copy of the stored records; mutating it
// does not affect the cache.
func (c *Cache) Get(key Key) ([]dns.RR, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.stale(e) {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()

	return cloneRecords(e.records), true
}

func (c *Cache) stale(e entry) bool {
	return time.Since(e.insertedAt) >= c.ttl
}

// Insert stores records under key, then prunes every entry (including ones
// under other keys) whose age exceeds the TTL. Insertion and pruning happen
// under the same exclusive lock, so a concurrent reader always observes
// either the prior entry or the fully-written new one.
func (c *Cache) Insert(key Key, records []dns.RR) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		records:    cloneRecords(records),
		insertedAt: time.Now(),
	}

	c.prune()
}

// prune must be called with c.mu held for writing.
func (c *Cache) prune() {
	for k, e := range c.entries {
		if c.stale(e) {
			delete(c.entries, k)
		}
	}
}

// Stats returns a snapshot of hit/miss/entry counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Entries: len(c.entries),
	}
}

func cloneRecords(rrs []dns.RR) []dns.RR {
	if rrs == nil {
		return nil
	}
	out := make([]dns.RR, len(rrs))
	for i, rr := range rrs {
		out[i] = dns.Copy(rr)
	}
	return out
}
