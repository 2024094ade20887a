// Package ontology is the process-wide, time-expiring type-label->type
// cache (C4). It is the only globally-shared mutable resource in the
// engine (spec §5): every transaction reads through it, lazily via its
// txlog on first reference to a label, and a
// committing transaction publishes a new, fully-formed snapshot of each
// type it touched rather than mutating an entry in place.
//
// Bounding and expiry reuse github.com/hashicorp/golang-lru/v2/expirable,
// the same family of cache the teacher pulls in transitively (go.mod lists
// both golang-lru and golang-lru/v2) but never exercises directly — this
// is the first caller in this codebase to actually wire it up.
package ontology

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/typegraph/typegraph/internal/concept"
)

// Mode selects which of the two configured write-expiries (spec §6,
// ontology.cache.timeout.ms.{normal,batch}) applies to entries a
// transaction promotes into the cache.
type Mode int

const (
	Interactive Mode = iota
	BatchLoad
)

// Config bounds the cache (spec §4.3): MaxEntries caps the number of
// resident type snapshots; NormalTTL/BatchTTL are the two write-expiries,
// chosen per transaction by Mode.
type Config struct {
	MaxEntries int
	NormalTTL  time.Duration
	BatchTTL   time.Duration
}

// DefaultConfig matches spec §6's stated default for sharding.threshold's
// sibling knob: 1000 entries, with the caller supplying both TTLs.
func DefaultConfig(normalTTL, batchTTL time.Duration) Config {
	return Config{MaxEntries: 1000, NormalTTL: normalTTL, BatchTTL: batchTTL}
}

type entry struct {
	snapshot  *concept.Type
	expiresAt time.Time
}

// Cache holds immutable type snapshots. A snapshot placed into the cache
// is the value observed by subsequent read-only lookups until it expires
// or a commit replaces it (spec §4.3); readers never see a
// half-constructed concept because Put always receives a fully-built
// *concept.Type and Get returns a defensive clone, never the live pointer.
type Cache struct {
	cfg Config
	mu  sync.Mutex
	lru *lru.LRU[string, *entry]
}

// New builds a cache bounded and expired per cfg. The underlying
// expirable.LRU is given the longer of the two TTLs as its hard ceiling;
// Get additionally enforces each entry's own mode-specific deadline, so a
// normal-mode write still expires at NormalTTL even though the LRU's
// internal sweep only runs at BatchTTL granularity.
func New(cfg Config) *Cache {
	ceiling := cfg.NormalTTL
	if cfg.BatchTTL > ceiling {
		ceiling = cfg.BatchTTL
	}
	return &Cache{
		cfg: cfg,
		lru: lru.NewLRU[string, *entry](cfg.MaxEntries, nil, ceiling),
	}
}

// Get returns a clone of the cached type for label, or (nil, false) on a
// miss or an entry that has passed its mode-specific expiry.
func (c *Cache) Get(label string) (*concept.Type, bool) {
	c.mu.Lock()
	e, ok := c.lru.Get(label)
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		c.lru.Remove(label)
		c.mu.Unlock()
		return nil, false
	}
	return e.snapshot.Clone(), true
}

// Put publishes a new immutable snapshot for label, replacing whatever
// was cached under that label. This is the "atomic snapshot swap" spec
// §4.3 and §5 describe: the old entry, if any, simply stops being
// reachable once this call returns — there is no partially-updated state
// visible in between.
func (c *Cache) Put(label string, snapshot *concept.Type, mode Mode) {
	ttl := c.cfg.NormalTTL
	if mode == BatchLoad {
		ttl = c.cfg.BatchTTL
	}
	c.mu.Lock()
	c.lru.Add(label, &entry{snapshot: snapshot.Clone(), expiresAt: time.Now().Add(ttl)})
	c.mu.Unlock()
}

// Remove evicts label unconditionally. The post-commit shard rollover step
// uses it to drop a snapshot whose instance count it has just changed.
func (c *Cache) Remove(label string) {
	c.mu.Lock()
	c.lru.Remove(label)
	c.mu.Unlock()
}

// Len reports the number of resident (not-yet-expired-by-LRU) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
