// Package cache implements the TTL-aware LRU response cache: a bounded
// mapping from query key to a fully transformed response, with opportunistic
// expiry so lookups stay O(1) amortized instead of sweeping on every get.
package cache

import (
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/coredrift/dnsproxyd/internal/clock"
	"github.com/coredrift/dnsproxyd/internal/domain"
)

// DefaultSweepInterval is how often a sweep runs even if the probability
// gate doesn't fire, bounding worst-case staleness of expired entries.
const DefaultSweepInterval = 300 * time.Second

// DefaultSweepProbability is the per-access chance of running an opportunistic sweep.
const DefaultSweepProbability = 0.1

// Stats reports cumulative cache counters.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type entry struct {
	response domain.Message
	expiry   time.Time
}

// Cache is a bounded, thread-safe, TTL-aware LRU mapping from query key to
// response. Exactly one writer may mutate the backing store at a time;
// readers never observe a partially written entry.
type Cache struct {
	mu sync.Mutex

	store   *lru.Cache[string, entry]
	maxSize int
	clock   clock.Clock

	sweepInterval   time.Duration
	sweepProbablity float64
	lastSweep       time.Time
	rng             *rand.Rand

	hits      uint64
	misses    uint64
	evictions *uint64 // written synchronously by the LRU's OnEvict callback, under c.mu
}

// Options configures a new Cache.
type Options struct {
	MaxSize         int
	Clock           clock.Clock
	SweepInterval   time.Duration
	SweepProbablity float64
}

// New constructs a Cache backed by an LRU store of the given maximum size.
func New(opts Options) (*Cache, error) {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.SweepProbablity <= 0 {
		opts.SweepProbablity = DefaultSweepProbability
	}

	var evicted uint64
	c := &Cache{
		maxSize:         opts.MaxSize,
		clock:           opts.Clock,
		sweepInterval:   opts.SweepInterval,
		sweepProbablity: opts.SweepProbablity,
		lastSweep:       opts.Clock.Now(),
		rng:             rand.New(rand.NewSource(opts.Clock.Now().UnixNano())),
	}

	store, err := lru.NewWithEvict[string, entry](opts.MaxSize, func(string, entry) {
		evicted++
	})
	if err != nil {
		return nil, err
	}
	c.store = store
	c.evictions = &evicted
	return c, nil
}

// Get returns the cached response for key if present and not expired,
// updating its LRU position on hit. Regardless of outcome, it may trigger an
// opportunistic sweep of expired entries: with probability sweepProbablity,
// or if the sweep interval has elapsed since the last sweep.
func (c *Cache) Get(key string) (domain.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.store.Get(key)
	now := c.clock.Now()
	if found && now.Before(e.expiry) {
		c.hits++
		c.maybeSweepLocked(now)
		return e.response, true
	}
	if found {
		// Expired: drop it immediately rather than waiting for the sweep,
		// so a hot expired key doesn't keep counting as a (false) hit.
		c.store.Remove(key)
	}
	c.misses++
	c.maybeSweepLocked(now)
	return domain.Message{}, false
}

// Set inserts response under key with an absolute expiry of now+ttl,
// replacing any existing entry for the same key. If the cache is at
// capacity, the LRU store evicts the least-recently-used entry to make room.
func (c *Cache) Set(key string, response domain.Message, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.store.Add(key, entry{response: response, expiry: now.Add(ttl)})
}

// maybeSweepLocked runs an incremental expiry sweep if the probability gate
// fires or the sweep interval has elapsed. Expired keys are collected first,
// then deleted, so the exclusive lock (already held by the caller) is never
// held any longer than necessary for the delete pass.
func (c *Cache) maybeSweepLocked(now time.Time) {
	due := now.Sub(c.lastSweep) > c.sweepInterval
	if !due && c.rng.Float64() >= c.sweepProbablity {
		return
	}
	c.lastSweep = now

	var expired []string
	for _, key := range c.store.Keys() {
		if e, ok := c.store.Peek(key); ok && !now.Before(e.expiry) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.store.Remove(key)
	}
}

// Clear removes all entries from the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Purge()
}

// Len returns the current number of entries in the cache.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}

// Stats returns a snapshot of cumulative cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evictions uint64
	if c.evictions != nil {
		evictions = *c.evictions
	}
	return Stats{
		Size:      c.store.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: evictions,
	}
}
