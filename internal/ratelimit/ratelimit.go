// Package ratelimit implements a per-client token-bucket rate limiter that
// protects upstream resolvers and the local cache from query floods and
// amplification abuse.
package ratelimit

import (
	"sync"
	"time"

	"github.com/coredrift/dnsproxyd/internal/clock"
	"github.com/coredrift/dnsproxyd/internal/log"
)

const (
	DefaultRatePerSecond   = 100.0
	DefaultBurst           = 200
	DefaultCleanupInterval = 5 * time.Minute
)

// bucket is a token bucket for a single client address.
type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// Limiter enforces a per-IP token bucket: rate tokens/sec refilled
// continuously, up to burst tokens held at once.
type Limiter struct {
	mu sync.Mutex

	rate  float64
	burst float64

	cleanupInterval time.Duration
	lastCleanup     time.Time

	buckets map[string]*bucket
	clock   clock.Clock
	logger  log.Logger

	allowed uint64
	blocked uint64
	blockedByAddr map[string]uint64
}

// Options configures a new Limiter.
type Options struct {
	RatePerSecond   float64
	Burst           int
	CleanupInterval time.Duration
	Clock           clock.Clock
	Logger          log.Logger
}

// New constructs a Limiter.
func New(opts Options) *Limiter {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = DefaultRatePerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}

	return &Limiter{
		rate:            opts.RatePerSecond,
		burst:           float64(opts.Burst),
		cleanupInterval: opts.CleanupInterval,
		lastCleanup:     opts.Clock.Now(),
		buckets:         make(map[string]*bucket),
		clock:           opts.Clock,
		logger:          opts.Logger,
		blockedByAddr:   make(map[string]uint64),
	}
}

// Allow reports whether a query from addr may proceed, consuming one token
// from its bucket if so. The bucket is created on first use, seeded full.
func (l *Limiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.cleanupIfNeededLocked(now)

	b, ok := l.buckets[addr]
	if !ok {
		b = &bucket{tokens: l.burst, lastUpdate: now}
		l.buckets[addr] = b
	}

	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.lastUpdate = now
	b.tokens = min(l.burst, b.tokens+elapsed*l.rate)

	if b.tokens >= 1 {
		b.tokens--
		l.allowed++
		return true
	}

	l.blocked++
	l.blockedByAddr[addr]++
	l.logger.Warn(map[string]any{"addr": addr}, "rate limit exceeded")
	return false
}

// cleanupIfNeededLocked drops idle buckets (those that have refilled to full
// capacity since their last use) to bound memory growth from transient or
// spoofed source addresses. Called with l.mu held.
func (l *Limiter) cleanupIfNeededLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < l.cleanupInterval {
		return
	}
	l.lastCleanup = now

	removed := 0
	for addr, b := range l.buckets {
		refilled := min(l.burst, b.tokens+now.Sub(b.lastUpdate).Seconds()*l.rate)
		if refilled >= l.burst {
			delete(l.buckets, addr)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug(map[string]any{"removed": removed}, "cleaned up idle rate limit buckets")
	}
}

// Stats reports cumulative allow/block counters.
type Stats struct {
	Allowed       uint64
	Blocked       uint64
	ActiveBuckets int
}

// Stats returns a snapshot of cumulative counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Allowed:       l.allowed,
		Blocked:       l.blocked,
		ActiveBuckets: len(l.buckets),
	}
}

// BlockedFor returns how many queries from addr have been blocked.
func (l *Limiter) BlockedFor(addr string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockedByAddr[addr]
}
