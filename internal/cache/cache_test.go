package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/coredrift/dnsproxyd/internal/clock"
	"github.com/coredrift/dnsproxyd/internal/domain"
)

func newTestCache(t *testing.T, maxSize int, mock *clock.MockClock) *Cache {
	t.Helper()
	c, err := New(Options{MaxSize: maxSize, Clock: mock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCacheIdempotenceUntilExpiry(t *testing.T) {
	mock := &clock.MockClock{CurrentTime: time.Unix(0, 0)}
	c := newTestCache(t, 10, mock)

	resp := domain.Message{ID: 1}
	c.Set("example.com.:1:1", resp, 5*time.Second)

	got, ok := c.Get("example.com.:1:1")
	if !ok || got.ID != 1 {
		t.Fatalf("expected hit immediately after set, got ok=%v", ok)
	}

	mock.Advance(4 * time.Second)
	if _, ok := c.Get("example.com.:1:1"); !ok {
		t.Fatal("expected hit before ttl expiry")
	}

	mock.Advance(2 * time.Second)
	if _, ok := c.Get("example.com.:1:1"); ok {
		t.Fatal("expected miss after ttl expiry")
	}
}

func TestCacheBoundEvictsLRU(t *testing.T) {
	mock := &clock.MockClock{CurrentTime: time.Unix(0, 0)}
	c := newTestCache(t, 2, mock)

	c.Set("a", domain.Message{ID: 1}, time.Minute)
	c.Set("b", domain.Message{ID: 2}, time.Minute)
	c.Set("c", domain.Message{ID: 3}, time.Minute)

	if c.Len() > 2 {
		t.Fatalf("expected cache len <= 2, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("expected least-recently-used entry 'a' to have been evicted")
	}
	stats := c.Stats()
	if stats.Evictions == 0 {
		t.Error("expected at least one eviction to be recorded")
	}
}

func TestCacheKeyIncludesClass(t *testing.T) {
	mock := &clock.MockClock{CurrentTime: time.Unix(0, 0)}
	c := newTestCache(t, 10, mock)

	keyIN := domain.GenerateCacheKey("example.com.", domain.RRTypeA, domain.RRClassIN)
	keyCH := domain.GenerateCacheKey("example.com.", domain.RRTypeA, domain.RRClassCH)
	if keyIN == keyCH {
		t.Fatal("expected distinct cache keys for distinct classes")
	}

	c.Set(keyIN, domain.Message{ID: 1}, time.Minute)
	c.Set(keyCH, domain.Message{ID: 2}, time.Minute)

	gotIN, ok := c.Get(keyIN)
	if !ok || gotIN.ID != 1 {
		t.Fatalf("IN class record corrupted or missing")
	}
	gotCH, ok := c.Get(keyCH)
	if !ok || gotCH.ID != 2 {
		t.Fatalf("CH class record corrupted or missing")
	}
}

func TestCacheSweepRemovesExpiredEntries(t *testing.T) {
	mock := &clock.MockClock{CurrentTime: time.Unix(0, 0)}
	c, err := New(Options{MaxSize: 100, Clock: mock, SweepInterval: time.Second, SweepProbablity: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("key-%d", i), domain.Message{ID: uint16(i)}, time.Second)
	}

	mock.Advance(2 * time.Second)
	// one access triggers the sweep deterministically (probability=1)
	c.Get("key-0")

	if got := c.Len(); got != 0 {
		t.Errorf("expected sweep to clear all expired entries, %d remain", got)
	}
}
