package domain

import (
	"fmt"
	"time"
)

// ResourceRecord is a DNS resource record carrying wire-native rdata. Rdata
// for types the resolver doesn't construct directly (NS, SOA, PTR, MX, TXT,
// SRV, ...) is preserved opaquely so it can be relayed to the client
// unmodified.
type ResourceRecord struct {
	Name      string
	Type      RRType
	Class     RRClass
	Data      []byte
	ExpiresAt time.Time
}

// NewResourceRecord constructs a ResourceRecord expiring ttl seconds after now.
func NewResourceRecord(name string, rrtype RRType, class RRClass, ttl uint32, data []byte, now time.Time) (ResourceRecord, error) {
	rr := ResourceRecord{
		Name:      CanonicalName(name),
		Type:      rrtype,
		Class:     class,
		Data:      data,
		ExpiresAt: now.Add(time.Duration(ttl) * time.Second),
	}
	if err := rr.Validate(); err != nil {
		return ResourceRecord{}, err
	}
	return rr, nil
}

// Validate checks whether the ResourceRecord fields are structurally valid.
func (rr ResourceRecord) Validate() error {
	if rr.Name == "" {
		return fmt.Errorf("record name must not be empty")
	}
	if !rr.Type.IsValid() {
		return fmt.Errorf("invalid RRType: %d", rr.Type)
	}
	if !rr.Class.IsValid() {
		return fmt.Errorf("invalid RRClass: %d", rr.Class)
	}
	return nil
}

// TTL returns the effective TTL in seconds for wire encoding, computed from
// the time remaining until expiry. Never negative; a record past its expiry
// encodes as TTL 0 rather than underflowing.
func (rr ResourceRecord) TTL(now time.Time) uint32 {
	remaining := rr.ExpiresAt.Sub(now).Seconds()
	if remaining <= 0 {
		return 0
	}
	return uint32(remaining)
}

// IsExpired reports whether now is at or past the record's expiry.
func (rr ResourceRecord) IsExpired(now time.Time) bool {
	return !now.Before(rr.ExpiresAt)
}

// CacheKey returns the cache key string derived from the record's name, type, and class.
func (rr ResourceRecord) CacheKey() string {
	return GenerateCacheKey(rr.Name, rr.Type, rr.Class)
}

// WithName returns a copy of rr bearing a new owner name, used by CNAME
// flattening to re-home tail address records under the originally queried name.
func (rr ResourceRecord) WithName(name string) ResourceRecord {
	rr.Name = CanonicalName(name)
	return rr
}

// WithTTL returns a copy of rr with an absolute expiry recomputed from ttl
// seconds relative to now.
func (rr ResourceRecord) WithTTL(ttl uint32, now time.Time) ResourceRecord {
	rr.ExpiresAt = now.Add(time.Duration(ttl) * time.Second)
	return rr
}
