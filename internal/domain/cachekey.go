package domain

import "fmt"

// GenerateCacheKey returns a cache key string derived from a DNS name, type,
// and class. Omitting the class from the key is a known defect of naive
// implementations: two records for the same name/type in different classes
// must never collide, so class is always part of the key.
func GenerateCacheKey(name string, t RRType, c RRClass) string {
	return fmt.Sprintf("%s:%d:%d", name, uint16(t), uint16(c))
}
