package resolver

import (
	"fmt"
	"time"

	"github.com/coredrift/dnsproxyd/internal/domain"
)

// statsResponse builds the TXT answer for the in-band stats pseudo-query:
// a first TXT RR summarizing the cache counters, then one TXT RR per
// configured upstream encoding its headline health and load figures. The
// response carries ttl=0 and is never cached by the caller.
func (r *Resolver) statsResponse(q domain.Question, now time.Time) domain.Message {
	resp := domain.NewResponse(q, q.Flags(), domain.RCodeNOERROR)

	cacheStats := r.cache.Stats()
	var answers []domain.ResourceRecord

	summary := fmt.Sprintf("cache_size=%d cache_hits=%d cache_misses=%d cache_evictions=%d",
		cacheStats.Size, cacheStats.Hits, cacheStats.Misses, cacheStats.Evictions)
	if rr, err := newTXT(q.Name, summary, now); err == nil {
		answers = append(answers, rr)
	}

	for _, u := range r.upstreams {
		healthy := true
		score := 1.0
		var totalQueries uint64
		if r.monitor != nil {
			if s, ok := r.monitor.Stats(u.Name); ok {
				healthy, score, totalQueries = s.Healthy, s.HealthScore, s.TotalQueries
			}
		}
		text := fmt.Sprintf("upstream=%s healthy=%t health_score=%.2f queries=%d", u.Name, healthy, score, totalQueries)
		if rr, err := newTXT(q.Name, text, now); err == nil {
			answers = append(answers, rr)
		}
	}

	resp.Answer = answers
	return resp
}

func newTXT(name, text string, now time.Time) (domain.ResourceRecord, error) {
	var data []byte
	remaining := text
	for len(remaining) > 0 {
		chunk := remaining
		if len(chunk) > 255 {
			chunk = chunk[:255]
		}
		data = append(data, byte(len(chunk)))
		data = append(data, chunk...)
		remaining = remaining[len(chunk):]
	}
	return domain.NewResourceRecord(name, domain.RRTypeTXT, domain.RRClassIN, 0, data, now)
}
