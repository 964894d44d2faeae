// Package selector picks which upstream DNS server should handle a query,
// given each upstream's configured weight/priority and its current health
// metrics.
package selector

import (
	"math/rand"
	"sort"
	"time"

	"github.com/coredrift/dnsproxyd/internal/health"
)

// Strategy names a server selection algorithm.
type Strategy string

const (
	RoundRobin    Strategy = "round_robin"
	LowestLatency Strategy = "lowest_latency"
	Weighted      Strategy = "weighted"
	Failover      Strategy = "failover"
	Random        Strategy = "random"
	LeastQueries  Strategy = "least_queries"
)

// Candidate is everything a strategy needs to know about one upstream.
type Candidate struct {
	Name     string
	Address  string
	Port     int
	Weight   int
	Priority int
	Stats    health.ServerStats
}

// strategyFunc picks one candidate from a non-empty slice.
type strategyFunc func(s *Selector, candidates []Candidate) Candidate

// Selector chooses among healthy upstreams using a configurable strategy,
// falling back to the least-unhealthy candidate when none are healthy.
type Selector struct {
	strategy Strategy
	rng      *rand.Rand

	roundRobinIndex int
}

// New constructs a Selector using the given strategy and a seeded PRNG
// (the caller supplies the seed so behavior is reproducible in tests).
func New(strategy Strategy, seed int64) *Selector {
	if _, ok := strategies[strategy]; !ok {
		strategy = Weighted
	}
	return &Selector{strategy: strategy, rng: rand.New(rand.NewSource(seed))}
}

// SetStrategy changes the active selection strategy.
func (s *Selector) SetStrategy(strategy Strategy) {
	if _, ok := strategies[strategy]; ok {
		s.strategy = strategy
	}
}

var strategies = map[Strategy]strategyFunc{
	RoundRobin:    selectRoundRobin,
	LowestLatency: selectLowestLatency,
	Weighted:      selectWeighted,
	Failover:      selectFailover,
	Random:        selectRandom,
	LeastQueries:  selectLeastQueries,
}

// Select returns the best candidate for a single query, or false if
// candidates is empty. Unhealthy candidates are excluded unless none of the
// candidates are healthy, in which case the one with the highest health
// score is used as a last resort.
func (s *Selector) Select(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}

	healthy := filterHealthy(candidates)
	if len(healthy) == 0 {
		return leastUnhealthy(candidates), true
	}

	fn := strategies[s.strategy]
	return fn(s, healthy), true
}

// SelectMultiple returns up to count distinct candidates, most-preferred
// first, for use when a query needs to be retried against several upstreams.
func (s *Selector) SelectMultiple(candidates []Candidate, count int) []Candidate {
	pool := filterHealthy(candidates)
	if len(pool) == 0 {
		pool = candidates
	}

	used := make(map[string]bool, count)
	var out []Candidate
	for len(out) < count {
		available := make([]Candidate, 0, len(pool))
		for _, c := range pool {
			if !used[c.Name] {
				available = append(available, c)
			}
		}
		if len(available) == 0 {
			break
		}
		fn := strategies[s.strategy]
		chosen := fn(s, available)
		out = append(out, chosen)
		used[chosen.Name] = true
	}
	return out
}

func filterHealthy(candidates []Candidate) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if c.Stats.Healthy {
			out = append(out, c)
		}
	}
	return out
}

// leastUnhealthy picks the candidate with the highest health score when
// every upstream is currently marked unhealthy.
func leastUnhealthy(candidates []Candidate) Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Stats.HealthScore > best.Stats.HealthScore {
			best = c
		}
	}
	return best
}

func selectRoundRobin(s *Selector, candidates []Candidate) Candidate {
	c := candidates[s.roundRobinIndex%len(candidates)]
	s.roundRobinIndex++
	return c
}

// latencyRank returns a candidate's average latency for sort purposes,
// treating one with no recorded samples as +Inf so it always sorts last
// rather than winning on a zero-value duration.
func latencyRank(c Candidate) time.Duration {
	if c.Stats.SampleCount == 0 {
		return time.Duration(1<<63 - 1)
	}
	return c.Stats.AverageResponseTime
}

func selectLowestLatency(s *Selector, candidates []Candidate) Candidate {
	best := candidates[0]
	bestRank := latencyRank(best)
	for _, c := range candidates[1:] {
		if rank := latencyRank(c); rank < bestRank {
			best = c
			bestRank = rank
		}
	}
	return best
}

func selectWeighted(s *Selector, candidates []Candidate) Candidate {
	total := 0
	for _, c := range candidates {
		total += c.Weight
	}
	if total <= 0 {
		return selectRandom(s, candidates)
	}

	target := s.rng.Intn(total) + 1
	cumulative := 0
	for _, c := range candidates {
		cumulative += c.Weight
		if target <= cumulative {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

func selectFailover(s *Selector, candidates []Candidate) Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Name < sorted[j].Name
	})
	return sorted[0]
}

func selectRandom(s *Selector, candidates []Candidate) Candidate {
	return candidates[s.rng.Intn(len(candidates))]
}

func selectLeastQueries(s *Selector, candidates []Candidate) Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Stats.TotalQueries < best.Stats.TotalQueries {
			best = c
		}
	}
	return best
}
