package selector

import (
	"testing"
	"time"

	"github.com/coredrift/dnsproxyd/internal/health"
)

func healthyCandidate(name string, weight, priority int) Candidate {
	return Candidate{Name: name, Address: "10.0.0.1", Port: 53, Weight: weight, Priority: priority,
		Stats: health.ServerStats{Healthy: true, HealthScore: 1.0, SampleCount: 1}}
}

func TestSelectRoundRobinCyclesThroughCandidates(t *testing.T) {
	s := New(RoundRobin, 1)
	candidates := []Candidate{healthyCandidate("a", 1, 1), healthyCandidate("b", 1, 1)}

	first, _ := s.Select(candidates)
	second, _ := s.Select(candidates)
	third, _ := s.Select(candidates)

	if first.Name != "a" || second.Name != "b" || third.Name != "a" {
		t.Errorf("got %s, %s, %s; want a, b, a", first.Name, second.Name, third.Name)
	}
}

func TestSelectFailoverPrefersLowerPriority(t *testing.T) {
	s := New(Failover, 1)
	candidates := []Candidate{healthyCandidate("secondary", 1, 5), healthyCandidate("primary", 1, 1)}

	got, _ := s.Select(candidates)
	if got.Name != "primary" {
		t.Errorf("got %s, want primary", got.Name)
	}
}

func TestSelectLowestLatencyPrefersFasterServer(t *testing.T) {
	s := New(LowestLatency, 1)
	fast := healthyCandidate("fast", 1, 1)
	fast.Stats.AverageResponseTime = 10 * time.Millisecond
	slow := healthyCandidate("slow", 1, 1)
	slow.Stats.AverageResponseTime = 200 * time.Millisecond

	got, _ := s.Select([]Candidate{slow, fast})
	if got.Name != "fast" {
		t.Errorf("got %s, want fast", got.Name)
	}
}

func TestSelectLowestLatencySortsUntestedServerLast(t *testing.T) {
	s := New(LowestLatency, 1)
	slow := healthyCandidate("slow", 1, 1)
	slow.Stats.AverageResponseTime = 200 * time.Millisecond
	untested := healthyCandidate("untested", 1, 1)
	untested.Stats.AverageResponseTime = 0
	untested.Stats.SampleCount = 0

	got, _ := s.Select([]Candidate{untested, slow})
	if got.Name != "slow" {
		t.Errorf("got %s, want slow (untested server must sort last despite zero-value duration)", got.Name)
	}
}

func TestSelectFallsBackToLeastUnhealthy(t *testing.T) {
	s := New(Weighted, 1)
	bad := Candidate{Name: "bad", Stats: health.ServerStats{Healthy: false, HealthScore: 0.2}}
	worse := Candidate{Name: "worse", Stats: health.ServerStats{Healthy: false, HealthScore: 0.1}}

	got, ok := s.Select([]Candidate{worse, bad})
	if !ok {
		t.Fatal("expected a candidate even with no healthy servers")
	}
	if got.Name != "bad" {
		t.Errorf("got %s, want 'bad' (higher health score)", got.Name)
	}
}

func TestSelectMultipleReturnsDistinctCandidates(t *testing.T) {
	s := New(RoundRobin, 1)
	candidates := []Candidate{healthyCandidate("a", 1, 1), healthyCandidate("b", 1, 1), healthyCandidate("c", 1, 1)}

	got := s.SelectMultiple(candidates, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Name == got[1].Name {
		t.Error("expected distinct candidates")
	}
}

func TestSelectEmptyReturnsFalse(t *testing.T) {
	s := New(Weighted, 1)
	if _, ok := s.Select(nil); ok {
		t.Error("expected ok=false for no candidates")
	}
}
