package health

import (
	"context"
	"testing"
	"time"

	"github.com/coredrift/dnsproxyd/internal/clock"
)

func newTestMonitor(mock *clock.MockClock) *Monitor {
	cfg := Config{FailureThreshold: 3, RecoveryThreshold: 2, StartupGrace: 0}
	return New(cfg, []string{"a", "b"}, nil, mock, nil)
}

func TestRecordResultTransitionsUnhealthyAfterThreshold(t *testing.T) {
	mock := &clock.MockClock{CurrentTime: time.Unix(0, 0)}
	m := newTestMonitor(mock)

	for i := 0; i < 2; i++ {
		m.RecordResult("a", ResultTimeout, 0)
	}
	if !m.IsHealthy("a") {
		t.Fatal("expected server to stay healthy below failure threshold")
	}

	m.RecordResult("a", ResultTimeout, 0)
	if m.IsHealthy("a") {
		t.Fatal("expected server to become unhealthy at failure threshold")
	}
}

func TestRecordResultTransitionsHealthyAfterRecovery(t *testing.T) {
	mock := &clock.MockClock{CurrentTime: time.Unix(0, 0)}
	m := newTestMonitor(mock)

	for i := 0; i < 3; i++ {
		m.RecordResult("a", ResultError, 0)
	}
	if m.IsHealthy("a") {
		t.Fatal("expected server to be unhealthy")
	}

	m.RecordResult("a", ResultSuccess, 10*time.Millisecond)
	if m.IsHealthy("a") {
		t.Fatal("expected server to remain unhealthy below recovery threshold")
	}

	m.RecordResult("a", ResultSuccess, 10*time.Millisecond)
	if !m.IsHealthy("a") {
		t.Fatal("expected server to recover at recovery threshold")
	}
}

func TestStartupGraceSuppressesUnhealthyTransition(t *testing.T) {
	mock := &clock.MockClock{CurrentTime: time.Unix(0, 0)}
	cfg := Config{FailureThreshold: 1, RecoveryThreshold: 1, StartupGrace: time.Minute}
	m := New(cfg, []string{"a"}, nil, mock, nil)
	m.Start(context.Background())
	defer m.Stop()

	m.RecordResult("a", ResultTimeout, 0)
	if !m.IsHealthy("a") {
		t.Fatal("expected server to stay healthy during startup grace window")
	}

	mock.Advance(2 * time.Minute)
	m.RecordResult("a", ResultTimeout, 0)
	if m.IsHealthy("a") {
		t.Fatal("expected server to go unhealthy once grace window has elapsed")
	}
}

func TestHealthyServersFiltersOutUnhealthy(t *testing.T) {
	mock := &clock.MockClock{CurrentTime: time.Unix(0, 0)}
	m := newTestMonitor(mock)

	for i := 0; i < 3; i++ {
		m.RecordResult("a", ResultError, 0)
	}

	healthy := m.HealthyServers()
	if len(healthy) != 1 || healthy[0] != "b" {
		t.Errorf("expected only 'b' to be healthy, got %v", healthy)
	}
}

func TestHealthScoreIndependentOfHealthyFlag(t *testing.T) {
	mock := &clock.MockClock{CurrentTime: time.Unix(0, 0)}
	m := newTestMonitor(mock)

	for i := 0; i < 3; i++ {
		m.RecordResult("a", ResultError, 0)
	}
	m.RecordResult("a", ResultSuccess, 5*time.Millisecond)

	stats, ok := m.Stats("a")
	if !ok {
		t.Fatal("expected stats for 'a'")
	}
	if stats.Healthy {
		t.Fatal("expected 'a' to still be unhealthy (only 1 of 2 recoveries seen)")
	}
	if stats.HealthScore == 0 {
		t.Error("expected a nonzero health score despite the unhealthy flag")
	}
}
