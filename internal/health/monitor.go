package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coredrift/dnsproxyd/internal/clock"
	"github.com/coredrift/dnsproxyd/internal/log"
)

// Prober issues a single health-check query against the named upstream and
// returns the observed round-trip time, or an error if it failed or timed out.
type Prober func(ctx context.Context, upstreamName string) (time.Duration, error)

// Config tunes the probe loop and the state-machine thresholds.
type Config struct {
	Interval          time.Duration
	Timeout           time.Duration
	FailureThreshold  int
	RecoveryThreshold int
	StartupGrace      time.Duration
}

const (
	DefaultInterval          = 30 * time.Second
	DefaultTimeout           = 2 * time.Second
	DefaultFailureThreshold  = 3
	DefaultRecoveryThreshold = 2
	DefaultStartupGrace      = 10 * time.Second
)

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = DefaultRecoveryThreshold
	}
	if c.StartupGrace < 0 {
		c.StartupGrace = DefaultStartupGrace
	}
}

type serverState struct {
	metrics *metrics
	healthy bool
}

// Monitor tracks health for a fixed set of named upstreams, combining a
// background probe loop with live query outcomes reported via RecordResult.
// During the startup grace window, measured from when the Monitor is
// constructed by New, a server is never transitioned
// from healthy to unhealthy — this avoids flapping every upstream down before
// the process has had a chance to observe a representative sample of queries.
type Monitor struct {
	mu      sync.Mutex
	servers map[string]*serverState

	cfg    Config
	clock  clock.Clock
	logger log.Logger
	prober Prober

	startedAt time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Monitor for the given upstream names, all initially healthy.
func New(cfg Config, upstreamNames []string, prober Prober, clk clock.Clock, logger log.Logger) *Monitor {
	cfg.setDefaults()
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	servers := make(map[string]*serverState, len(upstreamNames))
	for _, name := range upstreamNames {
		servers[name] = &serverState{metrics: newMetrics(), healthy: true}
	}

	return &Monitor{
		servers:   servers,
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
		prober:    prober,
		startedAt: clk.Now(),
	}
}

// Start begins the background probe loop. It returns immediately; probes run
// on their own goroutine until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	if m.prober == nil {
		return
	}
	m.mu.Lock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		rtt, err := m.prober(probeCtx, name)
		cancel()

		result := ResultSuccess
		if err != nil {
			result = classifyProbeError(err)
		}
		m.RecordResult(name, result, rtt)
	}
}

func classifyProbeError(err error) QueryResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return ResultTimeout
	}
	return ResultError
}

// RecordResult reports the outcome of a query — probe-issued or real client
// traffic — against the named upstream, applying the consecutive-failure and
// consecutive-success thresholds to decide on a state transition.
func (m *Monitor) RecordResult(name string, result QueryResult, rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[name]
	if !ok {
		return
	}

	now := m.clock.Now()
	s.metrics.record(now, result, rtt)

	inGrace := now.Sub(m.startedAt) < m.cfg.StartupGrace

	if s.healthy && s.metrics.consecutiveFails >= m.cfg.FailureThreshold && !inGrace {
		s.healthy = false
		s.metrics.markUnhealthy(now)
		m.logger.Warn(map[string]any{
			"upstream":              name,
			"consecutive_failures":  s.metrics.consecutiveFails,
		}, "upstream marked unhealthy")
	} else if !s.healthy && s.metrics.consecutiveOK >= m.cfg.RecoveryThreshold {
		s.healthy = true
		s.metrics.markHealthy()
		m.logger.Info(map[string]any{"upstream": name}, "upstream recovered")
	}
}

// IsHealthy reports the current health flag for the named upstream.
func (m *Monitor) IsHealthy(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[name]
	return ok && s.healthy
}

// HealthyServers returns the names of all currently healthy upstreams.
func (m *Monitor) HealthyServers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name, s := range m.servers {
		if s.healthy {
			out = append(out, name)
		}
	}
	return out
}

// AllServers returns the names of every monitored upstream.
func (m *Monitor) AllServers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.servers))
	for name := range m.servers {
		out = append(out, name)
	}
	return out
}

// ServerStats is a point-in-time snapshot of one upstream's health metrics.
type ServerStats struct {
	Healthy             bool
	HealthScore         float64
	SuccessRate         float64
	AverageResponseTime time.Duration
	MedianResponseTime  time.Duration
	SampleCount         int
	TotalQueries        uint64
	ConsecutiveFailures int
}

// Stats returns a snapshot of the named upstream's health metrics.
func (m *Monitor) Stats(name string) (ServerStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[name]
	if !ok {
		return ServerStats{}, false
	}
	return ServerStats{
		Healthy:             s.healthy,
		HealthScore:         s.metrics.healthScore(),
		SuccessRate:         s.metrics.successRate(),
		AverageResponseTime: s.metrics.averageResponseTime(),
		MedianResponseTime:  s.metrics.medianResponseTime(),
		SampleCount:         s.metrics.filled,
		TotalQueries:        s.metrics.totalQueries,
		ConsecutiveFailures: s.metrics.consecutiveFails,
	}, true
}

// AllStats returns a snapshot of every monitored upstream's health metrics.
func (m *Monitor) AllStats() map[string]ServerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ServerStats, len(m.servers))
	for name, s := range m.servers {
		out[name] = ServerStats{
			Healthy:             s.healthy,
			HealthScore:         s.metrics.healthScore(),
			SuccessRate:         s.metrics.successRate(),
			AverageResponseTime: s.metrics.averageResponseTime(),
			MedianResponseTime:  s.metrics.medianResponseTime(),
			TotalQueries:        s.metrics.totalQueries,
			ConsecutiveFailures: s.metrics.consecutiveFails,
		}
	}
	return out
}
