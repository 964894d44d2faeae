package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coredrift/dnsproxyd/internal/cache"
	"github.com/coredrift/dnsproxyd/internal/clock"
	"github.com/coredrift/dnsproxyd/internal/config"
	"github.com/coredrift/dnsproxyd/internal/domain"
	"github.com/coredrift/dnsproxyd/internal/health"
	"github.com/coredrift/dnsproxyd/internal/log"
	"github.com/coredrift/dnsproxyd/internal/ratelimit"
	"github.com/coredrift/dnsproxyd/internal/resolver"
	"github.com/coredrift/dnsproxyd/internal/selector"
	"github.com/coredrift/dnsproxyd/internal/transport"
	"github.com/coredrift/dnsproxyd/internal/upstream"
	"github.com/coredrift/dnsproxyd/internal/wire"
)

const (
	version = "0.1.0-dev"
	appName = "dnsproxyd"

	defaultShutdownTimeout = 30 * time.Second
)

// Application holds every running component of the forwarding proxy.
type Application struct {
	config  *config.AppConfig
	udp     *transport.UDPListener
	tcp     *transport.TCPListener
	monitor *health.Monitor
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.Log.Level,
		"udp":       cfg.Listen.UDP,
		"tcp":       cfg.Listen.TCP,
		"upstreams": len(cfg.Upstreams),
	}, fmt.Sprintf("starting %s", appName))

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err.Error()}, "failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err.Error()}, "server failed")
	}

	log.Info(nil, fmt.Sprintf("%s stopped gracefully", appName))
}

// buildApplication constructs every component and wires them into a pair of
// transport listeners sharing one resolver instance.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	codec := wire.NewCodec(logger)

	respCache, err := cache.New(cache.Options{
		MaxSize:         cfg.Cache.MaxSize,
		Clock:           clk,
		SweepInterval:   time.Duration(cfg.Cache.CleanupIntervalS) * time.Second,
		SweepProbablity: cfg.Cache.CleanupProbability,
	})
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Options{
		RatePerSecond:   cfg.RateLimit.RatePerSecond,
		Burst:           cfg.RateLimit.Burst,
		CleanupInterval: time.Duration(cfg.RateLimit.CleanupInterval) * time.Second,
		Clock:           clk,
		Logger:          logger,
	})

	upstreamClient, err := upstream.New(upstream.Options{Codec: codec, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("build upstream client: %w", err)
	}

	upstreamCfgs := make([]resolver.UpstreamConfig, 0, len(cfg.Upstreams))
	names := make([]string, 0, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		upstreamCfgs = append(upstreamCfgs, resolver.UpstreamConfig{
			Name: u.Name, Address: u.Address, Port: u.Port,
			Weight: u.Weight, Priority: u.Priority,
			Timeout: time.Duration(u.TimeoutMS) * time.Millisecond,
		})
		names = append(names, u.Name)
	}

	prober := buildProber(upstreamClient, upstreamCfgs)
	monitor := health.New(health.Config{
		Interval:          time.Duration(cfg.Health.IntervalS) * time.Second,
		Timeout:           time.Duration(cfg.Health.TimeoutS) * time.Second,
		FailureThreshold:  cfg.Health.FailureThreshold,
		RecoveryThreshold: cfg.Health.RecoveryThreshold,
		StartupGrace:      time.Duration(cfg.Health.StartupGraceS) * time.Second,
	}, names, prober, clk, logger)

	sel := selector.New(selector.Strategy(cfg.Selection), time.Now().UnixNano())

	res, err := resolver.New(resolver.Options{
		Cache:     respCache,
		Codec:     codec,
		Client:    upstreamClient,
		Selector:  sel,
		Monitor:   monitor,
		Upstreams: upstreamCfgs,
		Clock:     clk,
		Logger:    logger,
		Config: resolver.Config{
			AAAASuppression: cfg.Resolver.AAAASuppression,
			MaxRecursion:    cfg.Resolver.MaxRecursion,
			NegativeTTL:     cfg.Cache.NegativeTTLSeconds,
			MaxPositiveTTL:  cfg.Cache.MaxTTLSeconds,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build resolver: %w", err)
	}

	udpListener := transport.NewUDPListener(cfg.Listen.UDP, res, limiter, logger)
	tcpListener := transport.NewTCPListener(cfg.Listen.TCP, res, limiter, logger)

	return &Application{
		config:  cfg,
		udp:     udpListener,
		tcp:     tcpListener,
		monitor: monitor,
	}, nil
}

// buildProber adapts the upstream client into the health monitor's probe
// signature: a single A query for a fixed probe name, used purely to measure
// round-trip time and success/failure.
func buildProber(client *upstream.Client, upstreams []resolver.UpstreamConfig) health.Prober {
	byName := make(map[string]resolver.UpstreamConfig, len(upstreams))
	for _, u := range upstreams {
		byName[u.Name] = u
	}

	return func(ctx context.Context, name string) (time.Duration, error) {
		u, ok := byName[name]
		if !ok {
			return 0, fmt.Errorf("unknown upstream %q", name)
		}
		server := upstream.Server{Name: u.Name, Address: u.Address, Port: u.Port, Timeout: u.Timeout}
		probeQuestion := domain.Question{ID: 0, Name: "health-check.dnsproxyd.local.", Type: domain.RRTypeA, Class: domain.RRClassIN}
		_, rtt, err := client.Query(ctx, server, probeQuestion)
		return rtt, err
	}
}

// Run starts both listeners and the health monitor and blocks until the
// context is cancelled. It then stops the listeners (the TCP listener waits
// for open connections to finish) and the monitor, and returns an error if
// that takes longer than the shutdown timeout. In-flight resolutions run on
// ctx, so their upstream queries are cancelled along with it.
func (app *Application) Run(ctx context.Context) error {
	if err := app.udp.Start(ctx); err != nil {
		return fmt.Errorf("start udp listener: %w", err)
	}
	if err := app.tcp.Start(ctx); err != nil {
		return fmt.Errorf("start tcp listener: %w", err)
	}
	app.monitor.Start(ctx)

	log.Info(map[string]any{"udp": app.config.Listen.UDP, "tcp": app.config.Listen.TCP}, "dns proxy started")

	<-ctx.Done()
	log.Info(nil, "shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := app.udp.Stop(); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "error stopping udp listener")
		}
		if err := app.tcp.Stop(); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "error stopping tcp listener")
		}
		app.monitor.Stop()
	}()

	select {
	case <-done:
		log.Info(nil, "graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "shutdown grace period exceeded")
		return fmt.Errorf("shutdown timeout")
	}
}
