// Package config loads and validates the proxy's runtime configuration
// from environment variables, with struct-defined defaults, following the
// same default->env->unmarshal->validate pipeline the rest of this stack's
// services use.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds every tunable of the forwarding proxy.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log       LoggingConfig    `koanf:"log" validate:"required"`
	Listen    ListenConfig     `koanf:"listen" validate:"required"`
	Upstreams []UpstreamConfig `koanf:"upstreams" validate:"required,min=1,dive"`
	Cache     CacheConfig      `koanf:"cache" validate:"required"`
	RateLimit RateLimitConfig  `koanf:"ratelimit" validate:"required"`
	Health    HealthConfig     `koanf:"health" validate:"required"`
	Resolver  ResolverConfig   `koanf:"resolver" validate:"required"`
	Selection string           `koanf:"selection_strategy" validate:"required,oneof=round_robin lowest_latency weighted failover random least_queries"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

// ListenConfig holds the two transport bind addresses.
type ListenConfig struct {
	UDP string `koanf:"udp" validate:"required,ip_port"`
	TCP string `koanf:"tcp" validate:"required,ip_port"`
}

// UpstreamConfig describes one configured upstream DNS server.
type UpstreamConfig struct {
	Name      string `koanf:"name" validate:"required"`
	Address   string `koanf:"address" validate:"required"`
	Port      int    `koanf:"port" validate:"required,gte=1,lte=65535"`
	Weight    int    `koanf:"weight" validate:"gte=0"`
	Priority  int    `koanf:"priority" validate:"gte=0"`
	TimeoutMS int    `koanf:"timeout_ms" validate:"required,gte=1"`
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	MaxSize             int     `koanf:"max_size" validate:"required,gte=1"`
	DefaultTTLSeconds   uint32  `koanf:"default_ttl_s" validate:"gte=0"`
	MaxTTLSeconds       uint32  `koanf:"max_ttl_s" validate:"required,gte=1"`
	NegativeTTLSeconds  uint32  `koanf:"negative_ttl_s" validate:"gte=0"`
	CleanupIntervalS    int     `koanf:"cleanup_interval_s" validate:"required,gte=1"`
	CleanupProbability  float64 `koanf:"cleanup_probability" validate:"gte=0,lte=1"`
}

// RateLimitConfig tunes the per-client token bucket limiter.
type RateLimitConfig struct {
	RatePerSecond   float64 `koanf:"rate_per_second" validate:"required,gt=0"`
	Burst           int     `koanf:"burst" validate:"required,gte=1"`
	CleanupInterval int     `koanf:"cleanup_interval_s" validate:"required,gte=1"`
}

// HealthConfig tunes the background upstream health monitor.
type HealthConfig struct {
	IntervalS         int `koanf:"interval_s" validate:"required,gte=1"`
	TimeoutS          int `koanf:"timeout_s" validate:"required,gte=1"`
	FailureThreshold  int `koanf:"failure_threshold" validate:"required,gte=1"`
	RecoveryThreshold int `koanf:"recovery_threshold" validate:"required,gte=1"`
	StartupGraceS     int `koanf:"startup_grace_s" validate:"gte=0"`
}

// ResolverConfig tunes CNAME flattening and AAAA suppression.
type ResolverConfig struct {
	MaxRecursion    int  `koanf:"max_recursion" validate:"required,gte=1"`
	AAAASuppression bool `koanf:"aaaa_suppression"`
}

// DefaultAppConfig seeds every field before env vars are applied.
var DefaultAppConfig = AppConfig{
	Env: "prod",
	Log: LoggingConfig{Level: "info"},
	Listen: ListenConfig{
		UDP: "0.0.0.0:53",
		TCP: "0.0.0.0:53",
	},
	Upstreams: []UpstreamConfig{
		{Name: "cloudflare-primary", Address: "1.1.1.1", Port: 53, Weight: 1, Priority: 1, TimeoutMS: 2000},
		{Name: "cloudflare-secondary", Address: "1.0.0.1", Port: 53, Weight: 1, Priority: 2, TimeoutMS: 2000},
	},
	Cache: CacheConfig{
		MaxSize:            10000,
		DefaultTTLSeconds:  300,
		MaxTTLSeconds:      86400,
		NegativeTTLSeconds: 60,
		CleanupIntervalS:   300,
		CleanupProbability: 0.1,
	},
	RateLimit: RateLimitConfig{
		RatePerSecond:   100,
		Burst:           200,
		CleanupInterval: 300,
	},
	Health: HealthConfig{
		IntervalS:         30,
		TimeoutS:          3,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
		StartupGraceS:     5,
	},
	Resolver: ResolverConfig{
		MaxRecursion:    8,
		AAAASuppression: false,
	},
	Selection: "weighted",
}

// validIPPort validates a "host:port" string.
func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" || port == "" {
		return false
	}
	if net.ParseIP(host) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// envPrefix is the environment variable namespace this proxy reads from.
const envPrefix = "DNSPROXY_"

// envLoader loads DNSPROXY_-prefixed environment variables, lowercasing and
// dot-separating nested keys, splitting space/comma-separated values into
// slices for fields like upstream lists.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_", ".")
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}
			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}
			return key, value
		},
	}), nil)
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
}

var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("ip_port", validIPPort)
}

// Load builds an AppConfig from defaults overridden by environment
// variables, and validates the result.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("register ip_port validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
