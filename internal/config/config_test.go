package config

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

func TestLoadAppliesDefaultsWithoutEnv(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "prod" {
		t.Errorf("Env = %q, want prod", cfg.Env)
	}
	if len(cfg.Upstreams) != 2 {
		t.Errorf("Upstreams = %d, want 2", len(cfg.Upstreams))
	}
	if cfg.Selection != "weighted" {
		t.Errorf("Selection = %q, want weighted", cfg.Selection)
	}
}

func newValidator(t *testing.T) *validator.Validate {
	t.Helper()
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(v); err != nil {
		t.Fatalf("registerValidation: %v", err)
	}
	return v
}

func TestValidIPPortRejectsMalformedAddresses(t *testing.T) {
	v := newValidator(t)

	cases := []struct {
		addr string
		want bool
	}{
		{"1.1.1.1:53", true},
		{"[::1]:53", true},
		{"1.1.1.1", false},
		{"not-an-ip:53", false},
		{"1.1.1.1:notaport", false},
		{"1.1.1.1:0", false},
	}

	for _, c := range cases {
		cfg := DefaultAppConfig
		cfg.Listen.UDP = c.addr
		err := v.Struct(&cfg)
		got := err == nil
		if got != c.want {
			t.Errorf("validate(listen.udp=%q) ok = %v, want %v (err=%v)", c.addr, got, c.want, err)
		}
	}
}

func TestLoadRejectsUnknownSelectionStrategy(t *testing.T) {
	prev := defaultLoader
	defer func() { defaultLoader = prev }()

	defaultLoader = func(k *koanf.Koanf) error {
		cfg := DefaultAppConfig
		cfg.Selection = "not_a_strategy"
		return k.Load(structs.Provider(cfg, "koanf"), nil)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for unknown selection strategy")
	}
}

func TestLoadRejectsEmptyUpstreamList(t *testing.T) {
	prev := defaultLoader
	defer func() { defaultLoader = prev }()

	defaultLoader = func(k *koanf.Koanf) error {
		cfg := DefaultAppConfig
		cfg.Upstreams = nil
		return k.Load(structs.Provider(cfg, "koanf"), nil)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for empty upstream list")
	}
}
