package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ListenAddr == "" || cfg.PolicyPath == "" {
		t.Error("default config missing core settings")
	}
	if cfg.OverallTimeout != 5*time.Second {
		t.Errorf("overall timeout = %v, want 5s", cfg.OverallTimeout)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BULWARK_LISTEN_ADDR", ":9999")
	t.Setenv("BULWARK_PROMOTION_THRESHOLD", "5")
	t.Setenv("BULWARK_EXTRACTION_THRESHOLD", "0.8")
	t.Setenv("BULWARK_REQUIRE_APPROVAL", "true")
	t.Setenv("BULWARK_BACKEND", "redis")

	cfg := NewDefaultConfig()
	if cfg.ListenAddr != ":9999" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.PromotionThreshold != 5 {
		t.Errorf("promotion threshold = %d", cfg.PromotionThreshold)
	}
	if cfg.ExtractionThreshold != 0.8 {
		t.Errorf("extraction threshold = %v", cfg.ExtractionThreshold)
	}
	if !cfg.RequireApproval {
		t.Error("approval override not applied")
	}
	if cfg.Backend != BackendRedis {
		t.Errorf("backend = %s", cfg.Backend)
	}
}

func TestEnvMalformedValuesFallBack(t *testing.T) {
	t.Setenv("BULWARK_PROMOTION_THRESHOLD", "many")
	t.Setenv("BULWARK_EXTRACTION_THRESHOLD", "high")
	t.Setenv("BULWARK_REQUIRE_APPROVAL", "yes please")

	cfg := NewDefaultConfig()
	if cfg.PromotionThreshold != 3 || cfg.ExtractionThreshold != 0.7 || cfg.RequireApproval {
		t.Errorf("malformed env did not fall back: %+v", cfg)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "etcd" }},
		{"file backend without dir", func(c *Config) { c.Backend = BackendFile; c.StateDir = "" }},
		{"redis backend without addr", func(c *Config) { c.Backend = BackendRedis; c.RedisAddr = "" }},
		{"postgres backend without dsn", func(c *Config) { c.Backend = BackendPostgres; c.PostgresDSN = "" }},
		{"empty policy path", func(c *Config) { c.PolicyPath = "" }},
		{"extraction threshold above one", func(c *Config) { c.ExtractionThreshold = 1.5 }},
		{"zero promotion threshold", func(c *Config) { c.PromotionThreshold = 0 }},
		{"zero overall timeout", func(c *Config) { c.OverallTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPresets(t *testing.T) {
	high := NewHighSecurityConfig()
	if !high.RequireApproval {
		t.Error("high security preset must require approval")
	}
	if err := high.Validate(); err != nil {
		t.Errorf("high security preset invalid: %v", err)
	}

	local := NewLocalConfig()
	if local.Backend != BackendMemory {
		t.Errorf("local preset backend = %s", local.Backend)
	}
	if err := local.Validate(); err != nil {
		t.Errorf("local preset invalid: %v", err)
	}
}
