package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if cfg.RateLimit.MaxRequests != 100 || cfg.RateLimit.BurstAllowance != 10 {
		t.Errorf("unexpected rate limit defaults: %d/%d", cfg.RateLimit.MaxRequests, cfg.RateLimit.BurstAllowance)
	}
	if len(cfg.RateLimit.DDoS) != 3 {
		t.Errorf("expected 3 ddos levels, got %d", len(cfg.RateLimit.DDoS))
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vetgate.yaml")
	doc := `
server:
  port: 9000
ssrf:
  allowed_hosts:
    - api.example.com
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.RateLimit.WindowS != 60 {
		t.Errorf("rate limit window default lost: %d", cfg.RateLimit.WindowS)
	}
	if cfg.Content.EntropyThreshold != 7.0 {
		t.Errorf("entropy threshold default lost: %f", cfg.Content.EntropyThreshold)
	}
	if len(cfg.SSRF.AllowedHosts) != 1 || cfg.SSRF.AllowedHosts[0] != "api.example.com" {
		t.Errorf("allowed hosts = %v", cfg.SSRF.AllowedHosts)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vetgate.yaml")
	cfg := Defaults()
	cfg.SSRF.AllowedHosts = []string{"api.example.com"}
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SSRF.AllowedHosts[0] != "api.example.com" {
		t.Errorf("round trip lost allowed hosts: %v", loaded.SSRF.AllowedHosts)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"missing keys dir", func(c *Config) { c.Identity.KeysDir = "" }},
		{"missing chain path", func(c *Config) { c.Audit.ChainPath = "" }},
		{"non-increasing ddos", func(c *Config) {
			c.RateLimit.DDoS = []DDoSLevelCfg{{Threshold: 500, BlockS: 60}, {Threshold: 200, BlockS: 600}}
		}},
		{"zero ddos block", func(c *Config) {
			c.RateLimit.DDoS = []DDoSLevelCfg{{Threshold: 200, BlockS: 0}}
		}},
		{"bad anomaly threshold", func(c *Config) { c.Anomaly.ScoreThreshold = 1.5 }},
		{"bad clearance name", func(c *Config) {
			c.Gates.MinClearance = map[string]string{"delete": "SUPREME"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
