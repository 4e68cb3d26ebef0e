package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vetgate/vetgate/internal/safefile"
)

// Config is the top-level vetgate configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Identity  IdentityConfig  `yaml:"identity"`
	Audit     AuditConfig     `yaml:"audit"`
	SSRF      SSRFConfig      `yaml:"ssrf"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Content   ContentConfig   `yaml:"content"`
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
	Gates     GatesConfig     `yaml:"gates"`
	Tracing   TracingConfig   `yaml:"tracing,omitempty"`
}

// ServerConfig holds the decision endpoint server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"` // address to bind (default: 127.0.0.1)
	LogLevel string `yaml:"log_level"`
}

// IdentityConfig configures caller authentication.
type IdentityConfig struct {
	KeysDir       string `yaml:"keys_dir"`
	SystemKeyName string `yaml:"system_key_name"` // keypair used to sign audit entries
	NonceWindowS  int    `yaml:"nonce_window_s"`  // replay-guard retention window
}

// AuditConfig configures the hash-chained audit log and its query index.
type AuditConfig struct {
	ChainPath    string `yaml:"chain_path"`             // append-only NDJSON file
	FallbackPath string `yaml:"fallback_path"`          // local log for entries the chain could not persist
	IndexPath    string `yaml:"index_path"`             // sqlite query index
	PostgresDSN  string `yaml:"postgres_dsn,omitempty"` // if set, pgx index replaces sqlite
}

// SSRFConfig configures outbound URL validation.
type SSRFConfig struct {
	AllowedHosts    []string `yaml:"allowed_hosts"`
	DeniedHosts     []string `yaml:"denied_hosts,omitempty"`
	DeniedCIDRs     []string `yaml:"denied_cidrs,omitempty"` // extends the built-in special-use ranges
	ResolveTimeoutS int      `yaml:"resolve_timeout_s"`
}

// RateLimitConfig configures the sliding-window limiter and DDoS escalation.
type RateLimitConfig struct {
	WindowS        int            `yaml:"window_s"`
	MaxRequests    int            `yaml:"max_requests"`
	BurstAllowance int            `yaml:"burst_allowance"`
	RedisAddr      string         `yaml:"redis_addr,omitempty"` // if set, counters live in redis
	DDoS           []DDoSLevelCfg `yaml:"ddos,omitempty"`
}

// DDoSLevelCfg defines one escalation step: more than Threshold requests in
// the sub-window triggers a block of BlockS seconds.
type DDoSLevelCfg struct {
	Threshold int `yaml:"threshold"`
	BlockS    int `yaml:"block_s"`
}

// ContentConfig configures payload verification.
type ContentConfig struct {
	EntropyThreshold float64 `yaml:"entropy_threshold"`
	EntropyMinLen    int     `yaml:"entropy_min_len"`
	CustomRulesDir   string  `yaml:"custom_rules_dir,omitempty"`
}

// AnomalyConfig configures behavioral scoring.
type AnomalyConfig struct {
	ScoreThreshold float64 `yaml:"score_threshold"`
	MinSamples     int     `yaml:"min_samples"`
	WindowHours    int     `yaml:"window_hours"`
}

// GatesConfig controls gate ordering and enablement.
type GatesConfig struct {
	// Order lists gate IDs in execution order. Unlisted built-in gates
	// are appended in their default position.
	Order    []string `yaml:"order,omitempty"`
	Disabled []string `yaml:"disabled,omitempty"`
	// MinClearance maps an action verb prefix to the clearance floor
	// enforced by the clearance gate.
	MinClearance map[string]string `yaml:"min_clearance,omitempty"`
}

// TracingConfig enables OpenTelemetry tracing on the decision endpoint.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses a vetgate config file. Missing fields keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := safefile.ReadFileMax(path, 1<<20)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyZeroDefaults(cfg)
	return cfg, nil
}

// Defaults returns a config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Port:     8443,
			Bind:     "127.0.0.1",
			LogLevel: "info",
		},
		Identity: IdentityConfig{
			KeysDir:       "./keys",
			SystemKeyName: "system",
			NonceWindowS:  300,
		},
		Audit: AuditConfig{
			ChainPath:    "./audit/chain.ndjson",
			FallbackPath: "./audit/fallback.log",
			IndexPath:    "./audit/index.db",
		},
		SSRF: SSRFConfig{
			ResolveTimeoutS: 5,
		},
		RateLimit: RateLimitConfig{
			WindowS:        60,
			MaxRequests:    100,
			BurstAllowance: 10,
			DDoS: []DDoSLevelCfg{
				{Threshold: 200, BlockS: 60},
				{Threshold: 500, BlockS: 600},
				{Threshold: 1000, BlockS: 3600},
			},
		},
		Content: ContentConfig{
			EntropyThreshold: 7.0,
			EntropyMinLen:    64,
		},
		Anomaly: AnomalyConfig{
			ScoreThreshold: 0.5,
			MinSamples:     20,
			WindowHours:    24,
		},
	}
}

// applyZeroDefaults restores defaults that unmarshaling may have zeroed.
func applyZeroDefaults(cfg *Config) {
	d := Defaults()
	if cfg.RateLimit.WindowS == 0 {
		cfg.RateLimit.WindowS = d.RateLimit.WindowS
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = d.RateLimit.MaxRequests
	}
	if len(cfg.RateLimit.DDoS) == 0 {
		cfg.RateLimit.DDoS = d.RateLimit.DDoS
	}
	if cfg.Content.EntropyThreshold == 0 {
		cfg.Content.EntropyThreshold = d.Content.EntropyThreshold
	}
	if cfg.Content.EntropyMinLen == 0 {
		cfg.Content.EntropyMinLen = d.Content.EntropyMinLen
	}
	if cfg.Anomaly.ScoreThreshold == 0 {
		cfg.Anomaly.ScoreThreshold = d.Anomaly.ScoreThreshold
	}
	if cfg.Anomaly.MinSamples == 0 {
		cfg.Anomaly.MinSamples = d.Anomaly.MinSamples
	}
	if cfg.Anomaly.WindowHours == 0 {
		cfg.Anomaly.WindowHours = d.Anomaly.WindowHours
	}
	if cfg.Identity.NonceWindowS == 0 {
		cfg.Identity.NonceWindowS = d.Identity.NonceWindowS
	}
	if cfg.SSRF.ResolveTimeoutS == 0 {
		cfg.SSRF.ResolveTimeoutS = d.SSRF.ResolveTimeoutS
	}
}

// Save writes the config to a YAML file at the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := safefile.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks that the config is consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Identity.KeysDir == "" {
		return fmt.Errorf("identity.keys_dir is required")
	}
	if c.Audit.ChainPath == "" {
		return fmt.Errorf("audit.chain_path is required")
	}
	if c.RateLimit.MaxRequests < 0 || c.RateLimit.BurstAllowance < 0 {
		return fmt.Errorf("rate limit counts must not be negative")
	}
	prev := 0
	for i, lvl := range c.RateLimit.DDoS {
		if lvl.Threshold <= prev {
			return fmt.Errorf("ddos level %d threshold %d must exceed previous level", i+1, lvl.Threshold)
		}
		if lvl.BlockS <= 0 {
			return fmt.Errorf("ddos level %d block duration must be positive", i+1)
		}
		prev = lvl.Threshold
	}
	if c.Anomaly.ScoreThreshold <= 0 || c.Anomaly.ScoreThreshold > 1 {
		return fmt.Errorf("anomaly.score_threshold must be in (0, 1]")
	}
	if _, err := parseClearanceMap(c.Gates.MinClearance); err != nil {
		return err
	}
	return nil
}

func parseClearanceMap(m map[string]string) (map[string]string, error) {
	valid := map[string]bool{"PUBLIC": true, "ALPHA": true, "BETA": true, "GAMMA": true, "OMEGA": true}
	for action, level := range m {
		if !valid[level] {
			return nil, fmt.Errorf("gates.min_clearance[%q]: unknown level %q", action, level)
		}
	}
	return m, nil
}
