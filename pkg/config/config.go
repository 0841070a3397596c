// Package config loads harvester configuration from a TOML file with
// environment variables supplying secrets. Every tunable cited in the
// pipeline design (worker count, backoff shape, claim staleness, unpack
// ceiling) is a config field so operators never depend on compiled-in
// defaults.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/toolharbor/toolharbor/pkg/errors"
)

// Config holds all harvester settings.
type Config struct {
	Pool       PoolConfig       `toml:"pool"`
	Fetch      FetchConfig      `toml:"fetch"`
	Retry      RetryConfig      `toml:"retry"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Registry   RegistryConfig   `toml:"registry"`
	GitHub     GitHubConfig     `toml:"github"`
	Scoring    ScoringConfig    `toml:"scoring"`
	Store      StoreConfig      `toml:"store"`
	Cache      CacheConfig      `toml:"cache"`
	Server     ServerConfig     `toml:"server"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers int `toml:"workers"` // concurrent ingestion workers
}

// FetchConfig controls the shared outbound HTTP client.
type FetchConfig struct {
	MaxOutbound    int      `toml:"max_outbound"`     // global concurrent outbound connections
	CallTimeout    duration `toml:"call_timeout"`     // per-adapter-call deadline
	RequestsPerSec float64  `toml:"requests_per_sec"` // per-host token bucket refill rate
	Burst          int      `toml:"burst"`            // per-host token bucket capacity
}

// RetryConfig shapes the requeue backoff policy.
type RetryConfig struct {
	MaxAttempts    int      `toml:"max_attempts"`
	BackoffBase    duration `toml:"backoff_base"`
	BackoffCap     duration `toml:"backoff_cap"`
	JitterFraction float64  `toml:"jitter_fraction"`
}

// CheckpointConfig controls claim staleness.
type CheckpointConfig struct {
	StaleClaimAfter duration `toml:"stale_claim_after"`
}

// RegistryConfig controls the registry/artifact adapter.
type RegistryConfig struct {
	UnpackCeilingBytes int64 `toml:"unpack_ceiling_bytes"` // decompression-bomb ceiling
}

// GitHubConfig controls the authoritative-host adapter. The token comes
// from the environment, never the file; absence degrades to
// unauthenticated requests rather than an error.
type GitHubConfig struct {
	TokenEnv       string   `toml:"token_env"`
	OfficialOwners []string `toml:"official_owners"` // owners whose artifacts are marked verified
}

// ScoringConfig tunes the scoring engine's dependency escalation.
type ScoringConfig struct {
	DangerousLibraries []string `toml:"dangerous_libraries"`
}

// StoreConfig selects the persistence backend. An empty MongoURI selects
// the in-memory store (single-shot CLI runs).
type StoreConfig struct {
	MongoURI string `toml:"mongo_uri"`
	Database string `toml:"database"`
}

// CacheConfig selects the fetch-layer response cache backend.
type CacheConfig struct {
	Dir      string `toml:"dir"`       // file cache directory; empty uses the user cache dir
	RedisURL string `toml:"redis_url"` // non-empty switches to the Redis backend
	Disabled bool   `toml:"disabled"`
}

// ServerConfig controls the status HTTP surface.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// duration wraps time.Duration with TOML string decoding ("30s", "10m").
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is given.
func Default() Config {
	return applyDefaults(Config{})
}

// Load reads a TOML config file and fills unset fields with defaults.
// A missing path returns Default() without error.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read config %s", path)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse config %s", path)
	}
	return applyDefaults(cfg), nil
}

func applyDefaults(cfg Config) Config {
	if cfg.Pool.Workers <= 0 {
		cfg.Pool.Workers = 10
	}
	if cfg.Fetch.MaxOutbound <= 0 {
		cfg.Fetch.MaxOutbound = 10
	}
	if cfg.Fetch.CallTimeout <= 0 {
		cfg.Fetch.CallTimeout = duration(10 * time.Second)
	}
	if cfg.Fetch.RequestsPerSec <= 0 {
		cfg.Fetch.RequestsPerSec = 5.0
	}
	if cfg.Fetch.Burst <= 0 {
		cfg.Fetch.Burst = 10
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.BackoffBase <= 0 {
		cfg.Retry.BackoffBase = duration(2 * time.Second)
	}
	if cfg.Retry.BackoffCap <= 0 {
		cfg.Retry.BackoffCap = duration(30 * time.Second)
	}
	if cfg.Retry.JitterFraction <= 0 {
		cfg.Retry.JitterFraction = 0.25
	}
	if cfg.Checkpoint.StaleClaimAfter <= 0 {
		cfg.Checkpoint.StaleClaimAfter = duration(10 * time.Minute)
	}
	if cfg.Registry.UnpackCeilingBytes <= 0 {
		cfg.Registry.UnpackCeilingBytes = 500 << 20 // 500 MB
	}
	if cfg.GitHub.TokenEnv == "" {
		cfg.GitHub.TokenEnv = "GITHUB_TOKEN"
	}
	if len(cfg.Scoring.DangerousLibraries) == 0 {
		cfg.Scoring.DangerousLibraries = DefaultDangerousLibraries()
	}
	if cfg.Store.Database == "" {
		cfg.Store.Database = "toolharbor"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8487"
	}
	return cfg
}

// Token resolves the GitHub token from the configured environment
// variable. An empty result is valid and degrades to unauthenticated access.
func (g GitHubConfig) Token() string {
	return os.Getenv(g.TokenEnv)
}

// DefaultDangerousLibraries lists dependency names whose presence
// escalates a package's risk level even without a direct code finding.
// They all wrap process or shell spawning.
func DefaultDangerousLibraries() []string {
	return []string{
		"child_process",
		"child_process-wrapper",
		"shelljs",
		"execa",
		"cross-spawn",
		"node-cmd",
		"python-shell",
		"pexpect",
		"invoke",
		"sh",
	}
}
