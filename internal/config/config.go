// Package config provides application configuration management for the
// core server: transport, pool, runner, crawler, healing and resource
// monitor settings, loaded from a YAML file overlaid with environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"

	"github.com/Zeeeepa/browserqa/internal/types"
)

// Upper bounds to prevent resource exhaustion via misconfiguration.
const (
	maxPoolSize      = 50
	maxParallelTests = 200
	maxTimeout       = 10 * time.Minute
	maxCrawlPages    = 100000
	minAPIKeyLength  = 16
)

// RetryPolicy is the backoff shape used by the Transport for retryable
// failures.
type RetryPolicy struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	Multiplier   float64       `koanf:"multiplier"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	JitterFactor float64       `koanf:"jitter_factor"`
}

// RemoteConfig holds connection settings for the remote browser server.
type RemoteConfig struct {
	BaseURL            string        `koanf:"base_url"`
	AuthMode           types.AuthMode `koanf:"-"`
	AuthModeName       string        `koanf:"auth_mode"`
	BearerToken        string        `koanf:"bearer_token"`
	JWTSigningKey      string        `koanf:"jwt_signing_key"`
	JWTIssuer          string        `koanf:"jwt_issuer"`
	TLSInsecureSkipVerify bool       `koanf:"tls_insecure_skip_verify"`
	BaseTimeout        time.Duration `koanf:"base_timeout"`
	MaxIdleConns       int           `koanf:"max_idle_conns"`
	MaxConcurrent      int           `koanf:"max_concurrent"`
	Retry              RetryPolicy   `koanf:"retry"`
}

// PoolConfig holds Browser Context Pool sizing and recycling settings.
type PoolConfig struct {
	MinSize             int           `koanf:"min_size"`
	MaxSize             int           `koanf:"max_size"`
	MaxUseCount         int           `koanf:"max_use_count"`
	MaxAge              time.Duration `koanf:"max_age"`
	MaxIdle             time.Duration `koanf:"max_idle"`
	HealthCheckInterval time.Duration `koanf:"health_check_interval"`
	AcquireTimeout      time.Duration `koanf:"acquire_timeout"`
	GracefulShutdownTimeout time.Duration `koanf:"graceful_shutdown_timeout"`
}

// RunnerConfig holds Async Test Runner settings.
type RunnerConfig struct {
	MaxParallelTests   int           `koanf:"max_parallel_tests"`
	MaxRetries         int           `koanf:"max_retries"`
	DefaultTestTimeout time.Duration `koanf:"default_test_timeout"`
	FailFast           bool          `koanf:"fail_fast"`
}

// CrawlConfig holds Intelligent Crawler bounds and rules.
type CrawlConfig struct {
	MaxDepth              int      `koanf:"max_depth"`
	MaxPages              int      `koanf:"max_pages"`
	MaxDurationSeconds    int      `koanf:"max_duration_seconds"`
	RateLimitMs           int      `koanf:"rate_limit_ms"`
	WaitAfterNavigationMs int      `koanf:"wait_after_navigation_ms"`
	SameDomainOnly        bool     `koanf:"same_domain_only"`
	IncludePatterns       []string `koanf:"include_patterns"`
	ExcludePatterns       []string `koanf:"exclude_patterns"`
	MaxRetries            int      `koanf:"max_retries"`
	ProxyURL              string   `koanf:"proxy_url"`
	ArtifactsDir          string   `koanf:"artifacts_dir"`
}

// HealingConfig holds Self-Healing Selector Engine settings.
type HealingConfig struct {
	HistoryDir    string  `koanf:"history_dir"`
	MinConfidence float64 `koanf:"min_confidence"`
	MaxCandidates int     `koanf:"max_candidates"`
	HotReload     bool    `koanf:"hot_reload"`
	RedisAddr     string  `koanf:"redis_addr"`
	RedisDB       int     `koanf:"redis_db"`
}

// ResourceConfig holds Resource Monitor sampling settings.
type ResourceConfig struct {
	SampleInterval    time.Duration `koanf:"sample_interval"`
	LowThresholdMB    int           `koanf:"low_threshold_mb"`
	MediumThresholdMB int           `koanf:"medium_threshold_mb"`
	HighThresholdMB   int           `koanf:"high_threshold_mb"`
	CriticalThresholdMB int         `koanf:"critical_threshold_mb"`
	HysteresisMB      int           `koanf:"hysteresis_mb"`
}

// Config holds all application configuration.
type Config struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	LogLevel string `koanf:"log_level"`

	APIKeyEnabled bool   `koanf:"api_key_enabled"`
	APIKey        string `koanf:"api_key"`

	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	RateLimitEnabled bool `koanf:"rate_limit_enabled"`
	RateLimitRPM     int  `koanf:"rate_limit_rpm"`
	TrustProxy       bool `koanf:"trust_proxy"`

	RequestTimeout time.Duration `koanf:"request_timeout"`

	PProfEnabled  bool   `koanf:"pprof_enabled"`
	PProfBindAddr string `koanf:"pprof_bind_addr"`
	PProfPort     int    `koanf:"pprof_port"`

	Remote   RemoteConfig   `koanf:"remote"`
	Pool     PoolConfig     `koanf:"pool"`
	Runner   RunnerConfig   `koanf:"runner"`
	Crawl    CrawlConfig    `koanf:"crawl"`
	Healing  HealingConfig  `koanf:"healing"`
	Resource ResourceConfig `koanf:"resource"`
}

func defaults() *Config {
	return &Config{
		Host:     "127.0.0.1",
		Port:     8080,
		LogLevel: "info",

		RateLimitRPM:   120,
		RequestTimeout: 45 * time.Second,

		PProfBindAddr: "127.0.0.1",
		PProfPort:     6060,

		Remote: RemoteConfig{
			BaseURL:      "http://127.0.0.1:8191",
			AuthModeName: "none",
			BaseTimeout:  30 * time.Second,
			MaxIdleConns: 20,
			MaxConcurrent: 10,
			Retry: RetryPolicy{
				MaxAttempts:  4,
				InitialDelay: 500 * time.Millisecond,
				Multiplier:   2.0,
				MaxDelay:     10 * time.Second,
				JitterFactor: 0.2,
			},
		},
		Pool: PoolConfig{
			MinSize:             1,
			MaxSize:             5,
			MaxUseCount:         200,
			MaxAge:              30 * time.Minute,
			MaxIdle:             5 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
			AcquireTimeout:      10 * time.Second,
			GracefulShutdownTimeout: 15 * time.Second,
		},
		Runner: RunnerConfig{
			MaxParallelTests:   8,
			MaxRetries:         2,
			DefaultTestTimeout: 60 * time.Second,
			FailFast:           false,
		},
		Crawl: CrawlConfig{
			MaxDepth:              5,
			MaxPages:              500,
			MaxDurationSeconds:    600,
			RateLimitMs:           250,
			WaitAfterNavigationMs: 300,
			SameDomainOnly:        true,
			MaxRetries:            2,
		},
		Healing: HealingConfig{
			HistoryDir:    "./data/healing",
			MinConfidence: 0.6,
			MaxCandidates: 15,
			HotReload:     false,
		},
		Resource: ResourceConfig{
			SampleInterval:      5 * time.Second,
			LowThresholdMB:      512,
			MediumThresholdMB:   1024,
			HighThresholdMB:     2048,
			CriticalThresholdMB: 3072,
			HysteresisMB:        64,
		},
	}
}

// Load loads configuration from an optional YAML file overlaid with
// environment variables prefixed BQA_ (e.g. BQA_REMOTE_BASE_URL maps to
// remote.base_url). A missing configPath is not an error: defaults and
// environment overlay still apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", configPath, err)
		}
	}

	envProvider := env.ProviderWithValue("BQA_", ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, "BQA_"))
		for _, section := range []string{"remote_retry", "remote", "pool", "runner", "crawl", "healing", "resource"} {
			if strings.HasPrefix(key, section+"_") {
				key = strings.ReplaceAll(section, "_", ".") + "." + strings.TrimPrefix(key, section+"_")
				break
			}
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	out := defaults()
	if err := k.Unmarshal("", out); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	out.Remote.AuthMode = parseAuthMode(out.Remote.AuthModeName)

	out.Validate()
	return out, nil
}

func parseAuthMode(name string) types.AuthMode {
	switch strings.ToLower(name) {
	case "bearer":
		return types.AuthBearer
	case "jwt":
		return types.AuthJWT
	default:
		return types.AuthNone
	}
}

// Validate checks configuration values and corrects out-of-bounds values
// to sensible defaults. Most corrections log a warning; others (some
// timeouts, retry attempts, crawl bounds, candidate count, resource
// sampling and hysteresis, pprof port) are applied silently.
func (c *Config) Validate() {
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("invalid port, using default 8080")
		c.Port = 8080
	}

	if c.Pool.MinSize < 1 {
		log.Warn().Int("min_size", c.Pool.MinSize).Msg("invalid pool min size, using 1")
		c.Pool.MinSize = 1
	}
	if c.Pool.MaxSize < c.Pool.MinSize {
		log.Warn().Int("max_size", c.Pool.MaxSize).Int("min_size", c.Pool.MinSize).Msg("pool max size below min size, raising to min size")
		c.Pool.MaxSize = c.Pool.MinSize
	}
	if c.Pool.MaxSize > maxPoolSize {
		log.Warn().Int("max_size", c.Pool.MaxSize).Int("cap", maxPoolSize).Msg("pool max size too large, capping")
		c.Pool.MaxSize = maxPoolSize
	}
	if c.Pool.GracefulShutdownTimeout <= 0 {
		c.Pool.GracefulShutdownTimeout = 15 * time.Second
	}
	if c.Pool.AcquireTimeout <= 0 {
		c.Pool.AcquireTimeout = 10 * time.Second
	}

	if c.Runner.MaxParallelTests < 1 {
		log.Warn().Int("max_parallel_tests", c.Runner.MaxParallelTests).Msg("invalid parallelism, using 1")
		c.Runner.MaxParallelTests = 1
	} else if c.Runner.MaxParallelTests > maxParallelTests {
		log.Warn().Int("max_parallel_tests", c.Runner.MaxParallelTests).Int("cap", maxParallelTests).Msg("parallelism too high, capping")
		c.Runner.MaxParallelTests = maxParallelTests
	}
	if c.Runner.DefaultTestTimeout <= 0 {
		log.Warn().Msg("invalid default test timeout, using 60s")
		c.Runner.DefaultTestTimeout = 60 * time.Second
	} else if c.Runner.DefaultTestTimeout > maxTimeout {
		log.Warn().Dur("timeout", c.Runner.DefaultTestTimeout).Msg("default test timeout too high, capping")
		c.Runner.DefaultTestTimeout = maxTimeout
	}

	if c.Remote.BaseTimeout <= 0 {
		log.Warn().Msg("invalid remote base timeout, using 30s")
		c.Remote.BaseTimeout = 30 * time.Second
	} else if c.Remote.BaseTimeout > maxTimeout {
		c.Remote.BaseTimeout = maxTimeout
	}
	if c.Remote.Retry.MaxAttempts < 1 {
		c.Remote.Retry.MaxAttempts = 1
	}
	if c.Remote.Retry.JitterFactor < 0 || c.Remote.Retry.JitterFactor > 1 {
		log.Warn().Float64("jitter_factor", c.Remote.Retry.JitterFactor).Msg("jitter factor out of [0,1], using 0.2")
		c.Remote.Retry.JitterFactor = 0.2
	}
	if c.Remote.AuthMode == types.AuthBearer && c.Remote.BearerToken == "" {
		log.Warn().Msg("remote auth_mode=bearer but bearer_token is empty")
	}
	if c.Remote.AuthMode == types.AuthJWT && c.Remote.JWTSigningKey == "" {
		log.Warn().Msg("remote auth_mode=jwt but jwt_signing_key is empty")
	}

	if c.Crawl.MaxPages < 1 {
		c.Crawl.MaxPages = 1
	} else if c.Crawl.MaxPages > maxCrawlPages {
		log.Warn().Int("max_pages", c.Crawl.MaxPages).Msg("max crawl pages too high, capping")
		c.Crawl.MaxPages = maxCrawlPages
	}
	if c.Crawl.MaxDepth < 0 {
		c.Crawl.MaxDepth = 0
	}
	if c.Crawl.RateLimitMs < 0 {
		c.Crawl.RateLimitMs = 0
	}

	if c.Healing.MinConfidence < 0 || c.Healing.MinConfidence > 1 {
		log.Warn().Float64("min_confidence", c.Healing.MinConfidence).Msg("healing min_confidence out of [0,1], using 0.6")
		c.Healing.MinConfidence = 0.6
	}
	if c.Healing.MaxCandidates < 1 {
		c.Healing.MaxCandidates = 15
	}

	if c.Resource.SampleInterval <= 0 {
		c.Resource.SampleInterval = 5 * time.Second
	}
	if !(0 <= c.Resource.LowThresholdMB && c.Resource.LowThresholdMB <= c.Resource.MediumThresholdMB &&
		c.Resource.MediumThresholdMB <= c.Resource.HighThresholdMB &&
		c.Resource.HighThresholdMB <= c.Resource.CriticalThresholdMB) {
		log.Warn().
			Int("low", c.Resource.LowThresholdMB).Int("medium", c.Resource.MediumThresholdMB).
			Int("high", c.Resource.HighThresholdMB).Int("critical", c.Resource.CriticalThresholdMB).
			Msg("resource thresholds not monotonically increasing, resetting to defaults")
		c.Resource.LowThresholdMB = 512
		c.Resource.MediumThresholdMB = 1024
		c.Resource.HighThresholdMB = 2048
		c.Resource.CriticalThresholdMB = 3072
	}
	if c.Resource.HysteresisMB < 0 {
		c.Resource.HysteresisMB = 0
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	if c.APIKeyEnabled {
		switch {
		case c.APIKey == "":
			log.Error().Msg("api_key_enabled is true but api_key is empty - authentication will always fail")
		case len(c.APIKey) < minAPIKeyLength:
			log.Error().Int("length", len(c.APIKey)).Int("min_required", minAPIKeyLength).Msg("api_key is too short for secure authentication")
		}
	}

	if len(c.CORSAllowedOrigins) == 0 {
		log.Warn().Msg("cors_allowed_origins not set - all cross-origin requests will be rejected (secure default)")
	}

	if c.RateLimitEnabled && c.RateLimitRPM < 1 {
		log.Warn().Int("rate_limit_rpm", c.RateLimitRPM).Msg("invalid rate_limit_rpm, using 120")
		c.RateLimitRPM = 120
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 45 * time.Second
	} else if c.RequestTimeout > maxTimeout {
		c.RequestTimeout = maxTimeout
	}
	if c.PProfEnabled && c.PProfPort <= 0 {
		c.PProfPort = 6060
	}
}
