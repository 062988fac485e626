// Package config loads the gateway configuration from the environment and
// the upstream registry file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Upstream names used throughout the gateway.
const (
	UpstreamPAS    = "pas"
	UpstreamPA     = "pa"
	UpstreamDPM    = "dpm"
	UpstreamManage = "manage"
	UpstreamRAS    = "ras"
)

// environment is the flat set of variables decoded by envdecode.
type environment struct {
	ServiceName     string `env:"SERVICE_NAME,default=advisor-experience-api"`
	ListenAddr      string `env:"LISTEN_ADDR,default=:8100"`
	ContractVersion string `env:"CONTRACT_VERSION,default=v1"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`
	LogFormat       string `env:"LOG_FORMAT,default=json"`
	ServicesFile    string `env:"SERVICES_CONFIG,default=config/services.yaml"`

	PASBaseURL    string `env:"PORTFOLIO_DATA_PLATFORM_BASE_URL"`
	PABaseURL     string `env:"PERFORMANCE_ANALYTICS_BASE_URL"`
	DPMBaseURL    string `env:"DECISIONING_SERVICE_BASE_URL"`
	ManageBaseURL string `env:"MANAGEMENT_SERVICE_BASE_URL"`
	RASBaseURL    string `env:"REPORTING_AGGREGATION_BASE_URL"`

	ManageSplitEnabled bool `env:"MANAGE_SPLIT_ENABLED,default=true"`

	UpstreamTimeout          time.Duration `env:"UPSTREAM_TIMEOUT,default=3s"`
	UpstreamMaxRetries       int           `env:"UPSTREAM_MAX_RETRIES,default=2"`
	UpstreamRetryBackoff     time.Duration `env:"UPSTREAM_RETRY_BACKOFF,default=200ms"`
	UpstreamRetryStatusCodes []int         `env:"UPSTREAM_RETRY_STATUS_CODES"`

	BreakerFailureThreshold int           `env:"UPSTREAM_BREAKER_FAILURE_THRESHOLD,default=0"`
	BreakerCooldown         time.Duration `env:"UPSTREAM_BREAKER_COOLDOWN,default=30s"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000;http://localhost:5173"`

	RateLimitRPS      int    `env:"RATE_LIMIT_RPS,default=50"`
	RateLimitBurst    int    `env:"RATE_LIMIT_BURST,default=100"`
	RateLimitCleanup  string `env:"RATE_LIMIT_CLEANUP_SCHEDULE,default=@every 5m"`
	EnforceWriteAuthz bool   `env:"ENFORCE_WRITE_AUTHZ,default=false"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
}

// RetrySettings is the outbound retry policy shared by all upstreams unless
// the registry overrides it.
type RetrySettings struct {
	Timeout          time.Duration
	MaxRetries       int
	Backoff          time.Duration
	RetryStatusCodes []int
}

// BreakerSettings configures the per-upstream circuit breaker.
type BreakerSettings struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// RateLimitSettings configures inbound throttling.
type RateLimitSettings struct {
	RequestsPerSecond int
	Burst             int
	CleanupSchedule   string
}

// Config is the resolved gateway configuration. It is built once at startup
// and never modified afterwards.
type Config struct {
	ServiceName     string
	ListenAddr      string
	ContractVersion string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	ManageSplitEnabled bool
	Retry              RetrySettings
	Breaker            BreakerSettings
	RateLimit          RateLimitSettings
	CORSAllowedOrigins []string
	EnforceWriteAuthz  bool

	Services *ServicesConfig
}

// Load decodes the environment and merges the upstream registry found at
// SERVICES_CONFIG, falling back to the built-in registry when that file does
// not exist.
func Load() (*Config, error) {
	var env environment
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	services, err := LoadServicesConfigOrDefault(env.ServicesFile)
	if err != nil {
		return nil, err
	}

	cfg := fromEnvironment(env, services)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnvironment(env environment, services *ServicesConfig) *Config {
	overrides := map[string]string{
		UpstreamPAS:    env.PASBaseURL,
		UpstreamPA:     env.PABaseURL,
		UpstreamDPM:    env.DPMBaseURL,
		UpstreamManage: env.ManageBaseURL,
		UpstreamRAS:    env.RASBaseURL,
	}
	for name, baseURL := range overrides {
		if strings.TrimSpace(baseURL) == "" {
			continue
		}
		settings := services.Upstreams[name]
		if settings == nil {
			settings = &UpstreamSettings{Enabled: true}
			services.Upstreams[name] = settings
		}
		settings.BaseURL = strings.TrimSpace(baseURL)
	}

	return &Config{
		ServiceName:     env.ServiceName,
		ListenAddr:      env.ListenAddr,
		ContractVersion: env.ContractVersion,
		LogLevel:        env.LogLevel,
		LogFormat:       env.LogFormat,
		ShutdownTimeout: env.ShutdownTimeout,

		ManageSplitEnabled: env.ManageSplitEnabled,
		Retry: RetrySettings{
			Timeout:          env.UpstreamTimeout,
			MaxRetries:       env.UpstreamMaxRetries,
			Backoff:          env.UpstreamRetryBackoff,
			RetryStatusCodes: env.UpstreamRetryStatusCodes,
		},
		Breaker: BreakerSettings{
			FailureThreshold: env.BreakerFailureThreshold,
			Cooldown:         env.BreakerCooldown,
		},
		RateLimit: RateLimitSettings{
			RequestsPerSecond: env.RateLimitRPS,
			Burst:             env.RateLimitBurst,
			CleanupSchedule:   env.RateLimitCleanup,
		},
		CORSAllowedOrigins: env.CORSAllowedOrigins,
		EnforceWriteAuthz:  env.EnforceWriteAuthz,
		Services:           services,
	}
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if c.ContractVersion == "" {
		return fmt.Errorf("config: contract version is required")
	}
	if c.Retry.Timeout <= 0 {
		return fmt.Errorf("config: upstream timeout must be positive, got %s", c.Retry.Timeout)
	}
	if c.Retry.Backoff < 0 {
		return fmt.Errorf("config: upstream retry backoff must not be negative")
	}
	if c.Services == nil {
		return fmt.Errorf("config: upstream registry is missing")
	}
	for name, settings := range c.Services.Upstreams {
		if settings == nil || !settings.Enabled {
			continue
		}
		u, err := url.Parse(settings.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: upstream %s: invalid base_url %q", name, settings.BaseURL)
		}
	}
	return c.Services.validateRules()
}

// Upstream returns the registry entry for name.
func (c *Config) Upstream(name string) (*UpstreamSettings, bool) {
	settings, ok := c.Services.Upstreams[name]
	return settings, ok && settings != nil
}

// DecisioningUpstream names the upstream that serves rebalance runs and
// proposal mutations: the management service when the split is enabled.
func (c *Config) DecisioningUpstream() string {
	if c.ManageSplitEnabled {
		if settings, ok := c.Upstream(UpstreamManage); ok && settings.Enabled {
			return UpstreamManage
		}
	}
	return UpstreamDPM
}

// RetryFor returns the retry settings for one upstream, applying its
// registry overrides.
func (c *Config) RetryFor(name string) RetrySettings {
	retry := c.Retry
	settings, ok := c.Upstream(name)
	if !ok {
		return retry
	}
	if settings.Timeout > 0 {
		retry.Timeout = settings.Timeout
	}
	if settings.MaxRetries != nil {
		retry.MaxRetries = *settings.MaxRetries
	}
	return retry
}
