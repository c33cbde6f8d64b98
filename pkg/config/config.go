package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Frontier backend names accepted in AppConfig.FrontierBackend
const (
	FrontierMemory = "memory"
	FrontierBadger = "badger"
)

// SiteConfig holds configuration specific to a single site audit
type SiteConfig struct {
	SeedURLs            []string         `yaml:"seed_urls"`
	AllowedDomains      []string         `yaml:"allowed_domains"`
	ExcludedURLPrefixes []string         `yaml:"excluded_url_prefixes,omitempty"` // Full-URL prefixes dropped before dedup
	MaxDepth            int              `yaml:"max_depth"`
	UserAgent           string           `yaml:"user_agent,omitempty"`
	DelayPerHost        time.Duration    `yaml:"delay_per_host,omitempty"`
	RateLimit           *RateLimitConfig `yaml:"rate_limit,omitempty"`
	RespectRobots       *bool            `yaml:"respect_robots,omitempty"`
}

// RateLimitConfig caps the request rate per host with a token bucket.
// Disabled when either field is zero.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent        string                `yaml:"default_user_agent"`
	DefaultDelayPerHost     time.Duration         `yaml:"default_delay_per_host"`
	DefaultRateLimit        RateLimitConfig       `yaml:"default_rate_limit,omitempty"`
	RespectRobots           bool                  `yaml:"respect_robots,omitempty"`
	NumWorkers              int                   `yaml:"num_workers"`
	MaxRequests             int                   `yaml:"max_requests"`
	MaxRequestsPerHost      int                   `yaml:"max_requests_per_host"`
	OutputBaseDir           string                `yaml:"output_base_dir"`
	StateDir                string                `yaml:"state_dir"`
	FrontierBackend         string                `yaml:"frontier_backend,omitempty"` // "memory" (default) or "badger"
	Resume                  bool                  `yaml:"resume,omitempty"`
	MaxRetries              *int                  `yaml:"max_retries,omitempty"` // nil defaults to 3; an explicit 0 disables retries
	InitialRetryDelay       time.Duration         `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay           time.Duration         `yaml:"max_retry_delay,omitempty"`
	SemaphoreAcquireTimeout time.Duration         `yaml:"semaphore_acquire_timeout,omitempty"`
	GlobalCrawlTimeout      time.Duration         `yaml:"global_crawl_timeout,omitempty"`
	HTTPClientSettings      HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Sites                   map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // Explicitly enable/disable HTTP/2 attempt (use pointer for tri-state: nil=default, true=force, false=disable)
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// LoadConfig reads and parses the YAML configuration at path.
// Validation is a separate step so callers can surface warnings.
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	return &cfg, nil
}

// GetEffectiveUserAgent determines the User-Agent for a site.
// Site config (if non-empty) overrides global.
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveDelayPerHost determines the per-host politeness delay for a site
func GetEffectiveDelayPerHost(siteCfg SiteConfig, appCfg AppConfig) time.Duration {
	if siteCfg.DelayPerHost > 0 {
		return siteCfg.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}

// GetEffectiveRateLimit determines the per-host rate limit for a site
func GetEffectiveRateLimit(siteCfg SiteConfig, appCfg AppConfig) RateLimitConfig {
	if siteCfg.RateLimit != nil {
		return *siteCfg.RateLimit
	}
	return appCfg.DefaultRateLimit
}

// GetEffectiveRespectRobots determines whether robots.txt is honored for a site
func GetEffectiveRespectRobots(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.RespectRobots != nil {
		return *siteCfg.RespectRobots
	}
	return appCfg.RespectRobots
}
