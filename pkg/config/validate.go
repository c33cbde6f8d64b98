package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"link-auditor/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	// MaxRequests
	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 10")
		c.MaxRequests = 10
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 2")
		c.MaxRequestsPerHost = 2
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './reports'")
		c.OutputBaseDir = "./reports"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './auditor_state'")
		c.StateDir = "./auditor_state"
	}

	// FrontierBackend
	switch c.FrontierBackend {
	case "":
		c.FrontierBackend = FrontierMemory
	case FrontierMemory, FrontierBadger:
	default:
		return warnings, fmt.Errorf("%w: unknown frontier_backend %q (expected %q or %q)",
			utils.ErrConfigValidation, c.FrontierBackend, FrontierMemory, FrontierBadger)
	}

	// DefaultUserAgent
	if c.DefaultUserAgent == "" {
		warnings = append(warnings, "default_user_agent is empty, defaulting to 'link-auditor/0.1'")
		c.DefaultUserAgent = "link-auditor/0.1"
	}

	// DefaultDelayPerHost
	if c.DefaultDelayPerHost < 0 {
		warnings = append(warnings, "default_delay_per_host cannot be negative, setting to 0")
		c.DefaultDelayPerHost = 0
	}

	// DefaultRateLimit
	if c.DefaultRateLimit.Requests < 0 || c.DefaultRateLimit.Window < 0 {
		warnings = append(warnings, "default_rate_limit values cannot be negative, disabling rate limit")
		c.DefaultRateLimit = RateLimitConfig{}
	}

	// MaxRetries: nil means unset; an explicit 0 disables retries
	if c.MaxRetries == nil {
		defaultRetries := 3
		c.MaxRetries = &defaultRetries
	} else if *c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		*c.MaxRetries = 0
	}

	// Retry delays (only if retries enabled)
	if *c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	// Site keys name state and output directories
	for key := range c.Sites {
		if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
			return warnings, fmt.Errorf("%w: site key %q is not usable as a directory name", utils.ErrConfigValidation, key)
		}
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (e.g., dropping empty prefix entries).
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// Required: SeedURLs
	if len(c.SeedURLs) == 0 {
		return nil, fmt.Errorf("%w: site has no seed_urls", utils.ErrConfigValidation)
	}

	// Required: AllowedDomains
	if len(c.AllowedDomains) == 0 {
		return nil, fmt.Errorf("%w: site needs allowed_domains", utils.ErrConfigValidation)
	}
	for _, d := range c.AllowedDomains {
		if d == "" {
			return nil, fmt.Errorf("%w: allowed_domains contains an empty entry", utils.ErrConfigValidation)
		}
	}

	// Seed URLs must at least parse; unfetchable seeds are skipped at run time
	for _, seed := range c.SeedURLs {
		u, parseErr := url.Parse(seed)
		if parseErr != nil || u.Scheme == "" || u.Host == "" {
			warnings = append(warnings, fmt.Sprintf(
				"seed URL %q is not an absolute http(s) URL and will be skipped", seed))
		}
	}

	// ExcludedURLPrefixes: an empty prefix would match every URL
	kept := c.ExcludedURLPrefixes[:0]
	for _, p := range c.ExcludedURLPrefixes {
		if p == "" {
			warnings = append(warnings, "excluded_url_prefixes contains an empty entry, ignoring it")
			continue
		}
		kept = append(kept, p)
	}
	c.ExcludedURLPrefixes = kept

	// MaxDepth
	if c.MaxDepth < 0 {
		warnings = append(warnings, "Site MaxDepth cannot be negative, setting to 0 (unlimited)")
		c.MaxDepth = 0
	}

	// DelayPerHost
	if c.DelayPerHost < 0 {
		warnings = append(warnings, "Site DelayPerHost cannot be negative, setting to 0")
		c.DelayPerHost = 0
	}

	// RateLimit (pointer)
	if c.RateLimit != nil && (c.RateLimit.Requests < 0 || c.RateLimit.Window < 0) {
		warnings = append(warnings, "Site rate_limit values cannot be negative, disabling override")
		c.RateLimit = nil
	}

	return warnings, nil
}
