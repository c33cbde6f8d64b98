package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestLoadConfig(t *testing.T) {
	yamlDoc := `
default_user_agent: "auditor-test/1.0"
num_workers: 6
max_requests: 20
max_requests_per_host: 3
output_base_dir: ./reports
state_dir: ./state
frontier_backend: badger
default_delay_per_host: 250ms
sites:
  example:
    seed_urls:
      - "https://example.com/"
    allowed_domains:
      - "example.com"
    excluded_url_prefixes:
      - "https://example.com/bot"
    max_depth: 3
    respect_robots: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "auditor-test/1.0", cfg.DefaultUserAgent)
	assert.Equal(t, 6, cfg.NumWorkers)
	assert.Equal(t, FrontierBadger, cfg.FrontierBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.DefaultDelayPerHost)

	site, ok := cfg.Sites["example"]
	require.True(t, ok, "site 'example' should be present")
	assert.Equal(t, []string{"https://example.com/"}, site.SeedURLs)
	assert.Equal(t, []string{"example.com"}, site.AllowedDomains)
	assert.Equal(t, []string{"https://example.com/bot"}, site.ExcludedURLPrefixes)
	assert.Equal(t, 3, site.MaxDepth)
	require.NotNil(t, site.RespectRobots)
	assert.True(t, *site.RespectRobots)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sites: [not: a map"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestGetEffectiveUserAgent(t *testing.T) {
	tests := []struct {
		name     string
		siteCfg  SiteConfig
		appCfg   AppConfig
		expected string
	}{
		{
			name:     "site overrides global",
			siteCfg:  SiteConfig{UserAgent: "site-agent"},
			appCfg:   AppConfig{DefaultUserAgent: "global-agent"},
			expected: "site-agent",
		},
		{
			name:     "site empty uses global",
			siteCfg:  SiteConfig{},
			appCfg:   AppConfig{DefaultUserAgent: "global-agent"},
			expected: "global-agent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetEffectiveUserAgent(tt.siteCfg, tt.appCfg))
		})
	}
}

func TestGetEffectiveDelayPerHost(t *testing.T) {
	tests := []struct {
		name     string
		siteCfg  SiteConfig
		appCfg   AppConfig
		expected time.Duration
	}{
		{
			name:     "site overrides global",
			siteCfg:  SiteConfig{DelayPerHost: 500 * time.Millisecond},
			appCfg:   AppConfig{DefaultDelayPerHost: time.Second},
			expected: 500 * time.Millisecond,
		},
		{
			name:     "site zero uses global",
			siteCfg:  SiteConfig{},
			appCfg:   AppConfig{DefaultDelayPerHost: time.Second},
			expected: time.Second,
		},
		{
			name:     "both zero disables delay",
			siteCfg:  SiteConfig{},
			appCfg:   AppConfig{},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetEffectiveDelayPerHost(tt.siteCfg, tt.appCfg))
		})
	}
}

func TestGetEffectiveRateLimit(t *testing.T) {
	siteLimit := RateLimitConfig{Requests: 5, Window: time.Second}
	appLimit := RateLimitConfig{Requests: 10, Window: time.Minute}

	tests := []struct {
		name     string
		siteCfg  SiteConfig
		appCfg   AppConfig
		expected RateLimitConfig
	}{
		{
			name:     "site overrides global",
			siteCfg:  SiteConfig{RateLimit: &siteLimit},
			appCfg:   AppConfig{DefaultRateLimit: appLimit},
			expected: siteLimit,
		},
		{
			name:     "site nil uses global",
			siteCfg:  SiteConfig{},
			appCfg:   AppConfig{DefaultRateLimit: appLimit},
			expected: appLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetEffectiveRateLimit(tt.siteCfg, tt.appCfg))
		})
	}
}

func TestGetEffectiveRespectRobots(t *testing.T) {
	tests := []struct {
		name     string
		siteCfg  SiteConfig
		appCfg   AppConfig
		expected bool
	}{
		{
			name:     "site enabled overrides global disabled",
			siteCfg:  SiteConfig{RespectRobots: boolPtr(true)},
			appCfg:   AppConfig{RespectRobots: false},
			expected: true,
		},
		{
			name:     "site disabled overrides global enabled",
			siteCfg:  SiteConfig{RespectRobots: boolPtr(false)},
			appCfg:   AppConfig{RespectRobots: true},
			expected: false,
		},
		{
			name:     "site nil uses global",
			siteCfg:  SiteConfig{},
			appCfg:   AppConfig{RespectRobots: true},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetEffectiveRespectRobots(tt.siteCfg, tt.appCfg))
		})
	}
}
