package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/semaphore"

	"link-auditor/pkg/config"
)

// RobotsHandler fetches, parses, and caches robots.txt per host. Any
// failure to obtain rules (network error, 4xx, parse error) is cached
// as nil and treated as allow-all, so an unreachable robots.txt never
// blocks an audit.
type RobotsHandler struct {
	fetcher         *Fetcher
	rateLimiter     *HostRateLimiter
	cache           map[string]*robotstxt.RobotsData // hostname -> parsed rules, nil on failure
	cacheMu         sync.Mutex
	globalSemaphore *semaphore.Weighted
	cfg             *config.AppConfig
	log             *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler sharing the crawl's fetcher,
// limiter, and global request semaphore.
func NewRobotsHandler(
	fetcher *Fetcher,
	rateLimiter *HostRateLimiter,
	globalSemaphore *semaphore.Weighted,
	cfg *config.AppConfig,
	log *logrus.Entry,
) *RobotsHandler {
	return &RobotsHandler{
		fetcher:         fetcher,
		rateLimiter:     rateLimiter,
		cache:           make(map[string]*robotstxt.RobotsData),
		globalSemaphore: globalSemaphore,
		cfg:             cfg,
		log:             log,
	}
}

// cacheResult stores data (possibly nil) for host and returns it.
func (rh *RobotsHandler) cacheResult(host string, data *robotstxt.RobotsData) *robotstxt.RobotsData {
	rh.cacheMu.Lock()
	rh.cache[host] = data
	rh.cacheMu.Unlock()
	return data
}

// GetRobotsData returns the parsed robots.txt for targetURL's host,
// fetching on first sight. Returns nil when no usable rules exist.
func (rh *RobotsHandler) GetRobotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	host := targetURL.Hostname()
	hostLog := rh.log.WithField("host", host)

	rh.cacheMu.Lock()
	data, found := rh.cache[host]
	rh.cacheMu.Unlock()
	if found {
		return data
	}

	robotsURL := &url.URL{Scheme: targetURL.Scheme, Host: targetURL.Host, Path: "/robots.txt"}
	if robotsURL.Scheme != "http" && robotsURL.Scheme != "https" {
		hostLog.Warnf("Invalid scheme %q, defaulting to https for robots.txt", targetURL.Scheme)
		robotsURL.Scheme = "https"
	}
	robotsLog := hostLog.WithField("robots_url", robotsURL.String())
	robotsLog.Info("Fetching robots.txt...")

	// The robots fetch counts against the global request cap like any
	// other request
	ctxAcquire, cancelAcquire := context.WithTimeout(ctx, rh.cfg.SemaphoreAcquireTimeout)
	err := rh.globalSemaphore.Acquire(ctxAcquire, 1)
	cancelAcquire()
	if err != nil {
		robotsLog.Errorf("Error acquiring global semaphore: %v", err)
		return rh.cacheResult(host, nil)
	}
	defer rh.globalSemaphore.Release(1)

	if err := rh.rateLimiter.Wait(ctx, host); err != nil {
		robotsLog.Warnf("Rate limit wait aborted: %v", err)
		return rh.cacheResult(host, nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		return rh.cacheResult(host, nil)
	}
	req.Header.Set("User-Agent", rh.cfg.DefaultUserAgent)

	resp, fetchErr := rh.fetcher.FetchWithRetry(ctx, req)
	rh.rateLimiter.UpdateLastRequestTime(host)

	if fetchErr != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		robotsLog.Infof("No usable robots.txt (%v), allowing all", fetchErr)
		return rh.cacheResult(host, nil)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		robotsLog.Errorf("Error reading robots.txt body: %v", err)
		return rh.cacheResult(host, nil)
	}

	data, err = robotstxt.FromBytes(bodyBytes)
	if err != nil {
		robotsLog.Errorf("Error parsing robots.txt: %v", err)
		return rh.cacheResult(host, nil)
	}

	robotsLog.Info("Fetched and parsed robots.txt")
	return rh.cacheResult(host, data)
}

// TestAgent reports whether userAgent may fetch targetURL under the
// host's robots.txt rules. Allows on any failure to obtain rules.
func (rh *RobotsHandler) TestAgent(ctx context.Context, targetURL *url.URL, userAgent string) bool {
	data := rh.GetRobotsData(ctx, targetURL)
	if data == nil {
		return true
	}
	return data.TestAgent(targetURL.RequestURI(), userAgent)
}
