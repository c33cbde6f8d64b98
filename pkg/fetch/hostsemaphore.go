package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// hostEntry tracks one host's semaphore and its usage state.
type hostEntry struct {
	sem         *semaphore.Weighted
	activeCount int64     // held + waiting permits
	lastRelease time.Time // zero until the first Release
}

// HostSemaphorePool caps in-flight requests per host. One pool is
// shared by all workers of a crawl so the per-host ceiling holds no
// matter which worker dials the host.
type HostSemaphorePool struct {
	hosts map[string]*hostEntry
	mu    sync.Mutex
	limit int64
	log   *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost concurrent
// requests to each host.
func NewHostSemaphorePool(maxPerHost int, log *logrus.Entry) *HostSemaphorePool {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 2
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", limit)
	}
	return &HostSemaphorePool{
		hosts: make(map[string]*hostEntry),
		limit: limit,
		log:   log,
	}
}

// Acquire takes one permit for host, creating its semaphore on first
// use. Blocks until a permit frees up or ctx is done.
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) error {
	p.mu.Lock()
	entry, exists := p.hosts[host]
	if !exists {
		entry = &hostEntry{sem: semaphore.NewWeighted(p.limit)}
		p.hosts[host] = entry
		p.log.WithFields(logrus.Fields{"host": host, "limit": p.limit}).Debug("Created host semaphore")
	}
	entry.activeCount++
	p.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		p.mu.Lock()
		entry.activeCount--
		p.mu.Unlock()
		return err
	}
	return nil
}

// Release returns one permit for host.
func (p *HostSemaphorePool) Release(host string) {
	p.mu.Lock()
	entry, exists := p.hosts[host]
	if !exists {
		p.mu.Unlock()
		p.log.Errorf("hostsemaphore: Release called for unknown host: %s", host)
		return
	}
	entry.activeCount--
	entry.lastRelease = time.Now()
	p.mu.Unlock()

	entry.sem.Release(1)
}

// RunEviction drops idle host entries on a timer until ctx is done.
// External-link audits touch many hosts once; without eviction the map
// grows with every host ever contacted.
func (p *HostSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Debug("Host semaphore eviction goroutine started")

	for {
		select {
		case <-ticker.C:
			p.evictIdle(interval)
		case <-ctx.Done():
			p.log.Debugf("Stopping host semaphore eviction: %v", ctx.Err())
			return
		}
	}
}

// evictIdle removes entries idle for at least maxIdle.
func (p *HostSemaphorePool) evictIdle(maxIdle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	evicted := 0
	for host, entry := range p.hosts {
		if entry.activeCount == 0 && !entry.lastRelease.IsZero() && now.Sub(entry.lastRelease) >= maxIdle {
			delete(p.hosts, host)
			evicted++
		}
	}
	if evicted > 0 {
		p.log.Debugf("Evicted %d idle host semaphores, %d remain", evicted, len(p.hosts))
	}
}

// Len reports the number of tracked hosts.
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hosts)
}
