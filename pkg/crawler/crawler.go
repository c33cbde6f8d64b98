package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"link-auditor/pkg/classify"
	"link-auditor/pkg/config"
	"link-auditor/pkg/fetch"
	"link-auditor/pkg/frontier"
	"link-auditor/pkg/models"
	"link-auditor/pkg/parse"
	"link-auditor/pkg/queue"
	"link-auditor/pkg/utils"
)

// Crawler drives the traversal of a single configured site: it seeds
// the work queue, runs the worker pool, and routes every fetch outcome
// through the classifier, the frontier, and the record sink.
type Crawler struct {
	log           *logrus.Entry // carries site_key
	appCfg        *config.AppConfig
	siteCfg       *config.SiteConfig
	siteKey       string
	siteOutputDir string

	store   frontier.Store
	output  *OutputManager
	fetcher *fetch.Fetcher
	robots  *fetch.RobotsHandler // nil unless robots.txt is honored
	queue   *queue.WorkQueue
	domains *classify.DomainSet

	rateLimiter     *fetch.HostRateLimiter
	hostSemPool     *fetch.HostSemaphorePool
	globalSemaphore *semaphore.Weighted

	userAgent string

	wg       sync.WaitGroup // one count per queued work item
	crawlCtx context.Context

	queuedCount   atomic.Int64
	visitedCount  atomic.Int64
	externalCount atomic.Int64
	failedCount   atomic.Int64
	skippedCount  atomic.Int64
}

// NewCrawler wires a Crawler for one site. The frontier store and HTTP
// client are injected; everything else is built from configuration.
func NewCrawler(
	appCfg *config.AppConfig,
	siteCfg *config.SiteConfig,
	siteKey string,
	baseLogger *logrus.Entry,
	store frontier.Store,
	client *http.Client,
) (*Crawler, error) {
	logger := baseLogger.WithField("site_key", siteKey)

	siteOutputDir := filepath.Join(appCfg.OutputBaseDir, siteKey)

	userAgent := config.GetEffectiveUserAgent(*siteCfg, *appCfg)
	delay := config.GetEffectiveDelayPerHost(*siteCfg, *appCfg)
	bucket := config.GetEffectiveRateLimit(*siteCfg, *appCfg)

	c := &Crawler{
		log:             logger,
		appCfg:          appCfg,
		siteCfg:         siteCfg,
		siteKey:         siteKey,
		siteOutputDir:   siteOutputDir,
		store:           store,
		fetcher:         fetch.NewFetcher(client, appCfg, userAgent, logger.Logger),
		queue:           queue.NewWorkQueue(logger.Logger),
		domains:         classify.NewDomainSet(siteCfg.AllowedDomains),
		rateLimiter:     fetch.NewHostRateLimiter(delay, bucket, logger),
		hostSemPool:     fetch.NewHostSemaphorePool(appCfg.MaxRequestsPerHost, logger),
		globalSemaphore: semaphore.NewWeighted(int64(appCfg.MaxRequests)),
		userAgent:       userAgent,
	}

	if c.domains.Len() == 0 {
		return nil, fmt.Errorf("site %q has no usable allowed_domains", siteKey)
	}

	if config.GetEffectiveRespectRobots(*siteCfg, *appCfg) {
		c.robots = fetch.NewRobotsHandler(c.fetcher, c.rateLimiter, c.globalSemaphore, appCfg, logger)
		logger.Info("robots.txt checks enabled")
	}

	return c, nil
}

// Run executes the crawl and blocks until the frontier is exhausted or
// ctx is canceled. Returns ctx's error, nil on normal completion.
func (c *Crawler) Run(ctx context.Context) error {
	c.crawlCtx = ctx
	startTime := time.Now()

	runLog := c.log.WithField("resume", c.appCfg.Resume)
	runLog.Infof("Audit starting with %d worker(s)", c.appCfg.NumWorkers)

	if err := c.prepareOutputDir(); err != nil {
		return err
	}
	c.output = NewOutputManager(c.siteOutputDir, c.appCfg.Resume, c.log)
	defer func() {
		if err := c.output.Close(); err != nil {
			runLog.Errorf("Failed to close output logs: %v", err)
		}
	}()

	seeded := c.seedQueue()
	if seeded == 0 {
		return fmt.Errorf("no usable seed URLs for site %q", c.siteKey)
	}
	runLog.Infof("Seeded %d start URL(s)", seeded)

	var workersWg sync.WaitGroup
	for i := 1; i <= c.appCfg.NumWorkers; i++ {
		workersWg.Add(1)
		workerLog := c.log.WithField("worker_id", i)
		go func() {
			defer workersWg.Done()
			c.worker(workerLog)
		}()
	}

	// The waiter closes the queue once every queued item has been
	// processed, which is the frontier-exhausted condition. A canceled
	// context also closes it so blocked workers can exit.
	waiterDone := make(chan struct{})
	go func() {
		defer close(waiterDone)
		tasksDone := make(chan struct{})
		go func() { c.wg.Wait(); close(tasksDone) }()
		select {
		case <-tasksDone:
			runLog.Debug("All queued tasks finished, closing work queue")
		case <-ctx.Done():
			runLog.Warnf("Context done (%v), closing work queue", ctx.Err())
		}
		c.queue.Close()
	}()

	progressDone := make(chan struct{})
	go c.reportProgress(progressDone)

	workersWg.Wait()
	<-waiterDone
	close(progressDone)

	c.log.WithFields(logrus.Fields{
		"duration": time.Since(startTime).String(),
		"queued":   c.queuedCount.Load(),
		"visited":  c.visitedCount.Load(),
		"external": c.externalCount.Load(),
		"failed":   c.failedCount.Load(),
		"skipped":  c.skippedCount.Load(),
	}).Info("Audit finished")

	return ctx.Err()
}

// prepareOutputDir creates the site's output directory, removing a
// previous run's logs first unless resuming.
func (c *Crawler) prepareOutputDir() error {
	if !c.appCfg.Resume {
		if err := c.cleanSiteOutputDir(); err != nil {
			c.log.Errorf("Failed to clean site output directory, continuing: %v", err)
		}
	}
	if err := os.MkdirAll(c.siteOutputDir, 0755); err != nil {
		return fmt.Errorf("creating site output dir %q: %w", c.siteOutputDir, err)
	}
	return nil
}

// cleanSiteOutputDir removes the site-specific output directory. The
// path is resolved and checked to be strictly under the base output
// directory before anything is deleted.
func (c *Crawler) cleanSiteOutputDir() error {
	absBase, err := filepath.Abs(c.appCfg.OutputBaseDir)
	if err != nil {
		return fmt.Errorf("resolving base output dir %q: %w", c.appCfg.OutputBaseDir, err)
	}
	absSite, err := filepath.Abs(c.siteOutputDir)
	if err != nil {
		return fmt.Errorf("resolving site output dir %q: %w", c.siteOutputDir, err)
	}
	if absSite == absBase || !strings.HasPrefix(absSite, absBase+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %q: not under base output dir %q", absSite, absBase)
	}
	if err := os.RemoveAll(c.siteOutputDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing site output dir %q: %w", c.siteOutputDir, err)
	}
	return nil
}

// seedQueue dispatches the configured seed URLs and returns how many
// were queued. Seeds pass through the same frontier as discovered
// links, so a seed listed twice, or rediscovered later as a link, is
// fetched once.
func (c *Crawler) seedQueue() int {
	seeded := 0
	for _, rawSeed := range c.siteCfg.SeedURLs {
		seedLog := c.log.WithField("seed", rawSeed)

		normalized, parsed, err := parse.ParseAndNormalize(rawSeed)
		if err != nil || parsed.Scheme != "http" && parsed.Scheme != "https" {
			seedLog.Warnf("Skipping unusable seed URL: %v", err)
			continue
		}

		added, err := c.store.MarkURLSeen(normalized)
		if err != nil {
			// Frontier errors must not lose a seed; dispatch anyway
			seedLog.Errorf("Frontier error marking seed, dispatching regardless: %v", err)
		} else if !added {
			seedLog.Warn("Duplicate seed URL, already dispatched")
			continue
		}

		c.enqueue(&models.WorkItem{
			URL:    normalized,
			Origin: "start_" + rawSeed,
			Scope:  models.ScopeSeed,
			Depth:  0,
		})
		seeded++
	}
	return seeded
}

// enqueue adds item to the work queue, bumping the task WaitGroup
// first so the waiter cannot observe a drained count early.
func (c *Crawler) enqueue(item *models.WorkItem) {
	c.wg.Add(1)
	c.queue.Add(item)
	c.queuedCount.Add(1)
}

// worker pops and processes tasks until the queue is closed and empty.
func (c *Crawler) worker(workerLog *logrus.Entry) {
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for {
		select {
		case <-c.crawlCtx.Done():
			workerLog.Warnf("Worker exiting, context done: %v", c.crawlCtx.Err())
			return
		default:
		}

		item, ok := c.queue.Pop()
		if !ok {
			return
		}
		c.processTask(item, workerLog)
	}
}

// processTask runs the full pipeline for one dispatched URL: policy
// gates, resource acquisition, fetch, then success or failure handling.
// Every exit path decrements the task WaitGroup exactly once.
func (c *Crawler) processTask(item *models.WorkItem, workerLog *logrus.Entry) {
	taskLog := workerLog.WithFields(logrus.Fields{
		"url":    item.URL,
		"origin": item.Origin,
		"scope":  item.Scope,
		"depth":  item.Depth,
	})

	outcome := models.PageStatusPending
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			taskLog.WithField("stack_trace", string(debug.Stack())).
				Errorf("PANIC recovered in task: %v", r)
			outcome = models.PageStatusFailure
			c.failedCount.Add(1)
		}
		taskLog.WithFields(logrus.Fields{
			"outcome":  outcome,
			"duration": time.Since(startTime).String(),
		}).Debug("Task finished")
		c.wg.Done()
	}()

	parsed, err := url.Parse(item.URL)
	if err != nil {
		// Queued URLs are pre-normalized; a parse failure here is a bug
		taskLog.Errorf("Queued URL failed to parse: %v", err)
		outcome = models.PageStatusFailure
		c.failedCount.Add(1)
		return
	}
	host := parsed.Hostname()

	if c.robots != nil && !c.robots.TestAgent(c.crawlCtx, parsed, c.userAgent) {
		taskLog.Info("Disallowed by robots.txt, skipping")
		outcome = models.PageStatusSkipped
		c.skippedCount.Add(1)
		return
	}

	release, err := c.acquireSlots(host, taskLog)
	if err != nil {
		// Slot acquisition timing out is a local resource problem, not
		// a statement about the link, so it lands in the catch-all
		if c.crawlCtx.Err() != nil {
			taskLog.Warnf("Task abandoned by shutdown: %v", err)
			outcome = models.PageStatusSkipped
			c.skippedCount.Add(1)
			return
		}
		taskLog.WithField("category", utils.CategorizeError(err)).
			Warnf("Resource acquisition failed: %v", err)
		if sinkErr := c.output.AppendError(item.Origin, item.URL, classify.StatusUnknownError); sinkErr != nil {
			taskLog.Errorf("Failed to append error record: %v", sinkErr)
		}
		outcome = models.PageStatusFailure
		c.failedCount.Add(1)
		return
	}
	defer release()

	if err := c.rateLimiter.Wait(c.crawlCtx, host); err != nil {
		outcome = c.recordFailure(item, err, taskLog)
		return
	}

	resp, err := c.fetcher.Fetch(c.crawlCtx, item.URL, item.Scope.Expands())
	c.rateLimiter.UpdateLastRequestTime(host)

	if err != nil {
		outcome = c.recordFailure(item, err, taskLog)
		return
	}

	if !item.Scope.Expands() {
		// External links are reachability checks only: a delivered
		// response means the link works, and nothing is recorded
		taskLog.Debug("External link reachable")
		outcome = models.PageStatusSuccess
		c.externalCount.Add(1)
		return
	}

	outcome = c.handleVisit(item, resp, taskLog)
}

// acquireSlots takes the global and per-host request permits, returning
// a release function. Acquisition is bounded by the configured timeout
// so a stuck host cannot wedge the pool.
func (c *Crawler) acquireSlots(host string, taskLog *logrus.Entry) (func(), error) {
	acqCtx, cancel := context.WithTimeout(c.crawlCtx, c.appCfg.SemaphoreAcquireTimeout)
	defer cancel()

	if err := c.globalSemaphore.Acquire(acqCtx, 1); err != nil {
		return nil, fmt.Errorf("%w: global request slot: %w", utils.ErrSemaphoreTimeout, err)
	}
	if err := c.hostSemPool.Acquire(acqCtx, host); err != nil {
		c.globalSemaphore.Release(1)
		return nil, fmt.Errorf("%w: request slot for host %q: %w", utils.ErrSemaphoreTimeout, host, err)
	}
	taskLog.Debug("Acquired request slots")

	return func() {
		c.hostSemPool.Release(host)
		c.globalSemaphore.Release(1)
	}, nil
}

// recordFailure classifies err and appends an error record keyed by the
// item's origin. Context cancellation during shutdown is not a link
// failure and leaves no record.
func (c *Crawler) recordFailure(item *models.WorkItem, err error, taskLog *logrus.Entry) models.PageStatus {
	if c.crawlCtx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, c.crawlCtx.Err())) {
		taskLog.Warnf("Task abandoned by shutdown: %v", err)
		c.skippedCount.Add(1)
		return models.PageStatusSkipped
	}

	status := classify.FailureStatus(err)
	taskLog.WithFields(logrus.Fields{
		"status":   status,
		"category": utils.CategorizeError(err),
	}).Warnf("Fetch failed: %v", err)
	if sinkErr := c.output.AppendError(item.Origin, item.URL, status); sinkErr != nil {
		taskLog.Errorf("Failed to append error record: %v", sinkErr)
	}
	c.failedCount.Add(1)
	return models.PageStatusFailure
}

// handleVisit processes a delivered response for a seed or internal
// page: record the visit, flag non-text non-200 responses, and expand
// the page's links.
func (c *Crawler) handleVisit(item *models.WorkItem, resp *fetch.Response, taskLog *logrus.Entry) models.PageStatus {
	finalURL := resp.FinalURL.String()
	finalNormalized := parse.NormalizeURL(resp.FinalURL)

	// A redirect can land on a page that was (or will be) dispatched
	// under its own URL; claim the final URL so it is visited once
	if finalNormalized != item.URL {
		taskLog = taskLog.WithField("final_url", finalURL)
		added, err := c.store.MarkURLSeen(finalNormalized)
		if err != nil {
			taskLog.Errorf("Frontier error marking redirect target, continuing: %v", err)
		} else if !added {
			taskLog.Info("Redirect target already dispatched, skipping")
			c.skippedCount.Add(1)
			return models.PageStatusSkipped
		}
	}

	if err := c.output.AppendVisit(finalURL); err != nil {
		taskLog.Errorf("Failed to append visit record: %v", err)
	}
	c.visitedCount.Add(1)

	// A delivered response that is neither text nor a plain 200 is a
	// suspect link target; the visit above still stands
	if !resp.IsText && resp.StatusCode != http.StatusOK {
		status := classify.StatusForResponse(resp.StatusCode)
		taskLog.WithField("status", status).Warn("Non-text response with unexpected status")
		if err := c.output.AppendError(item.Origin, finalURL, status); err != nil {
			taskLog.Errorf("Failed to append error record: %v", err)
		}
		return models.PageStatusSuccess
	}

	c.expandLinks(item, resp, taskLog)
	return models.PageStatusSuccess
}

// expandLinks classifies every link found on the page and dispatches
// the ones the frontier admits. Internal links recurse; external links
// are queued fetch-only. The page's path becomes the origin of every
// link it contributed.
func (c *Crawler) expandLinks(item *models.WorkItem, resp *fetch.Response, taskLog *logrus.Entry) {
	if c.siteCfg.MaxDepth > 0 && item.Depth+1 > c.siteCfg.MaxDepth {
		taskLog.Debugf("Max depth %d reached, not expanding %d link(s)", c.siteCfg.MaxDepth, len(resp.Links))
		return
	}

	origin := resp.FinalURL.Path
	if origin == "" {
		origin = "/"
	}

	enqueued := 0
	for _, link := range resp.Links {
		linkURL, err := url.Parse(link)
		if err != nil {
			taskLog.Debugf("Skipping unparsable link %q: %v", link, err)
			continue
		}

		scope := classify.Classify(linkURL, c.domains)
		if scope == models.ScopeInternal && classify.HasExcludedPrefix(link, c.siteCfg.ExcludedURLPrefixes) {
			taskLog.Debugf("Dropping excluded link: %s", link)
			continue
		}

		normalized := parse.NormalizeURL(linkURL)
		added, err := c.store.MarkURLSeen(normalized)
		if err != nil {
			taskLog.Errorf("Frontier error for link %q, dropping: %v", link, err)
			continue
		}
		if !added {
			continue
		}

		c.enqueue(&models.WorkItem{
			URL:    normalized,
			Origin: origin,
			Scope:  scope,
			Depth:  item.Depth + 1,
		})
		enqueued++
	}
	if enqueued > 0 {
		taskLog.Debugf("Enqueued %d of %d discovered link(s)", enqueued, len(resp.Links))
	}
}

// reportProgress logs crawl counters periodically until done closes.
func (c *Crawler) reportProgress(done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.log.WithFields(logrus.Fields{
				"queue_len": c.queue.Len(),
				"queued":    c.queuedCount.Load(),
				"visited":   c.visitedCount.Load(),
				"external":  c.externalCount.Load(),
				"failed":    c.failedCount.Load(),
				"skipped":   c.skippedCount.Load(),
			}).Info("Audit progress")
		}
	}
}
