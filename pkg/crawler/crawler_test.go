package crawler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"link-auditor/pkg/config"
	"link-auditor/pkg/frontier"
	"link-auditor/pkg/utils"
)

func testLogEntry() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func testAppConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	noRetries := 0
	return &config.AppConfig{
		NumWorkers:              4,
		MaxRequests:             8,
		MaxRequestsPerHost:      4,
		MaxRetries:              &noRetries,
		SemaphoreAcquireTimeout: 5 * time.Second,
		OutputBaseDir:           t.TempDir(),
	}
}

func testHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// runCrawl builds a crawler over an in-memory frontier, runs it to
// completion, and returns the site output directory.
func runCrawl(t *testing.T, appCfg *config.AppConfig, siteCfg *config.SiteConfig, client *http.Client) string {
	t.Helper()

	store := frontier.NewMemoryStore()
	defer store.Close()

	c, err := NewCrawler(appCfg, siteCfg, "testsite", testLogEntry(), store, client)
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background()))
	return filepath.Join(appCfg.OutputBaseDir, "testsite")
}

// readRecords parses the NDJSON log at path into generic maps. A
// missing file reads as zero records.
func readRecords(t *testing.T, path string) []map[string]string {
	t.Helper()

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	defer file.Close()

	var records []map[string]string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec map[string]string
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec), "line %q", scanner.Text())
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func visitedURLs(t *testing.T, outputDir string) []string {
	t.Helper()
	var urls []string
	for _, rec := range readRecords(t, filepath.Join(outputDir, VisitsFilename)) {
		urls = append(urls, rec["url"])
	}
	return urls
}

func htmlPage(links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a href=%q>link</a>`, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func TestCrawlScenario(t *testing.T) {
	// The core walk: an internal page graph, one external link that is
	// fetched but never expanded, and an excluded link that leaves no
	// trace at all.
	var externalHits, botHits atomic.Int64

	externalMux := http.NewServeMux()
	externalMux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		externalHits.Add(1)
		fmt.Fprint(w, htmlPage("/never-followed"))
	})
	externalSrv := httptest.NewServer(externalMux)
	defer externalSrv.Close()
	// The external server is addressed via localhost so its hostname
	// differs from the internal server's 127.0.0.1
	externalURL := strings.Replace(externalSrv.URL, "127.0.0.1", "localhost", 1)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, htmlPage("/about", externalURL+"/page", srv.URL+"/bot?x=1"))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, htmlPage())
	})
	mux.HandleFunc("/bot", func(w http.ResponseWriter, r *http.Request) {
		botHits.Add(1)
		fmt.Fprint(w, htmlPage())
	})

	siteCfg := &config.SiteConfig{
		SeedURLs:            []string{srv.URL + "/"},
		AllowedDomains:      []string{"127.0.0.1"},
		ExcludedURLPrefixes: []string{srv.URL + "/bot"},
	}

	outputDir := runCrawl(t, testAppConfig(t), siteCfg, testHTTPClient(5*time.Second))

	visits := visitedURLs(t, outputDir)
	assert.ElementsMatch(t, []string{srv.URL + "/", srv.URL + "/about"}, visits)

	assert.EqualValues(t, 1, externalHits.Load(), "external link should be fetched exactly once")
	assert.Zero(t, botHits.Load(), "excluded link must never be dispatched")
	assert.NotContains(t, visits, externalURL+"/page", "external success yields no visit record")

	assert.Empty(t, readRecords(t, filepath.Join(outputDir, ErrorLogFilename("/"))),
		"a clean walk leaves no error records")
}

func TestCrawlSingleVisitDespiteManyOrigins(t *testing.T) {
	// /shared is linked from the root, /a, and /b; the frontier must
	// admit it once and the visits log must hold one record for it.
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, htmlPage("/a", "/b", "/shared"))
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, htmlPage("/shared"))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, htmlPage("/shared"))
	})
	var sharedHits atomic.Int64
	mux.HandleFunc("/shared", func(w http.ResponseWriter, r *http.Request) {
		sharedHits.Add(1)
		fmt.Fprint(w, htmlPage())
	})

	siteCfg := &config.SiteConfig{
		SeedURLs:       []string{srv.URL + "/"},
		AllowedDomains: []string{"127.0.0.1"},
	}

	outputDir := runCrawl(t, testAppConfig(t), siteCfg, testHTTPClient(5*time.Second))

	visits := visitedURLs(t, outputDir)
	count := 0
	for _, u := range visits {
		if u == srv.URL+"/shared" {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one visit record for /shared")
	assert.EqualValues(t, 1, sharedHits.Load(), "exactly one fetch of /shared")
}

func TestCrawlHTTPErrorRecord(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, htmlPage("/missing"))
	})

	siteCfg := &config.SiteConfig{
		SeedURLs:       []string{srv.URL + "/"},
		AllowedDomains: []string{"127.0.0.1"},
	}

	outputDir := runCrawl(t, testAppConfig(t), siteCfg, testHTTPClient(5*time.Second))

	// /missing was discovered on the root page, so its failure lands
	// in the log named from origin "/"
	records := readRecords(t, filepath.Join(outputDir, ErrorLogFilename("/")))
	require.Len(t, records, 1)
	assert.Equal(t, srv.URL+"/missing", records[0]["link"])
	assert.Equal(t, "error 404", records[0]["status"])

	assert.NotContains(t, visitedURLs(t, outputDir), srv.URL+"/missing")
}

func TestCrawlTimeoutErrorRecord(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, htmlPage("/broken"))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	})

	siteCfg := &config.SiteConfig{
		SeedURLs:       []string{srv.URL + "/"},
		AllowedDomains: []string{"127.0.0.1"},
	}

	// Client timeout far below the handler's sleep
	outputDir := runCrawl(t, testAppConfig(t), siteCfg, testHTTPClient(200*time.Millisecond))

	records := readRecords(t, filepath.Join(outputDir, ErrorLogFilename("/")))
	require.Len(t, records, 1)
	assert.Equal(t, srv.URL+"/broken", records[0]["link"])
	assert.Equal(t, "error TimeoutError", records[0]["status"])
}

func TestCrawlDNSErrorRecord(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		// .invalid is reserved and never resolves
		fmt.Fprint(w, htmlPage("http://no-such-host.invalid/page"))
	})

	siteCfg := &config.SiteConfig{
		SeedURLs:       []string{srv.URL + "/"},
		AllowedDomains: []string{"127.0.0.1"},
	}

	outputDir := runCrawl(t, testAppConfig(t), siteCfg, testHTTPClient(5*time.Second))

	records := readRecords(t, filepath.Join(outputDir, ErrorLogFilename("/")))
	require.Len(t, records, 1)
	assert.Equal(t, "http://no-such-host.invalid/page", records[0]["link"])
	assert.Equal(t, "error DNSLookupError", records[0]["status"])
}

func TestCrawlNonTextResponseRecord(t *testing.T) {
	// A delivered 2xx that is neither text nor exactly 200 is visited
	// and then flagged with a "status {code}" record.
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, htmlPage("/blob"))
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0x00, 0x01, 0x02})
	})

	siteCfg := &config.SiteConfig{
		SeedURLs:       []string{srv.URL + "/"},
		AllowedDomains: []string{"127.0.0.1"},
	}

	outputDir := runCrawl(t, testAppConfig(t), siteCfg, testHTTPClient(5*time.Second))

	assert.Contains(t, visitedURLs(t, outputDir), srv.URL+"/blob",
		"visit record precedes the status flag")

	records := readRecords(t, filepath.Join(outputDir, ErrorLogFilename("/")))
	require.Len(t, records, 1)
	assert.Equal(t, srv.URL+"/blob", records[0]["link"])
	assert.Equal(t, "status 206", records[0]["status"])
}

func TestCrawlRedirectDeduplicates(t *testing.T) {
	// /old redirects to /new, which the root also links directly. The
	// final URL is re-claimed in the frontier, so /new is visited once.
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, htmlPage("/old", "/new"))
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, htmlPage())
	})

	siteCfg := &config.SiteConfig{
		SeedURLs:       []string{srv.URL + "/"},
		AllowedDomains: []string{"127.0.0.1"},
	}

	outputDir := runCrawl(t, testAppConfig(t), siteCfg, testHTTPClient(5*time.Second))

	count := 0
	for _, u := range visitedURLs(t, outputDir) {
		if u == srv.URL+"/new" {
			count++
		}
	}
	assert.Equal(t, 1, count, "redirect alias and direct link yield one visit")
}

func TestCrawlMaxDepth(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, htmlPage("/depth1"))
	})
	mux.HandleFunc("/depth1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, htmlPage("/depth2"))
	})
	mux.HandleFunc("/depth2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, htmlPage())
	})

	siteCfg := &config.SiteConfig{
		SeedURLs:       []string{srv.URL + "/"},
		AllowedDomains: []string{"127.0.0.1"},
		MaxDepth:       1,
	}

	outputDir := runCrawl(t, testAppConfig(t), siteCfg, testHTTPClient(5*time.Second))

	assert.ElementsMatch(t, []string{srv.URL + "/", srv.URL + "/depth1"},
		visitedURLs(t, outputDir))
}

func TestCrawlSeedSelfLink(t *testing.T) {
	// A page linking back to the seed must not re-dispatch it: seeds
	// and discovered links share one dedup set.
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	var rootHits atomic.Int64
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		rootHits.Add(1)
		fmt.Fprint(w, htmlPage("/loop"))
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, htmlPage("/"))
	})

	siteCfg := &config.SiteConfig{
		SeedURLs:       []string{srv.URL + "/"},
		AllowedDomains: []string{"127.0.0.1"},
	}

	outputDir := runCrawl(t, testAppConfig(t), siteCfg, testHTTPClient(5*time.Second))

	assert.EqualValues(t, 1, rootHits.Load(), "seed fetched exactly once")
	assert.ElementsMatch(t, []string{srv.URL + "/", srv.URL + "/loop"},
		visitedURLs(t, outputDir))
}

func TestCrawlNoUsableSeeds(t *testing.T) {
	appCfg := testAppConfig(t)
	siteCfg := &config.SiteConfig{
		SeedURLs:       []string{"not a url", "ftp://example.com/"},
		AllowedDomains: []string{"example.com"},
	}

	store := frontier.NewMemoryStore()
	defer store.Close()
	c, err := NewCrawler(appCfg, siteCfg, "testsite", testLogEntry(), store, testHTTPClient(time.Second))
	require.NoError(t, err)

	err = c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable seed URLs")
}

func TestAcquireSlotsReportsSemaphoreTimeout(t *testing.T) {
	appCfg := testAppConfig(t)
	appCfg.MaxRequests = 1
	appCfg.SemaphoreAcquireTimeout = 50 * time.Millisecond
	siteCfg := &config.SiteConfig{
		SeedURLs:       []string{"http://127.0.0.1/"},
		AllowedDomains: []string{"127.0.0.1"},
	}

	store := frontier.NewMemoryStore()
	defer store.Close()
	c, err := NewCrawler(appCfg, siteCfg, "testsite", testLogEntry(), store, testHTTPClient(time.Second))
	require.NoError(t, err)
	c.crawlCtx = context.Background()

	// Hold the only global slot so acquisition must time out
	require.NoError(t, c.globalSemaphore.Acquire(context.Background(), 1))
	defer c.globalSemaphore.Release(1)

	_, err = c.acquireSlots("127.0.0.1", testLogEntry())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrSemaphoreTimeout)
}

func TestCrawlFailureLogsCategory(t *testing.T) {
	// Failure logs carry the error category alongside the record status.
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, htmlPage("/missing"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	logger, hook := logtest.NewNullLogger()
	siteCfg := &config.SiteConfig{
		SeedURLs:       []string{srv.URL + "/"},
		AllowedDomains: []string{"127.0.0.1"},
	}

	store := frontier.NewMemoryStore()
	defer store.Close()
	appCfg := testAppConfig(t)
	c, err := NewCrawler(appCfg, siteCfg, "testsite", logrus.NewEntry(logger), store, testHTTPClient(5*time.Second))
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background()))

	var categories []string
	for _, entry := range hook.AllEntries() {
		if cat, ok := entry.Data["category"].(string); ok {
			categories = append(categories, cat)
		}
	}
	assert.Contains(t, categories, "HTTP_404")
}
