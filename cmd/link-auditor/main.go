package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"link-auditor/pkg/config"
	"link-auditor/pkg/crawler"
	"link-auditor/pkg/fetch"
	"link-auditor/pkg/frontier"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	configFileFlag := flag.String("config", "config.yaml", "Path to YAML config file")
	siteKeyFlag := flag.String("site", "", "Site key from config file (required)")
	logLevelFlag := flag.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	resumeFlag := flag.Bool("resume", false, "Append to prior run's logs and reuse frontier state")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevelFlag)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", *logLevelFlag, err)
	} else {
		log.SetLevel(level)
	}

	// --- Load and Validate Configuration ---
	log.Infof("Loading configuration from %s", *configFileFlag)
	appCfg, err := config.LoadConfig(*configFileFlag)
	if err != nil {
		log.Fatalf("Configuration load error: %v", err)
	}
	if *resumeFlag {
		appCfg.Resume = true
	}
	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if *siteKeyFlag == "" {
		log.Fatal("-site flag is required")
	}
	siteCfg, ok := appCfg.Sites[*siteKeyFlag]
	if !ok {
		log.Fatalf("Site key '%s' not found in config file '%s'", *siteKeyFlag, *configFileFlag)
	}
	siteWarnings, err := siteCfg.Validate()
	if err != nil {
		log.Fatalf("Site '%s' configuration error: %v", *siteKeyFlag, err)
	}
	for _, w := range siteWarnings {
		log.Warnf("[%s] %s", *siteKeyFlag, w)
	}

	log.Infof("Global config: workers:%d, max_requests:%d, max_requests_per_host:%d, frontier:%s, resume:%v",
		appCfg.NumWorkers, appCfg.MaxRequests, appCfg.MaxRequestsPerHost, appCfg.FrontierBackend, appCfg.Resume)
	log.Infof("Site '%s': %d seed(s), domains:%v, %d excluded prefix(es)",
		*siteKeyFlag, len(siteCfg.SeedURLs), siteCfg.AllowedDomains, len(siteCfg.ExcludedURLPrefixes))

	// --- Global Context & Signal Handling ---
	var crawlCtx context.Context
	var cancelCrawl context.CancelFunc
	if appCfg.GlobalCrawlTimeout > 0 {
		log.Infof("Global crawl timeout: %v", appCfg.GlobalCrawlTimeout)
		crawlCtx, cancelCrawl = context.WithTimeout(context.Background(), appCfg.GlobalCrawlTimeout)
	} else {
		crawlCtx, cancelCrawl = context.WithCancel(context.Background())
	}
	defer cancelCrawl()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelCrawl()
		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	// --- Initialize Components ---
	baseLog := logrus.NewEntry(log).WithField("run_id", uuid.NewString())

	var store frontier.Store
	switch appCfg.FrontierBackend {
	case config.FrontierBadger:
		stateDir := filepath.Join(appCfg.StateDir, *siteKeyFlag, "frontier")
		badgerStore, err := frontier.NewBadgerStore(stateDir, appCfg.Resume, baseLog)
		if err != nil {
			log.Fatalf("Failed to open frontier store: %v", err)
		}
		go badgerStore.RunGC(crawlCtx, 10*time.Minute)
		store = badgerStore
	default:
		store = frontier.NewMemoryStore()
	}
	defer store.Close()

	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, log)

	auditor, err := crawler.NewCrawler(appCfg, &siteCfg, *siteKeyFlag, baseLog, store, httpClient)
	if err != nil {
		log.Fatalf("Failed to initialize crawler: %v", err)
	}

	// --- Run ---
	err = auditor.Run(crawlCtx)
	switch {
	case err == nil:
		log.Info("Audit completed successfully.")
	case errors.Is(err, context.Canceled):
		log.Warn("Audit cancelled gracefully.")
	case errors.Is(err, context.DeadlineExceeded):
		log.Error("Audit timed out (global timeout).")
		os.Exit(1)
	default:
		log.Errorf("Audit finished with error: %v", err)
		os.Exit(1)
	}
}
