package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/geoscrape/geoscrape/internal/config"
	"github.com/geoscrape/geoscrape/internal/crawler"
	"github.com/geoscrape/geoscrape/internal/journal"
	"github.com/geoscrape/geoscrape/internal/log"
	"github.com/geoscrape/geoscrape/internal/model"
	"github.com/geoscrape/geoscrape/internal/pipeline"
	"github.com/geoscrape/geoscrape/internal/report"
	"github.com/geoscrape/geoscrape/internal/storage"
	"github.com/geoscrape/geoscrape/internal/tor"
	"github.com/geoscrape/geoscrape/internal/wikimapia"
	"github.com/spf13/cobra"
)

// NewScrapeCmd creates the scrape command.
func NewScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape [country]",
		Short: "Scrape places for one or more countries",
		Long: `Scrape walks a country's place catalog, fetches every place page, and
converts the places into GeoJSON features.

All traffic goes through the Tor network. When the site starts answering
with 403 or 429, the Tor identity is renewed and the fetch retried.
Features are streamed into a GeoJSON FeatureCollection file and, unless
--no-db is given, cached in MongoDB with a freshness TTL. While cached
data is fresh, repeated runs against the same country are skipped.

Examples:
  # Scrape a single country
  geoscrape scrape Hungary

  # Scrape several countries, two at a time
  geoscrape scrape Hungary Austria Slovakia

  # Fetch place details from the Wikimapia API (polygon geometry)
  geoscrape scrape --api --api-key YOUR_KEY Hungary

  # Start a private Tor daemon instead of using a system proxy
  geoscrape scrape --embedded-tor Hungary

  # Re-scrape even when cached data is still fresh
  geoscrape scrape --force Hungary

  # Collect every country into one GeoJSON file
  geoscrape scrape -o europe.geojson Hungary Austria Slovakia

Configuration file (.geoscrape) example:
  defaults:
    language: en
  countries:
    Hungary:
      language: hu
      depth: 3
    Japan:
      language: ja
      skipPatterns:
        - "*/photo/*"`,
		Args: cobra.ArbitraryArgs,
		RunE: runScrapeCmd,
	}

	// Tor connection flags
	cmd.Flags().String("tor-proxy", config.DefaultTorProxyAddress,
		"Tor SOCKS5 proxy address")
	cmd.Flags().String("tor-control", config.DefaultTorControlAddress,
		"Tor control port address used for identity renewal")
	cmd.Flags().String("control-password", "",
		"Tor control port password (empty tries cookie authentication)")
	cmd.Flags().String("control-cookie", "",
		"Path to the Tor control authentication cookie file")
	cmd.Flags().BoolP("embedded-tor", "e", false,
		"Start an embedded Tor daemon instead of using an external proxy")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")

	// Fetch behavior flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Connection timeout for each request")
	cmd.Flags().Duration("delay", config.DefaultCrawlDelay,
		"Minimum delay between requests")
	cmd.Flags().Int("retries", config.DefaultMaxRetries,
		"Maximum retries per page fetch")
	cmd.Flags().Int("renew-after", 0,
		"Renew the Tor identity after this many fetches (0 disables scheduled renewal)")
	cmd.Flags().Bool("renew-on-block", true,
		"Renew the Tor identity when the site answers 403 or 429")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header sent with every request")

	// Catalog walk flags
	cmd.Flags().IntP("depth", "d", config.DefaultCatalogDepth,
		"Catalog depth to descend below the country page")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxCatalogPages,
		"Maximum catalog pages per level")
	cmd.Flags().IntP("max-places", "n", config.DefaultMaxPlaces,
		"Maximum places to scrape per country")

	// Scrape behavior flags
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Concurrent place scrapers per country")
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of countries scraped concurrently")
	cmd.Flags().StringP("language", "l", config.DefaultLanguage,
		"Content language as a BCP 47 tag")
	cmd.Flags().Bool("enrich", false,
		"Backfill missing coordinates from photo EXIF metadata")

	// API mode flags
	cmd.Flags().Bool("api", false,
		"Fetch place details from the Wikimapia API instead of parsing pages")
	cmd.Flags().String("api-key", config.DefaultAPIKey,
		"Wikimapia API key")
	cmd.Flags().String("api-url", config.DefaultAPIBaseURL,
		"Wikimapia API endpoint")
	cmd.Flags().String("base-url", config.DefaultBaseURL,
		"Wikimapia site base URL")

	// MongoDB cache flags
	cmd.Flags().String("mongo-uri", config.DefaultMongoURI,
		"MongoDB connection string")
	cmd.Flags().String("mongo-db", config.DefaultMongoDatabase,
		"MongoDB database name")
	cmd.Flags().Duration("cache-ttl", config.DefaultCacheTTL,
		"How long cached features stay fresh (0 disables expiry)")
	cmd.Flags().Bool("no-db", false,
		"Disable MongoDB and write GeoJSON output only")
	cmd.Flags().BoolP("force", "f", false,
		"Scrape even when fresh cached data exists")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .geoscrape in current or home directory)")

	// Output flags
	cmd.Flags().StringP("output", "o", "",
		"Collect all features into this single GeoJSON file")
	cmd.Flags().String("output-dir", "",
		"Directory for per-country GeoJSON files (default: XDG data directory)")
	cmd.Flags().BoolP("json", "j", false,
		"Print the run summary as JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Print the run summary as Markdown (mutually exclusive with --json)")

	return cmd
}

// runScrapeCmd executes the scrape command.
func runScrapeCmd(cmd *cobra.Command, args []string) error {
	// Build config from flags
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Set up structured logging
	verbose := getVerboseFlag(cmd)
	cfg.Verbose = verbose
	logger := setupLogger(verbose)
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, cancelling...")
		cancel()
	}()

	return runScrape(ctx, cfg, logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from cobra command flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()

	// Get flag values
	var err error

	cfg.TorProxyAddress, err = cmd.Flags().GetString("tor-proxy")
	if err != nil {
		return nil, err
	}

	cfg.TorControlAddress, err = cmd.Flags().GetString("tor-control")
	if err != nil {
		return nil, err
	}

	cfg.ControlPassword, err = cmd.Flags().GetString("control-password")
	if err != nil {
		return nil, err
	}

	cfg.ControlCookiePath, err = cmd.Flags().GetString("control-cookie")
	if err != nil {
		return nil, err
	}

	cfg.UseEmbeddedTor, err = cmd.Flags().GetBool("embedded-tor")
	if err != nil {
		return nil, err
	}

	cfg.TorStartupTimeout, err = cmd.Flags().GetDuration("tor-timeout")
	if err != nil {
		return nil, err
	}

	cfg.Timeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}

	cfg.CrawlDelay, err = cmd.Flags().GetDuration("delay")
	if err != nil {
		return nil, err
	}

	cfg.MaxRetries, err = cmd.Flags().GetInt("retries")
	if err != nil {
		return nil, err
	}

	cfg.RenewAfter, err = cmd.Flags().GetInt("renew-after")
	if err != nil {
		return nil, err
	}

	cfg.RenewOnBlock, err = cmd.Flags().GetBool("renew-on-block")
	if err != nil {
		return nil, err
	}

	cfg.UserAgent, err = cmd.Flags().GetString("user-agent")
	if err != nil {
		return nil, err
	}

	cfg.CatalogDepth, err = cmd.Flags().GetInt("depth")
	if err != nil {
		return nil, err
	}

	cfg.MaxCatalogPages, err = cmd.Flags().GetInt("max-pages")
	if err != nil {
		return nil, err
	}

	cfg.MaxPlaces, err = cmd.Flags().GetInt("max-places")
	if err != nil {
		return nil, err
	}

	cfg.Workers, err = cmd.Flags().GetInt("workers")
	if err != nil {
		return nil, err
	}

	cfg.BatchSize, err = cmd.Flags().GetInt("batch")
	if err != nil {
		return nil, err
	}

	cfg.Language, err = cmd.Flags().GetString("language")
	if err != nil {
		return nil, err
	}

	cfg.EnrichFromPhotos, err = cmd.Flags().GetBool("enrich")
	if err != nil {
		return nil, err
	}

	cfg.UseAPI, err = cmd.Flags().GetBool("api")
	if err != nil {
		return nil, err
	}

	cfg.APIKey, err = cmd.Flags().GetString("api-key")
	if err != nil {
		return nil, err
	}

	cfg.APIBaseURL, err = cmd.Flags().GetString("api-url")
	if err != nil {
		return nil, err
	}

	cfg.BaseURL, err = cmd.Flags().GetString("base-url")
	if err != nil {
		return nil, err
	}

	cfg.MongoURI, err = cmd.Flags().GetString("mongo-uri")
	if err != nil {
		return nil, err
	}

	cfg.MongoDatabase, err = cmd.Flags().GetString("mongo-db")
	if err != nil {
		return nil, err
	}

	cfg.CacheTTL, err = cmd.Flags().GetDuration("cache-ttl")
	if err != nil {
		return nil, err
	}

	cfg.NoDatabase, err = cmd.Flags().GetBool("no-db")
	if err != nil {
		return nil, err
	}

	cfg.Force, err = cmd.Flags().GetBool("force")
	if err != nil {
		return nil, err
	}

	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// Load country-specific configurations from the config file.
	// If user explicitly specified a config file path, error if not found.
	// If no path specified, silently use empty config if no file found.
	explicitConfigPath := cfg.ConfigFilePath != ""
	configPath := config.FindConfigFile(cfg.ConfigFilePath)

	if configPath != "" {
		cfg.CountryConfigs, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else if explicitConfigPath {
		// User explicitly specified a config file that doesn't exist
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	} else {
		// Use empty config if no file found and user didn't explicitly specify one
		cfg.CountryConfigs = &config.File{
			Countries: make(map[string]config.CountryConfig),
		}
	}

	cfg.OutputFile, err = cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}

	cfg.OutputDir, err = cmd.Flags().GetString("output-dir")
	if err != nil {
		return nil, err
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = config.XDGDataDir()
	}

	cfg.JSONSummary, err = cmd.Flags().GetBool("json")
	if err != nil {
		return nil, err
	}

	cfg.MarkdownSummary, err = cmd.Flags().GetBool("markdown")
	if err != nil {
		return nil, err
	}

	// Runs are always journaled under the XDG data directory
	cfg.JournalDir = config.XDGDataDir()

	// Get positional arguments (country names)
	cfg.Countries = args

	return cfg, nil
}

// setupLogger creates a structured logger based on verbosity setting.
// Log attributes pass through a sanitizing handler so control passwords,
// API keys, cookies and MongoDB credentials never end up in log output.
func setupLogger(verbose bool) *slog.Logger {
	return log.NewSecureLogger(os.Stderr, verbose)
}

// runScrape executes the scrape.
func runScrape(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if len(cfg.Countries) == 0 {
		return errors.New("no countries provided (specify one or more country names as arguments)")
	}

	logger.Info("starting scrape",
		"countries", cfg.Countries,
		"useEmbeddedTor", cfg.UseEmbeddedTor,
		"useAPI", cfg.UseAPI,
		"batchSize", cfg.BatchSize,
	)

	// Open the run journal if journaling is enabled
	var jnl *journal.Journal
	if cfg.JournalDir != "" {
		var err error
		jnl, err = journal.Open(cfg.JournalDir, journal.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer jnl.Close()
		logger.Info("journal opened", "path", jnl.Path())
	}

	// Connect the MongoDB cache unless disabled
	var store *storage.Store
	if !cfg.NoDatabase {
		var err error
		store, err = storage.Open(ctx, cfg.MongoURI, cfg.MongoDatabase, storage.WithStoreLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB at %s: %w", cfg.MongoURI, err)
		}
		defer func() {
			if err := store.Close(context.Background()); err != nil {
				logger.Error("failed to close MongoDB connection", "error", err)
			}
		}()
		logger.Info("MongoDB connected", "uri", cfg.MongoURI, "database", cfg.MongoDatabase)
	}

	var client *tor.Client
	var embeddedTor *tor.EmbeddedTor

	if cfg.UseEmbeddedTor {
		// Start a private Tor daemon
		var err error
		client, embeddedTor, err = startEmbeddedTor(ctx, cfg, logger)
		if err != nil {
			return err
		}
		// Ensure cleanup on exit
		defer func() {
			logger.Info("stopping embedded Tor daemon...")
			if err := embeddedTor.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor", "error", err)
			}
		}()
	} else {
		// Use the external Tor proxy (default)
		var err error
		client, err = tor.NewClient(cfg.TorProxyAddress, cfg.Timeout)
		if err != nil {
			return fmt.Errorf("failed to create Tor client: %w", err)
		}

		status := client.CheckConnection(ctx)
		if status != tor.ProxyStatusOK {
			return fmt.Errorf("tor proxy check failed: %s (make sure Tor is running at %s)",
				status, cfg.TorProxyAddress)
		}

		logger.Info("Tor proxy connection verified",
			"address", cfg.TorProxyAddress,
		)
	}

	// Identity renewal needs the control port. It is optional; without
	// it the scrape still runs, renewals just cannot happen.
	controller := newController(ctx, cfg, embeddedTor, logger)

	session := &scrapeSession{
		cfg:        cfg,
		client:     client,
		controller: controller,
		store:      store,
		journal:    jnl,
		logger:     logger,
	}

	// A single --output file collects features from every country and
	// stays open across runs. Per-country files are opened per run.
	if cfg.OutputFile != "" {
		geo, err := report.NewGeoJSONFileWriter(cfg.OutputFile)
		if err != nil {
			return fmt.Errorf("failed to create GeoJSON output: %w", err)
		}
		session.sharedGeo = geo
		defer func() {
			if err := geo.Close(); err != nil {
				logger.Error("failed to finalize GeoJSON output", "path", geo.Path(), "error", err)
			}
		}()
	}

	// Use the batch processor for parallel scraping if multiple countries
	if len(cfg.Countries) > 1 && cfg.BatchSize > 1 {
		return session.runBatch(ctx)
	}

	// Single country or sequential scraping
	return session.runSequential(ctx)
}

// newController connects to the Tor control port for identity renewal.
// Returns nil when no control port is reachable; the scrape then runs
// without renewal.
func newController(ctx context.Context, cfg *config.Config, embeddedTor *tor.EmbeddedTor, logger *slog.Logger) *tor.Controller {
	opts := []tor.ControllerOption{
		tor.WithRenewalInterval(config.DefaultRenewalInterval),
	}
	if cfg.ControlPassword != "" {
		opts = append(opts, tor.WithControlPassword(cfg.ControlPassword))
	}
	if cfg.ControlCookiePath != "" {
		opts = append(opts, tor.WithControlCookie(cfg.ControlCookiePath))
	}

	var controller *tor.Controller
	var err error
	if embeddedTor != nil {
		controller, err = embeddedTor.NewController(opts...)
	} else {
		controller, err = tor.NewController(cfg.TorControlAddress, opts...)
	}
	if err != nil {
		logger.Warn("tor control port unavailable, identity renewal disabled", "error", err)
		return nil
	}

	if err := controller.CheckConnection(ctx); err != nil {
		logger.Warn("tor control port check failed, identity renewal disabled",
			"address", controller.Address(),
			"error", err,
		)
		return nil
	}

	logger.Info("tor control port connected", "address", controller.Address())
	return controller
}

// scrapeSession carries the shared resources of one scrape invocation.
type scrapeSession struct {
	cfg        *config.Config
	client     *tor.Client
	controller *tor.Controller
	store      *storage.Store
	journal    *journal.Journal
	logger     *slog.Logger

	// sharedGeo is set when --output collects every country into one
	// GeoJSON file. It is closed by runScrape, not by the per-run
	// release function.
	sharedGeo *report.GeoJSONWriter
}

// runSequential scrapes countries one at a time.
func (s *scrapeSession) runSequential(ctx context.Context) error {
	for _, country := range s.cfg.Countries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		run := model.NewRunReport(country)

		p, release, err := s.preparePipeline(ctx, run)
		if err != nil {
			s.logger.Error("failed to prepare run", "country", country, "error", err)
			fmt.Fprintf(os.Stderr, "Cannot scrape %s: %v\n", country, err)
			continue
		}

		fmt.Printf("Scraping %s...\n", country)
		startTime := time.Now()

		// Execute the pipeline
		runErr := p.Execute(ctx, run)
		if closeErr := release(); closeErr != nil {
			if runErr == nil {
				runErr = fmt.Errorf("failed to finalize output: %w", closeErr)
			} else {
				s.logger.Error("failed to finalize output", "country", country, "error", closeErr)
			}
		}
		run.Finish(runErr)

		summary := model.NewRunSummary(run)
		s.recordFinished(ctx, summary)

		if runErr != nil {
			s.logger.Error("scrape failed", "country", country, "error", runErr)
			fmt.Fprintf(os.Stderr, "Scrape error for %s: %v\n", country, runErr)
			continue
		}

		elapsed := time.Since(startTime)
		if summary.SkippedByCache {
			fmt.Printf("Cached data still fresh, nothing to scrape (%s)\n\n", elapsed.Round(time.Millisecond))
		} else {
			fmt.Printf("Scraped %d features in %s\n\n", summary.FeaturesScraped, elapsed.Round(time.Millisecond))
		}

		// Print the run summary
		if err := s.outputSummary(summary); err != nil {
			s.logger.Error("summary output failed", "country", country, "error", err)
		}
	}

	return nil
}

// runBatch scrapes multiple countries concurrently using BatchProcessor.
func (s *scrapeSession) runBatch(ctx context.Context) error {
	total := len(s.cfg.Countries)
	fmt.Printf("Starting batch scrape of %d countries (concurrency: %d)...\n\n", total, s.cfg.BatchSize)

	startTime := time.Now()

	// Create batch processor with the per-country pipeline factory
	bp := pipeline.NewBatchProcessor(
		func(run *model.RunReport) (*pipeline.Pipeline, func() error, error) {
			return s.preparePipeline(ctx, run)
		},
		pipeline.WithConcurrency(s.cfg.BatchSize),
		pipeline.WithBatchLogger(s.logger),
	)

	// Process with callback for streaming output
	var mu sync.Mutex
	err := bp.ProcessBatchWithCallback(ctx, s.cfg.Countries, func(run *model.RunReport, index int) {
		mu.Lock()
		defer mu.Unlock()

		summary := model.NewRunSummary(run)
		s.recordFinished(ctx, summary)

		if summary.Error != "" {
			fmt.Printf("[%d/%d] %s failed: %s\n", index+1, total, run.Country, summary.Error)
			return
		}

		if summary.SkippedByCache {
			fmt.Printf("[%d/%d] %s skipped, cached data still fresh\n", index+1, total, run.Country)
		} else {
			fmt.Printf("[%d/%d] %s: %d features\n", index+1, total, run.Country, summary.FeaturesScraped)
		}

		// Print the run summary
		if err := s.outputSummary(summary); err != nil {
			s.logger.Error("summary output failed", "country", run.Country, "error", err)
		}
	})

	elapsed := time.Since(startTime)
	fmt.Printf("\nBatch scrape completed in %s\n", elapsed.Round(time.Millisecond))

	return err
}

// preparePipeline builds the pipeline and the output sinks for one run.
// The returned release function closes the per-run sinks and must be
// called once the pipeline has finished.
func (s *scrapeSession) preparePipeline(ctx context.Context, run *model.RunReport) (*pipeline.Pipeline, func() error, error) {
	cfg := s.cfg
	country := run.Country
	countryCfg := s.countryConfig(country)

	if s.journal != nil {
		// A journal failure should not stop the scrape.
		if err := s.journal.RecordRun(ctx, run.RunID, country); err != nil {
			s.logger.Warn("failed to record run in journal", "country", country, "error", err)
		}
	}

	var writers []report.FeatureWriter
	var closeFns []func() error

	if s.sharedGeo != nil {
		writers = append(writers, s.sharedGeo)
		run.OutputPath = s.sharedGeo.Path()
	} else {
		geo, err := report.NewGeoJSONFileWriter(s.outputPath(country))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create GeoJSON output: %w", err)
		}
		writers = append(writers, geo)
		closeFns = append(closeFns, geo.Close)
		run.OutputPath = geo.Path()
	}

	if s.store != nil {
		sink, err := storage.NewFeatureSink(s.store, country)
		if err != nil {
			releaseSinks(closeFns)
			return nil, nil, fmt.Errorf("failed to create MongoDB sink: %w", err)
		}
		writers = append(writers, sink)
		closeFns = append(closeFns, sink.Close)
	}

	language := cfg.Language
	if countryCfg.Language != "" {
		language = countryCfg.Language
	}

	var api *wikimapia.APIClient
	if cfg.UseAPI {
		var err error
		api, err = wikimapia.NewAPIClient(s.client.HTTPClient(), cfg.APIBaseURL, cfg.APIKey, language)
		if err != nil {
			releaseSinks(closeFns)
			return nil, nil, fmt.Errorf("failed to create API client: %w", err)
		}
	}

	deps := pipeline.ScrapeDeps{
		Fetcher: s.newFetcher(country, countryCfg),
		BaseURL: cfg.BaseURL,
		Sink:    report.NewMultiFeatureWriter(writers...),
		Store:   s.store,
		API:     api,
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithLogger(s.logger),
	}

	// Country overrides from the config file beat the global flags
	depth := cfg.CatalogDepth
	if countryCfg.Depth > 0 {
		depth = countryCfg.Depth
	}
	maxPlaces := cfg.MaxPlaces
	if countryCfg.MaxPlaces > 0 {
		maxPlaces = countryCfg.MaxPlaces
	}

	configOpts := []pipeline.ScrapePipelineOption{
		pipeline.WithPipelineCatalogDepth(depth),
		pipeline.WithPipelineMaxCatalogPages(cfg.MaxCatalogPages),
		pipeline.WithPipelineMaxPlaces(maxPlaces),
		pipeline.WithPipelineWorkers(cfg.Workers),
		pipeline.WithPipelineCacheTTL(cfg.CacheTTL),
	}
	if len(countryCfg.SkipPatterns) > 0 {
		configOpts = append(configOpts, pipeline.WithPipelineSkipPatterns(countryCfg.SkipPatterns))
	}
	if cfg.Force {
		configOpts = append(configOpts, pipeline.WithPipelineForce(true))
	}
	if cfg.EnrichFromPhotos {
		configOpts = append(configOpts, pipeline.WithPipelineEnrichment(true))
	}

	release := func() error {
		var firstErr error
		for _, closeFn := range closeFns {
			if err := closeFn(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	return pipeline.ScrapePipeline(deps, pipelineOpts, configOpts...), release, nil
}

// releaseSinks closes sinks after a pipeline could not be assembled.
func releaseSinks(closeFns []func() error) {
	for _, closeFn := range closeFns {
		_ = closeFn() //nolint:errcheck // Best effort cleanup
	}
}

// newFetcher builds the Tor-backed fetcher for one country, applying
// the country's cookie and header overrides.
func (s *scrapeSession) newFetcher(country string, countryCfg config.CountryConfig) *crawler.Fetcher {
	cfg := s.cfg

	httpClient := s.client.HTTPClientWithConfig(countryCfg.Cookie, countryCfg.Headers)

	delay := cfg.CrawlDelay
	if countryCfg.Delay > 0 {
		delay = time.Duration(countryCfg.Delay) * time.Second
	}

	opts := []crawler.FetcherOption{
		crawler.WithUserAgent(cfg.UserAgent),
		crawler.WithMaxBodySize(cfg.MaxBodySize),
		crawler.WithDelay(delay),
		crawler.WithMaxRetries(cfg.MaxRetries),
		crawler.WithRenewOnBlock(cfg.RenewOnBlock),
		crawler.WithFetchLogger(s.logger),
	}
	if s.controller != nil {
		opts = append(opts, crawler.WithRenewer(s.controller))
		if cfg.RenewAfter > 0 {
			opts = append(opts, crawler.WithRenewAfter(cfg.RenewAfter))
		}
	}
	if s.journal != nil {
		opts = append(opts, crawler.WithRecorder(s.journal.Recorder(country, s.logger)))
	}

	return crawler.NewFetcher(httpClient, opts...)
}

// countryConfig returns the merged configuration for a country.
func (s *scrapeSession) countryConfig(country string) config.CountryConfig {
	if s.cfg.CountryConfigs == nil {
		return config.CountryConfig{}
	}
	return s.cfg.CountryConfigs.GetCountryConfig(country)
}

// outputPath returns the GeoJSON output path for a country.
func (s *scrapeSession) outputPath(country string) string {
	return filepath.Join(s.cfg.OutputDir, wikimapia.CountrySlug(country)+".geojson")
}

// recordFinished stores the finished run in the journal.
func (s *scrapeSession) recordFinished(ctx context.Context, summary *model.RunSummary) {
	if s.journal == nil {
		return
	}

	// The journal write must survive cancellation so interrupted runs
	// show up as failed instead of running forever.
	if err := s.journal.FinishRun(context.WithoutCancel(ctx), summary); err != nil {
		s.logger.Warn("failed to record finished run", "country", summary.Country, "error", err)
	}
}

// summaryWriter selects the writer for the requested summary format.
func (s *scrapeSession) summaryWriter(output io.Writer) report.SummaryWriter {
	switch {
	case s.cfg.JSONSummary:
		return report.NewJSONWriter(output, report.WithPrettyPrint())
	case s.cfg.MarkdownSummary:
		return report.NewMarkdownWriter(output)
	default:
		return report.NewSimpleWriter(output, report.WithVerbose(s.cfg.Verbose))
	}
}

// outputSummary prints the run summary in the requested format.
func (s *scrapeSession) outputSummary(summary *model.RunSummary) error {
	if _, err := s.summaryWriter(os.Stdout).WriteSummary(summary); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// startEmbeddedTor starts an embedded Tor daemon using tornago.
// Returns the Tor client and embedded Tor manager on success.
func startEmbeddedTor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tor.Client, *tor.EmbeddedTor, error) {
	fmt.Println("Starting embedded Tor daemon...")
	fmt.Printf("This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	embeddedTor := tor.NewEmbeddedTor(
		tor.WithStartupTimeout(cfg.TorStartupTimeout),
	)

	// Start the embedded Tor daemon
	if err := embeddedTor.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}

	logger.Info("embedded Tor daemon started",
		"socksAddr", embeddedTor.SocksAddr(),
		"controlAddr", embeddedTor.ControlAddr(),
	)

	fmt.Printf("Embedded Tor daemon started successfully!\n")
	fmt.Printf("SOCKS proxy: %s\n\n", embeddedTor.SocksAddr())

	// Create a client using the embedded Tor's SOCKS proxy
	client, err := embeddedTor.NewClient(cfg.Timeout)
	if err != nil {
		_ = embeddedTor.Stop() //nolint:errcheck // Best effort cleanup
		return nil, nil, fmt.Errorf("failed to create Tor client: %w", err)
	}

	// Verify the connection
	status := client.CheckConnection(ctx)
	if status != tor.ProxyStatusOK {
		_ = embeddedTor.Stop() //nolint:errcheck // Best effort cleanup
		return nil, nil, fmt.Errorf("embedded Tor proxy check failed: %s", status)
	}

	return client, embeddedTor, nil
}
