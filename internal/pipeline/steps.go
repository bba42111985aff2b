package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geoscrape/geoscrape/internal/config"
	"github.com/geoscrape/geoscrape/internal/crawler"
	"github.com/geoscrape/geoscrape/internal/model"
	"github.com/geoscrape/geoscrape/internal/report"
	"github.com/geoscrape/geoscrape/internal/storage"
	"github.com/geoscrape/geoscrape/internal/wikimapia"
)

// CacheCheckStep decides whether the country needs scraping at all.
// A country whose cached features are still fresh is skipped; force mode
// drops the cached features and re-scrapes instead.
//
// Design decision: The freshness check is a pipeline step rather than a
// branch in the CLI because:
// 1. It needs the run report to record the skip for the summary
// 2. Batch runs decide per country, inside each country's pipeline
// 3. Force mode belongs next to the check it overrides
type CacheCheckStep struct {
	// store is the feature store. Nil disables the check entirely.
	store *storage.Store

	// ttl is how long cached features count as fresh.
	// Zero and below means any cached feature keeps the country fresh.
	ttl time.Duration

	// force drops the cached features instead of checking freshness.
	force bool

	// logger for structured logging.
	logger *slog.Logger
}

// CacheCheckStepOption configures a CacheCheckStep.
type CacheCheckStepOption func(*CacheCheckStep)

// WithCacheCheckLogger sets a custom logger for the cache check step.
func WithCacheCheckLogger(logger *slog.Logger) CacheCheckStepOption {
	return func(s *CacheCheckStep) {
		s.logger = logger
	}
}

// NewCacheCheckStep creates a new cache freshness check step.
// A nil store turns the step into a no-op, which is how file-only runs
// work.
func NewCacheCheckStep(store *storage.Store, ttl time.Duration, force bool, opts ...CacheCheckStepOption) *CacheCheckStep {
	s := &CacheCheckStep{
		store:  store,
		ttl:    ttl,
		force:  force,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *CacheCheckStep) Name() string {
	return "cache_check"
}

// Do executes the cache freshness check.
func (s *CacheCheckStep) Do(ctx context.Context, report *model.RunReport) error {
	if s.store == nil {
		s.logger.Debug("skipping cache check, no feature store configured")
		return nil
	}

	if s.force {
		s.logger.Info("force mode, dropping cached features",
			"country", report.Country,
		)
		if err := s.store.DropCountry(ctx, report.Country); err != nil {
			return fmt.Errorf("failed to drop cached features: %w", err)
		}
		return nil
	}

	var since time.Time
	if s.ttl > 0 {
		since = time.Now().Add(-s.ttl)
	}

	fresh, err := s.store.HasFreshData(ctx, report.Country, since)
	if err != nil {
		return fmt.Errorf("failed to check cached features: %w", err)
	}
	if fresh {
		s.logger.Info("cached features are still fresh, skipping scrape",
			"country", report.Country,
		)
		report.SkippedByCache = true
		return ErrSkipRun
	}

	return nil
}

// IndexStep makes sure the country's collection carries its TTL index.
// It runs before the first insert of the run so expiry applies to every
// document the run writes.
type IndexStep struct {
	// store is the feature store. Nil disables the step.
	store *storage.Store

	// ttl is the document lifetime. Zero and below disables expiry.
	ttl time.Duration

	// logger for structured logging.
	logger *slog.Logger
}

// IndexStepOption configures an IndexStep.
type IndexStepOption func(*IndexStep)

// WithIndexLogger sets a custom logger for the index step.
func WithIndexLogger(logger *slog.Logger) IndexStepOption {
	return func(s *IndexStep) {
		s.logger = logger
	}
}

// NewIndexStep creates a new TTL index maintenance step.
func NewIndexStep(store *storage.Store, ttl time.Duration, opts ...IndexStepOption) *IndexStep {
	s := &IndexStep{
		store:  store,
		ttl:    ttl,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *IndexStep) Name() string {
	return "ttl_index"
}

// Do executes the index maintenance step.
func (s *IndexStep) Do(ctx context.Context, report *model.RunReport) error {
	if s.store == nil {
		s.logger.Debug("skipping ttl index, no feature store configured")
		return nil
	}

	if err := s.store.EnsureTTLIndex(ctx, report.Country, storage.FieldScrapedAt, s.ttl); err != nil {
		return fmt.Errorf("failed to ensure ttl index: %w", err)
	}

	return nil
}

// CatalogStep walks the country's catalog tree and collects place links.
// The collected URLs feed the scrape step through the run report.
type CatalogStep struct {
	// fetcher performs the catalog page fetches.
	fetcher *crawler.Fetcher

	// baseURL is the site root the catalog hangs off.
	baseURL string

	// maxDepth limits how deep to descend below the country page.
	maxDepth int

	// maxCatalogPages bounds pagination per catalog level.
	maxCatalogPages int

	// maxPlaces caps how many place links one walk collects.
	maxPlaces int

	// skipPatterns are URL path patterns excluded from the walk.
	skipPatterns []string

	// logger for structured logging.
	logger *slog.Logger
}

// CatalogStepOption configures a CatalogStep.
type CatalogStepOption func(*CatalogStep)

// WithCatalogDepth sets the maximum catalog depth below the country page.
func WithCatalogDepth(depth int) CatalogStepOption {
	return func(s *CatalogStep) {
		s.maxDepth = depth
	}
}

// WithCatalogMaxPages sets how many pagination variants of one catalog
// node are probed.
func WithCatalogMaxPages(pages int) CatalogStepOption {
	return func(s *CatalogStep) {
		s.maxCatalogPages = pages
	}
}

// WithCatalogMaxPlaces caps the number of place links collected per walk.
func WithCatalogMaxPlaces(places int) CatalogStepOption {
	return func(s *CatalogStep) {
		s.maxPlaces = places
	}
}

// WithCatalogSkipPatterns sets URL path patterns to skip during the walk.
func WithCatalogSkipPatterns(patterns []string) CatalogStepOption {
	return func(s *CatalogStep) {
		s.skipPatterns = patterns
	}
}

// WithCatalogLogger sets a custom logger for the catalog step.
func WithCatalogLogger(logger *slog.Logger) CatalogStepOption {
	return func(s *CatalogStep) {
		s.logger = logger
	}
}

// NewCatalogStep creates a new catalog walk step.
// The fetcher must already route through the Tor proxy.
func NewCatalogStep(fetcher *crawler.Fetcher, baseURL string, opts ...CatalogStepOption) *CatalogStep {
	s := &CatalogStep{
		fetcher:         fetcher,
		baseURL:         baseURL,
		maxDepth:        config.DefaultCatalogDepth,
		maxCatalogPages: config.DefaultMaxCatalogPages,
		maxPlaces:       config.DefaultMaxPlaces,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *CatalogStep) Name() string {
	return "catalog"
}

// Do executes the catalog walk step.
// A fresh walker is built per run so visited-URL state never leaks
// between countries.
func (s *CatalogStep) Do(ctx context.Context, report *model.RunReport) error {
	walkOpts := []crawler.WalkerOption{
		crawler.WithMaxDepth(s.maxDepth),
		crawler.WithMaxCatalogPages(s.maxCatalogPages),
		crawler.WithMaxPlaces(s.maxPlaces),
		crawler.WithWalkLogger(s.logger),
	}
	if len(s.skipPatterns) > 0 {
		walkOpts = append(walkOpts, crawler.WithSkipPatterns(s.skipPatterns))
	}

	walker := crawler.NewWalker(s.fetcher, s.baseURL, walkOpts...)

	result, err := walker.Walk(ctx, report.Country)
	if err != nil {
		return fmt.Errorf("catalog walk failed: %w", err)
	}

	report.SetPlaceURLs(result.PlaceURLs)
	report.SetCatalogPages(result.CatalogPages)

	s.logger.Info("catalog walk completed",
		"country", report.Country,
		"places", len(result.PlaceURLs),
		"pages", result.CatalogPages,
	)

	return nil
}

// ScrapeStep fetches every collected place page and streams the parsed
// features to the sink.
//
// Design decision: Workers share one fetcher rather than fetching
// independently because:
// 1. The politeness delay is global, so workers queue behind one throttle
// 2. Identity renewal affects the shared circuit and must be coordinated
//    in one place
// 3. Retry and blocking policy stay identical for every page type
type ScrapeStep struct {
	// fetcher performs the place page fetches.
	fetcher *crawler.Fetcher

	// api requests place details from the site API instead of parsing
	// HTML pages. Nil means HTML mode.
	api *wikimapia.APIClient

	// sink receives every scraped feature.
	sink report.FeatureWriter

	// workers is the number of concurrent place scrapers.
	workers int

	// holdForEnrichment parks coordinate-less features that carry photos
	// for the enrichment step instead of writing them straight away.
	holdForEnrichment bool

	// logger for structured logging.
	logger *slog.Logger
}

// ScrapeStepOption configures a ScrapeStep.
type ScrapeStepOption func(*ScrapeStep)

// WithScrapeWorkers sets the number of concurrent place scrapers.
func WithScrapeWorkers(workers int) ScrapeStepOption {
	return func(s *ScrapeStep) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

// WithScrapeAPI switches the step to API mode using the given client.
func WithScrapeAPI(api *wikimapia.APIClient) ScrapeStepOption {
	return func(s *ScrapeStep) {
		s.api = api
	}
}

// WithHoldForEnrichment parks coordinate-less features with photos for a
// later enrichment step. Only enable this when an enrichment step runs
// afterwards, otherwise the parked features are never written.
func WithHoldForEnrichment(hold bool) ScrapeStepOption {
	return func(s *ScrapeStep) {
		s.holdForEnrichment = hold
	}
}

// WithScrapeLogger sets a custom logger for the scrape step.
func WithScrapeLogger(logger *slog.Logger) ScrapeStepOption {
	return func(s *ScrapeStep) {
		s.logger = logger
	}
}

// NewScrapeStep creates a new place scraping step.
// The fetcher must already route through the Tor proxy.
func NewScrapeStep(fetcher *crawler.Fetcher, sink report.FeatureWriter, opts ...ScrapeStepOption) *ScrapeStep {
	s := &ScrapeStep{
		fetcher: fetcher,
		sink:    sink,
		workers: config.DefaultWorkers,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *ScrapeStep) Name() string {
	return "scrape"
}

// Do executes the scrape step. Scrape failures on individual places are
// recorded in the report and do not stop the run; a sink error does,
// because it means every following write would be lost too.
func (s *ScrapeStep) Do(ctx context.Context, report *model.RunReport) error {
	urls := report.PlaceURLs
	if len(urls) == 0 {
		s.logger.Debug("skipping scrape, no place URLs collected")
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, placeURL := range urls {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			place, err := s.scrapePlace(ctx, placeURL)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("place scrape failed",
					"url", placeURL,
					"error", err,
				)
				report.AddFailure(placeURL, err)
				return nil
			}

			if s.holdForEnrichment && !place.Feature.HasCoordinates() && len(place.PhotoURLs) > 0 {
				report.HoldForEnrichment(place.Feature, place.PhotoURLs)
				return nil
			}

			return writeFeature(ctx, s.sink, report, place.Feature)
		})
	}

	err := g.Wait()
	report.SetRenewals(s.fetcher.RenewalCount())
	if err != nil {
		return err
	}

	s.logger.Info("scrape completed",
		"country", report.Country,
		"features", report.FeaturesScraped,
		"failures", report.FailureCount(),
	)

	return nil
}

// scrapePlace fetches one place and returns its parse result. In API
// mode the place details come from the API; otherwise the HTML page is
// parsed.
func (s *ScrapeStep) scrapePlace(ctx context.Context, placeURL string) (*wikimapia.Place, error) {
	if s.api != nil {
		feature, err := s.api.GetPlace(ctx, placeURL)
		if err != nil {
			return nil, err
		}
		return &wikimapia.Place{Feature: feature}, nil
	}

	page, err := s.fetcher.Fetch(ctx, placeURL)
	if err != nil {
		return nil, err
	}
	if page.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("place page returned status %d", page.StatusCode)
	}

	return wikimapia.ParsePlace(bytes.NewReader(page.Body), page.URL)
}

// ExifEnrichStep backfills missing coordinates from place photo metadata.
// The scrape step parks coordinate-less features that carry photos; this
// step fetches each photo through Tor, reads its GPS tags, and writes the
// feature out whether or not the backfill succeeded.
//
// Design decision: Enrichment runs after scraping rather than inline
// because:
// 1. Photos are only worth fetching for features without coordinates,
//    which is unknown until the place page is parsed
// 2. The GeoJSON sink streams each feature exactly once, so coordinates
//    must be final before the feature is written
// 3. A broken photo must not count the place as failed; the feature is
//    still valid without coordinates
type ExifEnrichStep struct {
	// fetcher performs the photo fetches.
	fetcher *crawler.Fetcher

	// sink receives the parked features once enrichment has been tried.
	sink report.FeatureWriter

	// maxPhotos bounds how many photos are tried per feature.
	maxPhotos int

	// logger for structured logging.
	logger *slog.Logger
}

// ExifEnrichStepOption configures an ExifEnrichStep.
type ExifEnrichStepOption func(*ExifEnrichStep)

// WithMaxPhotos sets how many photos are tried per feature before giving
// up. Zero and below means all photos are tried.
func WithMaxPhotos(maxPhotos int) ExifEnrichStepOption {
	return func(s *ExifEnrichStep) {
		s.maxPhotos = maxPhotos
	}
}

// WithEnrichLogger sets a custom logger for the enrichment step.
func WithEnrichLogger(logger *slog.Logger) ExifEnrichStepOption {
	return func(s *ExifEnrichStep) {
		s.logger = logger
	}
}

// NewExifEnrichStep creates a new coordinate enrichment step.
// The fetcher must already route through the Tor proxy so photo fetches
// stay anonymous like every other request.
func NewExifEnrichStep(fetcher *crawler.Fetcher, sink report.FeatureWriter, opts ...ExifEnrichStepOption) *ExifEnrichStep {
	s := &ExifEnrichStep{
		fetcher:   fetcher,
		sink:      sink,
		maxPhotos: 3,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *ExifEnrichStep) Name() string {
	return "exif_enrich"
}

// Do executes the enrichment step. Every parked feature is written to
// the sink afterwards, enriched or not.
func (s *ExifEnrichStep) Do(ctx context.Context, report *model.RunReport) error {
	held := report.TakeHeld()
	if len(held) == 0 {
		s.logger.Debug("skipping enrichment, no features waiting for coordinates")
		return nil
	}

	s.logger.Info("trying photo metadata for coordinate-less features",
		"country", report.Country,
		"features", len(held),
	)

	enriched := 0
	for _, item := range held {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.enrich(ctx, item) {
			enriched++
			report.AddEnriched()
		}
		if err := writeFeature(ctx, s.sink, report, item.Feature); err != nil {
			return err
		}
	}

	report.SetRenewals(s.fetcher.RenewalCount())

	s.logger.Info("enrichment completed",
		"country", report.Country,
		"enriched", enriched,
		"tried", len(held),
	)

	return nil
}

// enrich tries the feature's photos in order and backfills the first GPS
// position found. It reports whether coordinates were set.
func (s *ExifEnrichStep) enrich(ctx context.Context, item model.HeldFeature) bool {
	photos := item.PhotoURLs
	if s.maxPhotos > 0 && len(photos) > s.maxPhotos {
		photos = photos[:s.maxPhotos]
	}

	for _, photoURL := range photos {
		if ctx.Err() != nil {
			return false
		}

		page, err := s.fetcher.Fetch(ctx, photoURL)
		if err != nil {
			s.logger.Debug("photo fetch failed",
				"url", photoURL,
				"error", err,
			)
			continue
		}
		if page.StatusCode != http.StatusOK {
			s.logger.Debug("photo fetch rejected",
				"url", photoURL,
				"status", page.StatusCode,
			)
			continue
		}

		lat, lon, err := extractGPS(page.Body)
		if err != nil {
			s.logger.Debug("no usable gps metadata",
				"url", photoURL,
				"error", err,
			)
			continue
		}

		item.Feature.SetPoint(lon, lat)
		s.logger.Info("coordinates backfilled from photo metadata",
			"photo", photoURL,
		)
		return true
	}

	return false
}

// writeFeature stamps a feature with the run identity and streams it to
// the sink. Sink errors are fatal for the run; features already written
// stay written.
func writeFeature(ctx context.Context, sink report.FeatureWriter, run *model.RunReport, feature *model.Feature) error {
	feature.Stamp(run.RunID, time.Now())
	if err := sink.WriteFeature(ctx, feature); err != nil {
		return fmt.Errorf("failed to write feature: %w", err)
	}
	run.AddFeature(feature)
	return nil
}

// ScrapeDeps bundles the shared components the standard pipeline needs.
// Store and API are optional; nil disables the corresponding behavior.
type ScrapeDeps struct {
	// Fetcher performs all page, photo, and API fetches.
	Fetcher *crawler.Fetcher

	// BaseURL is the site root the catalog walk starts from.
	BaseURL string

	// Sink receives every scraped feature.
	Sink report.FeatureWriter

	// Store is the feature cache. Nil runs file-only.
	Store *storage.Store

	// API is the site API client. Nil scrapes HTML place pages.
	API *wikimapia.APIClient
}

// ScrapePipelineConfig holds configuration for the standard pipeline.
type ScrapePipelineConfig struct {
	// CatalogDepth is how deep the catalog walk descends below the
	// country page.
	CatalogDepth int

	// MaxCatalogPages bounds pagination per catalog level.
	MaxCatalogPages int

	// MaxPlaces caps the place links collected per run.
	MaxPlaces int

	// SkipPatterns are URL path patterns excluded from the catalog walk.
	SkipPatterns []string

	// Workers is the number of concurrent place scrapers.
	Workers int

	// CacheTTL is how long cached features count as fresh.
	CacheTTL time.Duration

	// Force drops cached features and re-scrapes.
	Force bool

	// EnrichFromPhotos adds the photo metadata enrichment step.
	EnrichFromPhotos bool
}

// ScrapePipelineOption configures a ScrapePipelineConfig.
type ScrapePipelineOption func(*ScrapePipelineConfig)

// WithPipelineCatalogDepth sets the catalog walk depth for the pipeline.
func WithPipelineCatalogDepth(depth int) ScrapePipelineOption {
	return func(c *ScrapePipelineConfig) {
		c.CatalogDepth = depth
	}
}

// WithPipelineMaxCatalogPages sets the pagination bound per catalog level.
func WithPipelineMaxCatalogPages(pages int) ScrapePipelineOption {
	return func(c *ScrapePipelineConfig) {
		c.MaxCatalogPages = pages
	}
}

// WithPipelineMaxPlaces caps the place links collected per run.
func WithPipelineMaxPlaces(places int) ScrapePipelineOption {
	return func(c *ScrapePipelineConfig) {
		c.MaxPlaces = places
	}
}

// WithPipelineSkipPatterns sets URL patterns to skip during the walk.
func WithPipelineSkipPatterns(patterns []string) ScrapePipelineOption {
	return func(c *ScrapePipelineConfig) {
		c.SkipPatterns = patterns
	}
}

// WithPipelineWorkers sets the number of concurrent place scrapers.
func WithPipelineWorkers(workers int) ScrapePipelineOption {
	return func(c *ScrapePipelineConfig) {
		c.Workers = workers
	}
}

// WithPipelineCacheTTL sets how long cached features count as fresh.
func WithPipelineCacheTTL(ttl time.Duration) ScrapePipelineOption {
	return func(c *ScrapePipelineConfig) {
		c.CacheTTL = ttl
	}
}

// WithPipelineForce drops cached features and re-scrapes.
func WithPipelineForce(force bool) ScrapePipelineOption {
	return func(c *ScrapePipelineConfig) {
		c.Force = force
	}
}

// WithPipelineEnrichment adds the photo metadata enrichment step.
func WithPipelineEnrichment(enrich bool) ScrapePipelineOption {
	return func(c *ScrapePipelineConfig) {
		c.EnrichFromPhotos = enrich
	}
}

// ScrapePipeline creates a pipeline with the standard scrape steps.
//
// Design decision: We provide a standard pipeline because:
// 1. Step order matters (the TTL index must exist before the first insert)
// 2. It keeps the hold-for-enrichment handshake between the scrape and
//    enrichment steps in one place
// 3. Reduces boilerplate in the CLI
//
// The first variadic parameter accepts pipeline options (WithLogger, etc).
// The second accepts pipeline config options (WithPipelineWorkers, etc).
func ScrapePipeline(deps ScrapeDeps, pipelineOpts []Option, configOpts ...ScrapePipelineOption) *Pipeline {
	p := New(pipelineOpts...)

	cfg := &ScrapePipelineConfig{
		CatalogDepth:    config.DefaultCatalogDepth,
		MaxCatalogPages: config.DefaultMaxCatalogPages,
		MaxPlaces:       config.DefaultMaxPlaces,
		Workers:         config.DefaultWorkers,
		CacheTTL:        config.DefaultCacheTTL,
	}
	for _, opt := range configOpts {
		opt(cfg)
	}

	catalogOpts := []CatalogStepOption{
		WithCatalogDepth(cfg.CatalogDepth),
		WithCatalogMaxPages(cfg.MaxCatalogPages),
		WithCatalogMaxPlaces(cfg.MaxPlaces),
	}
	if len(cfg.SkipPatterns) > 0 {
		catalogOpts = append(catalogOpts, WithCatalogSkipPatterns(cfg.SkipPatterns))
	}

	scrapeOpts := []ScrapeStepOption{
		WithScrapeWorkers(cfg.Workers),
	}
	if deps.API != nil {
		scrapeOpts = append(scrapeOpts, WithScrapeAPI(deps.API))
	}
	if cfg.EnrichFromPhotos {
		scrapeOpts = append(scrapeOpts, WithHoldForEnrichment(true))
	}

	// Step order: the skip decision comes first, the TTL index precedes
	// the first insert, and enrichment consumes what the scrape parked.
	p.AddSteps(
		NewCacheCheckStep(deps.Store, cfg.CacheTTL, cfg.Force),
		NewIndexStep(deps.Store, cfg.CacheTTL),
		NewCatalogStep(deps.Fetcher, deps.BaseURL, catalogOpts...),
		NewScrapeStep(deps.Fetcher, deps.Sink, scrapeOpts...),
	)
	if cfg.EnrichFromPhotos {
		p.AddStep(NewExifEnrichStep(deps.Fetcher, deps.Sink))
	}

	return p
}
