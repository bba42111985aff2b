package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"golang.org/x/text/language"
)

// Default configuration values.
// These values are chosen based on typical Tor network characteristics
// and polite scraping practice.
const (
	// DefaultTorProxyAddress is the standard Tor SOCKS5 proxy address.
	// Port 9050 is the default for the Tor daemon's SOCKS port.
	// We use 127.0.0.1 instead of localhost to avoid DNS resolution overhead
	// and potential issues with IPv6 resolution on some systems.
	DefaultTorProxyAddress = "127.0.0.1:9050"

	// DefaultTorControlAddress is the standard Tor control port address.
	// Port 9051 is the default for the Tor daemon's control port, which
	// geoscrape uses to request a fresh circuit (SIGNAL NEWNYM) when a
	// target starts rate limiting the current exit.
	DefaultTorControlAddress = "127.0.0.1:9051"

	// DefaultTimeout is set to 60 seconds. Requests leave the Tor network
	// through an exit relay to a clearnet site, which is slower than a
	// direct connection but faster than reaching a hidden service.
	DefaultTimeout = 60 * time.Second

	// DefaultCatalogDepth of 2 descends from the country page through the
	// region pages to the district pages. All three levels share one page
	// template, so the same link extractor is applied at each level.
	DefaultCatalogDepth = 2

	// DefaultMaxCatalogPages bounds pagination per catalog level.
	// Large countries paginate deeply; this keeps a run finite.
	DefaultMaxCatalogPages = 50

	// DefaultMaxPlaces is the maximum number of place pages to scrape per
	// country. This prevents runaway runs on densely mapped countries.
	// Users can override this via the --max-places CLI flag.
	DefaultMaxPlaces = 500

	// DefaultWorkers is the number of concurrent place scrapers.
	// The shared politeness throttle spaces requests regardless of worker
	// count, so this mainly hides per-request Tor latency.
	DefaultWorkers = 4

	// DefaultBatchSize is the number of countries scraped concurrently when
	// several are given. Request pacing is global, so this stays small.
	DefaultBatchSize = 2

	// DefaultMaxRetries is how many times a failed fetch is retried.
	// Tor circuits fail sporadically; a retry on a fresh circuit often
	// succeeds where the first attempt timed out.
	DefaultMaxRetries = 3

	// AppName is the application name used for XDG directory paths.
	AppName = "geoscrape"

	// DefaultCrawlDelay is the delay between requests during scraping.
	// This is a politeness setting to avoid overwhelming the target site.
	// 1 second is conservative and respectful of server resources.
	// Can be adjusted via --delay CLI flag.
	DefaultCrawlDelay = 1 * time.Second

	// DefaultUserAgent identifies geoscrape in HTTP requests.
	// Using a descriptive User-Agent is good practice and allows operators
	// to identify scraper traffic in their logs.
	DefaultUserAgent = "geoscrape/1.0 (+https://github.com/geoscrape/geoscrape)"

	// DefaultMaxBodySize limits the maximum response body size to read.
	// 5MB is sufficient for catalog and place pages while preventing memory
	// exhaustion from unexpectedly large responses.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap. 3 minutes is typically sufficient for most
	// network conditions, but may need to be increased for slow connections.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultBaseURL is the site serving the catalog and place pages.
	DefaultBaseURL = "https://wikimapia.org"

	// DefaultAPIBaseURL is the endpoint for API-mode scraping.
	DefaultAPIBaseURL = "http://api.wikimapia.org/"

	// DefaultAPIKey is the demonstration API key.
	// It is heavily rate limited; supply a real key via --api-key for
	// anything beyond smoke testing.
	DefaultAPIKey = "example"

	// DefaultLanguage is the content language requested from the site.
	DefaultLanguage = "en"

	// DefaultMongoURI points at a local MongoDB instance on its standard
	// port, matching the docker compose deployment this tool ships with.
	DefaultMongoURI = "mongodb://127.0.0.1:27017"

	// DefaultMongoDatabase is the database holding per-country collections.
	DefaultMongoDatabase = "geoscrape"

	// DefaultCacheTTL is how long cached features stay valid in MongoDB.
	// A TTL index on the scrape timestamp expires them; a country with
	// unexpired features is considered fresh and is not re-scraped.
	DefaultCacheTTL = 7 * 24 * time.Hour

	// DefaultRenewalInterval is the minimum gap between Tor identity
	// renewals. The Tor daemon rate limits NEWNYM internally; requesting
	// faster than this only burns control-port round trips.
	DefaultRenewalInterval = 10 * time.Second
)

// Config holds all configuration options for geoscrape.
// This struct is designed to be populated from CLI flags and passed through
// the application via dependency injection rather than global state.
//
// Design decision: We use a single flat struct instead of nested structs
// (e.g., TorConfig, MongoConfig) for simplicity. The number of options
// is manageable, and nesting would add complexity without significant benefit.
// If the configuration grows significantly, consider refactoring into sub-structs.
type Config struct {
	// Countries is the list of country names to scrape.
	// Each country becomes one pipeline run and one MongoDB collection.
	Countries []string

	// BaseURL is the root of the site being scraped.
	BaseURL string

	// === Tor ===

	// TorProxyAddress is the address of the Tor SOCKS5 proxy in "host:port"
	// format. All page, image, and API fetches go through this proxy.
	TorProxyAddress string

	// TorControlAddress is the address of the Tor control port.
	// Used for identity renewal. Empty disables renewal entirely.
	TorControlAddress string

	// ControlPassword authenticates to the control port when the daemon is
	// configured with HashedControlPassword. Empty means cookie or null
	// authentication is attempted instead.
	ControlPassword string

	// ControlCookiePath points at the daemon's control auth cookie file.
	// Empty means the path advertised by PROTOCOLINFO is used.
	ControlCookiePath string

	// UseEmbeddedTor starts an embedded Tor daemon instead of connecting
	// to an external one. The deployment normally runs Tor as its own
	// service, so this is off by default.
	//
	// Note: The embedded Tor daemon takes 1-3 minutes to bootstrap and
	// connect to the Tor network on first start.
	UseEmbeddedTor bool

	// TorStartupTimeout is the maximum time to wait for the embedded Tor
	// daemon to start and bootstrap. Only used when UseEmbeddedTor is true.
	TorStartupTimeout time.Duration

	// === HTTP ===

	// Timeout is the connection timeout for each HTTP request.
	// This applies to individual requests, not the overall run duration.
	Timeout time.Duration

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string

	// MaxBodySize is the maximum response body size in bytes to read.
	// Responses larger than this are truncated to prevent memory exhaustion.
	// Set to 0 to use the default (5MB).
	MaxBodySize int64

	// CrawlDelay is the minimum delay between requests.
	// This is a "politeness" setting shared across all workers; raising
	// Workers does not raise the request rate.
	CrawlDelay time.Duration

	// MaxRetries is how many times a failed fetch is retried before the
	// place is recorded as a failure.
	MaxRetries int

	// RenewAfter renews the Tor identity every N fetches.
	// 0 disables scheduled renewal; block-triggered renewal still applies.
	RenewAfter int

	// RenewOnBlock renews the Tor identity when the site answers with a
	// blocking status (403 or 429), then retries the fetch.
	RenewOnBlock bool

	// === Catalog ===

	// CatalogDepth is how many catalog levels to descend below the country
	// page. Depth 0 collects places from the country page only.
	CatalogDepth int

	// MaxCatalogPages bounds pagination per catalog level.
	MaxCatalogPages int

	// MaxPlaces is the maximum number of place pages to scrape per country.
	// 0 means use the default (DefaultMaxPlaces).
	MaxPlaces int

	// Workers is the number of concurrent place scrapers per country.
	Workers int

	// BatchSize is the number of countries processed concurrently.
	BatchSize int

	// Language is the content language requested from the site.
	// Must be a valid BCP 47 tag ("en", "de", "pt-BR").
	Language string

	// EnrichFromPhotos downloads the photos of features that have no
	// coordinates and backfills the position from EXIF GPS metadata.
	EnrichFromPhotos bool

	// === API mode ===

	// UseAPI scrapes through the site's HTTP API instead of parsing pages.
	// API responses include the place outline, so features get Polygon
	// geometry instead of a single Point.
	UseAPI bool

	// APIKey is the API key for API-mode scraping.
	APIKey string

	// APIBaseURL is the API endpoint.
	APIBaseURL string

	// === MongoDB ===

	// MongoURI is the MongoDB connection string.
	MongoURI string

	// MongoDatabase is the database holding per-country collections.
	MongoDatabase string

	// CacheTTL is how long cached features stay valid.
	// 0 disables the TTL index; documents then never expire.
	CacheTTL time.Duration

	// NoDatabase disables MongoDB entirely. Features go to the GeoJSON
	// file only and the freshness check is skipped.
	NoDatabase bool

	// Force re-scrapes a country even when the cache is fresh.
	Force bool

	// === Output ===

	// OutputDir is the directory for GeoJSON output files.
	// Defaults to the XDG data directory.
	OutputDir string

	// OutputFile overrides the generated output file path.
	// When set with multiple countries, all features go to this one file.
	OutputFile string

	// JSONSummary prints the run summary as JSON instead of the
	// human-readable format. Mutually exclusive with MarkdownSummary.
	JSONSummary bool

	// MarkdownSummary prints the run summary as GitHub Flavored Markdown.
	// Mutually exclusive with JSONSummary.
	MarkdownSummary bool

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only warnings and errors are logged.
	Verbose bool

	// === Journal ===

	// JournalDir is the directory for the run journal database.
	// When empty, runs are not journaled.
	JournalDir string

	// === Config file ===

	// ConfigFilePath is the path to the configuration file.
	// If empty, the tool searches for .geoscrape in the current directory
	// and then in the user's home directory.
	ConfigFilePath string

	// CountryConfigs holds per-country configurations loaded from the
	// config file. Populated by LoadConfigFile and applied before each run.
	CountryConfigs *File
}

// NewConfig creates a new Config with default values.
// All fields are set to safe, sensible defaults that work for most use cases.
// Users can override specific values after creation.
//
// Design decision: We use a constructor function instead of relying on
// zero values because many defaults are non-zero (e.g., timeout, addresses).
// This also serves as documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		BaseURL:           DefaultBaseURL,
		TorProxyAddress:   DefaultTorProxyAddress,
		TorControlAddress: DefaultTorControlAddress,
		TorStartupTimeout: DefaultTorStartupTimeout,
		Timeout:           DefaultTimeout,
		UserAgent:         DefaultUserAgent,
		MaxBodySize:       DefaultMaxBodySize,
		CrawlDelay:        DefaultCrawlDelay,
		MaxRetries:        DefaultMaxRetries,
		RenewOnBlock:      true,
		CatalogDepth:      DefaultCatalogDepth,
		MaxCatalogPages:   DefaultMaxCatalogPages,
		MaxPlaces:         DefaultMaxPlaces,
		Workers:           DefaultWorkers,
		BatchSize:         DefaultBatchSize,
		Language:          DefaultLanguage,
		APIKey:            DefaultAPIKey,
		APIBaseURL:        DefaultAPIBaseURL,
		MongoURI:          DefaultMongoURI,
		MongoDatabase:     DefaultMongoDatabase,
		CacheTTL:          DefaultCacheTTL,
	}
}

// XDGDataDir returns the XDG data directory for geoscrape.
// This follows the XDG Base Directory Specification.
// On Linux: ~/.local/share/geoscrape
// On macOS: ~/Library/Application Support/geoscrape
// On Windows: %LOCALAPPDATA%\geoscrape
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for geoscrape.
// This follows the XDG Base Directory Specification.
// On Linux: ~/.config/geoscrape
// On macOS: ~/Library/Application Support/geoscrape
// On Windows: %APPDATA%\geoscrape
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for geoscrape.
// This follows the XDG Base Directory Specification.
// On Linux: ~/.cache/geoscrape
// On macOS: ~/Library/Caches/geoscrape
// On Windows: %LOCALAPPDATA%\geoscrape\cache
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns a specific error describing what is invalid.
//
// Design decision: We validate at the config level rather than at each
// point of use to fail fast and provide clear error messages upfront.
// This is called once after CLI parsing, before any scraping begins.
//
// We chose to return the first error found rather than collecting all errors
// because fixing one error often makes others irrelevant.
func (c *Config) Validate() error {
	// We must have at least one country to scrape
	if len(c.Countries) == 0 {
		return ErrNoCountry
	}

	// Timeout must be positive; zero timeout would cause immediate failures
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	// Workers must be positive; zero would mean no scraping
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}

	// BatchSize must be positive; zero would mean no runs
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	// JSONSummary and MarkdownSummary are mutually exclusive
	if c.JSONSummary && c.MarkdownSummary {
		return ErrConflictingSummaryFormats
	}

	// CrawlDelay must be non-negative
	if c.CrawlDelay < 0 {
		return ErrInvalidCrawlDelay
	}

	// MaxBodySize must be non-negative; 0 selects the default
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}

	// CacheTTL must be non-negative; 0 disables expiry
	if c.CacheTTL < 0 {
		return ErrInvalidCacheTTL
	}

	// RenewAfter must be non-negative; 0 disables scheduled renewal
	if c.RenewAfter < 0 {
		return ErrInvalidRenewAfter
	}

	// CatalogDepth must be non-negative
	if c.CatalogDepth < 0 {
		return ErrInvalidCatalogDepth
	}

	// MaxCatalogPages must be positive
	if c.MaxCatalogPages <= 0 {
		return ErrInvalidMaxCatalogPages
	}

	// MaxRetries must be non-negative
	if c.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	// Language must be a well-formed BCP 47 tag
	if _, err := language.Parse(c.Language); err != nil {
		return ErrInvalidLanguage
	}

	return nil
}
