package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and provide specific
// information about what is wrong with the configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages. Using errors.New() here rather than fmt.Errorf()
// because we don't need to include dynamic values in these messages.
var (
	// ErrNoCountry is returned when no country name is specified.
	ErrNoCountry = errors.New("no country specified: provide at least one country name")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	// A timeout of zero or negative would cause immediate connection failures.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	// Zero workers would mean no place pages get scraped.
	ErrInvalidWorkers = errors.New("invalid workers: must be positive")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	// A batch size of zero would mean no country runs at all.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrConflictingSummaryFormats is returned when both --json and
	// --markdown are specified. Only one summary format can be used at a time.
	ErrConflictingSummaryFormats = errors.New("conflicting summary formats: --json and --markdown cannot be used together")

	// ErrInvalidCrawlDelay is returned when the crawl delay is negative.
	// A negative delay is invalid; use 0 for no delay between requests.
	ErrInvalidCrawlDelay = errors.New("invalid crawl delay: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	// A negative body size is invalid; use 0 to use the default limit.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidCacheTTL is returned when the cache TTL is negative.
	// A negative TTL is invalid; use 0 to keep documents forever.
	ErrInvalidCacheTTL = errors.New("invalid cache ttl: must be non-negative")

	// ErrInvalidRenewAfter is returned when the renewal interval is negative.
	// A negative value is invalid; use 0 to disable scheduled renewal.
	ErrInvalidRenewAfter = errors.New("invalid renew-after: must be non-negative")

	// ErrInvalidCatalogDepth is returned when the catalog depth is negative.
	ErrInvalidCatalogDepth = errors.New("invalid catalog depth: must be non-negative")

	// ErrInvalidMaxCatalogPages is returned when the page bound is not positive.
	// At least one catalog page per level must be allowed.
	ErrInvalidMaxCatalogPages = errors.New("invalid max catalog pages: must be positive")

	// ErrInvalidMaxRetries is returned when the retry count is negative.
	// A negative count is invalid; use 0 to disable retries.
	ErrInvalidMaxRetries = errors.New("invalid max retries: must be non-negative")

	// ErrInvalidLanguage is returned when the language is not a well-formed
	// BCP 47 tag.
	ErrInvalidLanguage = errors.New("invalid language: must be a BCP 47 tag such as 'en' or 'pt-BR'")
)
