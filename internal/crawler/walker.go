package crawler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/geoscrape/geoscrape/internal/wikimapia"
)

// Default walker configuration values.
const (
	// DefaultMaxDepth descends from the country page through one level
	// of region pages. Deeper levels repeat places already listed above.
	DefaultMaxDepth = 2

	// DefaultMaxCatalogPages bounds pagination per catalog node.
	DefaultMaxCatalogPages = 50

	// DefaultMaxPlaces caps the number of place links collected per walk.
	DefaultMaxPlaces = 500
)

// Walker traverses a country's catalog tree and collects place links.
//
// Design decision: the walker collects URLs instead of scraping places
// inline because:
//  1. The place list can be deduplicated against the cache before any
//     place page is fetched, which skips most of the network work on
//     repeat runs.
//  2. Place scraping parallelizes cleanly over a fixed URL list, while
//     the catalog walk is inherently sequential (each page feeds the
//     queue for the next).
//  3. A failed walk leaves nothing half-written; a failed scrape of one
//     place loses only that place.
type Walker struct {
	// fetcher performs the actual HTTP requests.
	fetcher *Fetcher

	// baseURL is the Wikimapia frontend root, e.g. "https://wikimapia.org".
	baseURL string

	// maxDepth limits how deep to descend below the country page.
	// 0 means only the country page itself.
	maxDepth int

	// maxCatalogPages bounds the ?page=N pagination probe per node.
	maxCatalogPages int

	// maxPlaces caps how many place links a single walk collects.
	maxPlaces int

	// skipPatterns are URL path patterns to skip, in glob syntax
	// (e.g. "/country/France/Paris*").
	skipPatterns []string

	// logger receives walk diagnostics.
	logger *slog.Logger

	// visited tracks normalized URLs already seen to avoid duplicates.
	visited map[string]bool

	// mutex protects concurrent access to visited.
	mutex sync.Mutex
}

// WalkerOption configures a Walker.
type WalkerOption func(*Walker)

// WithMaxDepth sets the maximum catalog depth below the country page.
// 0 = only the country page, 1 = country page plus its region pages, etc.
func WithMaxDepth(depth int) WalkerOption {
	return func(w *Walker) {
		w.maxDepth = depth
	}
}

// WithMaxCatalogPages sets how many ?page=N variants of one catalog node
// are probed before moving on.
func WithMaxCatalogPages(pages int) WalkerOption {
	return func(w *Walker) {
		w.maxCatalogPages = pages
	}
}

// WithMaxPlaces caps the number of place links collected per walk.
// 0 means no cap.
func WithMaxPlaces(places int) WalkerOption {
	return func(w *Walker) {
		w.maxPlaces = places
	}
}

// WithSkipPatterns sets URL path patterns to skip during the walk.
// Patterns use glob syntax (e.g. "/country/France/Paris*", "*Museum*").
func WithSkipPatterns(patterns []string) WalkerOption {
	return func(w *Walker) {
		w.skipPatterns = patterns
	}
}

// WithWalkLogger sets the logger used for walk diagnostics.
func WithWalkLogger(logger *slog.Logger) WalkerOption {
	return func(w *Walker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWalker creates a Walker that fetches through the given fetcher and
// resolves catalog paths against baseURL.
func NewWalker(fetcher *Fetcher, baseURL string, opts ...WalkerOption) *Walker {
	w := &Walker{
		fetcher:         fetcher,
		baseURL:         baseURL,
		maxDepth:        DefaultMaxDepth,
		maxCatalogPages: DefaultMaxCatalogPages,
		maxPlaces:       DefaultMaxPlaces,
		logger:          slog.Default(),
		visited:         make(map[string]bool),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// CatalogResult is the outcome of one catalog walk.
type CatalogResult struct {
	// PlaceURLs are the collected place page URLs, in discovery order.
	PlaceURLs []string

	// CatalogPages is the number of catalog pages fetched.
	CatalogPages int
}

// queueItem is a catalog node waiting to be walked.
type queueItem struct {
	url   string
	depth int
}

// Walk traverses the catalog tree of the given country breadth-first and
// returns the place URLs it finds. A country page that does not answer
// with HTTP 200 yields ErrCountryNotFound; failures on deeper nodes are
// logged and skipped so one broken region page cannot sink the walk.
func (w *Walker) Walk(ctx context.Context, country string) (*CatalogResult, error) {
	startURL, err := wikimapia.CatalogPageURL(w.baseURL, country, 1)
	if err != nil {
		return nil, err
	}

	result := &CatalogResult{}
	queue := []queueItem{{url: startURL, depth: 0}}
	w.markVisited(startURL)

	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		item := queue[0]
		queue = queue[1:]

		if err := w.walkNode(ctx, item, result, &queue); err != nil {
			if item.depth == 0 {
				return nil, err
			}
			w.logger.Warn("catalog node failed",
				slog.String("url", item.url),
				slog.String("error", err.Error()))
		}

		if w.placeCapReached(result) {
			w.logger.Info("place cap reached",
				slog.String("country", country),
				slog.Int("places", len(result.PlaceURLs)))
			break
		}
	}

	if len(result.PlaceURLs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPlaces, country)
	}

	w.logger.Info("catalog walk finished",
		slog.String("country", country),
		slog.Int("places", len(result.PlaceURLs)),
		slog.Int("pages", result.CatalogPages))

	return result, nil
}

// walkNode fetches one catalog node including its ?page=N variants,
// collects place links, and enqueues sub-catalog links.
func (w *Walker) walkNode(ctx context.Context, item queueItem, result *CatalogResult, queue *[]queueItem) error {
	for page := 1; page <= w.maxCatalogPages; page++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pageURL, err := wikimapia.CatalogPageVariant(item.url, page)
		if err != nil {
			return err
		}
		if page > 1 {
			w.markVisited(pageURL)
		}

		fetched, err := w.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return err
			}
			w.logger.Debug("pagination probe failed",
				slog.String("url", pageURL),
				slog.String("error", err.Error()))
			break
		}

		if fetched.StatusCode != http.StatusOK {
			if page == 1 && item.depth == 0 {
				return fmt.Errorf("%w: %q returned status %d", ErrCountryNotFound, item.url, fetched.StatusCode)
			}
			break
		}

		result.CatalogPages++

		added, err := w.collectLinks(fetched, item.depth, result, queue)
		if err != nil {
			return err
		}

		// A page contributing nothing new means pagination has run past
		// the end of the listing.
		if added == 0 {
			break
		}
	}

	return nil
}

// collectLinks extracts catalog links from a fetched page, records place
// URLs, and enqueues sub-catalogs. It returns how many new links the
// page contributed.
func (w *Walker) collectLinks(fetched *Page, depth int, result *CatalogResult, queue *[]queueItem) (int, error) {
	pageBase, err := url.Parse(fetched.URL)
	if err != nil {
		return 0, fmt.Errorf("failed to parse page URL: %w", err)
	}

	links, err := wikimapia.CatalogLinks(bytes.NewReader(fetched.Body), pageBase)
	if err != nil {
		return 0, fmt.Errorf("failed to extract catalog links: %w", err)
	}

	added := 0
	for _, link := range links {
		if w.placeCapReached(result) {
			break
		}
		if w.isVisited(link) || !w.shouldVisit(link) {
			continue
		}

		switch {
		case wikimapia.IsPlaceURL(link):
			w.markVisited(link)
			result.PlaceURLs = append(result.PlaceURLs, link)
			added++
		case wikimapia.IsCatalogURL(link):
			if depth < w.maxDepth {
				w.markVisited(link)
				*queue = append(*queue, queueItem{url: link, depth: depth + 1})
				added++
			}
		}
	}

	return added, nil
}

// placeCapReached reports whether the walk has collected maxPlaces links.
func (w *Walker) placeCapReached(result *CatalogResult) bool {
	return w.maxPlaces > 0 && len(result.PlaceURLs) >= w.maxPlaces
}

// isVisited checks if a URL has been visited (thread-safe).
func (w *Walker) isVisited(pageURL string) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.visited[w.normalizeURL(pageURL)]
}

// markVisited marks a URL as visited.
func (w *Walker) markVisited(pageURL string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.visited[w.normalizeURL(pageURL)] = true
}

// normalizeURL normalizes a URL for deduplication.
//
// Design decision: We normalize URLs because:
//  1. Same page can have different URL representations
//  2. Fragment (#anchor) doesn't change content
//  3. Trailing slashes may or may not be significant
func (w *Walker) normalizeURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}

	// Remove fragment
	u.Fragment = ""

	// Normalize scheme to lowercase
	u.Scheme = strings.ToLower(u.Scheme)

	// Normalize host to lowercase
	u.Host = strings.ToLower(u.Host)

	// Normalize root path (empty path and "/" are equivalent)
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

// Reset clears the walker's state, allowing it to be reused for another
// country.
func (w *Walker) Reset() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.visited = make(map[string]bool)
}

// shouldVisit checks if a URL passes the skip patterns.
func (w *Walker) shouldVisit(targetURL string) bool {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range w.skipPatterns {
		if matchPattern(pattern, path) {
			return false
		}
	}

	return true
}

// matchPattern checks if a path matches a glob pattern.
// Patterns can use:
//   - * to match any sequence of non-separator characters
//   - ? to match any single character
//
// Examples:
//   - "/country/France/*" matches "/country/France/Paris"
//   - "*.jpg" matches "/photos/img.jpg"
func matchPattern(pattern, path string) bool {
	// For patterns like "/country/France/*", match any deeper path too
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	// Handle extension patterns like "*.jpg"
	if strings.HasPrefix(pattern, "*.") {
		ext := strings.TrimPrefix(pattern, "*")
		if strings.HasSuffix(path, ext) {
			return true
		}
	}

	// filepath.Match handles * and ? for single-segment patterns
	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	if matched {
		return true
	}

	// Also try matching just the last path segment for patterns like
	// "*Museum*"
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		matched, err := filepath.Match(pattern, filepath.Base(path))
		if err == nil && matched {
			return true
		}
	}

	return false
}
