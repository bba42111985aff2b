package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/geoscrape/geoscrape/internal/tor"
)

// Default fetcher configuration values.
const (
	// DefaultUserAgent identifies the scraper as an ordinary browser.
	// Wikimapia serves a degraded page to clients it considers bots.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:109.0) Gecko/20100101 Firefox/115.0"

	// DefaultDelay is the minimum time between two requests.
	DefaultDelay = 1 * time.Second

	// DefaultMaxRetries is how many times a failed fetch is retried.
	DefaultMaxRetries = 3

	// DefaultMaxBodySize is the maximum response body size (5MB).
	DefaultMaxBodySize = 5 * 1024 * 1024

	// retryBackoff is the base wait before a retry. Attempt N waits
	// N times this on top of the regular request delay.
	retryBackoff = 2 * time.Second
)

// IdentityRenewer requests a fresh Tor identity so that subsequent
// fetches leave through a different exit relay. *tor.Controller
// implements it.
type IdentityRenewer interface {
	RenewIdentity(ctx context.Context) error
}

// Recorder receives the outcome of every fetch attempt. The scrape
// journal implements it. A nil Recorder disables recording.
type Recorder interface {
	RecordFetch(ctx context.Context, pageURL string, statusCode int, fetchErr error)
}

// Page is a single fetched page.
type Page struct {
	// URL is the URL that was fetched.
	URL string
	// StatusCode is the HTTP status code of the final response.
	StatusCode int
	// ContentType is the value of the Content-Type response header.
	ContentType string
	// Body is the response body, truncated at the configured maximum size.
	Body []byte
}

// Fetcher performs polite, retried HTTP fetches over the Tor client.
//
// Design decision: the fetcher owns all network policy (delays, retries,
// identity renewal) while the wikimapia package stays pure parsing,
// because:
//  1. Parsers can be tested against fixtures without any network setup.
//  2. Both catalog pages and place pages need identical fetch behavior,
//     so one shared component beats two copies of the retry loop.
//  3. Identity renewal has to be coordinated across every request on the
//     circuit, which only works from a single choke point.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	delay       time.Duration
	maxRetries  int
	backoffBase time.Duration

	renewer      IdentityRenewer
	renewAfter   int
	renewOnBlock bool

	recorder Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	nextSlot time.Time
	fetches  int
	renewals int
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(userAgent string) FetcherOption {
	return func(f *Fetcher) {
		f.userAgent = userAgent
	}
}

// WithMaxBodySize sets the maximum response body size in bytes.
func WithMaxBodySize(size int64) FetcherOption {
	return func(f *Fetcher) {
		f.maxBodySize = size
	}
}

// WithDelay sets the minimum pause between two consecutive requests.
func WithDelay(delay time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.delay = delay
	}
}

// WithMaxRetries sets how many times a failed fetch is retried before
// giving up.
func WithMaxRetries(retries int) FetcherOption {
	return func(f *Fetcher) {
		f.maxRetries = retries
	}
}

// WithRenewer sets the Tor identity renewer used for circuit rotation.
func WithRenewer(renewer IdentityRenewer) FetcherOption {
	return func(f *Fetcher) {
		f.renewer = renewer
	}
}

// WithRenewAfter renews the Tor identity after every n successful
// fetches. Zero disables scheduled renewal.
func WithRenewAfter(n int) FetcherOption {
	return func(f *Fetcher) {
		f.renewAfter = n
	}
}

// WithRenewOnBlock controls whether an HTTP 403 or 429 response triggers
// an identity renewal before the retry.
func WithRenewOnBlock(renew bool) FetcherOption {
	return func(f *Fetcher) {
		f.renewOnBlock = renew
	}
}

// WithRecorder sets the recorder notified about every fetch attempt.
func WithRecorder(recorder Recorder) FetcherOption {
	return func(f *Fetcher) {
		f.recorder = recorder
	}
}

// WithFetchLogger sets the logger used for fetch diagnostics.
func WithFetchLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFetcher creates a Fetcher with the given HTTP client. The client is
// typically tor.Client.HTTPClient() so that all traffic leaves through
// the SOCKS5 proxy.
func NewFetcher(client *http.Client, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:       client,
		userAgent:    DefaultUserAgent,
		maxBodySize:  DefaultMaxBodySize,
		delay:        DefaultDelay,
		maxRetries:   DefaultMaxRetries,
		backoffBase:  retryBackoff,
		renewOnBlock: true,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// FetchCount returns how many requests the fetcher has sent so far.
func (f *Fetcher) FetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// RenewalCount returns how many identity renewals have succeeded so far.
func (f *Fetcher) RenewalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renewals
}

// Fetch retrieves a single page. It waits for its politeness slot,
// retries transport errors and 5xx responses, and rotates the Tor
// identity when the server starts blocking. 4xx responses other than
// 403 and 429 are not errors; callers decide what a 404 means.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	var page *Page
	var lastErr error

	attempts := f.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := f.backoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		if err := f.waitTurn(ctx); err != nil {
			return nil, err
		}

		page, lastErr = f.fetchOnce(ctx, pageURL)
		f.record(ctx, pageURL, page, lastErr)

		if lastErr != nil {
			if ctx.Err() != nil {
				return nil, lastErr
			}
			f.logger.Debug("fetch failed",
				slog.String("url", pageURL),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()))
			continue
		}

		switch {
		case page.StatusCode == http.StatusForbidden || page.StatusCode == http.StatusTooManyRequests:
			f.logger.Warn("fetch blocked",
				slog.String("url", pageURL),
				slog.Int("status", page.StatusCode))
			if f.renewOnBlock {
				f.renew(ctx)
			}
		case page.StatusCode >= http.StatusInternalServerError:
			f.logger.Debug("server error",
				slog.String("url", pageURL),
				slog.Int("status", page.StatusCode))
		default:
			f.maybeScheduledRenew(ctx)
			return page, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("fetch %s failed after %d attempts: %w", pageURL, attempts, lastErr)
	}

	// All attempts came back blocked or 5xx. Hand the last response to
	// the caller so the status code is visible.
	return page, nil
}

// fetchOnce performs a single HTTP request.
func (f *Fetcher) fetchOnce(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()

	return &Page{
		URL:         pageURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// waitTurn blocks until this request's politeness slot arrives. Slots
// are handed out under the mutex so that concurrent callers queue up
// behind each other instead of bursting.
func (f *Fetcher) waitTurn(ctx context.Context) error {
	if f.delay <= 0 {
		return ctx.Err()
	}

	f.mu.Lock()
	now := time.Now()
	slot := f.nextSlot
	if slot.Before(now) {
		slot = now
	}
	f.nextSlot = slot.Add(f.delay)
	f.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff sleeps before a retry attempt.
func (f *Fetcher) backoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(attempt) * f.backoffBase)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// renew rotates the Tor identity. Throttled renewals are expected when
// several blocked fetches arrive in a burst and are not errors.
func (f *Fetcher) renew(ctx context.Context) {
	if f.renewer == nil {
		return
	}

	if err := f.renewer.RenewIdentity(ctx); err != nil {
		if errors.Is(err, tor.ErrRenewalThrottled) {
			f.logger.Debug("identity renewal throttled", slog.String("error", err.Error()))
			return
		}
		f.logger.Warn("identity renewal failed", slog.String("error", err.Error()))
		return
	}

	f.mu.Lock()
	f.renewals++
	f.mu.Unlock()

	f.logger.Info("tor identity renewed")
}

// maybeScheduledRenew rotates the identity every renewAfter successful
// fetches.
func (f *Fetcher) maybeScheduledRenew(ctx context.Context) {
	if f.renewer == nil || f.renewAfter <= 0 {
		return
	}

	f.mu.Lock()
	due := f.fetches%f.renewAfter == 0
	f.mu.Unlock()

	if due {
		f.renew(ctx)
	}
}

// record notifies the recorder about a fetch attempt.
func (f *Fetcher) record(ctx context.Context, pageURL string, page *Page, fetchErr error) {
	if f.recorder == nil {
		return
	}

	statusCode := 0
	if page != nil {
		statusCode = page.StatusCode
	}
	f.recorder.RecordFetch(ctx, pageURL, statusCode, fetchErr)
}
