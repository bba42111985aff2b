package journal

import (
	"context"
	"log/slog"
)

// FetchRecorder adapts the journal to the fetch-recording hook the
// crawler exposes. Journal write failures are logged and swallowed: a
// broken ledger must not abort a scrape that is otherwise working.
type FetchRecorder struct {
	journal *Journal
	country string
	logger  *slog.Logger
}

// Recorder returns a fetch recorder bound to one country.
func (j *Journal) Recorder(country string, logger *slog.Logger) *FetchRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FetchRecorder{
		journal: j,
		country: country,
		logger:  logger,
	}
}

// RecordFetch journals one fetch attempt.
func (r *FetchRecorder) RecordFetch(ctx context.Context, pageURL string, statusCode int, fetchErr error) {
	if err := r.journal.RecordFetch(ctx, r.country, pageURL, statusCode, fetchErr); err != nil {
		r.logger.Debug("failed to journal fetch",
			slog.String("url", pageURL),
			slog.String("error", err.Error()))
	}
}
