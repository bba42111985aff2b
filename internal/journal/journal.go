package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/geoscrape/geoscrape/internal/model"
)

// Run status values stored in the journal.
const (
	// StatusRunning marks a run that has started but not finished.
	StatusRunning = "running"

	// StatusCompleted marks a run that finished without a terminal error.
	StatusCompleted = "completed"

	// StatusFailed marks a run that ended with an error or timed out.
	StatusFailed = "failed"

	// StatusSkipped marks a run that found fresh cached data and did not
	// scrape.
	StatusSkipped = "skipped"
)

// defaultRecentLimit is how many runs RecentRuns returns when the caller
// passes a non-positive limit.
const defaultRecentLimit = 20

// Journal provides SQLite-based storage for run history and fetch
// records. It is the local ledger of what was scraped and when, so
// interrupted runs can be inspected and recently fetched pages skipped
// even when MongoDB is disabled.
//
// Design decision: We use a single database file for all countries
// rather than one per country. Runs are small rows, and cross-country
// queries ("what ran this week?") stay single-statement.
type Journal struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures Journal behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent
	// performance. This is recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default journal options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a Journal in the specified directory.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is
// returned.
func Open(dir string, opts Options) (*Journal, error) {
	dbPath := filepath.Join(dir, "geoscrape.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("journal not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check journal path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	// modernc.org/sqlite connection string: mode=rw prevents creating new
	// files, mode=rwc allows creation.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// SQLite supports only one writer; multiple connections just contend.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	j := &Journal{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := j.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Path returns the journal database file path.
func (j *Journal) Path() string {
	return j.dbPath
}

// createTables creates the journal schema if it doesn't exist.
func (j *Journal) createTables() error {
	schema := `
	-- Runs record one pipeline execution per country
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		country TEXT NOT NULL,
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME,
		catalog_pages INTEGER NOT NULL DEFAULT 0,
		places_found INTEGER NOT NULL DEFAULT 0,
		features_written INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0,
		renewals INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		summary_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_country ON runs(country);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	-- Fetches record individual page requests
	CREATE TABLE IF NOT EXISTS fetches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		country TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		status_code INTEGER,
		ok INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_fetches_country ON fetches(country);
	CREATE INDEX IF NOT EXISTS idx_fetches_timestamp ON fetches(timestamp);
	`

	_, err := j.db.ExecContext(context.Background(), schema)
	return err
}

// RecordRun inserts a new run in the running state.
func (j *Journal) RecordRun(ctx context.Context, runID, country string) error {
	if runID == "" {
		return ErrEmptyRunID
	}
	if country == "" {
		return ErrEmptyCountry
	}

	query := `INSERT INTO runs (run_id, country, status) VALUES (?, ?, ?)`
	if _, err := j.db.ExecContext(ctx, query, runID, country, StatusRunning); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters and summary of a run.
// The status is derived from the summary: skipped when the cache was
// fresh, failed on a terminal error or timeout, completed otherwise.
func (j *Journal) FinishRun(ctx context.Context, summary *model.RunSummary) error {
	if summary == nil || summary.RunID == "" {
		return ErrEmptyRunID
	}

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to serialize summary: %w", err)
	}

	status := StatusCompleted
	switch {
	case summary.SkippedByCache:
		status = StatusSkipped
	case !summary.Succeeded():
		status = StatusFailed
	}

	query := `
	UPDATE runs SET
		finished_at = CURRENT_TIMESTAMP,
		catalog_pages = ?,
		places_found = ?,
		features_written = ?,
		failures = ?,
		renewals = ?,
		status = ?,
		summary_json = ?
	WHERE run_id = ?
	`

	result, err := j.db.ExecContext(ctx, query,
		summary.CatalogPages,
		summary.PlacesFound,
		summary.FeaturesScraped,
		summary.FailureCount,
		summary.Renewals,
		status,
		string(summaryJSON),
		summary.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finish result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, summary.RunID)
	}
	return nil
}

// RecordFetch inserts or updates the fetch record for a URL.
// Uses UPSERT so each URL keeps only its latest outcome.
func (j *Journal) RecordFetch(ctx context.Context, country, url string, statusCode int, fetchErr error) error {
	ok := fetchErr == nil && statusCode >= 200 && statusCode < 400
	errorText := ""
	if fetchErr != nil {
		errorText = fetchErr.Error()
	}

	query := `
	INSERT INTO fetches (url, country, status_code, ok, error)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		country = excluded.country,
		status_code = excluded.status_code,
		ok = excluded.ok,
		error = excluded.error,
		timestamp = CURRENT_TIMESTAMP
	`

	if _, err := j.db.ExecContext(ctx, query, url, country, statusCode, ok, errorText); err != nil {
		return fmt.Errorf("failed to record fetch: %w", err)
	}
	return nil
}

// HasRecentFetch checks if a URL was fetched successfully within the
// specified duration.
func (j *Journal) HasRecentFetch(ctx context.Context, url string, within time.Duration) (bool, error) {
	query := `
	SELECT COUNT(*) FROM fetches
	WHERE url = ? AND ok = 1 AND timestamp > datetime('now', ?)
	`

	// SQLite datetime modifier format
	modifier := fmt.Sprintf("-%d seconds", int(within.Seconds()))

	var count int
	if err := j.db.QueryRowContext(ctx, query, url, modifier).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check recent fetch: %w", err)
	}
	return count > 0, nil
}

// RunRecord is one stored run, without the full summary payload.
type RunRecord struct {
	// ID is the row identifier.
	ID int64

	// RunID is the unique run identifier.
	RunID string

	// Country is the country the run scraped.
	Country string

	// StartedAt is when the run began.
	StartedAt time.Time

	// FinishedAt is when the run ended. Zero while the run is open.
	FinishedAt time.Time

	// CatalogPages is the number of catalog pages visited.
	CatalogPages int

	// PlacesFound is the number of place links collected.
	PlacesFound int

	// FeaturesWritten is the number of features written to sinks.
	FeaturesWritten int

	// Failures is the number of places that could not be scraped.
	Failures int

	// Renewals is the number of Tor identity renewals.
	Renewals int

	// Status is one of the Status constants.
	Status string
}

// runColumns are the columns scanned into a RunRecord.
const runColumns = `id, run_id, country, started_at, finished_at,
	catalog_pages, places_found, features_written, failures, renewals, status`

// RecentRuns returns the most recently started runs across all
// countries, newest first. A non-positive limit selects a default.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	query := `SELECT ` + runColumns + `
	FROM runs
	ORDER BY started_at DESC, id DESC
	LIMIT ?
	`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// RunsForCountry returns all runs for one country, newest first.
func (j *Journal) RunsForCountry(ctx context.Context, country string) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + `
	FROM runs
	WHERE country = ?
	ORDER BY started_at DESC, id DESC
	`

	rows, err := j.db.QueryContext(ctx, query, country)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// LatestRun returns the most recent run for a country, or nil when the
// country was never scraped.
func (j *Journal) LatestRun(ctx context.Context, country string) (*RunRecord, error) {
	query := `SELECT ` + runColumns + `
	FROM runs
	WHERE country = ?
	ORDER BY started_at DESC, id DESC
	LIMIT 1
	`

	rows, err := j.db.QueryContext(ctx, query, country)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}
	defer rows.Close()

	records, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// LatestSummary returns the stored summary of the most recent finished
// run for a country, or nil when no finished run exists.
func (j *Journal) LatestSummary(ctx context.Context, country string) (*model.RunSummary, error) {
	query := `
	SELECT summary_json FROM runs
	WHERE country = ? AND summary_json IS NOT NULL
	ORDER BY started_at DESC, id DESC
	LIMIT 1
	`

	var summaryJSON string
	err := j.db.QueryRowContext(ctx, query, country).Scan(&summaryJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest summary: %w", err)
	}

	var summary model.RunSummary
	if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}
	return &summary, nil
}

// Countries returns all countries that have journaled runs, sorted.
func (j *Journal) Countries(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT country FROM runs ORDER BY country`

	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list countries: %w", err)
	}
	defer rows.Close()

	var countries []string
	for rows.Next() {
		var country string
		if err := rows.Scan(&country); err != nil {
			return nil, fmt.Errorf("failed to scan country: %w", err)
		}
		countries = append(countries, country)
	}

	return countries, rows.Err()
}

// scanRuns reads RunRecords from a result set.
func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		var startedAt string
		var finishedAt sql.NullString

		err := rows.Scan(
			&record.ID,
			&record.RunID,
			&record.Country,
			&startedAt,
			&finishedAt,
			&record.CatalogPages,
			&record.PlacesFound,
			&record.FeaturesWritten,
			&record.Failures,
			&record.Renewals,
			&record.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		record.StartedAt = parseTimestamp(startedAt)
		if finishedAt.Valid {
			record.FinishedAt = parseTimestamp(finishedAt.String)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple
// formats. SQLite may return timestamps in different formats depending
// on configuration. If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
