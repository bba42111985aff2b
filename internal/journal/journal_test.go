package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/geoscrape/geoscrape/internal/model"
)

// setupTestJournal creates a temporary journal for testing.
func setupTestJournal(t *testing.T) (*Journal, func()) {
	t.Helper()

	tmpDir := t.TempDir()

	j, err := Open(tmpDir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}

	cleanup := func() {
		_ = j.Close()
	}

	return j, cleanup
}

// finishedSummary builds a summary for a finished run.
func finishedSummary(runID, country string) *model.RunSummary {
	return &model.RunSummary{
		Country:         country,
		RunID:           runID,
		StartedAt:       time.Now().Add(-time.Minute),
		Duration:        time.Minute,
		CatalogPages:    4,
		PlacesFound:     12,
		FeaturesScraped: 10,
		FailureCount:    2,
		Failures: []model.FetchFailure{
			{URL: "https://wikimapia.org/1/a", Message: "status 500"},
			{URL: "https://wikimapia.org/2/b", Message: "timeout"},
		},
		Renewals: 1,
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates journal in new directory", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "newdir", "subdir")
		j, err := Open(dir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open journal: %v", err)
		}
		defer j.Close()

		dbPath := filepath.Join(dir, "geoscrape.db")
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("journal file was not created")
		}
		if j.Path() != dbPath {
			t.Errorf("got path %q, expected %q", j.Path(), dbPath)
		}
	})

	t.Run("CreateIfNotExists=false returns error when journal does not exist", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "missing")
		opts := Options{CreateIfNotExists: false, EnableWAL: true}

		_, err := Open(dir, opts)
		if err == nil {
			t.Fatal("expected error when journal does not exist")
		}
		if !strings.Contains(err.Error(), "journal not found") {
			t.Errorf("expected error to mention missing journal, got %q", err.Error())
		}
	})

	t.Run("CreateIfNotExists=false opens existing journal", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "existing")

		j1, err := Open(dir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to create journal: %v", err)
		}
		if err := j1.Close(); err != nil {
			t.Fatalf("failed to close journal: %v", err)
		}

		j2, err := Open(dir, Options{CreateIfNotExists: false, EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to reopen journal: %v", err)
		}
		defer j2.Close()
	})
}

func TestRecordAndFinishRun(t *testing.T) {
	t.Parallel()

	t.Run("records a run in running state", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		if err := j.RecordRun(ctx, "run-1", "France"); err != nil {
			t.Fatalf("failed to record run: %v", err)
		}

		record, err := j.LatestRun(ctx, "France")
		if err != nil {
			t.Fatalf("failed to get latest run: %v", err)
		}
		if record == nil {
			t.Fatal("expected a run record, got nil")
		}
		if record.RunID != "run-1" {
			t.Errorf("got run id %q, expected %q", record.RunID, "run-1")
		}
		if record.Status != StatusRunning {
			t.Errorf("got status %q, expected %q", record.Status, StatusRunning)
		}
		if !record.FinishedAt.IsZero() {
			t.Errorf("expected zero finish time for open run, got %v", record.FinishedAt)
		}
	})

	t.Run("rejects empty run id and country", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		if err := j.RecordRun(ctx, "", "France"); !errors.Is(err, ErrEmptyRunID) {
			t.Errorf("expected ErrEmptyRunID, got %v", err)
		}
		if err := j.RecordRun(ctx, "run-1", ""); !errors.Is(err, ErrEmptyCountry) {
			t.Errorf("expected ErrEmptyCountry, got %v", err)
		}
	})

	t.Run("finish updates counters and status", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		if err := j.RecordRun(ctx, "run-1", "France"); err != nil {
			t.Fatalf("failed to record run: %v", err)
		}

		if err := j.FinishRun(ctx, finishedSummary("run-1", "France")); err != nil {
			t.Fatalf("failed to finish run: %v", err)
		}

		record, err := j.LatestRun(ctx, "France")
		if err != nil {
			t.Fatalf("failed to get latest run: %v", err)
		}
		if record.Status != StatusCompleted {
			t.Errorf("got status %q, expected %q", record.Status, StatusCompleted)
		}
		if record.CatalogPages != 4 {
			t.Errorf("got %d catalog pages, expected 4", record.CatalogPages)
		}
		if record.PlacesFound != 12 {
			t.Errorf("got %d places, expected 12", record.PlacesFound)
		}
		if record.FeaturesWritten != 10 {
			t.Errorf("got %d features, expected 10", record.FeaturesWritten)
		}
		if record.Failures != 2 {
			t.Errorf("got %d failures, expected 2", record.Failures)
		}
		if record.Renewals != 1 {
			t.Errorf("got %d renewals, expected 1", record.Renewals)
		}
		if record.FinishedAt.IsZero() {
			t.Error("expected finish time to be set")
		}
	})

	t.Run("failed run gets failed status", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		if err := j.RecordRun(ctx, "run-1", "France"); err != nil {
			t.Fatalf("failed to record run: %v", err)
		}

		summary := finishedSummary("run-1", "France")
		summary.Error = "country catalog not found"
		if err := j.FinishRun(ctx, summary); err != nil {
			t.Fatalf("failed to finish run: %v", err)
		}

		record, err := j.LatestRun(ctx, "France")
		if err != nil {
			t.Fatalf("failed to get latest run: %v", err)
		}
		if record.Status != StatusFailed {
			t.Errorf("got status %q, expected %q", record.Status, StatusFailed)
		}
	})

	t.Run("cache-skipped run gets skipped status", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		if err := j.RecordRun(ctx, "run-1", "France"); err != nil {
			t.Fatalf("failed to record run: %v", err)
		}

		summary := finishedSummary("run-1", "France")
		summary.SkippedByCache = true
		if err := j.FinishRun(ctx, summary); err != nil {
			t.Fatalf("failed to finish run: %v", err)
		}

		record, err := j.LatestRun(ctx, "France")
		if err != nil {
			t.Fatalf("failed to get latest run: %v", err)
		}
		if record.Status != StatusSkipped {
			t.Errorf("got status %q, expected %q", record.Status, StatusSkipped)
		}
	})

	t.Run("finishing unknown run returns ErrRunNotFound", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		err := j.FinishRun(context.Background(), finishedSummary("ghost", "France"))
		if !errors.Is(err, ErrRunNotFound) {
			t.Errorf("expected ErrRunNotFound, got %v", err)
		}
	})
}

func TestRunQueries(t *testing.T) {
	t.Parallel()

	t.Run("recent runs are newest first and limited", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		for _, run := range []struct{ id, country string }{
			{"run-1", "France"},
			{"run-2", "Hungary"},
			{"run-3", "France"},
		} {
			if err := j.RecordRun(ctx, run.id, run.country); err != nil {
				t.Fatalf("failed to record run: %v", err)
			}
		}

		records, err := j.RecentRuns(ctx, 2)
		if err != nil {
			t.Fatalf("failed to query recent runs: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		if records[0].RunID != "run-3" {
			t.Errorf("got first run %q, expected %q", records[0].RunID, "run-3")
		}
		if records[1].RunID != "run-2" {
			t.Errorf("got second run %q, expected %q", records[1].RunID, "run-2")
		}
	})

	t.Run("runs for country filters by country", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		for _, run := range []struct{ id, country string }{
			{"run-1", "France"},
			{"run-2", "Hungary"},
			{"run-3", "France"},
		} {
			if err := j.RecordRun(ctx, run.id, run.country); err != nil {
				t.Fatalf("failed to record run: %v", err)
			}
		}

		records, err := j.RunsForCountry(ctx, "France")
		if err != nil {
			t.Fatalf("failed to query runs: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		for _, record := range records {
			if record.Country != "France" {
				t.Errorf("got country %q, expected %q", record.Country, "France")
			}
		}
	})

	t.Run("latest run for unknown country returns nil", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		record, err := j.LatestRun(context.Background(), "Atlantis")
		if err != nil {
			t.Fatalf("failed to query latest run: %v", err)
		}
		if record != nil {
			t.Errorf("expected nil record, got %+v", record)
		}
	})

	t.Run("latest summary round-trips failures", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		if err := j.RecordRun(ctx, "run-1", "France"); err != nil {
			t.Fatalf("failed to record run: %v", err)
		}
		if err := j.FinishRun(ctx, finishedSummary("run-1", "France")); err != nil {
			t.Fatalf("failed to finish run: %v", err)
		}

		summary, err := j.LatestSummary(ctx, "France")
		if err != nil {
			t.Fatalf("failed to get latest summary: %v", err)
		}
		if summary == nil {
			t.Fatal("expected a summary, got nil")
		}
		if summary.FeaturesScraped != 10 {
			t.Errorf("got %d features, expected 10", summary.FeaturesScraped)
		}
		if len(summary.Failures) != 2 {
			t.Errorf("got %d failures, expected 2", len(summary.Failures))
		}
	})

	t.Run("latest summary without finished runs returns nil", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		if err := j.RecordRun(ctx, "run-1", "France"); err != nil {
			t.Fatalf("failed to record run: %v", err)
		}

		summary, err := j.LatestSummary(ctx, "France")
		if err != nil {
			t.Fatalf("failed to query summary: %v", err)
		}
		if summary != nil {
			t.Errorf("expected nil summary for open run, got %+v", summary)
		}
	})

	t.Run("countries are distinct and sorted", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		for _, run := range []struct{ id, country string }{
			{"run-1", "Hungary"},
			{"run-2", "France"},
			{"run-3", "Hungary"},
		} {
			if err := j.RecordRun(ctx, run.id, run.country); err != nil {
				t.Fatalf("failed to record run: %v", err)
			}
		}

		countries, err := j.Countries(ctx)
		if err != nil {
			t.Fatalf("failed to list countries: %v", err)
		}
		expected := []string{"France", "Hungary"}
		if len(countries) != len(expected) {
			t.Fatalf("expected %d countries, got %d", len(expected), len(countries))
		}
		for i, country := range expected {
			if countries[i] != country {
				t.Errorf("got country %q at %d, expected %q", countries[i], i, country)
			}
		}
	})
}

func TestFetches(t *testing.T) {
	t.Parallel()

	t.Run("record fetch and check recency", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		url := "https://wikimapia.org/1234567/place"
		if err := j.RecordFetch(ctx, "France", url, 200, nil); err != nil {
			t.Fatalf("failed to record fetch: %v", err)
		}

		recent, err := j.HasRecentFetch(ctx, url, time.Hour)
		if err != nil {
			t.Fatalf("failed to check recent fetch: %v", err)
		}
		if !recent {
			t.Error("expected fetch to be recent within an hour")
		}
	})

	t.Run("unknown url is not recent", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		recent, err := j.HasRecentFetch(context.Background(), "https://wikimapia.org/9/unknown", time.Hour)
		if err != nil {
			t.Fatalf("failed to check recent fetch: %v", err)
		}
		if recent {
			t.Error("expected unknown url to not be recent")
		}
	})

	t.Run("failed fetch does not count as recent", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		url := "https://wikimapia.org/1234567/broken"
		if err := j.RecordFetch(ctx, "France", url, 0, errors.New("connection refused")); err != nil {
			t.Fatalf("failed to record fetch: %v", err)
		}

		recent, err := j.HasRecentFetch(ctx, url, time.Hour)
		if err != nil {
			t.Fatalf("failed to check recent fetch: %v", err)
		}
		if recent {
			t.Error("expected failed fetch to not count as recent")
		}
	})

	t.Run("refetching a url keeps one row with the latest outcome", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		url := "https://wikimapia.org/1234567/place"
		if err := j.RecordFetch(ctx, "France", url, 500, nil); err != nil {
			t.Fatalf("failed to record fetch: %v", err)
		}
		if err := j.RecordFetch(ctx, "France", url, 200, nil); err != nil {
			t.Fatalf("failed to record fetch again: %v", err)
		}

		var count int
		if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fetches WHERE url = ?", url).Scan(&count); err != nil {
			t.Fatalf("failed to count fetches: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 row after refetch, got %d", count)
		}

		recent, err := j.HasRecentFetch(ctx, url, time.Hour)
		if err != nil {
			t.Fatalf("failed to check recent fetch: %v", err)
		}
		if !recent {
			t.Error("expected refetched url to be recent")
		}
	})

	t.Run("blocked status is not ok", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		url := "https://wikimapia.org/1234567/blocked"
		if err := j.RecordFetch(ctx, "France", url, 403, nil); err != nil {
			t.Fatalf("failed to record fetch: %v", err)
		}

		recent, err := j.HasRecentFetch(ctx, url, time.Hour)
		if err != nil {
			t.Fatalf("failed to check recent fetch: %v", err)
		}
		if recent {
			t.Error("expected blocked fetch to not count as recent")
		}
	})
}

func TestFetchRecorder(t *testing.T) {
	t.Parallel()

	t.Run("recorder journals fetches for its country", func(t *testing.T) {
		t.Parallel()

		j, cleanup := setupTestJournal(t)
		defer cleanup()

		ctx := context.Background()
		recorder := j.Recorder("France", nil)

		url := "https://wikimapia.org/1234567/place"
		recorder.RecordFetch(ctx, url, 200, nil)

		recent, err := j.HasRecentFetch(ctx, url, time.Hour)
		if err != nil {
			t.Fatalf("failed to check recent fetch: %v", err)
		}
		if !recent {
			t.Error("expected recorded fetch to be journaled")
		}

		var country string
		if err := j.db.QueryRowContext(ctx, "SELECT country FROM fetches WHERE url = ?", url).Scan(&country); err != nil {
			t.Fatalf("failed to read fetch row: %v", err)
		}
		if country != "France" {
			t.Errorf("got country %q, expected %q", country, "France")
		}
	})
}
