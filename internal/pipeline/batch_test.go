package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geoscrape/geoscrape/internal/config"
	"github.com/geoscrape/geoscrape/internal/model"
)

// noopFactory builds an empty single-step pipeline for batch tests.
func noopFactory(_ *model.RunReport) (*Pipeline, func() error, error) {
	p := New(WithLogger(discardLogger()))
	p.AddStep(&mockStep{name: "noop"})
	return p, nil, nil
}

// TestBatchProcessorNew tests the BatchProcessor constructor.
func TestBatchProcessorNew(t *testing.T) {
	t.Parallel()

	t.Run("creates processor with defaults", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(noopFactory)

		if bp == nil {
			t.Fatal("expected non-nil processor")
		}
		if bp.concurrency != config.DefaultBatchSize {
			t.Errorf("expected default concurrency %d, got %d", config.DefaultBatchSize, bp.concurrency)
		}
	})

	t.Run("applies WithConcurrency option", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(noopFactory, WithConcurrency(5))

		if bp.concurrency != 5 {
			t.Errorf("expected concurrency 5, got %d", bp.concurrency)
		}
	})

	t.Run("ignores non-positive concurrency", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(noopFactory, WithConcurrency(0))

		if bp.concurrency != config.DefaultBatchSize { // Should keep default
			t.Errorf("expected concurrency %d, got %d", config.DefaultBatchSize, bp.concurrency)
		}
	})

	t.Run("applies WithBatchLogger option", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(noopFactory, WithBatchLogger(nil))

		// When WithBatchLogger(nil) is passed, the logger should be set to default
		if bp == nil {
			t.Fatal("expected non-nil processor")
		}
		if bp.logger == nil {
			t.Error("expected non-nil logger")
		}
	})
}

// TestBatchProcessorProcessBatch tests batch processing.
func TestBatchProcessorProcessBatch(t *testing.T) {
	t.Parallel()

	t.Run("processes all countries", func(t *testing.T) {
		t.Parallel()

		var processedCount atomic.Int32

		bp := NewBatchProcessor(func(_ *model.RunReport) (*Pipeline, func() error, error) {
			p := New(WithLogger(discardLogger()))
			p.AddStep(&mockStep{
				name: "counter",
				doFunc: func(_ context.Context, _ *model.RunReport) error {
					processedCount.Add(1)
					return nil
				},
			})
			return p, nil, nil
		}, WithBatchLogger(discardLogger()))

		countries := []string{"Hungary", "Chile", "Japan"}

		results, err := bp.ProcessBatch(context.Background(), countries)

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 3 {
			t.Errorf("expected 3 results, got %d", len(results))
		}
		if processedCount.Load() != 3 {
			t.Errorf("expected 3 processed, got %d", processedCount.Load())
		}
		for _, result := range results {
			if result.FinishedAt.IsZero() {
				t.Errorf("expected run for %q to be finished", result.Country)
			}
		}
	})

	t.Run("respects concurrency limit", func(t *testing.T) {
		t.Parallel()

		var maxConcurrent atomic.Int32
		var currentConcurrent atomic.Int32
		var mu sync.Mutex

		bp := NewBatchProcessor(
			func(_ *model.RunReport) (*Pipeline, func() error, error) {
				p := New(WithLogger(discardLogger()))
				p.AddStep(&mockStep{
					name: "concurrent-counter",
					doFunc: func(_ context.Context, _ *model.RunReport) error {
						current := currentConcurrent.Add(1)

						// Update max if needed (with mutex for safety)
						mu.Lock()
						if current > maxConcurrent.Load() {
							maxConcurrent.Store(current)
						}
						mu.Unlock()

						// Simulate some work
						time.Sleep(50 * time.Millisecond)

						currentConcurrent.Add(-1)
						return nil
					},
				})
				return p, nil, nil
			},
			WithConcurrency(2),
			WithBatchLogger(discardLogger()),
		)

		countries := make([]string, 10)
		for i := range countries {
			countries[i] = "Testland"
		}

		_, err := bp.ProcessBatch(context.Background(), countries)

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if maxConcurrent.Load() > 2 {
			t.Errorf("max concurrent was %d, expected <= 2", maxConcurrent.Load())
		}
	})

	t.Run("maintains result order", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(noopFactory, WithBatchLogger(discardLogger()))

		countries := []string{"Hungary", "Chile", "Japan"}

		results, err := bp.ProcessBatch(context.Background(), countries)

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i, result := range results {
			if result.Country != countries[i] {
				t.Errorf("result[%d]: got %q, expected %q", i, result.Country, countries[i])
			}
		}
	})

	t.Run("continues after individual run failure", func(t *testing.T) {
		t.Parallel()

		var processedCount atomic.Int32

		bp := NewBatchProcessor(func(_ *model.RunReport) (*Pipeline, func() error, error) {
			p := New(WithLogger(discardLogger()))
			p.AddStep(&mockStep{
				name: "sometimes-fails",
				doFunc: func(_ context.Context, report *model.RunReport) error {
					processedCount.Add(1)
					// Fail for the second country only
					if report.Country == "Failland" {
						return errors.New("simulated scrape failure")
					}
					return nil
				},
			})
			return p, nil, nil
		}, WithBatchLogger(discardLogger()))

		countries := []string{"Hungary", "Failland", "Japan"}

		results, err := bp.ProcessBatch(context.Background(), countries)

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if processedCount.Load() != 3 {
			t.Errorf("expected 3 processed, got %d", processedCount.Load())
		}
		// Check that the failed run has an error recorded
		if results[1].Error == nil {
			t.Error("expected error in second result")
		}
		if results[0].Error != nil || results[2].Error != nil {
			t.Error("expected the other runs to succeed")
		}
	})

	t.Run("factory errors are recorded in the report", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(func(report *model.RunReport) (*Pipeline, func() error, error) {
			if report.Country == "Broken" {
				return nil, nil, errors.New("no sink available")
			}
			return noopFactory(report)
		}, WithBatchLogger(discardLogger()))

		countries := []string{"Hungary", "Broken"}

		results, err := bp.ProcessBatch(context.Background(), countries)

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if results[0].Error != nil {
			t.Errorf("expected first run to succeed, got %v", results[0].Error)
		}
		if results[1].Error == nil {
			t.Fatal("expected factory error in second result")
		}
		if !strings.Contains(results[1].ErrorMessage, "failed to prepare run") {
			t.Errorf("unexpected error message: %q", results[1].ErrorMessage)
		}
	})

	t.Run("release runs after every pipeline", func(t *testing.T) {
		t.Parallel()

		var released atomic.Int32

		bp := NewBatchProcessor(func(_ *model.RunReport) (*Pipeline, func() error, error) {
			p := New(WithLogger(discardLogger()))
			p.AddStep(&mockStep{name: "noop"})
			release := func() error {
				released.Add(1)
				return nil
			}
			return p, release, nil
		}, WithBatchLogger(discardLogger()))

		countries := []string{"Hungary", "Chile", "Japan"}

		if _, err := bp.ProcessBatch(context.Background(), countries); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if released.Load() != 3 {
			t.Errorf("expected 3 releases, got %d", released.Load())
		}
	})

	t.Run("release errors mark the run failed", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(func(_ *model.RunReport) (*Pipeline, func() error, error) {
			p := New(WithLogger(discardLogger()))
			p.AddStep(&mockStep{name: "noop"})
			release := func() error {
				return errors.New("flush failed")
			}
			return p, release, nil
		}, WithBatchLogger(discardLogger()))

		results, err := bp.ProcessBatch(context.Background(), []string{"Hungary"})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if results[0].Error == nil {
			t.Fatal("expected release error in result")
		}
		if !strings.Contains(results[0].ErrorMessage, "failed to finalize output") {
			t.Errorf("unexpected error message: %q", results[0].ErrorMessage)
		}
	})

	t.Run("release errors do not mask run errors", func(t *testing.T) {
		t.Parallel()

		runErr := errors.New("scrape failed")

		bp := NewBatchProcessor(func(_ *model.RunReport) (*Pipeline, func() error, error) {
			p := New(WithLogger(discardLogger()))
			p.AddStep(&mockStep{
				name: "failing",
				doFunc: func(_ context.Context, _ *model.RunReport) error {
					return runErr
				},
			})
			release := func() error {
				return errors.New("flush failed")
			}
			return p, release, nil
		}, WithBatchLogger(discardLogger()))

		results, err := bp.ProcessBatch(context.Background(), []string{"Hungary"})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !errors.Is(results[0].Error, runErr) {
			t.Errorf("expected the run error to win, got %v", results[0].Error)
		}
	})

	t.Run("skipped runs finish cleanly", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(func(_ *model.RunReport) (*Pipeline, func() error, error) {
			p := New(WithLogger(discardLogger()))
			p.AddStep(&mockStep{
				name: "freshness-gate",
				doFunc: func(_ context.Context, report *model.RunReport) error {
					report.SkippedByCache = true
					return ErrSkipRun
				},
			})
			return p, nil, nil
		}, WithBatchLogger(discardLogger()))

		results, err := bp.ProcessBatch(context.Background(), []string{"Hungary"})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if results[0].Error != nil {
			t.Errorf("skip must not be recorded as error, got %v", results[0].Error)
		}
		if !results[0].SkippedByCache {
			t.Error("expected the run to be marked as skipped")
		}
		if results[0].FinishedAt.IsZero() {
			t.Error("expected the skipped run to be finished")
		}
	})

	t.Run("handles context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())

		var startedCount atomic.Int32

		bp := NewBatchProcessor(
			func(_ *model.RunReport) (*Pipeline, func() error, error) {
				p := New(WithLogger(discardLogger()))
				p.AddStep(&mockStep{
					name: "slow-step",
					doFunc: func(ctx context.Context, _ *model.RunReport) error {
						startedCount.Add(1)
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-time.After(time.Second):
							return nil
						}
					},
				})
				return p, nil, nil
			},
			WithConcurrency(2),
			WithBatchLogger(discardLogger()),
		)

		countries := make([]string, 10)
		for i := range countries {
			countries[i] = "Testland"
		}

		// Cancel after a short delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()

		_, err := bp.ProcessBatch(ctx, countries)

		// Should return context.Canceled
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		// Not all countries should have started
		//nolint:gosec // len(countries) is small, no overflow risk
		if startedCount.Load() >= int32(len(countries)) {
			t.Error("expected some countries to not start due to cancellation")
		}
	})
}

// TestBatchProcessorProcessBatchWithCallback tests callback-based processing.
func TestBatchProcessorProcessBatchWithCallback(t *testing.T) {
	t.Parallel()

	t.Run("calls callback for each result", func(t *testing.T) {
		t.Parallel()

		var callbackCount atomic.Int32
		var mu sync.Mutex
		receivedCountries := make(map[string]bool)

		bp := NewBatchProcessor(noopFactory, WithBatchLogger(discardLogger()))

		countries := []string{"Hungary", "Chile", "Japan"}

		err := bp.ProcessBatchWithCallback(
			context.Background(),
			countries,
			func(report *model.RunReport, _ int) {
				callbackCount.Add(1)
				mu.Lock()
				receivedCountries[report.Country] = true
				mu.Unlock()
			},
		)

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if callbackCount.Load() != 3 {
			t.Errorf("expected 3 callbacks, got %d", callbackCount.Load())
		}
		for _, country := range countries {
			if !receivedCountries[country] {
				t.Errorf("missing callback for %q", country)
			}
		}
	})

	t.Run("callback receives failed runs too", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(func(_ *model.RunReport) (*Pipeline, func() error, error) {
			p := New(WithLogger(discardLogger()))
			p.AddStep(&mockStep{
				name: "failing",
				doFunc: func(_ context.Context, _ *model.RunReport) error {
					return errors.New("simulated scrape failure")
				},
			})
			return p, nil, nil
		}, WithBatchLogger(discardLogger()))

		var mu sync.Mutex
		var failed []string

		err := bp.ProcessBatchWithCallback(
			context.Background(),
			[]string{"Hungary"},
			func(report *model.RunReport, _ int) {
				if report.Error != nil {
					mu.Lock()
					failed = append(failed, report.Country)
					mu.Unlock()
				}
			},
		)

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(failed) != 1 || failed[0] != "Hungary" {
			t.Errorf("expected the failed run in the callback, got %v", failed)
		}
	})
}
