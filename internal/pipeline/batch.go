package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geoscrape/geoscrape/internal/config"
	"github.com/geoscrape/geoscrape/internal/model"
)

// PipelineFactory builds a fresh pipeline for one country run. The
// report is already created so the factory can record per-run details
// like the output path. The returned release function is called once the
// run finishes and is where per-run resources (feature sinks, output
// files) get closed. A nil release is allowed.
type PipelineFactory func(report *model.RunReport) (*Pipeline, func() error, error)

// BatchProcessor handles concurrent scraping of multiple countries.
// It uses errgroup to manage goroutines and respect concurrency limits.
//
// Design decision: We use a separate BatchProcessor rather than adding
// batch functionality to Pipeline because:
// 1. It keeps the Pipeline focused on single-run execution
// 2. It allows different batch strategies (e.g., rate limiting, retries)
// 3. It provides cleaner separation of concerns
type BatchProcessor struct {
	// pipelineFactory creates a new pipeline for each country run.
	// Each run needs its own sinks, so the factory runs per country.
	pipelineFactory PipelineFactory

	// concurrency is the maximum number of concurrent country runs.
	concurrency int

	// logger is used for batch-level logging.
	logger *slog.Logger

	// results stores completed run reports.
	// Access is synchronized via mutex.
	results []*model.RunReport
	mu      sync.Mutex
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent country runs.
// The politeness throttle is shared, so more parallel countries split
// the same request budget rather than raising it. Default is 2.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a new BatchProcessor.
//
// The pipelineFactory function is called for each country to create a
// fresh pipeline instance. This ensures that pipeline state and per-run
// resources don't leak between runs.
func NewBatchProcessor(pipelineFactory PipelineFactory, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     config.DefaultBatchSize,
		results:         make([]*model.RunReport, 0),
	}

	for _, opt := range opts {
		opt(bp)
	}

	if bp.logger == nil {
		bp.logger = slog.Default()
	}

	return bp
}

// ProcessBatch scrapes multiple countries concurrently.
// It respects the configured concurrency limit and context cancellation.
//
// Design decision: We use errgroup.SetLimit rather than a worker pool
// because it's simpler and errgroup handles the concurrency correctly.
// Each country gets its own goroutine, but only 'concurrency' goroutines
// run simultaneously.
//
// Returns all reports collected, even for countries that failed.
// The error return indicates if the batch was cancelled.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, countries []string) ([]*model.RunReport, error) {
	bp.logger.Info("starting batch run",
		"total_countries", len(countries),
		"concurrency", bp.concurrency,
	)

	startTime := time.Now()

	// Pre-allocate results slice to maintain order
	bp.results = make([]*model.RunReport, len(countries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, country := range countries {
		g.Go(func() error {
			// Check for cancellation before starting
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			bp.logger.Info("scraping country",
				"country", country,
				"index", i+1,
				"total", len(countries),
			)

			report := bp.runOne(ctx, country)

			// Store result regardless of error
			// The report contains error information if the run failed
			bp.mu.Lock()
			bp.results[i] = report
			bp.mu.Unlock()

			if report.Error != nil {
				bp.logger.Warn("country run failed",
					"country", country,
					"error", report.Error,
				)
				// Don't return error to errgroup - we want to continue
				// the other countries. The error is in the report.
				return nil
			}

			bp.logger.Info("country run completed",
				"country", country,
			)

			return nil
		})
	}

	// Wait for all runs to complete
	err := g.Wait()

	bp.logger.Info("batch run complete",
		"total_countries", len(countries),
		"elapsed", time.Since(startTime),
	)

	return bp.results, err
}

// ProcessBatchWithCallback scrapes multiple countries and calls a
// callback for each completed run. This is useful for streaming results.
//
// The callback receives the report and the index of the country in the
// original slice. The callback is called from the goroutine that
// completed the run, so it should be thread-safe if it accesses shared
// state.
func (bp *BatchProcessor) ProcessBatchWithCallback(
	ctx context.Context,
	countries []string,
	callback func(report *model.RunReport, index int),
) error {
	bp.logger.Info("starting batch run with callback",
		"total_countries", len(countries),
		"concurrency", bp.concurrency,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, country := range countries {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			report := bp.runOne(ctx, country)

			// Call the callback with the result
			callback(report, i)

			return nil
		})
	}

	return g.Wait()
}

// runOne executes a single country run and finalizes its report.
// Factory and execution errors are recorded in the report rather than
// returned, so one broken country cannot stop the batch.
func (bp *BatchProcessor) runOne(ctx context.Context, country string) *model.RunReport {
	report := model.NewRunReport(country)

	pipeline, release, err := bp.pipelineFactory(report)
	if err != nil {
		report.Finish(fmt.Errorf("failed to prepare run: %w", err))
		return report
	}

	runErr := pipeline.Execute(ctx, report)
	if release != nil {
		if err := release(); err != nil && runErr == nil {
			runErr = fmt.Errorf("failed to finalize output: %w", err)
		}
	}
	report.Finish(runErr)

	return report
}
