package model

import "time"

// RunSummary is a flattened, human-oriented view of a RunReport.
// Output writers (text, JSON, Markdown) render this type rather than the
// live report so they never race with pipeline mutation.
type RunSummary struct {
	// Country is the country the run scraped.
	Country string `json:"country"`

	// RunID is the run identifier.
	RunID string `json:"run_id"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`

	// CatalogPages is the number of catalog pages visited.
	CatalogPages int `json:"catalog_pages"`

	// PlacesFound is the number of place links collected.
	PlacesFound int `json:"places_found"`

	// FeaturesScraped is the number of features written to sinks.
	FeaturesScraped int `json:"features_scraped"`

	// CoordinatesMissing counts features emitted without coordinates.
	CoordinatesMissing int `json:"coordinates_missing"`

	// EnrichedFromExif counts features backfilled from image metadata.
	EnrichedFromExif int `json:"enriched_from_exif"`

	// FailureCount is the number of places that could not be scraped.
	FailureCount int `json:"failure_count"`

	// Failures lists the failed places.
	Failures []FetchFailure `json:"failures,omitempty"`

	// Renewals is the number of Tor identity renewals.
	Renewals int `json:"renewals"`

	// SkippedByCache is true when cached data made scraping unnecessary.
	SkippedByCache bool `json:"skipped_by_cache"`

	// OutputPath is the GeoJSON file the run wrote to, if any.
	OutputPath string `json:"output_path,omitempty"`

	// PerformedSteps lists the pipeline steps that ran.
	PerformedSteps []string `json:"performed_steps,omitempty"`

	// TimedOut is true if the run was cut short by cancellation.
	TimedOut bool `json:"timed_out"`

	// Error contains the terminal error message, if the run failed.
	Error string `json:"error,omitempty"`
}

// NewRunSummary creates a summary snapshot from a run report.
func NewRunSummary(report *RunReport) *RunSummary {
	report.mu.Lock()
	defer report.mu.Unlock()

	summary := &RunSummary{
		Country:            report.Country,
		RunID:              report.RunID,
		StartedAt:          report.StartedAt,
		CatalogPages:       report.CatalogPages,
		PlacesFound:        report.PlacesFound,
		FeaturesScraped:    report.FeaturesScraped,
		CoordinatesMissing: report.CoordinatesMissing,
		EnrichedFromExif:   report.EnrichedFromExif,
		FailureCount:       len(report.Failures),
		Failures:           report.Failures,
		Renewals:           report.Renewals,
		SkippedByCache:     report.SkippedByCache,
		OutputPath:         report.OutputPath,
		PerformedSteps:     report.PerformedSteps,
		TimedOut:           report.TimedOut,
		Error:              report.ErrorMessage,
	}
	if report.FinishedAt.IsZero() {
		summary.Duration = time.Since(report.StartedAt)
	} else {
		summary.Duration = report.FinishedAt.Sub(report.StartedAt)
	}
	return summary
}

// Succeeded reports whether the run completed without a terminal error.
func (s *RunSummary) Succeeded() bool {
	return s.Error == "" && !s.TimedOut
}
