package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunReport is the main result structure for one country scrape run.
// It accumulates progress while the pipeline executes and is summarized
// for output when the run finishes.
//
// Design decision: Counters live on the report rather than on individual
// pipeline steps because:
// 1. Steps are stateless and replaceable; the report outlives them
// 2. The journal persists the report, so everything worth keeping is here
// 3. Scrape workers run concurrently, so mutation is serialized in one place
type RunReport struct {
	mu sync.Mutex

	// Country is the country name as given on the command line.
	Country string `json:"country"`

	// RunID is the unique identifier for this run.
	// Features and journal rows carry it so a run can be traced end to end.
	RunID string `json:"run_id"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the run completed. Zero while running.
	FinishedAt time.Time `json:"finished_at,omitzero"`

	// === Catalog Progress ===

	// CatalogPages is the number of catalog pages visited.
	CatalogPages int `json:"catalog_pages"`

	// PlaceURLs contains the place page URLs collected from the catalog.
	// Populated by the catalog walk, consumed by the scrape step.
	PlaceURLs []string `json:"-"`

	// PlacesFound is the number of place links collected from the catalog.
	PlacesFound int `json:"places_found"`

	// === Scrape Progress ===

	// FeaturesScraped is the number of features successfully written to sinks.
	FeaturesScraped int `json:"features_scraped"`

	// CoordinatesMissing counts scraped features that carried no coordinates.
	CoordinatesMissing int `json:"coordinates_missing"`

	// held holds scraped features parked for coordinate enrichment.
	// They are not counted until the enrichment step writes them.
	held []HeldFeature

	// EnrichedFromExif counts features whose coordinates were backfilled
	// from image metadata.
	EnrichedFromExif int `json:"enriched_from_exif"`

	// Failures lists place pages that could not be scraped.
	Failures []FetchFailure `json:"failures,omitempty"`

	// Renewals is the number of Tor identity renewals during the run.
	Renewals int `json:"renewals"`

	// === Run State ===

	// SkippedByCache is true when fresh cached data made scraping unnecessary.
	SkippedByCache bool `json:"skipped_by_cache"`

	// OutputPath is the GeoJSON file the run wrote to, if any.
	OutputPath string `json:"output_path,omitempty"`

	// TimedOut is true if the run was terminated by context cancellation.
	TimedOut bool `json:"timed_out"`

	// PerformedSteps lists the pipeline steps that actually ran.
	PerformedSteps []string `json:"performed_steps,omitempty"`

	// Error contains any error that stopped the run.
	Error error `json:"-"` // Excluded from JSON

	// ErrorMessage is the string representation of Error for serialization.
	ErrorMessage string `json:"error,omitempty"` //nolint:tagliatelle // error is conventional
}

// FetchFailure records one place page that could not be scraped.
type FetchFailure struct {
	// URL is the place page URL.
	URL string `json:"url"`

	// Message describes what went wrong.
	Message string `json:"message"`
}

// HeldFeature is a scraped feature waiting for coordinate enrichment.
// The scrape step parks features that have photos but no coordinates so
// the enrichment step can try their image metadata before the feature
// reaches the sinks.
type HeldFeature struct {
	// Feature is the parked feature.
	Feature *Feature

	// PhotoURLs lists the place photos to try for GPS metadata.
	PhotoURLs []string
}

// NewRunReport creates a report for a run over the given country.
func NewRunReport(country string) *RunReport {
	return &RunReport{
		Country:   country,
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
}

// SetPlaceURLs records the place URLs collected by the catalog walk.
func (r *RunReport) SetPlaceURLs(urls []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PlaceURLs = urls
	r.PlacesFound = len(urls)
}

// SetCatalogPages records how many catalog pages the walk visited.
func (r *RunReport) SetCatalogPages(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CatalogPages = n
}

// AddFeature counts one feature written to the sinks.
// Safe for concurrent use by scrape workers.
func (r *RunReport) AddFeature(f *Feature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FeaturesScraped++
	if !f.HasCoordinates() {
		r.CoordinatesMissing++
	}
}

// AddFailure records a place page that could not be scraped.
// Safe for concurrent use by scrape workers.
func (r *RunReport) AddFailure(url string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, FetchFailure{URL: url, Message: err.Error()})
}

// HoldForEnrichment parks a feature for the enrichment step instead of
// writing and counting it. Safe for concurrent use by scrape workers.
func (r *RunReport) HoldForEnrichment(f *Feature, photoURLs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held = append(r.held, HeldFeature{Feature: f, PhotoURLs: photoURLs})
}

// TakeHeld returns the parked features and clears the parking list.
func (r *RunReport) TakeHeld() []HeldFeature {
	r.mu.Lock()
	defer r.mu.Unlock()
	held := r.held
	r.held = nil
	return held
}

// SetRenewals records the number of Tor identity renewals so far.
func (r *RunReport) SetRenewals(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Renewals = n
}

// AddEnriched counts one feature backfilled from image metadata.
func (r *RunReport) AddEnriched() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EnrichedFromExif++
}

// Finish marks the run complete and records the terminal error, if any.
func (r *RunReport) Finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now()
	if err != nil {
		r.Error = err
		r.ErrorMessage = err.Error()
	}
}

// Duration returns how long the run took, or the elapsed time if the run
// has not finished.
func (r *RunReport) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailureCount returns the number of recorded failures.
func (r *RunReport) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Failures)
}
