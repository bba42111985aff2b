package journal

import "errors"

// Journal errors.
var (
	// ErrEmptyRunID is returned when a run operation is given no run ID.
	ErrEmptyRunID = errors.New("run id is empty")

	// ErrEmptyCountry is returned when a run is recorded without a country.
	ErrEmptyCountry = errors.New("country is empty")

	// ErrRunNotFound is returned when finishing a run that was never
	// recorded.
	ErrRunNotFound = errors.New("run not found in journal")
)
