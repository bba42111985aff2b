package crawler

import "errors"

// Crawl errors.
var (
	// ErrCountryNotFound is returned when the country's catalog page does
	// not answer with HTTP 200. The usual cause is a misspelled country
	// name, which turns into a catalog path that doesn't exist.
	ErrCountryNotFound = errors.New("country catalog not found (did you type the country name correctly?)")

	// ErrNoPlaces is returned when the catalog walk finishes without
	// finding a single place link.
	ErrNoPlaces = errors.New("catalog walk found no places")
)
