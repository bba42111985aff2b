package wikimapia

import (
	"errors"
	"fmt"
)

// Parsing errors.
// These errors are returned when page markup or URLs don't carry what the
// extractors need.
//
// Design decision: We define specific error types rather than wrapping all errors
// generically. This allows callers to distinguish "the page changed shape"
// (ErrMissingPageContent) from "this link was never a place" (ErrInvalidPlaceURL)
// and handle each appropriately.
var (
	// ErrMissingPageContent is returned when a place page has no page-content
	// container. Every extractor scopes its queries to that container, so
	// without it there is nothing to parse.
	ErrMissingPageContent = errors.New("page has no page-content container")

	// ErrInvalidPlaceURL is returned when a URL does not carry a numeric
	// place identifier as its first path segment.
	ErrInvalidPlaceURL = errors.New("URL is not a place page")

	// ErrInvalidCoordinates is returned when a coordinate string cannot be
	// parsed or falls outside valid latitude/longitude ranges.
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrEmptyCountry is returned when a catalog URL is requested for an
	// empty country name.
	ErrEmptyCountry = errors.New("country name is empty")
)

// APIError is an error reported by the Wikimapia API inside an HTTP 200
// response body (the API signals failures in a debug object rather than
// with status codes).
type APIError struct {
	// Code is the numeric API error code (e.g., 1001 for an unauthorized key).
	Code int

	// Message is the human-readable error description.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("wikimapia api error %d: %s", e.Code, e.Message)
}
