package storage

import "errors"

// Store errors.
var (
	// ErrEmptyURI is returned when the MongoDB connection string is empty.
	ErrEmptyURI = errors.New("mongodb uri is empty")

	// ErrEmptyDatabase is returned when the database name is empty.
	ErrEmptyDatabase = errors.New("mongodb database name is empty")

	// ErrEmptyCountry is returned when a country name is empty or contains
	// no usable characters for a collection name.
	ErrEmptyCountry = errors.New("country name is empty")

	// ErrNilFeature is returned when a nil feature is passed to a write
	// operation.
	ErrNilFeature = errors.New("feature is nil")

	// ErrMissingSourceURL is returned when a feature lacks the source URL
	// that keys the upsert.
	ErrMissingSourceURL = errors.New("feature has no source URL")

	// ErrNilStore is returned when a sink is created without a store.
	ErrNilStore = errors.New("store is nil")
)
