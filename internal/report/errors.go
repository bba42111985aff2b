package report

import "errors"

var (
	// ErrWriterClosed is returned when writing to a finalized writer.
	ErrWriterClosed = errors.New("feature writer is already closed")

	// ErrNilFeature is returned when a nil feature is written.
	ErrNilFeature = errors.New("feature is nil")
)
