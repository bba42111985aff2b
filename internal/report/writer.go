package report

import (
	"context"
	"io"

	"github.com/geoscrape/geoscrape/internal/model"
)

// FeatureWriter is the sink interface for scraped features.
// The pipeline streams each feature to its writers as soon as the place
// is parsed, so a cancelled run keeps everything scraped up to that point.
//
// Design decision: We use an interface to allow different output
// destinations. This enables streaming to a GeoJSON file, MongoDB, or
// stdout with the same API.
type FeatureWriter interface {
	// WriteFeature writes one feature to the configured destination.
	WriteFeature(ctx context.Context, feature *model.Feature) error

	// Close finalizes the destination. For streaming formats this writes
	// the document tail; for stores it is a no-op.
	Close() error
}

// SummaryWriter outputs a run summary in some format.
// Implementations render the same summary as text, JSON, or Markdown.
type SummaryWriter interface {
	// WriteSummary outputs the summary to the configured destination.
	// Returns the number of bytes written and any error encountered.
	WriteSummary(summary *model.RunSummary) (int, error)
}

// MultiFeatureWriter writes each feature to multiple FeatureWriters.
// This is how a run feeds the GeoJSON file and the MongoDB cache at
// the same time.
//
// Design decision: We implement this as a separate type rather than
// using io.MultiWriter because our FeatureWriter interface is different
// from io.Writer - we write features, not raw bytes.
type MultiFeatureWriter struct {
	writers []FeatureWriter
}

// NewMultiFeatureWriter creates a FeatureWriter that writes to all
// provided writers.
func NewMultiFeatureWriter(writers ...FeatureWriter) *MultiFeatureWriter {
	return &MultiFeatureWriter{writers: writers}
}

// WriteFeature writes the feature to all configured writers.
// Stops on the first error encountered; writers earlier in the list
// keep what they already received.
func (m *MultiFeatureWriter) WriteFeature(ctx context.Context, feature *model.Feature) error {
	for _, w := range m.writers {
		if err := w.WriteFeature(ctx, feature); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all writers. Every writer is closed even when an earlier
// one fails, so streaming outputs are always finalized; the first error
// is returned.
func (m *MultiFeatureWriter) Close() error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// baseWriter provides common functionality for summary writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
