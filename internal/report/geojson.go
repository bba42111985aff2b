package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/geoscrape/geoscrape/internal/model"
)

// Document framing for the streamed FeatureCollection. Features sit one
// per line between the two, comma separated.
const (
	geoJSONHeader = `{"type":"FeatureCollection","features":[`
	geoJSONFooter = "\n]}\n"
)

// GeoJSONWriter streams features into a GeoJSON FeatureCollection.
// The collection header is written with the first feature and the
// closing bracket on Close, so the document is valid exactly when the
// writer is closed. A run that scrapes nothing still produces a valid
// empty collection.
//
// Design decision: Features are streamed as they are scraped rather
// than collected and marshaled at the end because:
// 1. A cancelled or failed run keeps every feature written so far
// 2. Memory stays flat no matter how many places a country has
// 3. Only the header and separator bookkeeping is needed to keep the
//    document well formed
type GeoJSONWriter struct {
	mu sync.Mutex

	// output receives the document bytes.
	output io.Writer

	// closer is set when the writer owns the destination file.
	closer io.Closer

	// path is the destination file path, empty for plain io.Writers.
	path string

	// started is true once the collection header has been written.
	started bool

	// closed is true once the document has been finalized.
	closed bool

	// count is the number of features written.
	count int
}

// NewGeoJSONWriter creates a GeoJSONWriter that streams to the given
// writer. The caller owns the destination; Close finalizes the document
// but does not close the underlying writer.
func NewGeoJSONWriter(output io.Writer) *GeoJSONWriter {
	return &GeoJSONWriter{output: output}
}

// NewGeoJSONFileWriter creates a GeoJSONWriter that streams to a file,
// creating parent directories as needed. The file is truncated if it
// exists and closed by Close after the document is finalized.
func NewGeoJSONFileWriter(path string) (*GeoJSONWriter, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	return &GeoJSONWriter{
		output: f,
		closer: f,
		path:   path,
	}, nil
}

// WriteFeature appends one feature to the collection.
func (w *GeoJSONWriter) WriteFeature(_ context.Context, feature *model.Feature) error {
	if feature == nil {
		return ErrNilFeature
	}

	data, err := json.Marshal(feature)
	if err != nil {
		return fmt.Errorf("failed to encode feature: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	if !w.started {
		if _, err := io.WriteString(w.output, geoJSONHeader); err != nil {
			return fmt.Errorf("failed to write collection header: %w", err)
		}
		w.started = true
	}

	separator := "\n"
	if w.count > 0 {
		separator = ",\n"
	}
	if _, err := io.WriteString(w.output, separator); err != nil {
		return fmt.Errorf("failed to write feature separator: %w", err)
	}

	if _, err := w.output.Write(data); err != nil {
		return fmt.Errorf("failed to write feature: %w", err)
	}

	w.count++
	return nil
}

// Close finalizes the FeatureCollection and closes the destination file
// if the writer owns one. Closing twice is a no-op.
func (w *GeoJSONWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.finish()

	if w.closer != nil {
		if closeErr := w.closer.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", closeErr)
		}
	}

	return err
}

// finish writes whatever is missing for the document to be valid.
func (w *GeoJSONWriter) finish() error {
	if !w.started {
		if _, err := io.WriteString(w.output, geoJSONHeader); err != nil {
			return fmt.Errorf("failed to write collection header: %w", err)
		}
		w.started = true
	}
	if _, err := io.WriteString(w.output, geoJSONFooter); err != nil {
		return fmt.Errorf("failed to finalize feature collection: %w", err)
	}
	return nil
}

// Count returns the number of features written so far.
func (w *GeoJSONWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Path returns the destination file path, or an empty string when the
// writer streams to a plain io.Writer.
func (w *GeoJSONWriter) Path() string {
	return w.path
}
