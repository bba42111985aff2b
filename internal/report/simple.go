package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/geoscrape/geoscrape/internal/model"
)

// maxFailuresShown caps the failure list in non-verbose output.
const maxFailuresShown = 10

// SimpleWriter outputs human-readable run summaries.
// This format is designed for terminal display with clear section
// formatting.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors by default because:
// 1. It works in all terminals without compatibility issues
// 2. It's easier to pipe to files or other tools
// 3. Color can be added as an option later if needed
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections with no entries are shown.
	showEmpty bool

	// verbose enables additional detail in the output.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with the full failure list and
// the performed pipeline steps.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
		showEmpty:  false,
		verbose:    false,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// WriteSummary outputs the run summary in human-readable format.
func (w *SimpleWriter) WriteSummary(summary *model.RunSummary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, summary)
	w.writeCounts(&sb, summary)
	w.writeFailures(&sb, summary)
	w.writeSteps(&sb, summary)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// writeHeader writes the report header with run information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, summary *model.RunSummary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                         GEOSCRAPE RUN REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Country:  %s\n", summary.Country))
	sb.WriteString(fmt.Sprintf("Run ID:   %s\n", summary.RunID))
	sb.WriteString(fmt.Sprintf("Started:  %s\n", summary.StartedAt.Format("2006-01-02 15:04:05 MST")))
	sb.WriteString(fmt.Sprintf("Duration: %s\n", summary.Duration.Round(time.Millisecond)))

	switch {
	case summary.SkippedByCache:
		sb.WriteString("Status:   Skipped (cached data is still fresh)\n")
	case summary.TimedOut:
		sb.WriteString("Status:   TIMED OUT (partial results)\n")
	case summary.Error != "":
		sb.WriteString(fmt.Sprintf("Status:   ERROR - %s\n", summary.Error))
	default:
		sb.WriteString("Status:   Complete\n")
	}

	sb.WriteString("\n")
}

// writeCounts writes the scrape counter section.
func (w *SimpleWriter) writeCounts(sb *strings.Builder, summary *model.RunSummary) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("SCRAPE SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("  Catalog pages:    %d\n", summary.CatalogPages))
	sb.WriteString(fmt.Sprintf("  Places found:     %d\n", summary.PlacesFound))
	sb.WriteString(fmt.Sprintf("  Features scraped: %d\n", summary.FeaturesScraped))
	sb.WriteString(fmt.Sprintf("  No coordinates:   %d\n", summary.CoordinatesMissing))
	sb.WriteString(fmt.Sprintf("  EXIF enriched:    %d\n", summary.EnrichedFromExif))
	sb.WriteString(fmt.Sprintf("  Failures:         %d\n", summary.FailureCount))
	sb.WriteString(fmt.Sprintf("  Tor renewals:     %d\n", summary.Renewals))

	if summary.OutputPath != "" {
		sb.WriteString(fmt.Sprintf("  Output file:      %s\n", summary.OutputPath))
	}

	sb.WriteString("\n")
}

// writeFailures writes the failed place list.
func (w *SimpleWriter) writeFailures(sb *strings.Builder, summary *model.RunSummary) {
	if len(summary.Failures) == 0 && !w.showEmpty {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("FAILURES\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	if len(summary.Failures) == 0 {
		sb.WriteString("  No failed places\n\n")
		return
	}

	shown := len(summary.Failures)
	if !w.verbose && shown > maxFailuresShown {
		shown = maxFailuresShown
	}

	for _, failure := range summary.Failures[:shown] {
		sb.WriteString(fmt.Sprintf("  * %s\n", failure.URL))
		if failure.Message != "" {
			sb.WriteString(fmt.Sprintf("    Reason: %s\n", failure.Message))
		}
	}

	if remaining := len(summary.Failures) - shown; remaining > 0 {
		sb.WriteString(fmt.Sprintf("  ... and %d more (verbose output lists all)\n", remaining))
	}

	sb.WriteString("\n")
}

// writeSteps writes the performed pipeline steps in verbose mode.
func (w *SimpleWriter) writeSteps(sb *strings.Builder, summary *model.RunSummary) {
	if !w.verbose || len(summary.PerformedSteps) == 0 {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("PERFORMED STEPS\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	for i, step := range summary.PerformedSteps {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, step))
	}

	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by geoscrape\n")
	sb.WriteString("https://github.com/geoscrape/geoscrape\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
