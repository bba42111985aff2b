package report

import (
	"io"
	"strconv"
	"time"

	"github.com/geoscrape/geoscrape/internal/model"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs run summaries in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// WriteSummary outputs the run summary in Markdown format.
func (w *MarkdownWriter) WriteSummary(summary *model.RunSummary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, summary)
	w.writeCounts(md, summary)
	w.writeFailures(md, summary)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with run information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, summary *model.RunSummary) {
	md.H1("Geoscrape Run Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Country", summary.Country},
			{"Run ID", "`" + summary.RunID + "`"},
			{"Started", summary.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", summary.Duration.Round(time.Millisecond).String()},
			{"Status", w.getStatusText(summary)},
		},
	})
	md.PlainText("")
}

// getStatusText returns the status text based on summary state.
func (w *MarkdownWriter) getStatusText(summary *model.RunSummary) string {
	if summary.SkippedByCache {
		return "⏭️ Skipped (cached data is still fresh)"
	}
	if summary.TimedOut {
		return "⚠️ Timed Out (partial results)"
	}
	if summary.Error != "" {
		return "❌ Error - " + summary.Error
	}
	return "✅ Complete"
}

// writeCounts writes the scrape counter section.
func (w *MarkdownWriter) writeCounts(md *markdown.Markdown, summary *model.RunSummary) {
	md.H2("Scrape Summary")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows: [][]string{
			{"Catalog pages", strconv.Itoa(summary.CatalogPages)},
			{"Places found", strconv.Itoa(summary.PlacesFound)},
			{"Features scraped", strconv.Itoa(summary.FeaturesScraped)},
			{"Missing coordinates", strconv.Itoa(summary.CoordinatesMissing)},
			{"EXIF enriched", strconv.Itoa(summary.EnrichedFromExif)},
			{"Failures", strconv.Itoa(summary.FailureCount)},
			{"Tor renewals", strconv.Itoa(summary.Renewals)},
		},
	})
	md.PlainText("")

	if summary.FeaturesScraped > 0 || summary.FailureCount > 0 {
		w.writePieChart(md, summary)
	}

	w.writeAlert(md, summary)
}

// writePieChart writes a mermaid pie chart of scrape outcomes.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, summary *model.RunSummary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Scrape Outcome Distribution"),
		piechart.WithShowData(true),
	)

	withCoordinates := summary.FeaturesScraped - summary.CoordinatesMissing
	if withCoordinates > 0 {
		chart.LabelAndIntValue("With coordinates", uint64(withCoordinates))
	}
	if summary.CoordinatesMissing > 0 {
		chart.LabelAndIntValue("Missing coordinates", uint64(summary.CoordinatesMissing))
	}
	if summary.FailureCount > 0 {
		chart.LabelAndIntValue("Failed", uint64(summary.FailureCount))
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an appropriate alert based on the run outcome.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, summary *model.RunSummary) {
	switch {
	case summary.Error != "":
		md.Cautionf("Run failed: %s", summary.Error)
	case summary.TimedOut:
		md.Warningf(
			"Run timed out after %s. Results are partial.",
			summary.Duration.Round(time.Millisecond),
		)
	case summary.SkippedByCache:
		md.Note("Cached data was still fresh, so nothing was scraped.")
	case summary.FailureCount > 0:
		md.Importantf(
			"%d place(s) could not be scraped. See the failure list below.",
			summary.FailureCount,
		)
	default:
		md.Tip("All places scraped successfully.")
	}
	md.PlainText("")
}

// writeFailures writes the failed place table.
func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, summary *model.RunSummary) {
	md.H2("Failures")
	md.PlainText("")

	if len(summary.Failures) == 0 {
		md.PlainText("No failed places.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(summary.Failures))
	for i, failure := range summary.Failures {
		message := failure.Message
		if message == "" {
			message = "-"
		}
		rows[i] = []string{
			truncateString(failure.URL, 60),
			truncateString(message, 70),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"URL", "Reason"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [geoscrape](https://github.com/geoscrape/geoscrape)*")
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
