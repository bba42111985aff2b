// Package report provides feature sinks and run summary output.
//
// The package has two halves:
//   - FeatureWriter implementations receive features while the scrape
//     runs: GeoJSONWriter streams a FeatureCollection to a file, and
//     MultiFeatureWriter fans one stream out to several sinks (file
//     plus MongoDB).
//   - SummaryWriter implementations render the finished run: SimpleWriter
//     for terminal display, JSONWriter for tool integration, and
//     MarkdownWriter for documentation.
//
// Design decision: We separate output writing from the data structures
// (which are in the model package) to follow the single responsibility
// principle. This allows adding new output formats without modifying
// the core data structures.
package report
