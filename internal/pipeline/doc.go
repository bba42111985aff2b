// Package pipeline provides a framework for executing scrape steps in
// sequence.
//
// A country run flows through multiple stages: cache freshness check,
// TTL index maintenance, catalog walk, place scraping, and coordinate
// enrichment. Each stage is implemented as a Step that receives the run
// report and can modify it.
//
// Design decision: We use a pipeline pattern instead of direct function
// calls because:
// 1. It allows easy addition/removal of steps without modifying core logic
// 2. It provides consistent error handling and logging across steps
// 3. It supports cancellation via context for long-running runs
// 4. Optional stages like enrichment slot in without special cases
//
// The pipeline supports both single-country runs and batch processing
// with concurrency control using errgroup.
package pipeline
