// Package journal provides SQLite-based storage for run history.
//
// This package implements the Journal, which stores:
//   - Runs: one row per country scrape with counters and a summary
//   - Fetches: the latest outcome of every fetched URL
//
// The journal is local bookkeeping, distinct from the MongoDB feature
// cache: it answers "what ran, when, and how did it go" and lets
// resumed runs skip recently fetched pages even when MongoDB is
// disabled.
//
// Design decision: We use SQLite (via modernc.org/sqlite) instead of
// reusing MongoDB because:
// 1. No external dependencies - the journal is a single file
// 2. CGO-free implementation allows easy cross-compilation
// 3. The journal must work in file-only mode, where MongoDB is off
// 4. WAL mode provides good concurrent read performance
package journal
