// Package model defines the core data structures used throughout geoscrape.
//
// This package contains the following main types:
//   - Feature: A GeoJSON Feature describing one scraped place
//   - Geometry: Point or Polygon coordinates for a feature
//   - RunReport: The accumulating result of one country scrape run
//   - RunSummary: A flattened, human-readable run summary
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. Multiple packages (crawler, wikimapia, storage, report) need
// to use these types, so centralizing them prevents import cycles.
//
// The models are designed to be serializable to JSON for GeoJSON output and
// to BSON for MongoDB storage.
package model
