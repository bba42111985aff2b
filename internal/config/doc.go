// Package config provides configuration structures and utilities for geoscrape.
// It defines the main configuration options for Tor connectivity, catalog
// walking, place scraping, MongoDB caching, and summary output preferences.
package config
