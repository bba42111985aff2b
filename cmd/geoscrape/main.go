// Package main provides the entry point for the geoscrape CLI.
//
// geoscrape collects places from Wikimapia country catalogs through the
// Tor network and converts them into GeoJSON features, optionally cached
// in MongoDB with a freshness TTL.
//
// Usage:
//
//	geoscrape scrape <country>
//	geoscrape place <url-or-id>
//	geoscrape export <country>
//	geoscrape history <country>
//
// See --help for all available options.
package main

// main is the entry point for geoscrape.
func main() {
	Execute()
}
