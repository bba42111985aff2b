// Package wikimapia extracts place data from Wikimapia pages and its API.
//
// The site organizes places under country, region, and district catalog
// pages that share one template; CatalogLinks walks their link columns.
// Place pages parse into GeoJSON Features via ParsePlace (markup) or
// APIClient (the place.getbyid endpoint). URL helpers classify links and
// build catalog page URLs.
//
// Everything here is pure parsing and URL arithmetic over injected
// readers and HTTP clients; fetching, politeness, and retry policy live
// in the crawler package.
package wikimapia
