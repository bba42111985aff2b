// Package crawler walks Wikimapia's country catalogs and fetches pages
// through the Tor proxy.
//
// # Architecture
//
// The package is split into two types. Fetcher owns network policy:
// request delays, retries, body size limits, and Tor identity renewal.
// Walker owns traversal: it descends the catalog tree breadth-first,
// probes each node's pagination, and collects place page URLs. HTML
// parsing itself lives in the wikimapia package; the crawler only moves
// bytes and URLs around.
//
// Design decision: We implement our own crawler rather than using a
// third-party framework because:
//  1. Tor circuits are slow and shared, so request timing must be under
//     tight control rather than delegated to a scheduler.
//  2. The catalog walk needs custom stop conditions (pagination probing,
//     per-country place caps) that generic crawlers don't model.
//  3. Identity renewal on HTTP 403/429 couples the fetch loop to the
//     Tor control port, which no crawling library supports.
//
// # Politeness
//
// The fetcher is designed to be polite:
//   - Delays between requests (configurable)
//   - Concurrent callers queue up behind the same delay
//   - Retries back off progressively
//   - Response bodies are capped in size
//
// # Usage
//
//	fetcher := crawler.NewFetcher(torClient.HTTPClient())
//	walker := crawler.NewWalker(fetcher, "https://wikimapia.org")
//	result, err := walker.Walk(ctx, "France")
package crawler
