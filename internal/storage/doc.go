// Package storage caches scraped features in MongoDB.
//
// # Architecture
//
// One collection per country: the collection name is the sanitized
// country name, so "Costa Rica" lands in costa_rica. A TTL index on the
// scrape timestamp expires documents server-side, which makes the
// cache-hit check ("does this country have fresh data?") a bounded
// count instead of a manual age scan.
//
// Design decision: Features are upserted by source URL rather than
// inserted because:
//  1. Re-scraping a country must refresh places, not duplicate them.
//  2. The source URL is the one identifier both scrape modes (HTML and
//     API) share for the same place.
//  3. Partial runs can be repeated safely after a failure.
//
// # Usage
//
//	store, err := storage.Open(ctx, uri, "geoscrape")
//	if err != nil { ... }
//	defer store.Close(ctx)
//
//	sink, err := storage.NewFeatureSink(store, "France")
//	if err != nil { ... }
//	err = sink.WriteFeature(ctx, feature)
package storage
