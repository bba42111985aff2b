package wikimapia

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CatalogLinks extracts the navigation links from a catalog page.
//
// Country, region, and district pages share one template: the link columns
// are div.span3 blocks whose anchors point either deeper into the catalog
// or at place pages. Anchors carrying a data-url attribute drive the map
// widget rather than navigation and are skipped, as are links leaving the
// catalog host.
//
// Relative hrefs are resolved against base. The returned URLs are absolute,
// deduplicated, and in document order; use IsPlaceURL and IsCatalogURL to
// classify them.
func CatalogLinks(r io.Reader, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog page: %w", err)
	}

	seen := make(map[string]struct{})
	var links []string

	doc.Find("div.span3 a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if _, hasDataURL := sel.Attr("data-url"); hasDataURL {
			return
		}

		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		resolved.Fragment = ""
		if resolved.Host != base.Host {
			return
		}

		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})

	return links, nil
}
