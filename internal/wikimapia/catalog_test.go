package wikimapia

import (
	"net/url"
	"strings"
	"testing"
)

// catalogPageHTML mirrors a catalog page: link columns are div.span3
// blocks, map-widget anchors carry data-url, and chrome links live
// outside the columns.
const catalogPageHTML = `<!DOCTYPE html>
<html>
<body>
<div class="span3">
  <ul>
    <li><a href="/country/France/Ile_de_France/">Ile-de-France</a></li>
    <li><a href="/1055/Eiffel-Tower">Eiffel Tower</a></li>
    <li><a href="/1055/Eiffel-Tower">Eiffel Tower again</a></li>
    <li><a href="#top">Back to top</a></li>
    <li><a href="/map/" data-url="/ajax/map">Map widget</a></li>
    <li><a href="https://tracker.example.com/out">Offsite</a></li>
  </ul>
</div>
<div class="span3">
  <a href="/2077/Louvre">Louvre</a>
</div>
<div class="sidebar">
  <a href="/999/Not-in-a-column">hidden</a>
</div>
</body>
</html>`

// TestCatalogLinks tests catalog page link extraction.
func TestCatalogLinks(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://wikimapia.org/country/France/")
	if err != nil {
		t.Fatalf("failed to parse base URL: %v", err)
	}

	t.Run("extracts column links in order", func(t *testing.T) {
		t.Parallel()

		links, err := CatalogLinks(strings.NewReader(catalogPageHTML), base)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := []string{
			"https://wikimapia.org/country/France/Ile_de_France/",
			"https://wikimapia.org/1055/Eiffel-Tower",
			"https://wikimapia.org/2077/Louvre",
		}
		if len(links) != len(expected) {
			t.Fatalf("got %d links, expected %d: %v", len(links), len(expected), links)
		}
		for i, want := range expected {
			if links[i] != want {
				t.Errorf("links[%d] = %q, expected %q", i, links[i], want)
			}
		}
	})

	t.Run("map widget anchors are skipped", func(t *testing.T) {
		t.Parallel()

		links, err := CatalogLinks(strings.NewReader(catalogPageHTML), base)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, link := range links {
			if strings.Contains(link, "/map/") {
				t.Errorf("data-url anchor leaked into links: %q", link)
			}
		}
	})

	t.Run("offsite links are skipped", func(t *testing.T) {
		t.Parallel()

		links, err := CatalogLinks(strings.NewReader(catalogPageHTML), base)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, link := range links {
			if strings.Contains(link, "example.com") {
				t.Errorf("offsite link leaked: %q", link)
			}
		}
	})

	t.Run("extracted links classify cleanly", func(t *testing.T) {
		t.Parallel()

		links, err := CatalogLinks(strings.NewReader(catalogPageHTML), base)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var places, catalogs int
		for _, link := range links {
			switch {
			case IsPlaceURL(link):
				places++
			case IsCatalogURL(link):
				catalogs++
			}
		}
		if places != 2 {
			t.Errorf("got %d place links, expected 2", places)
		}
		if catalogs != 1 {
			t.Errorf("got %d catalog links, expected 1", catalogs)
		}
	})

	t.Run("page without columns yields no links", func(t *testing.T) {
		t.Parallel()

		page := `<html><body><p>Nothing here.</p></body></html>`
		links, err := CatalogLinks(strings.NewReader(page), base)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(links) != 0 {
			t.Errorf("expected no links, got %v", links)
		}
	})
}
