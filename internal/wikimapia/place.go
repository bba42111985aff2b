package wikimapia

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/geoscrape/geoscrape/internal/model"
)

// Place is the parse result for one place page: the GeoJSON feature plus
// the photo URLs found on the page. Photos matter when the page carries no
// coordinate label; their EXIF data is the backfill source.
type Place struct {
	Feature   *model.Feature
	PhotoURLs []string
}

// ParsePlace extracts a GeoJSON Feature from a place page.
//
// All queries are scoped to the page-content container; markup outside it
// (navigation, footer, ads) never leaks into the result. A page without
// that container returns ErrMissingPageContent.
//
// Missing pieces degrade rather than fail: a page without coordinates
// yields a feature with empty Point coordinates, a missing description
// stays nil, and an address with fewer levels fills what it has. The
// attribute data is worth keeping even when the geometry is not there.
func ParsePlace(r io.Reader, sourceURL string) (*Place, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse place page: %w", err)
	}

	content := doc.Find("div#page-content").First()
	if content.Length() == 0 {
		return nil, ErrMissingPageContent
	}

	feature := parseGeometry(content, sourceURL)
	if id, err := PlaceID(sourceURL); err == nil {
		feature.Properties.PlaceID = id
	}
	feature.Properties.Title = parseTitle(content)
	feature.Properties.Location = parseLocation(content)
	feature.Properties.Description = parseDescription(content)
	feature.Properties.NearestPlaces = parseNearbyPlaces(content)

	return &Place{
		Feature:   feature,
		PhotoURLs: parsePhotoURLs(content, sourceURL),
	}, nil
}

// parseGeometry builds the feature with its Point geometry.
// Unparseable or absent coordinates produce an empty Point.
func parseGeometry(content *goquery.Selection, sourceURL string) *model.Feature {
	raw := coordinateText(content)
	if raw == "" {
		return model.NewEmptyPointFeature(sourceURL)
	}

	lat, lon, err := ParseCoordinates(raw)
	if err != nil {
		return model.NewEmptyPointFeature(sourceURL)
	}
	return model.NewPointFeature(sourceURL, lon, lat)
}

// coordinateText finds the text that follows the "Coordinates" label.
// The label is a <b> element and the value is the text node right after it,
// so this walks raw sibling nodes instead of using a selector.
func coordinateText(content *goquery.Selection) string {
	var raw string
	content.Find("b").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !strings.Contains(sel.Text(), "Coordinates") {
			return true
		}

		for n := sel.Get(0).NextSibling; n != nil; n = n.NextSibling {
			if n.Type == html.TextNode && strings.TrimSpace(n.Data) != "" {
				raw = strings.TrimSpace(n.Data)
				break
			}
			if n.Type == html.ElementNode {
				// The value is plain text; an element means it's absent.
				break
			}
		}
		return false
	})
	return raw
}

// parseTitle reads the page heading. Empty when the page has none.
func parseTitle(content *goquery.Selection) string {
	return strings.TrimSpace(content.Find("h1").First().Text())
}

// parseLocation tokenizes the address line into its administrative levels.
// The levels sit at the even token positions (country, state, place) with
// separator tokens between them; absent levels leave empty fields.
func parseLocation(content *goquery.Selection) model.Location {
	tokens := strings.Fields(content.Find("address").First().Text())

	var loc model.Location
	if len(tokens) > 0 {
		loc.Country = tokens[0]
	}
	if len(tokens) > 2 {
		loc.State = tokens[2]
	}
	if len(tokens) > 4 {
		loc.Place = tokens[4]
	}
	return loc
}

// parseDescription reads the place description block.
// Nil means the page has no description block at all; a present but empty
// block yields an empty string.
func parseDescription(content *goquery.Selection) *string {
	sel := content.Find("div#place-description")
	if sel.Length() == 0 {
		return nil
	}

	text := strings.TrimSpace(sel.First().Text())
	return &text
}

// parseNearbyPlaces reads the nearby places list. Each entry is a link
// with a distance span next to it; entries without a link text are skipped.
func parseNearbyPlaces(content *goquery.Selection) []model.NearbyPlace {
	var places []model.NearbyPlace
	content.Find("div#nearby-places li").Each(func(_ int, li *goquery.Selection) {
		name := strings.TrimSpace(li.Find("a").First().Text())
		if name == "" {
			return
		}
		places = append(places, model.NearbyPlace{
			Name:     name,
			Distance: strings.TrimSpace(li.Find("span").First().Text()),
		})
	})
	return places
}

// parsePhotoURLs collects the JPEG photo URLs from the page.
// Only JPEGs are kept because that's where EXIF GPS data lives.
func parsePhotoURLs(content *goquery.Selection, sourceURL string) []string {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var photos []string
	content.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok {
			return
		}

		src = strings.TrimSpace(src)
		lower := strings.ToLower(src)
		if !strings.HasSuffix(lower, ".jpg") && !strings.HasSuffix(lower, ".jpeg") {
			return
		}

		ref, err := url.Parse(src)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		photos = append(photos, abs)
	})
	return photos
}
