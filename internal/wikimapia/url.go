package wikimapia

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// catalogPathPrefix is the first path segment of country/region/district
// catalog pages. Place pages use a numeric identifier instead.
const catalogPathPrefix = "country"

// PlaceID extracts the numeric place identifier from a place page URL.
// Place URLs carry the identifier as the first path segment
// (e.g., "https://wikimapia.org/12345/Some-Place" has identifier "12345").
//
// Returns ErrInvalidPlaceURL for catalog pages and anything else without
// a numeric first segment.
func PlaceID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlaceURL, rawURL)
	}

	segment, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if segment == "" || !isAllDigits(segment) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlaceURL, rawURL)
	}
	return segment, nil
}

// IsPlaceURL reports whether the URL points at a place page.
func IsPlaceURL(rawURL string) bool {
	_, err := PlaceID(rawURL)
	return err == nil
}

// PlaceURL builds the URL of a place page from its numeric identifier.
// The site redirects the bare identifier form to the slugged page, so
// the result is fetchable without knowing the place name.
func PlaceURL(baseURL, id string) (string, error) {
	if id == "" || !isAllDigits(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlaceURL, id)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}

	u.Path = "/" + id + "/"
	u.RawQuery = ""
	return u.String(), nil
}

// IsCatalogURL reports whether the URL points at a catalog page
// (country, region, or district listing). Catalog pages share one
// template, so the walker can descend through them uniformly.
func IsCatalogURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	segment, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	return segment == catalogPathPrefix
}

// CountrySlug converts a country name to its catalog path form:
// title-cased words joined by underscores (e.g., "united kingdom"
// becomes "United_Kingdom").
func CountrySlug(name string) string {
	titled := cases.Title(language.English).String(strings.TrimSpace(name))
	return strings.Join(strings.Fields(titled), "_")
}

// CatalogPageURL builds the URL of one numbered page of a country's catalog.
// Page 1 is the bare catalog path; later pages add a page query parameter.
func CatalogPageURL(baseURL, country string, page int) (string, error) {
	if strings.TrimSpace(country) == "" {
		return "", ErrEmptyCountry
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}

	u.Path = "/" + catalogPathPrefix + "/" + CountrySlug(country) + "/"
	u.RawQuery = ""
	if page > 1 {
		u.RawQuery = "page=" + strconv.Itoa(page)
	}
	return u.String(), nil
}

// CatalogPageVariant returns the given catalog URL pointed at a specific
// page number. Page 1 strips the page parameter; later pages set it. Other
// query parameters are preserved.
func CatalogPageVariant(rawURL string, page int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse catalog URL: %w", err)
	}

	query := u.Query()
	if page > 1 {
		query.Set("page", strconv.Itoa(page))
	} else {
		query.Del("page")
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// isAllDigits reports whether s consists only of ASCII digits.
func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
