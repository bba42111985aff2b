package wikimapia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/geoscrape/geoscrape/internal/model"
)

const (
	// apiDataBlocks names the response sections requested from the API:
	// main carries title and description, geometry the polygon outline,
	// location the administrative fields, nearest_places the nearby list.
	apiDataBlocks = "main,geometry,location,nearest_places"

	// maxAPIResponseSize caps how much of an API response we read.
	// Place responses are a few KB; anything near this limit is not a
	// place response.
	maxAPIResponseSize = 2 << 20
)

// APIClient fetches places from the Wikimapia API (place.getbyid).
// It is the alternative to HTML scraping: one JSON request per place
// instead of a page fetch plus markup parsing, and polygon outlines
// instead of a single point.
//
// Design decision: The HTTP client is injected rather than constructed here
// because API traffic must flow through the same Tor client as page fetches.
// The API sees the exit relay's address either way, and identity renewal
// keeps working if the API starts rate limiting.
type APIClient struct {
	// httpClient performs the requests, typically Tor-backed.
	httpClient *http.Client

	// baseURL is the API endpoint (e.g., "http://api.wikimapia.org/").
	baseURL *url.URL

	// key is the API key sent with every request.
	key string

	// language selects the response language (e.g., "en").
	language string
}

// NewAPIClient creates an API client.
// The httpClient must not be nil; use the Tor client's HTTP factory.
func NewAPIClient(httpClient *http.Client, baseURL, key, language string) (*APIClient, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("http client is nil")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse API base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("API base URL %q has no scheme or host", baseURL)
	}

	return &APIClient{
		httpClient: httpClient,
		baseURL:    u,
		key:        key,
		language:   language,
	}, nil
}

// GetPlace fetches the place behind a place page URL.
// The numeric identifier is extracted from the URL, and the URL itself
// becomes the feature's source URL so both scrape modes share one
// dedup key.
func (c *APIClient) GetPlace(ctx context.Context, rawURL string) (*model.Feature, error) {
	id, err := PlaceID(rawURL)
	if err != nil {
		return nil, err
	}

	feature, err := c.GetPlaceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	feature.Properties.SourceURL = rawURL
	return feature, nil
}

// GetPlaceByID fetches a place by its numeric identifier.
// The returned feature has no source URL; GetPlace fills it when the
// caller started from a URL.
//
// API-level failures (bad key, unknown place) come back inside an HTTP 200
// body and surface as *APIError.
func (c *APIClient) GetPlaceByID(ctx context.Context, id string) (*model.Feature, error) {
	if id == "" || !isAllDigits(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlaceURL, id)
	}

	query := url.Values{}
	query.Set("key", c.key)
	query.Set("function", "place.getbyid")
	query.Set("id", id)
	query.Set("format", "json")
	query.Set("language", c.language)
	query.Set("data_blocks", apiDataBlocks)

	u := *c.baseURL
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create API request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request for place %s failed: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d for place %s", resp.StatusCode, id)
	}

	var place placeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAPIResponseSize)).Decode(&place); err != nil {
		return nil, fmt.Errorf("failed to decode API response for place %s: %w", id, err)
	}
	if place.Debug != nil && place.Debug.Code != 0 {
		return nil, &APIError{Code: place.Debug.Code, Message: place.Debug.Message}
	}

	feature := place.toFeature()
	feature.Properties.PlaceID = id
	return feature, nil
}

// placeResponse is the subset of the place.getbyid response we consume.
type placeResponse struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Polygon       []polygonVertex `json:"polygon"`
	Location      *apiLocation    `json:"location"`
	NearestPlaces []apiNearby     `json:"nearestPlaces"` //nolint:tagliatelle // API field name
	Debug         *apiDebug       `json:"debug"`
}

// polygonVertex is one outline vertex; x is longitude, y is latitude.
type polygonVertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// apiLocation is the location block of a place response.
type apiLocation struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state"`
	Place   string  `json:"place"`
}

// apiNearby is one nearby place entry. Distance arrives in meters.
type apiNearby struct {
	Title    string      `json:"title"`
	Distance json.Number `json:"distance"`
}

// apiDebug is the API's in-band error report.
type apiDebug struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toFeature converts the API response to a GeoJSON feature.
//
// Geometry preference: the polygon outline when present (closed into a
// proper ring), else a Point from the location block, else an empty Point.
func (p *placeResponse) toFeature() *model.Feature {
	var feature *model.Feature
	switch {
	case len(p.Polygon) > 0:
		ring := make([][]float64, 0, len(p.Polygon)+1)
		for _, v := range p.Polygon {
			ring = append(ring, []float64{v.X, v.Y})
		}
		// GeoJSON rings close on themselves; the API leaves them open.
		first, last := ring[0], ring[len(ring)-1]
		if first[0] != last[0] || first[1] != last[1] {
			ring = append(ring, []float64{first[0], first[1]})
		}
		feature = model.NewPolygonFeature("", ring)

	case p.Location != nil && (p.Location.Lon != 0 || p.Location.Lat != 0):
		feature = model.NewPointFeature("", p.Location.Lon, p.Location.Lat)

	default:
		feature = model.NewEmptyPointFeature("")
	}

	feature.Properties.Title = p.Title
	if p.Description != "" {
		desc := p.Description
		feature.Properties.Description = &desc
	}
	if p.Location != nil {
		feature.Properties.Location = model.Location{
			Country: p.Location.Country,
			State:   p.Location.State,
			Place:   p.Location.Place,
		}
	}
	for _, nearby := range p.NearestPlaces {
		if nearby.Title == "" {
			continue
		}
		entry := model.NearbyPlace{Name: nearby.Title}
		if nearby.Distance != "" {
			entry.Distance = nearby.Distance.String() + " m"
		}
		feature.Properties.NearestPlaces = append(feature.Properties.NearestPlaces, entry)
	}
	return feature
}
