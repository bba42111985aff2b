package model

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Geometry type constants for GeoJSON output.
const (
	// GeometryPoint is the GeoJSON type for a single coordinate pair.
	// Used by the HTML scraper, which reads one lat/lon per place page.
	GeometryPoint = "Point"

	// GeometryPolygon is the GeoJSON type for a closed ring of coordinates.
	// Used by the API scraper, which returns the place outline.
	GeometryPolygon = "Polygon"
)

// Feature is a GeoJSON Feature describing one scraped place.
// It is the unit of output: every sink (file, MongoDB) receives Features.
//
// Design decision: One struct serves both the GeoJSON file output and the
// MongoDB cache because:
// 1. The cache stores exactly what the file receives, so exports are lossless
// 2. Dual json/bson tags keep the two representations in sync
// 3. A single type avoids conversion layers between pipeline and sinks
type Feature struct {
	// ID is the MongoDB document ID. Unset until the feature is stored.
	ID primitive.ObjectID `bson:"_id,omitempty" json:"-"`

	// Type is always "Feature" per the GeoJSON specification.
	Type string `bson:"type" json:"type"`

	// Geometry holds the place coordinates.
	Geometry Geometry `bson:"geometry" json:"geometry"`

	// Properties holds everything scraped besides coordinates.
	Properties Properties `bson:"properties" json:"properties"`
}

// Geometry is a GeoJSON geometry object.
//
// Point and Ring are kept as separate typed fields because Go cannot express
// the GeoJSON "coordinates" key, whose shape depends on Type, in one static
// type. MarshalJSON folds whichever field is populated into "coordinates".
// Coordinates may be empty when the place page carried no coordinate label;
// such features are still emitted so the attribute data is not lost.
type Geometry struct {
	// Type is GeometryPoint or GeometryPolygon.
	Type string `bson:"type" json:"type"`

	// Point is the [longitude, latitude] pair for Point geometries.
	// GeoJSON axis order is longitude first.
	Point []float64 `bson:"point,omitempty" json:"-"`

	// Ring holds the coordinate rings for Polygon geometries.
	// A single outer ring; the first and last positions are equal.
	Ring [][][]float64 `bson:"ring,omitempty" json:"-"`
}

// geometryJSON is the wire form of Geometry.
type geometryJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// MarshalJSON emits the geometry in GeoJSON form, selecting the coordinate
// shape by geometry type. Empty coordinates marshal as [] rather than null
// so downstream GeoJSON consumers see a well-formed, if empty, array.
func (g Geometry) MarshalJSON() ([]byte, error) {
	var coords any
	switch g.Type {
	case GeometryPolygon:
		if g.Ring == nil {
			coords = [][][]float64{}
		} else {
			coords = g.Ring
		}
	default:
		if g.Point == nil {
			coords = []float64{}
		} else {
			coords = g.Point
		}
	}

	raw, err := json.Marshal(coords)
	if err != nil {
		return nil, err
	}
	return json.Marshal(geometryJSON{Type: g.Type, Coordinates: raw})
}

// UnmarshalJSON parses GeoJSON geometry back into the typed fields.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var wire geometryJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	g.Type = wire.Type
	g.Point = nil
	g.Ring = nil
	if len(wire.Coordinates) == 0 {
		return nil
	}

	switch wire.Type {
	case GeometryPolygon:
		var ring [][][]float64
		if err := json.Unmarshal(wire.Coordinates, &ring); err != nil {
			return err
		}
		if len(ring) > 0 {
			g.Ring = ring
		}
	default:
		var point []float64
		if err := json.Unmarshal(wire.Coordinates, &point); err != nil {
			return err
		}
		if len(point) > 0 {
			g.Point = point
		}
	}
	return nil
}

// Properties holds the descriptive attributes of a place.
type Properties struct {
	// Title is the place name from the page heading.
	// Empty when the page has no heading.
	Title string `bson:"title" json:"title"`

	// Location is the administrative location parsed from the address line.
	Location Location `bson:"location" json:"location"`

	// Description is the free-text place description.
	// Nil when the page has no description block.
	Description *string `bson:"description" json:"description"`

	// NearestPlaces lists nearby places with their reported distances.
	NearestPlaces []NearbyPlace `bson:"nearestPlaces" json:"nearestPlaces"` //nolint:tagliatelle // matches the established output key

	// SourceURL is the page the feature was scraped from.
	// It is the upsert key in MongoDB, so re-scrapes never duplicate places.
	SourceURL string `bson:"source_url" json:"source_url,omitempty"`

	// PlaceID is the numeric place identifier from the URL path.
	PlaceID string `bson:"place_id" json:"place_id,omitempty"`

	// ScrapedAt is when the place was scraped.
	// The MongoDB TTL index expires documents on this field.
	ScrapedAt time.Time `bson:"scraped_at" json:"scraped_at"`

	// RunID ties the feature to a journal run.
	RunID string `bson:"run_id" json:"run_id,omitempty"`
}

// Location is the country/state/place triple from the address line.
// Fields are empty when the address omits the corresponding level.
type Location struct {
	Country string `bson:"country" json:"country"`
	State   string `bson:"state" json:"state"`
	Place   string `bson:"place" json:"place"`
}

// NearbyPlace is one entry from the nearby places list.
type NearbyPlace struct {
	// Name is the nearby place name.
	Name string `bson:"name" json:"name"`

	// Distance is the reported distance text (e.g. "0.3 km").
	Distance string `bson:"distance" json:"distance"`
}

// NewPointFeature creates a Feature with Point geometry at the given
// longitude and latitude.
func NewPointFeature(sourceURL string, lon, lat float64) *Feature {
	return &Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type:  GeometryPoint,
			Point: []float64{lon, lat},
		},
		Properties: Properties{
			SourceURL: sourceURL,
		},
	}
}

// NewEmptyPointFeature creates a Feature with Point geometry and no
// coordinates. Used when the place page has no coordinate label; the feature
// is kept so titles, descriptions, and nearby places are still recorded.
func NewEmptyPointFeature(sourceURL string) *Feature {
	return &Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type: GeometryPoint,
		},
		Properties: Properties{
			SourceURL: sourceURL,
		},
	}
}

// NewPolygonFeature creates a Feature with Polygon geometry.
// The ring is the place outline; empty when the API returned no polygon.
func NewPolygonFeature(sourceURL string, ring [][]float64) *Feature {
	f := &Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type: GeometryPolygon,
		},
		Properties: Properties{
			SourceURL: sourceURL,
		},
	}
	if len(ring) > 0 {
		f.Geometry.Ring = [][][]float64{ring}
	}
	return f
}

// HasCoordinates reports whether the geometry carries any coordinates.
func (f *Feature) HasCoordinates() bool {
	switch f.Geometry.Type {
	case GeometryPolygon:
		return len(f.Geometry.Ring) > 0 && len(f.Geometry.Ring[0]) > 0
	default:
		return len(f.Geometry.Point) == 2
	}
}

// SetPoint replaces the geometry with a Point at the given coordinates.
// Used by the EXIF enrichment step to backfill missing coordinates.
func (f *Feature) SetPoint(lon, lat float64) {
	f.Geometry = Geometry{
		Type:  GeometryPoint,
		Point: []float64{lon, lat},
	}
}

// Stamp records scrape metadata on the feature.
func (f *Feature) Stamp(runID string, at time.Time) {
	f.Properties.RunID = runID
	f.Properties.ScrapedAt = at
}
