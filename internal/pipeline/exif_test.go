package pipeline

import (
	"errors"
	"math"
	"testing"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
)

// dms builds the degrees/minutes/seconds rational triplet GPS tags carry.
func dms(deg, min, sec uint32) []exifcommon.Rational {
	return []exifcommon.Rational{
		{Numerator: deg, Denominator: 1},
		{Numerator: min, Denominator: 1},
		{Numerator: sec, Denominator: 1},
	}
}

// gpsTags builds the four flat EXIF tags of a complete GPS position.
func gpsTags(latRef string, lat []exifcommon.Rational, lonRef string, lon []exifcommon.Rational) []exif.ExifTag {
	return []exif.ExifTag{
		{TagName: "GPSLatitudeRef", Value: latRef},
		{TagName: "GPSLatitude", Value: lat},
		{TagName: "GPSLongitudeRef", Value: lonRef},
		{TagName: "GPSLongitude", Value: lon},
	}
}

// almostEqual compares floats with a tolerance fit for coordinate math.
func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// TestGPSFromTags tests assembling a decimal position from flat EXIF tags.
func TestGPSFromTags(t *testing.T) {
	t.Parallel()

	t.Run("north east position", func(t *testing.T) {
		t.Parallel()

		lat, lon, ok := gpsFromTags(gpsTags("N", dms(47, 29, 51), "E", dms(19, 2, 24)))

		if !ok {
			t.Fatal("expected a valid position")
		}
		if expected := 47.0 + 29.0/60 + 51.0/3600; !almostEqual(lat, expected) {
			t.Errorf("got latitude %v, expected %v", lat, expected)
		}
		if expected := 19.0 + 2.0/60 + 24.0/3600; !almostEqual(lon, expected) {
			t.Errorf("got longitude %v, expected %v", lon, expected)
		}
	})

	t.Run("south west position is negated", func(t *testing.T) {
		t.Parallel()

		lat, lon, ok := gpsFromTags(gpsTags("S", dms(33, 51, 54), "W", dms(70, 36, 22)))

		if !ok {
			t.Fatal("expected a valid position")
		}
		if lat >= 0 {
			t.Errorf("expected negative latitude for southern hemisphere, got %v", lat)
		}
		if lon >= 0 {
			t.Errorf("expected negative longitude for western hemisphere, got %v", lon)
		}
	})

	t.Run("fractional seconds", func(t *testing.T) {
		t.Parallel()

		lat := []exifcommon.Rational{
			{Numerator: 48, Denominator: 1},
			{Numerator: 51, Denominator: 1},
			{Numerator: 2982, Denominator: 100},
		}
		got, _, ok := gpsFromTags(gpsTags("N", lat, "E", dms(2, 17, 40)))

		if !ok {
			t.Fatal("expected a valid position")
		}
		if expected := 48.0 + 51.0/60 + 29.82/3600; !almostEqual(got, expected) {
			t.Errorf("got latitude %v, expected %v", got, expected)
		}
	})

	t.Run("degrees alone is a valid position", func(t *testing.T) {
		t.Parallel()

		lat := []exifcommon.Rational{{Numerator: 4885, Denominator: 100}}
		lon := []exifcommon.Rational{{Numerator: 229, Denominator: 100}}
		gotLat, gotLon, ok := gpsFromTags(gpsTags("N", lat, "E", lon))

		if !ok {
			t.Fatal("expected a valid position")
		}
		if !almostEqual(gotLat, 48.85) {
			t.Errorf("got latitude %v, expected %v", gotLat, 48.85)
		}
		if !almostEqual(gotLon, 2.29) {
			t.Errorf("got longitude %v, expected %v", gotLon, 2.29)
		}
	})

	t.Run("missing refs default to north and east", func(t *testing.T) {
		t.Parallel()

		tags := []exif.ExifTag{
			{TagName: "GPSLatitude", Value: dms(47, 29, 51)},
			{TagName: "GPSLongitude", Value: dms(19, 2, 24)},
		}
		lat, lon, ok := gpsFromTags(tags)

		if !ok {
			t.Fatal("expected a valid position")
		}
		if lat <= 0 || lon <= 0 {
			t.Errorf("expected positive coordinates, got %v, %v", lat, lon)
		}
	})

	t.Run("missing longitude is rejected", func(t *testing.T) {
		t.Parallel()

		tags := []exif.ExifTag{
			{TagName: "GPSLatitudeRef", Value: "N"},
			{TagName: "GPSLatitude", Value: dms(47, 29, 51)},
		}
		if _, _, ok := gpsFromTags(tags); ok {
			t.Error("expected position without longitude to be rejected")
		}
	})

	t.Run("zero denominator is rejected", func(t *testing.T) {
		t.Parallel()

		lat := []exifcommon.Rational{{Numerator: 47, Denominator: 0}}
		if _, _, ok := gpsFromTags(gpsTags("N", lat, "E", dms(19, 2, 24))); ok {
			t.Error("expected zero denominator to be rejected")
		}
	})

	t.Run("zeroed position is rejected", func(t *testing.T) {
		t.Parallel()

		if _, _, ok := gpsFromTags(gpsTags("N", dms(0, 0, 0), "E", dms(0, 0, 0))); ok {
			t.Error("expected zeroed position to be rejected")
		}
	})

	t.Run("out of range latitude is rejected", func(t *testing.T) {
		t.Parallel()

		if _, _, ok := gpsFromTags(gpsTags("N", dms(95, 0, 0), "E", dms(19, 2, 24))); ok {
			t.Error("expected latitude above 90 degrees to be rejected")
		}
	})

	t.Run("unrelated tags are ignored", func(t *testing.T) {
		t.Parallel()

		tags := append([]exif.ExifTag{
			{TagName: "Model", Value: "TestCam 3000"},
			{TagName: "GPSAltitude", Value: []exifcommon.Rational{{Numerator: 120, Denominator: 1}}},
		}, gpsTags("N", dms(47, 29, 51), "E", dms(19, 2, 24))...)

		if _, _, ok := gpsFromTags(tags); !ok {
			t.Error("expected GPS tags to survive unrelated neighbors")
		}
	})

	t.Run("no tags at all", func(t *testing.T) {
		t.Parallel()

		if _, _, ok := gpsFromTags(nil); ok {
			t.Error("expected empty tag list to be rejected")
		}
	})
}

// TestDegreesFromRationals tests the DMS to decimal conversion.
func TestDegreesFromRationals(t *testing.T) {
	t.Parallel()

	t.Run("empty values are rejected", func(t *testing.T) {
		t.Parallel()

		if _, ok := degreesFromRationals(nil); ok {
			t.Error("expected empty values to be rejected")
		}
	})

	t.Run("converts a full triplet", func(t *testing.T) {
		t.Parallel()

		got, ok := degreesFromRationals(dms(47, 29, 51))
		if !ok {
			t.Fatal("expected a valid conversion")
		}
		if expected := 47.0 + 29.0/60 + 51.0/3600; !almostEqual(got, expected) {
			t.Errorf("got %v, expected %v", got, expected)
		}
	})

	t.Run("entries beyond seconds are ignored", func(t *testing.T) {
		t.Parallel()

		values := append(dms(47, 29, 51), exifcommon.Rational{Numerator: 999, Denominator: 1})
		got, ok := degreesFromRationals(values)
		if !ok {
			t.Fatal("expected a valid conversion")
		}
		if expected := 47.0 + 29.0/60 + 51.0/3600; !almostEqual(got, expected) {
			t.Errorf("got %v, expected %v", got, expected)
		}
	})
}

// TestExtractGPS tests GPS extraction from raw image bytes.
func TestExtractGPS(t *testing.T) {
	t.Parallel()

	t.Run("bytes without exif return ErrNoGPSData", func(t *testing.T) {
		t.Parallel()

		_, _, err := extractGPS([]byte("definitely not a photo"))
		if !errors.Is(err, ErrNoGPSData) {
			t.Errorf("expected ErrNoGPSData, got %v", err)
		}
	})

	t.Run("empty input returns ErrNoGPSData", func(t *testing.T) {
		t.Parallel()

		_, _, err := extractGPS(nil)
		if !errors.Is(err, ErrNoGPSData) {
			t.Errorf("expected ErrNoGPSData, got %v", err)
		}
	})
}
