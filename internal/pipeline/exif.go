package pipeline

import (
	"errors"
	"fmt"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
)

// ErrNoGPSData is returned when an image carries no usable GPS metadata.
var ErrNoGPSData = errors.New("no gps coordinates in image metadata")

// extractGPS pulls a decimal GPS position out of a photo's EXIF data.
// Images without EXIF, without GPS tags, or with a zeroed position
// return ErrNoGPSData.
func extractGPS(imageData []byte) (lat, lon float64, err error) {
	rawExif, err := exif.SearchAndExtractExif(imageData)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrNoGPSData, err)
	}

	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse image metadata: %w", err)
	}

	lat, lon, ok := gpsFromTags(entries)
	if !ok {
		return 0, 0, ErrNoGPSData
	}

	return lat, lon, nil
}

// gpsFromTags assembles a decimal position from flat EXIF tags.
// Latitude and longitude arrive as degree/minute/second rationals with
// separate hemisphere reference tags.
func gpsFromTags(entries []exif.ExifTag) (lat, lon float64, ok bool) {
	var latValues, lonValues []exifcommon.Rational
	latRef, lonRef := "N", "E"

	for _, entry := range entries {
		switch entry.TagName {
		case "GPSLatitude":
			latValues, _ = entry.Value.([]exifcommon.Rational)
		case "GPSLongitude":
			lonValues, _ = entry.Value.([]exifcommon.Rational)
		case "GPSLatitudeRef":
			if ref, isString := entry.Value.(string); isString && ref != "" {
				latRef = ref
			}
		case "GPSLongitudeRef":
			if ref, isString := entry.Value.(string); isString && ref != "" {
				lonRef = ref
			}
		}
	}

	lat, okLat := degreesFromRationals(latValues)
	lon, okLon := degreesFromRationals(lonValues)
	if !okLat || !okLon {
		return 0, 0, false
	}

	if strings.HasPrefix(latRef, "S") {
		lat = -lat
	}
	if strings.HasPrefix(lonRef, "W") {
		lon = -lon
	}

	// A zeroed position is camera default noise, not a real location.
	if lat == 0 && lon == 0 {
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}

	return lat, lon, true
}

// degreesFromRationals folds a degrees/minutes/seconds triplet into
// decimal degrees. Shorter slices fill what they have; degrees alone is
// a valid position.
func degreesFromRationals(values []exifcommon.Rational) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}

	divisors := [...]float64{1, 60, 3600}
	degrees := 0.0
	for i, v := range values {
		if i >= len(divisors) {
			break
		}
		if v.Denominator == 0 {
			return 0, false
		}
		degrees += float64(v.Numerator) / float64(v.Denominator) / divisors[i]
	}

	return degrees, true
}
