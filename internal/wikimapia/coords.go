package wikimapia

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Place pages write coordinates in two forms: decimal pairs
// ("47.4979 19.0402") and degrees-minutes-seconds with hemisphere letters
// (47°29'51"N 19°2'24"E). Both parse to decimal degrees here.
var (
	// dmsPattern matches one degrees-minutes-seconds component with its
	// hemisphere letter. Minutes and seconds are optional, and both the
	// ASCII and typographic minute/second marks occur in the wild.
	dmsPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*°\s*(?:(\d+(?:\.\d+)?)\s*['′]\s*)?(?:(\d+(?:\.\d+)?)\s*["″]\s*)?\s*([NSEWnsew])`)

	// decimalPattern matches a plain "lat lon" pair separated by
	// whitespace and/or a comma.
	decimalPattern = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)[\s,]+(-?\d+(?:\.\d+)?)\s*$`)
)

// ParseCoordinates parses a coordinate string into decimal latitude and
// longitude. Values outside valid ranges (latitude beyond 90, longitude
// beyond 180) return ErrInvalidCoordinates.
func ParseCoordinates(s string) (lat, lon float64, err error) {
	if matches := dmsPattern.FindAllStringSubmatch(s, -1); len(matches) >= 2 {
		return parseDMSPair(s, matches)
	}

	m := decimalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCoordinates, s)
	}

	lat, err = strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCoordinates, s)
	}
	lon, err = strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCoordinates, s)
	}
	return validateRange(lat, lon, s)
}

// parseDMSPair assembles latitude and longitude from matched DMS
// components. The hemisphere letters say which is which, so the components
// may appear in either order.
func parseDMSPair(s string, matches [][]string) (lat, lon float64, err error) {
	var haveLat, haveLon bool
	for _, m := range matches {
		value := dmsToDecimal(m[1], m[2], m[3])
		switch strings.ToUpper(m[4]) {
		case "N":
			lat, haveLat = value, true
		case "S":
			lat, haveLat = -value, true
		case "E":
			lon, haveLon = value, true
		case "W":
			lon, haveLon = -value, true
		}
	}
	if !haveLat || !haveLon {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCoordinates, s)
	}
	return validateRange(lat, lon, s)
}

// dmsToDecimal converts degree/minute/second strings to decimal degrees.
// The strings come from regexp capture groups, so they parse cleanly.
func dmsToDecimal(deg, min, sec string) float64 {
	value, _ := strconv.ParseFloat(deg, 64)
	if min != "" {
		m, _ := strconv.ParseFloat(min, 64)
		value += m / 60
	}
	if sec != "" {
		s, _ := strconv.ParseFloat(sec, 64)
		value += s / 3600
	}
	return value
}

// validateRange rejects coordinates outside the valid lat/lon ranges.
func validateRange(lat, lon float64, s string) (float64, float64, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("%w: out of range: %q", ErrInvalidCoordinates, s)
	}
	return lat, lon, nil
}
