package config

import "strings"

// CountryConfig holds per-country overrides for a single scrape run.
// This allows customizing crawl behavior for countries that need it, for
// example a deeper catalog walk for large countries or a local language.
type CountryConfig struct {
	// Cookie is an HTTP cookie to use when scraping this country.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to include in requests.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Delay overrides the global crawl delay for this country, in whole
	// seconds. If zero, the global CrawlDelay is used.
	Delay int `yaml:"delay,omitempty"`

	// Depth overrides the global catalog depth for this country.
	// If zero, the global CatalogDepth is used.
	Depth int `yaml:"depth,omitempty"`

	// MaxPlaces overrides the global place cap for this country.
	// If zero, the global MaxPlaces is used.
	MaxPlaces int `yaml:"maxPlaces,omitempty"`

	// Language overrides the global content language for this country.
	Language string `yaml:"language,omitempty"`

	// SkipPatterns are URL patterns to skip during the catalog walk.
	// Patterns are matched against the URL path using glob syntax.
	SkipPatterns []string `yaml:"skipPatterns,omitempty"`
}

// File represents the structure of the .geoscrape configuration file.
type File struct {
	// Countries maps country names to their overrides.
	// Keys are matched case-insensitively against the command-line names.
	Countries map[string]CountryConfig `yaml:"countries,omitempty"`

	// Defaults contains configuration applied to all countries unless
	// overridden in the country-specific configuration.
	Defaults CountryConfig `yaml:"defaults,omitempty"`
}

// GetCountryConfig returns the configuration for a specific country.
// It merges the country-specific configuration with defaults.
func (cf *File) GetCountryConfig(country string) CountryConfig {
	// Start with defaults
	result := cf.Defaults

	countryConfig, ok := cf.Countries[country]
	if !ok {
		// Country names on the command line are free-form; try a
		// case-insensitive match before giving up.
		for name, cc := range cf.Countries {
			if strings.EqualFold(name, country) {
				countryConfig, ok = cc, true
				break
			}
		}
	}
	if !ok {
		return result
	}

	if countryConfig.Cookie != "" {
		result.Cookie = countryConfig.Cookie
	}
	if countryConfig.Delay != 0 {
		result.Delay = countryConfig.Delay
	}
	if countryConfig.Depth != 0 {
		result.Depth = countryConfig.Depth
	}
	if countryConfig.MaxPlaces != 0 {
		result.MaxPlaces = countryConfig.MaxPlaces
	}
	if countryConfig.Language != "" {
		result.Language = countryConfig.Language
	}
	if len(countryConfig.Headers) > 0 {
		// Merge into a fresh map so the shared defaults stay untouched.
		merged := make(map[string]string, len(result.Headers)+len(countryConfig.Headers))
		for k, v := range result.Headers {
			merged[k] = v
		}
		for k, v := range countryConfig.Headers {
			merged[k] = v
		}
		result.Headers = merged
	}
	if len(countryConfig.SkipPatterns) > 0 {
		result.SkipPatterns = countryConfig.SkipPatterns
	}

	return result
}
