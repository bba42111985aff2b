// Package main provides the entry point for the geoscrape CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for geoscrape.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geoscrape",
		Short: "Wikimapia place scraper with GeoJSON output",
		Long: `geoscrape collects places from Wikimapia country catalogs and converts
them into GeoJSON features. Every request goes through the Tor network,
and the Tor identity can be renewed when the site starts blocking.

Scraped features are written to a GeoJSON FeatureCollection file and,
unless disabled, cached in MongoDB with a freshness TTL so repeated runs
against the same country can be skipped while the cache is warm.

By default geoscrape expects a Tor SOCKS proxy at 127.0.0.1:9050.
Use --embedded-tor to start a private Tor daemon instead.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewScrapeCmd())
	cmd.AddCommand(NewPlaceCmd())
	cmd.AddCommand(NewExportCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
