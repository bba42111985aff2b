package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/geoscrape/geoscrape/internal/config"
	"github.com/geoscrape/geoscrape/internal/report"
	"github.com/geoscrape/geoscrape/internal/storage"
	"github.com/geoscrape/geoscrape/internal/wikimapia"
	"github.com/spf13/cobra"
)

// NewExportCmd creates the export command.
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <country>",
		Short: "Export a country's cached features to a GeoJSON file",
		Long: `Export reads the features cached in MongoDB for a country and writes
them to a GeoJSON FeatureCollection file. Nothing is fetched from the
network.

The scrape command fills the cache; export recreates the file from it,
for example after a run that was interrupted before the file was
complete, or on a machine that only has the database.

Examples:
  # Export to the default location under the XDG data directory
  geoscrape export Hungary

  # Export to an explicit file
  geoscrape export -o hungary.geojson Hungary`,
		Args: cobra.ExactArgs(1),
		RunE: runExportCmd,
	}

	// Database flags
	cmd.Flags().String("mongo-uri", config.DefaultMongoURI,
		"MongoDB connection URI")
	cmd.Flags().String("mongo-db", config.DefaultMongoDatabase,
		"MongoDB database name")

	// Output flags
	cmd.Flags().StringP("output", "o", "",
		"Output file path (default <output-dir>/<Country>.geojson)")
	cmd.Flags().String("output-dir", "",
		"Directory for the output file (default XDG data directory)")

	return cmd
}

// runExportCmd executes the export command.
func runExportCmd(cmd *cobra.Command, args []string) error {
	country := args[0]

	// Get flag values
	mongoURI, err := cmd.Flags().GetString("mongo-uri")
	if err != nil {
		return err
	}

	mongoDatabase, err := cmd.Flags().GetString("mongo-db")
	if err != nil {
		return err
	}

	outputFile, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	outputDir, err := cmd.Flags().GetString("output-dir")
	if err != nil {
		return err
	}

	if outputFile == "" {
		if outputDir == "" {
			outputDir = config.XDGDataDir()
		}
		outputFile = filepath.Join(outputDir, wikimapia.CountrySlug(country)+".geojson")
	}

	// Set up structured logging
	logger := setupLogger(getVerboseFlag(cmd))
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, cancelling...")
		cancel()
	}()

	store, err := storage.Open(ctx, mongoURI, mongoDatabase, storage.WithStoreLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB at %s: %w", mongoURI, err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Error("failed to close MongoDB connection", "error", err)
		}
	}()

	return exportCountry(ctx, store, country, outputFile)
}

// exportCountry streams the country's cached features into a GeoJSON file.
func exportCountry(ctx context.Context, store *storage.Store, country, path string) error {
	features, err := store.FindByCountry(ctx, country)
	if err != nil {
		return fmt.Errorf("failed to read cached features: %w", err)
	}
	if len(features) == 0 {
		return fmt.Errorf("no cached features for %s (run 'geoscrape scrape %s' first)", country, country)
	}

	writer, err := report.NewGeoJSONFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	for _, feature := range features {
		if err := writer.WriteFeature(ctx, feature); err != nil {
			_ = writer.Close() //nolint:errcheck // Best effort cleanup
			return fmt.Errorf("failed to write feature: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize output: %w", err)
	}

	fmt.Printf("Exported %d features to %s\n", writer.Count(), writer.Path())
	return nil
}
