package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geoscrape/geoscrape/internal/config"
	"github.com/geoscrape/geoscrape/internal/crawler"
	"github.com/geoscrape/geoscrape/internal/model"
	"github.com/geoscrape/geoscrape/internal/report"
	"github.com/geoscrape/geoscrape/internal/tor"
	"github.com/geoscrape/geoscrape/internal/wikimapia"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewPlaceCmd creates the place command.
func NewPlaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "place <url-or-id>...",
		Short: "Scrape individual places and print them as GeoJSON",
		Long: `Place scrapes individual place pages, given by URL or numeric
identifier, and prints them as a GeoJSON FeatureCollection on standard
output. No catalog walk, no database, no output files.

Fetches go through the Tor network exactly like a full scrape. With
--api the place details come from the Wikimapia API instead of the HTML
page, which adds polygon geometry when the place has one.

Examples:
  # Scrape one place by identifier
  geoscrape place 12345

  # Scrape by URL and pipe into another tool
  geoscrape place https://wikimapia.org/12345/Heroes-Square | jq .

  # Several places through the API
  geoscrape place --api --api-key YOUR_KEY 12345 67890`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPlaceCmd,
	}

	// Tor connection flags
	cmd.Flags().String("tor-proxy", config.DefaultTorProxyAddress,
		"Tor SOCKS5 proxy address")
	cmd.Flags().BoolP("embedded-tor", "e", false,
		"Start an embedded Tor daemon instead of using an external proxy")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")

	// Fetch behavior flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Connection timeout for each request")
	cmd.Flags().Duration("delay", config.DefaultCrawlDelay,
		"Minimum delay between requests")
	cmd.Flags().Int("retries", config.DefaultMaxRetries,
		"Maximum retries per page fetch")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header sent with every request")
	cmd.Flags().StringP("language", "l", config.DefaultLanguage,
		"Content language as a BCP 47 tag")

	// API mode flags
	cmd.Flags().Bool("api", false,
		"Fetch place details from the Wikimapia API instead of parsing pages")
	cmd.Flags().String("api-key", config.DefaultAPIKey,
		"Wikimapia API key")
	cmd.Flags().String("api-url", config.DefaultAPIBaseURL,
		"Wikimapia API endpoint")
	cmd.Flags().String("base-url", config.DefaultBaseURL,
		"Wikimapia site URL")

	return cmd
}

// runPlaceCmd executes the place command.
func runPlaceCmd(cmd *cobra.Command, args []string) error {
	// Build config from flags
	cfg, err := buildPlaceConfig(cmd)
	if err != nil {
		return err
	}

	// Set up structured logging
	verbose := getVerboseFlag(cmd)
	cfg.Verbose = verbose
	logger := setupLogger(verbose)
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

	var client *tor.Client
	var embeddedTor *tor.EmbeddedTor

	if cfg.UseEmbeddedTor {
		// Start a private Tor daemon
		client, embeddedTor, err = startEmbeddedTor(ctx, cfg, logger)
		if err != nil {
			return err
		}
		// Ensure cleanup on exit
		defer func() {
			logger.Info("stopping embedded Tor daemon...")
			if err := embeddedTor.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor", "error", err)
			}
		}()
	} else {
		// Use the external Tor proxy (default)
		client, err = tor.NewClient(cfg.TorProxyAddress, cfg.Timeout)
		if err != nil {
			return fmt.Errorf("failed to create Tor client: %w", err)
		}

		status := client.CheckConnection(ctx)
		if status != tor.ProxyStatusOK {
			return fmt.Errorf("tor proxy check failed: %s (make sure Tor is running at %s)",
				status, cfg.TorProxyAddress)
		}

		logger.Info("Tor proxy connection verified",
			"address", cfg.TorProxyAddress,
		)
	}

	return runPlaces(ctx, cfg, client, logger, args)
}

// buildPlaceConfig creates a Config from place command flags. The place
// command has no country arguments, so the full Validate is skipped.
func buildPlaceConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()

	// Get flag values
	var err error

	cfg.TorProxyAddress, err = cmd.Flags().GetString("tor-proxy")
	if err != nil {
		return nil, err
	}

	cfg.UseEmbeddedTor, err = cmd.Flags().GetBool("embedded-tor")
	if err != nil {
		return nil, err
	}

	cfg.TorStartupTimeout, err = cmd.Flags().GetDuration("tor-timeout")
	if err != nil {
		return nil, err
	}

	cfg.Timeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}

	cfg.CrawlDelay, err = cmd.Flags().GetDuration("delay")
	if err != nil {
		return nil, err
	}

	cfg.MaxRetries, err = cmd.Flags().GetInt("retries")
	if err != nil {
		return nil, err
	}

	cfg.UserAgent, err = cmd.Flags().GetString("user-agent")
	if err != nil {
		return nil, err
	}

	cfg.Language, err = cmd.Flags().GetString("language")
	if err != nil {
		return nil, err
	}

	cfg.UseAPI, err = cmd.Flags().GetBool("api")
	if err != nil {
		return nil, err
	}

	cfg.APIKey, err = cmd.Flags().GetString("api-key")
	if err != nil {
		return nil, err
	}

	cfg.APIBaseURL, err = cmd.Flags().GetString("api-url")
	if err != nil {
		return nil, err
	}

	cfg.BaseURL, err = cmd.Flags().GetString("base-url")
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// runPlaces scrapes each target and streams the features to stdout.
// Targets fail independently; the command only errors when nothing at
// all could be scraped.
func runPlaces(ctx context.Context, cfg *config.Config, client *tor.Client, logger *slog.Logger, targets []string) error {
	var api *wikimapia.APIClient
	var fetcher *crawler.Fetcher

	if cfg.UseAPI {
		var err error
		api, err = wikimapia.NewAPIClient(client.HTTPClient(), cfg.APIBaseURL, cfg.APIKey, cfg.Language)
		if err != nil {
			return fmt.Errorf("failed to create API client: %w", err)
		}
	} else {
		fetcher = crawler.NewFetcher(client.HTTPClient(),
			crawler.WithUserAgent(cfg.UserAgent),
			crawler.WithMaxBodySize(cfg.MaxBodySize),
			crawler.WithDelay(cfg.CrawlDelay),
			crawler.WithMaxRetries(cfg.MaxRetries),
			crawler.WithFetchLogger(logger),
		)
	}

	// The FeatureCollection goes to stdout; everything else goes to
	// stderr so the output stays pipeable.
	writer := report.NewGeoJSONWriter(os.Stdout)
	runID := uuid.NewString()
	failures := 0

	for _, target := range targets {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		feature, err := scrapeSinglePlace(ctx, cfg, fetcher, api, target)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("place scrape failed", "target", target, "error", err)
			fmt.Fprintf(os.Stderr, "Cannot scrape %s: %v\n", target, err)
			failures++
			continue
		}

		feature.Stamp(runID, time.Now())
		if err := writer.WriteFeature(ctx, feature); err != nil {
			return fmt.Errorf("failed to write feature: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize output: %w", err)
	}

	if writer.Count() == 0 && failures > 0 {
		return fmt.Errorf("no places scraped, all %d targets failed", failures)
	}
	if failures > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d places failed\n", failures, len(targets))
	}
	return nil
}

// scrapeSinglePlace fetches one target and returns its feature. In API
// mode the place details come from the API; otherwise the HTML page is
// parsed.
func scrapeSinglePlace(ctx context.Context, cfg *config.Config, fetcher *crawler.Fetcher, api *wikimapia.APIClient, target string) (*model.Feature, error) {
	placeURL, err := resolvePlaceURL(cfg.BaseURL, target)
	if err != nil {
		return nil, err
	}

	if api != nil {
		return api.GetPlace(ctx, placeURL)
	}

	page, err := fetcher.Fetch(ctx, placeURL)
	if err != nil {
		return nil, err
	}
	if page.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("place page returned status %d", page.StatusCode)
	}

	place, err := wikimapia.ParsePlace(bytes.NewReader(page.Body), page.URL)
	if err != nil {
		return nil, err
	}
	return place.Feature, nil
}

// resolvePlaceURL turns a command line target into a fetchable place
// page URL. Numeric identifiers become canonical place URLs; anything
// else must already be a place page URL.
func resolvePlaceURL(baseURL, target string) (string, error) {
	if placeURL, err := wikimapia.PlaceURL(baseURL, target); err == nil {
		return placeURL, nil
	}
	if !wikimapia.IsPlaceURL(target) {
		return "", fmt.Errorf("not a place URL or numeric identifier: %q", target)
	}
	return target, nil
}
