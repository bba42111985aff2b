package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/geoscrape/geoscrape/internal/config"
	"github.com/geoscrape/geoscrape/internal/journal"
	"github.com/geoscrape/geoscrape/internal/report"
	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the history command.
// This command inspects past runs recorded in the local journal.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [country]",
		Short: "Show past scrape runs recorded in the journal",
		Long: `History displays scrape runs recorded in the local journal.

Every scrape run is journaled: when it started, how many places it
found, how many features it wrote, and whether it finished, failed, or
was skipped because cached data was still fresh.

Without arguments, history lists the most recent runs across all
countries. With a country name it lists that country's runs, newest
first.

Examples:
  # Show recent runs across all countries
  geoscrape history

  # Show runs for a single country
  geoscrape history Hungary

  # Show the latest run summary for a country
  geoscrape history --latest Hungary

  # Print the latest summary as JSON
  geoscrape history --latest --json Hungary

  # List all countries with recorded runs
  geoscrape history --countries`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	// Listing flags
	cmd.Flags().BoolP("countries", "C", false,
		"List all countries with recorded runs")
	cmd.Flags().IntP("limit", "n", 0,
		"Maximum number of runs to list (0 uses the journal default)")

	// Summary flags
	cmd.Flags().BoolP("latest", "l", false,
		"Show the latest run summary for the specified country")
	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output the latest summary in Markdown format")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	listCountries, err := cmd.Flags().GetBool("countries")
	if err != nil {
		return err
	}

	latest, err := cmd.Flags().GetBool("latest")
	if err != nil {
		return err
	}

	// Validate arguments before opening the journal
	if latest && len(args) == 0 {
		return errors.New("a country name is required with --latest")
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}

	// The journal lives in the XDG data directory
	jnl, err := journal.Open(config.XDGDataDir(), journal.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer jnl.Close()

	ctx := context.Background()

	if listCountries {
		return listJournaledCountries(ctx, jnl)
	}

	if latest {
		return showLatestSummary(ctx, jnl, args[0], jsonOutput, markdownOutput)
	}

	if len(args) > 0 {
		return listCountryRuns(ctx, jnl, args[0])
	}

	return listRecentRuns(ctx, jnl, limit, jsonOutput)
}

// listJournaledCountries lists all countries that have recorded runs.
func listJournaledCountries(ctx context.Context, jnl *journal.Journal) error {
	countries, err := jnl.Countries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list countries: %w", err)
	}

	if len(countries) == 0 {
		fmt.Println("No runs recorded yet.")
		fmt.Println("\nUse 'geoscrape scrape <country>' to scrape a country.")
		return nil
	}

	fmt.Printf("Countries with recorded runs (%d):\n\n", len(countries))
	for _, country := range countries {
		fmt.Printf("  • %s\n", country)
	}
	fmt.Println("\nUse 'geoscrape history <country>' to see runs for a country.")

	return nil
}

// listRecentRuns lists the most recent runs across all countries.
func listRecentRuns(ctx context.Context, jnl *journal.Journal, limit int, jsonOutput bool) error {
	runs, err := jnl.RecentRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		fmt.Println("\nUse 'geoscrape scrape <country>' to scrape a country.")
		return nil
	}

	fmt.Printf("Recent runs (%d):\n\n", len(runs))
	printRunTable(runs)

	fmt.Println("\nUse 'geoscrape history <country>' to see runs for a single country.")
	fmt.Println("Use 'geoscrape history --latest <country>' for the full latest summary.")

	return nil
}

// listCountryRuns lists all runs recorded for a specific country.
func listCountryRuns(ctx context.Context, jnl *journal.Journal, country string) error {
	runs, err := jnl.RunsForCountry(ctx, country)
	if err != nil {
		return fmt.Errorf("failed to get run history: %w", err)
	}

	if len(runs) == 0 {
		fmt.Printf("No runs recorded for %s\n", country)
		fmt.Println("\nUse 'geoscrape scrape' to scrape this country.")
		return nil
	}

	fmt.Printf("Run history for %s (%d runs):\n\n", country, len(runs))
	printRunTable(runs)

	fmt.Println("\nUse 'geoscrape history --latest <country>' for the full latest summary.")

	return nil
}

// printRunTable prints run records as an aligned table.
func printRunTable(runs []journal.RunRecord) {
	fmt.Printf("  %-6s  %-20s  %-20s  %-10s  %9s  %9s\n",
		"ID", "Country", "Started", "Status", "Features", "Failures")
	fmt.Println("  " + strings.Repeat("-", 84))

	for _, run := range runs {
		fmt.Printf("  %-6d  %-20s  %-20s  %-10s  %9d  %9d\n",
			run.ID,
			run.Country,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.Status,
			run.FeaturesWritten,
			run.Failures,
		)
	}
}

// showLatestSummary prints the stored summary of a country's latest
// finished run.
func showLatestSummary(ctx context.Context, jnl *journal.Journal, country string, jsonOutput, markdownOutput bool) error {
	summary, err := jnl.LatestSummary(ctx, country)
	if err != nil {
		return fmt.Errorf("failed to load latest summary: %w", err)
	}
	if summary == nil {
		return fmt.Errorf("no finished runs recorded for %s", country)
	}

	var writer report.SummaryWriter
	switch {
	case jsonOutput:
		writer = report.NewJSONWriter(os.Stdout, report.WithPrettyPrint())
	case markdownOutput:
		writer = report.NewMarkdownWriter(os.Stdout)
	default:
		writer = report.NewSimpleWriter(os.Stdout, report.WithVerbose(true))
	}

	if _, err := writer.WriteSummary(summary); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
