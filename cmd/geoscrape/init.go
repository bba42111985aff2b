package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

//go:embed templates/geoscrape.yaml
var configTemplate embed.FS

// configFileName is the default configuration file name.
const configFileName = ".geoscrape"

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new geoscrape configuration file",
		Long: `Initialize creates a new .geoscrape configuration file in the current directory.

The generated file includes:
- A defaults section applied to every country
- Commented examples for country-specific overrides
- Documentation for all available options

Examples:
  # Create .geoscrape in current directory
  geoscrape init

  # Create config file at a specific path
  geoscrape init -o myconfig.yaml

  # Force overwrite existing file
  geoscrape init -f`,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", configFileName,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	// Check if file already exists
	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	// Read template from embedded filesystem
	content, err := configTemplate.ReadFile("templates/geoscrape.yaml")
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	// Create parent directories if needed
	dir := filepath.Dir(outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Write configuration file
	if err := os.WriteFile(outputPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	fmt.Printf("Created configuration file: %s\n", outputPath)
	fmt.Println("\nEdit this file to configure country-specific settings such as:")
	fmt.Println("  - Content language per country")
	fmt.Println("  - Catalog depth and place caps")
	fmt.Println("  - Authentication cookies and headers")
	fmt.Println("  - URL patterns to skip during the catalog walk")

	return nil
}
