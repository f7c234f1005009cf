package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/spf13/cobra"
)

//go:embed templates/arbiter.yaml
var settingsTemplate embed.FS

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an arbiter settings file",
		Long: `Init writes a commented arbiter.yaml settings file.

The generated file covers:
- External tool paths (subfinder, naabu, nuclei, s3enum)
- DNS resolvers
- The GitHub token used for code search
- Word list overrides

Examples:
  # Create arbiter.yaml in the current directory
  arbiter init

  # Create the file in the XDG config directory
  arbiter init -o ~/.config/arbiter/arbiter.yaml

  # Force overwrite an existing file
  arbiter init -f`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", config.DefaultConfigFile,
		"Output file path for the settings file")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite an existing settings file")

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

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("settings file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := settingsTemplate.ReadFile("templates/arbiter.yaml")
	if err != nil {
		return fmt.Errorf("failed to read settings template: %w", err)
	}

	dir := filepath.Dir(outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// The file may end up holding a GitHub token.
	if err := os.WriteFile(outputPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created settings file: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit this file to configure:")
	fmt.Fprintln(out, "  - Paths of external tools and which are required")
	fmt.Fprintln(out, "  - DNS resolvers")
	fmt.Fprintln(out, "  - GitHub token for code search")

	return nil
}
