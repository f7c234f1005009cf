package main

import (
	"fmt"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/session"
	"github.com/spf13/cobra"
)

// NewPurgeCmd creates the purge command.
func NewPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <target>",
		Short: "Delete the saved session and reports of a domain",
		Long: `Purge deletes everything arbiter stored about a domain: the session
store in the data directory and the report directory under the output
directory. Purging a domain that was never scanned succeeds.

Examples:
  arbiter purge example.com
  arbiter purge example.com --data-dir ./sessions --output-dir ./reports`,
		Args: cobra.ExactArgs(1),
		RunE: runPurgeCmd,
	}

	cmd.Flags().String("data-dir", config.XDGSessionDir(),
		"Directory holding session stores")
	cmd.Flags().StringP("output-dir", "o", config.DefaultOutputDir,
		"Directory reports are written under")

	return cmd
}

// runPurgeCmd executes the purge command.
func runPurgeCmd(cmd *cobra.Command, args []string) error {
	domain, err := model.NormalizeDomain(args[0])
	if err != nil {
		return fmt.Errorf("%w: %q", config.ErrInvalidTarget, args[0])
	}
	dataDir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return err
	}
	outputDir, err := cmd.Flags().GetString("output-dir")
	if err != nil {
		return err
	}

	if err := session.Purge(cmd.Context(), dataDir, outputDir, domain); err != nil {
		return fmt.Errorf("failed to purge %s: %w", domain, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged scan data for %s\n", domain)
	return nil
}
