package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nao1215/arbiter/internal/log"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for arbiter.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arbiter",
		Short: "Resumable reconnaissance pipeline for a single domain",
		Long: `arbiter maps the external attack surface of a domain.

A scan runs a fixed sequence of phases (subdomain discovery, DNS
forensics, probing, crawling, cloud and mail checks, secret hunting,
content discovery) and records every result in a durable per-domain
session. An interrupted scan continues where it stopped with --resume.

Traffic can be routed through a SOCKS5 proxy (--proxy) or an embedded
Tor daemon (--tor).`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON lines")

	cmd.AddCommand(NewScanCmd())
	cmd.AddCommand(NewPurgeCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewPhasesCmd())
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

// getBoolFlag retrieves a flag from the command or the root's persistent flags.
func getBoolFlag(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetBool(name)
		if err != nil {
			return false
		}
	}
	return v
}

// setupLogger creates the redacting logger selected by the global flags.
func setupLogger(cmd *cobra.Command, w io.Writer) *slog.Logger {
	verbose := getBoolFlag(cmd, "verbose")
	if getBoolFlag(cmd, "log-json") {
		return log.NewSecureJSONLogger(w, verbose)
	}
	return log.NewSecureLogger(w, verbose)
}
