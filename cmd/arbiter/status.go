package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/phase"
	"github.com/nao1215/arbiter/internal/session"
	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <target>",
		Short: "Show the saved session of a domain",
		Long: `Status prints what the saved session of a domain contains: its mode,
which phases are completed and which are still pending, how many records
each collection holds, and the history of runs. The session is not modified.`,
		Args: cobra.ExactArgs(1),
		RunE: runStatusCmd,
	}

	cmd.Flags().String("data-dir", config.XDGSessionDir(),
		"Directory holding session stores")

	return cmd
}

// runStatusCmd executes the status command.
func runStatusCmd(cmd *cobra.Command, args []string) error {
	dataDir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return err
	}

	sess, err := session.Load(cmd.Context(), dataDir, args[0], setupLogger(cmd, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer sess.Close()

	snapshot, err := sess.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}

	reg, err := phase.NewRegistry(&phase.Deps{})
	if err != nil {
		return err
	}
	writeStatus(cmd.OutOrStdout(), snapshot, reg.Pending(snapshot.CompletedPhases))
	return nil
}

// writeStatus prints a snapshot as aligned key/value lines.
func writeStatus(w io.Writer, snapshot *model.Snapshot, pending []string) {
	fmt.Fprintf(w, "Target:    %s\n", snapshot.Domain)
	fmt.Fprintf(w, "Mode:      %s\n", snapshot.Mode)
	fmt.Fprintf(w, "Grade:     %s\n", snapshot.Grade())
	fmt.Fprintf(w, "Completed: %s\n", orNone(snapshot.CompletedPhases))
	fmt.Fprintf(w, "Pending:   %s\n\n", orNone(pending))

	fmt.Fprintln(w, "Collections:")
	fmt.Fprintf(w, "  subdomains       %d\n", len(snapshot.Subdomains))
	fmt.Fprintf(w, "  live_hosts       %d\n", len(snapshot.LiveHosts))
	fmt.Fprintf(w, "  vulnerabilities  %d\n", len(snapshot.Vulnerabilities))
	fmt.Fprintf(w, "  address_ranges   %d\n", len(snapshot.AddressRanges))
	fmt.Fprintf(w, "  crawled_urls     %d\n", len(snapshot.CrawledURLs))
	fmt.Fprintf(w, "  endpoints        %d\n", len(snapshot.Endpoints))
	fmt.Fprintf(w, "  cloud_assets     %d\n", len(snapshot.CloudAssets))

	if len(snapshot.Runs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nRuns:")
	for _, r := range snapshot.Runs {
		fmt.Fprintf(w, "  %s  %-8s  %-11s  %s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.Mode, r.Status, r.ID)
	}
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
