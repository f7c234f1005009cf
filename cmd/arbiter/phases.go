package main

import (
	"fmt"

	"github.com/nao1215/arbiter/internal/phase"
	"github.com/spf13/cobra"
)

// NewPhasesCmd creates the phases command.
func NewPhasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phases",
		Short: "List the scan phases in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := phase.NewRegistry(&phase.Deps{})
			if err != nil {
				return err
			}
			for i, name := range reg.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d. %s\n", i+1, name)
			}
			return nil
		},
	}
}
