package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"studyreel/internal/daemonctl"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention pass over terminal jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withControl(func(ctl *daemonctl.Control) error {
				removed, err := ctl.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Swept %d expired job(s)\n", removed)
				return nil
			})
		},
	}
}
