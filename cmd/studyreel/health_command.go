package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"studyreel/internal/daemonctl"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the external dependencies of each pipeline stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withControl(func(ctl *daemonctl.Control) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				fmt.Fprintln(out, renderSectionHeader("Pipeline health", colorize))
				degraded := 0
				for _, check := range ctl.HealthChecks(cmd.Context()) {
					kind := statusOK
					message := "ready"
					if !check.Ready {
						kind = statusWarn
						message = check.Detail
						degraded++
					}
					fmt.Fprintln(out, renderStatusLine(check.Name, kind, message, colorize))
				}
				if degraded > 0 {
					fmt.Fprintf(out, "\n%d stage(s) degraded; affected jobs fall back or skip where possible\n", degraded)
				}
				return nil
			})
		},
	}
}
