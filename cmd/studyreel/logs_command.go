package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"studyreel/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := logs.NewClient(cfg)
			if err != nil {
				return err
			}
			tail, err := client.Tail(cmd.Context(), lines)
			if err != nil {
				if errors.Is(err, logs.ErrAPIUnavailable) {
					return fmt.Errorf("daemon is not reachable at %s; start it with `studyreel daemon`", cfg.Paths.APIBind)
				}
				return err
			}
			out := cmd.OutOrStdout()
			if len(tail) == 0 {
				fmt.Fprintln(out, "No log lines retained yet")
				return nil
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 200, "Number of lines to fetch")
	return cmd
}
