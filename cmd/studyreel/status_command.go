package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"studyreel/internal/daemonctl"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withControl(func(ctl *daemonctl.Control) error {
				report, err := ctl.Status(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				fmt.Fprintln(out, renderSectionHeader("StudyReel", colorize))
				if report.DaemonRunning {
					fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "running", colorize))
				} else {
					fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
				}
				fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, report.LockPath, colorize))

				q := report.Queue
				rows := [][]string{
					{"queued", strconv.Itoa(q.Queued)},
					{"running", strconv.Itoa(q.Running)},
					{"succeeded", strconv.Itoa(q.Succeeded)},
					{"failed", strconv.Itoa(q.Failed)},
					{"cancelled", strconv.Itoa(q.Cancelled)},
					{"total", strconv.Itoa(q.Total)},
				}
				fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows, 1))
				return nil
			})
		},
	}
}
