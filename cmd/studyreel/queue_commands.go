package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"studyreel/internal/daemonctl"
	"studyreel/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFilters(statusFilters)
			if err != nil {
				return err
			}
			return ctx.withControl(func(ctl *daemonctl.Control) error {
				jobs, err := ctl.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						string(job.InputKind),
						jobTitle(job),
						string(job.Status),
						job.CurrentStage,
						fmt.Sprintf("%.0f%%", job.ProgressPercent),
						job.CreatedAt.Local().Format(time.RFC3339),
					})
				}
				table := renderTable(
					[]string{"ID", "Kind", "Title", "Status", "Stage", "Progress", "Created"},
					rows,
					5,
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Filter by status (queued, running, succeeded, failed, cancelled)")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Requeue failed jobs (all failed jobs when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withControl(func(ctl *daemonctl.Control) error {
				updated, err := ctl.Retry(cmd.Context(), args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s)\n", updated)
				return nil
			})
		},
	}
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withControl(func(ctl *daemonctl.Control) error {
				status, err := ctl.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if status == queue.StatusCancelled {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s flagged for cancellation (status %s)\n", args[0], status)
				}
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a job record and its working directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withControl(func(ctl *daemonctl.Control) error {
				if err := ctl.Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every job record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withControl(func(ctl *daemonctl.Control) error {
				removed, err := ctl.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s)\n", removed)
				return nil
			})
		},
	}
}

func parseStatusFilters(filters []string) ([]queue.Status, error) {
	statuses := make([]queue.Status, 0, len(filters))
	for _, raw := range filters {
		status, ok := queue.ParseStatus(strings.TrimSpace(raw))
		if !ok {
			return nil, fmt.Errorf("unknown status %q", raw)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func jobTitle(job *queue.Job) string {
	if job.Topic != "" {
		return job.Topic
	}
	if job.DocumentPath != "" {
		return filepath.Base(job.DocumentPath)
	}
	return ""
}
