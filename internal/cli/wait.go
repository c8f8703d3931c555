package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/me/blaze/pkg/model"
	"github.com/spf13/cobra"
)

func newWaitCmd() *cobra.Command {
	var (
		until    string
		interval time.Duration
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait <task_id>",
		Short: "Show the estimated wait time of a task",
		Long: `Print the best and worst case wait before a task starts executing.

With --until the command polls until the task reaches the given status
(READY or RUNNING) or fails. Committed tasks are released by the
server, so they cannot be waited for.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if until == "" {
				wt, err := client.WaitTime(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("wait time: %w", err)
				}
				fmt.Fprintf(out, "Task %d: %dms best, %dms worst\n", id, wt.BestMS, wt.WorstMS)
				return nil
			}

			target, err := model.ParseTaskStatus(until)
			if err != nil {
				return err
			}
			if target != model.TaskStatusReady && target != model.TaskStatusRunning {
				return fmt.Errorf("--until must be READY or RUNNING, got %s", target)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			v, err := pollStatus(ctx, id, target, interval)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Task %d: %s\n", id, v.Status)
			if v.Status == model.TaskStatusFailed {
				return fmt.Errorf("task %d failed: %s", id, v.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&until, "until", "", "Poll until the task reaches this status")
	cmd.Flags().DurationVar(&interval, "interval", 200*time.Millisecond, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Give up after this long")
	return cmd
}

// pollStatus returns once the task is at or past target, or has failed.
func pollStatus(ctx context.Context, id int64, target model.TaskStatus, interval time.Duration) (model.TaskView, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		v, err := client.Task(ctx, id)
		if err != nil {
			return v, fmt.Errorf("get task: %w", err)
		}
		if v.Status == model.TaskStatusFailed || v.Status >= target {
			return v, nil
		}
		logger.Debug("waiting", "task_id", id, "status", v.Status, "target", target)

		select {
		case <-ctx.Done():
			return v, fmt.Errorf("task %d still %s: %w", id, v.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}
