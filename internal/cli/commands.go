package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func parseTaskID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:   %s\n", h.Status)
			fmt.Fprintf(out, "Version:  %s (%s)\n", h.Version, h.GoVersion)
			fmt.Fprintf(out, "Uptime:   %s\n", h.Uptime)
			fmt.Fprintf(out, "Platform: %s\n", h.Platform)
			fmt.Fprintf(out, "Store:    %s\n", h.Store)
			return nil
		},
	}
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show execution queue length and wait counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := client.Queue(cmd.Context())
			if err != nil {
				return fmt.Errorf("queue: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Execution queue: %d\n", q.ExeQueueLength)
			fmt.Fprintf(out, "Pending tasks:   %d in %d app queues\n", q.PendingTasks, q.AppQueues)
			fmt.Fprintf(out, "Lobby wait:      %dms\n", q.LobbyWaitMS)
			fmt.Fprintf(out, "Door wait:       %dms\n", q.DoorWaitMS)
			fmt.Fprintf(out, "Delay delta:     %dms\n", q.DeltaDelayMS)
			return nil
		},
	}
}

func newSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <app_id> <partition_id>...",
		Short: "Create and enqueue a task",
		Long:  "Create a task for an application. Negative partition ids are broadcast inputs shared by every task of the application.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appID := args[0]
			pids := make([]int64, 0, len(args)-1)
			for _, a := range args[1:] {
				pid, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid partition id %q", a)
				}
				pids = append(pids, pid)
			}

			res, err := client.Submit(cmd.Context(), appID, pids)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			logger.Info("task submitted", "task_id", res.Task.ID, "app_id", appID)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task created: %d\n", res.Task.ID)
			fmt.Fprintf(out, "  Status: %s (%d/%d inputs ready)\n", res.Task.Status, res.Task.NumReady, res.Task.NumInput)
			fmt.Fprintf(out, "  Wait:   %dms best, %dms worst\n", res.WaitTime.BestMS, res.WaitTime.WorstMS)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Show the status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			v, err := client.Task(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get task: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task: %d\n", v.ID)
			fmt.Fprintf(out, "  App:    %s\n", v.AppID)
			fmt.Fprintf(out, "  Status: %s\n", v.Status)
			fmt.Fprintf(out, "  Inputs: %d/%d ready\n", v.NumReady, v.NumInput)
			if v.Error != "" {
				fmt.Fprintf(out, "  Error:  %s\n", v.Error)
			}
			return nil
		},
	}
}
