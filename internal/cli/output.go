package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newOutputCmd() *cobra.Command {
	var (
		all  bool
		dest string
	)

	cmd := &cobra.Command{
		Use:   "output <task_id>",
		Short: "Pop output blocks of an executed task",
		Long:  "Pop one output block (or all of them with --all). The task is committed and released once its last block is popped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			var f *os.File
			if dest != "" {
				if f, err = os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
					return fmt.Errorf("open output file: %w", err)
				}
				defer f.Close()
			}

			out := cmd.OutOrStdout()
			for {
				o, err := client.Output(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("output: %w", err)
				}
				if o.Block == nil {
					fmt.Fprintf(out, "Task %d: no output (%s)\n", id, o.Status)
					return nil
				}
				fmt.Fprintf(out, "Block %d: length=%d items=%d size=%s\n",
					o.Block.PartitionID, o.Block.Length, o.Block.NumItems, humanize.Bytes(uint64(len(o.Block.Data))))
				if f != nil {
					if _, err := f.Write(o.Block.Data); err != nil {
						return fmt.Errorf("write output: %w", err)
					}
				}
				if !o.HasMore {
					fmt.Fprintf(out, "Task %d: %s\n", id, o.Status)
					return nil
				}
				if !all {
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Pop every remaining block")
	cmd.Flags().StringVarP(&dest, "out", "o", "", "Append raw block data to this file")
	return cmd
}
