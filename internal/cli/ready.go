package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/me/blaze/pkg/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// dataMsgFile is the YAML form of a data-ready message.
type dataMsgFile struct {
	PartitionID int64  `yaml:"partition_id"`
	Length      *int64 `yaml:"length"`
	Size        *int64 `yaml:"size"`
	NumItems    *int64 `yaml:"num_items"`
	Offset      *int64 `yaml:"offset"`
	Path        string `yaml:"path"`
	BVal        *int64 `yaml:"bval"`
}

func (f dataMsgFile) msg() *model.DataMsg {
	return &model.DataMsg{
		PartitionID: f.PartitionID,
		Length:      f.Length,
		Size:        f.Size,
		NumItems:    f.NumItems,
		Offset:      f.Offset,
		Path:        f.Path,
		BVal:        f.BVal,
	}
}

func readDataMsgFile(path string) (*model.DataMsg, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	var f dataMsgFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return f.msg(), nil
}

func newReadyCmd() *cobra.Command {
	var (
		file, path                                      string
		partition, length, size, offset, numItems, bval int64
	)

	cmd := &cobra.Command{
		Use:   "ready <task_id>",
		Short: "Announce that an input partition can be hydrated",
		Long: `Send a data-ready message for one input partition of a task.

Broadcast partitions (negative ids) carry either --bval or --length/--path.
Partitioned inputs are read from --path; --length -1 streams the file
line by line starting at --offset for --size bytes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			var msg *model.DataMsg
			if file != "" {
				if msg, err = readDataMsgFile(file); err != nil {
					return err
				}
			} else {
				if !cmd.Flags().Changed("partition") {
					return fmt.Errorf("--partition or --file is required")
				}
				msg = &model.DataMsg{PartitionID: partition, Path: path}
				flags := cmd.Flags()
				set := func(name string, v int64) *int64 {
					if flags.Changed(name) {
						return model.Int64(v)
					}
					return nil
				}
				msg.Length = set("length", length)
				msg.Size = set("size", size)
				msg.Offset = set("offset", offset)
				msg.NumItems = set("num-items", numItems)
				msg.BVal = set("bval", bval)
			}

			b, err := client.DataReady(cmd.Context(), id, msg)
			if err != nil {
				return fmt.Errorf("data ready: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Partition %d of task %d: ready=%t length=%d items=%d size=%s\n",
				b.PartitionID, id, b.Ready, b.Length, b.NumItems, humanize.Bytes(uint64(max(b.Size, 0))))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file holding the message")
	cmd.Flags().Int64Var(&partition, "partition", 0, "Partition id (negative for broadcast)")
	cmd.Flags().Int64Var(&length, "length", 0, "Number of elements (-1 to stream a text file)")
	cmd.Flags().Int64Var(&size, "size", 0, "Size in bytes")
	cmd.Flags().Int64Var(&offset, "offset", 0, "Byte offset into the source")
	cmd.Flags().Int64Var(&numItems, "num-items", 0, "Number of items")
	cmd.Flags().Int64Var(&bval, "bval", 0, "Broadcast scalar value")
	cmd.Flags().StringVar(&path, "path", "", "Source path or URL (file://, hdfs://, ...)")
	return cmd
}
