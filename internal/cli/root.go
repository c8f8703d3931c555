package cli

import (
	"log/slog"
	"os"

	"github.com/me/blaze/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking BLAZE_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("BLAZE_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the blaze CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blaze",
		Short: "blaze task admission client",
		Long:  "blaze submits tasks, announces ready input partitions and collects outputs from a blaze server.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "blaze server URL (or BLAZE_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "auto", "Log format (text, json, auto)")

	root.AddCommand(
		newHealthCmd(),
		newQueueCmd(),
		newSubmitCmd(),
		newReadyCmd(),
		newWaitCmd(),
		newStatusCmd(),
		newOutputCmd(),
		newExecutionsCmd(),
	)

	return root
}
