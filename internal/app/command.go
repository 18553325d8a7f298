package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the queue-router command line
func NewRootCommand(version string) *cobra.Command {
	opts := RunOptions{Version: version}

	root := &cobra.Command{
		Use:   "queue-router",
		Short: "Routes messages between broker queues by content",
		Long: `queue-router consumes every configured input queue with a pool of competing
workers and delivers each message transactionally to the output queues selected
by its content. The configuration document is read from CONFIG_FILE and the broker
credentials from CREDENTIALS_FILE unless overridden by flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunc(opts)
		},
	}

	root.Flags().StringVar(&opts.ConfigFile, "config", "", "path of the configuration document (overrides CONFIG_FILE)")
	root.Flags().StringVar(&opts.CredentialsFile, "credentials", "", "path of the broker credentials secret (overrides CREDENTIALS_FILE)")
	root.Flags().IntVar(&opts.Port, "port", 0, "HTTP port for probes and metrics (overrides http.port)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return root
}

var runFunc = Run
