package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// rootOptions — флаги, общие для всех команд.
type rootOptions struct {
	apiURL   string
	token    string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "oms-console",
		Short: "Order admin console for the OMS API",
		Long: `oms-console serves the order admin console API and runs one-off
item status updates against the OMS REST API.

Settings are read from OMS_* environment variables; flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api-url", "", "OMS API base URL (env OMS_API_URL)")
	flags.StringVar(&opts.token, "token", "", "OMS API bearer token (env OMS_API_TOKEN)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (env OMS_LOG_LEVEL)")

	rootCmd.AddCommand(
		serveCmd(opts),
		itemStatusCmd(opts),
		orderCmd(opts),
		ordersCmd(opts),
		versionCmd(),
	)
	return rootCmd
}
