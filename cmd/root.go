// Package cmd holds the notifyrelay command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/notifyrelay/internal/config"
)

// NewRootCmd returns the root command with every subcommand attached.
func NewRootCmd(cfg *config.AppConfig) *cobra.Command {
	root := &cobra.Command{
		Use:           "notifyrelay",
		Short:         "Resilient notification dispatch relay",
		Long:          "notifyrelay accepts email and SMS notifications over HTTP, queues them durably and delivers them to a provider with retries and a circuit breaker.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(NewServeCmd(cfg))
	root.AddCommand(NewMockProviderCmd(cfg))
	root.AddCommand(NewVersionCmd())
	return root
}

// Execute loads the configuration and runs the root command.
func Execute() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := NewRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
