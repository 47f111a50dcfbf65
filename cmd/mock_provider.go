package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/notifyrelay/internal/config"
	"github.com/shaharia-lab/notifyrelay/internal/logger"
	"github.com/shaharia-lab/notifyrelay/internal/mockprovider"
)

// NewMockProviderCmd returns the "mock-provider" subcommand that runs a
// flaky stand-in for the notification provider.
func NewMockProviderCmd(cfg *config.AppConfig) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "mock-provider",
		Short: "Run a mock notification provider",
		Long: `Run a mock provider on POST /send. About 30% of calls are rate limited (429),
5% fail with 500, 20% succeed after a 5 second delay and the rest succeed at once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("port") {
				cfg.MockProviderPort = port
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			p := mockprovider.New(mockprovider.Options{
				Port:   cfg.MockProviderPort,
				Logger: logger.New(os.Stderr, cfg.SlogLevel()),
			})
			return p.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", cfg.MockProviderPort, "HTTP port (overrides MOCK_PROVIDER_PORT env var)")
	return cmd
}
