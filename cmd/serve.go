package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/notifyrelay/internal/api"
	"github.com/shaharia-lab/notifyrelay/internal/breaker"
	"github.com/shaharia-lab/notifyrelay/internal/broadcast"
	"github.com/shaharia-lab/notifyrelay/internal/build"
	"github.com/shaharia-lab/notifyrelay/internal/config"
	"github.com/shaharia-lab/notifyrelay/internal/delivery"
	"github.com/shaharia-lab/notifyrelay/internal/dispatcher"
	"github.com/shaharia-lab/notifyrelay/internal/housekeeping"
	"github.com/shaharia-lab/notifyrelay/internal/logger"
	"github.com/shaharia-lab/notifyrelay/internal/metrics"
	"github.com/shaharia-lab/notifyrelay/internal/model"
	"github.com/shaharia-lab/notifyrelay/internal/queue"
	"github.com/shaharia-lab/notifyrelay/internal/retry"
	"github.com/shaharia-lab/notifyrelay/internal/server"
	"github.com/shaharia-lab/notifyrelay/internal/service"
	"github.com/shaharia-lab/notifyrelay/internal/storage"
)

// NewServeCmd returns the "serve" subcommand that runs the ingestion API,
// the dispatcher and the live event feed.
func NewServeCmd(cfg *config.AppConfig) *cobra.Command {
	var (
		port      int
		queueKind string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the notification relay",
		Long: `Start the notifyrelay HTTP server and dispatcher. Notifications posted to
/api/v1/notifications are queued and delivered to PROVIDER_URL; status changes
stream live on /events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// CLI flags override env config.
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("queue") {
				cfg.QueueBackend = queueKind
			}
			if cmd.Flags().Changed("workers") {
				cfg.DispatcherWorkers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logFile := filepath.Join(cfg.LogDir(), "system.log")
			if cfg.LogStdout {
				logFile = "stderr"
			}
			printBanner(cmd.OutOrStdout(), build.Version, fmt.Sprintf("http://localhost:%d", cfg.Port), logFile)

			if err := runServe(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "An error occurred. Please check the logs at: %s\n", logFile)
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", cfg.Port, "HTTP server port (overrides PORT env var)")
	cmd.Flags().StringVar(&queueKind, "queue", cfg.QueueBackend, "Queue backend: redis or memory (overrides QUEUE_BACKEND env var)")
	cmd.Flags().IntVar(&workers, "workers", cfg.DispatcherWorkers, "Concurrent dispatch loops (overrides DISPATCHER_WORKERS env var)")

	return cmd
}

func runServe(cfg *config.AppConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sysLogger, closeLog, err := newSystemLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = closeLog.Close() }()

	sysLogger.Info("notifyrelay starting",
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.String("queue", cfg.QueueBackend),
		slog.Int("workers", cfg.DispatcherWorkers),
		slog.String("version", build.Version),
		slog.String("commit", build.CommitSHA),
		slog.String("build_date", build.BuildDate),
	)

	m := metrics.New()

	q, err := openQueue(ctx, cfg)
	if err != nil {
		sysLogger.Error("opening queue", "error", err)
		return fmt.Errorf("opening queue: %w", err)
	}
	defer func() { _ = q.Close() }()

	db, fresh, err := storage.NewSQLiteDB(cfg.DBPath())
	if err != nil {
		sysLogger.Error("opening history database", "error", err)
		return fmt.Errorf("opening history database: %w", err)
	}
	defer func() { _ = db.Close() }()
	if fresh {
		sysLogger.Info("created history database", "path", cfg.DBPath())
	}
	history := storage.NewSQLiteHistoryStore(db)

	// The broadcaster outlives the dispatcher so the final transitions of a
	// shutdown still reach the history recorder.
	events := broadcast.New(sysLogger, broadcast.Options{
		Buffer:               cfg.ObserverBuffer,
		OnSubscribersChanged: m.SetObservers,
		OnEvicted:            m.ObserverEvicted,
	})
	eventsCtx, stopEvents := context.WithCancel(context.Background())
	defer stopEvents()

	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		events.Run(eventsCtx)
	}()
	go func() {
		defer background.Done()
		storage.NewRecorder(history, sysLogger).Run(eventsCtx, events)
	}()

	def, routes := buildTargets(cfg, m, sysLogger)
	disp, err := dispatcher.New(dispatcher.Config{
		Queue:        q,
		Default:      def,
		Routes:       routes,
		Policy:       retryPolicy(cfg),
		Publisher:    events,
		Logger:       sysLogger,
		Metrics:      m,
		PollInterval: cfg.QueuePollInterval,
		ErrorDelay:   cfg.QueueErrorDelay,
		Workers:      cfg.DispatcherWorkers,
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	keeper, err := housekeeping.New(housekeeping.Config{
		Queue:     q,
		History:   history,
		Metrics:   m,
		Logger:    sysLogger,
		Retention: cfg.HistoryRetention,
	})
	if err != nil {
		return fmt.Errorf("creating housekeeping scheduler: %w", err)
	}
	keeper.Start()
	defer func() {
		if err := keeper.Stop(); err != nil {
			sysLogger.Warn("stopping housekeeping", "error", err)
		}
	}()

	notificationSvc := service.NewNotificationService(q, history, events, m, sysLogger)
	apiSrv := api.New(notificationSvc, disp, events, sysLogger)
	srv := server.New(server.Config{
		API:            apiSrv,
		Queue:          q,
		Metrics:        m.Handler(),
		Port:           cfg.Port,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         sysLogger,
	})

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		disp.Run(ctx)
	}()

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(ctx) }()

	var runErr error
	srvDone := false
	select {
	case <-ctx.Done():
	case runErr = <-srvErr:
		srvDone = true
		cancel()
	}

	sysLogger.Info("shutting down")
	<-dispatched
	// Closing the observer streams lets the HTTP server finish draining.
	stopEvents()
	background.Wait()
	if !srvDone {
		runErr = <-srvErr
	}

	if runErr != nil {
		sysLogger.Error("server stopped with error", "error", runErr)
		return runErr
	}
	sysLogger.Info("notifyrelay stopped")
	return nil
}

// retryPolicy applies the configured overrides on top of the default policy.
func retryPolicy(cfg *config.AppConfig) retry.Policy {
	p := retry.Default()
	if cfg.RetryMaxAttempts > 0 {
		p.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		p.BaseDelay = cfg.RetryBaseDelay
	}
	return p
}

func newSystemLogger(cfg *config.AppConfig) (*slog.Logger, io.Closer, error) {
	if cfg.LogStdout {
		return logger.New(os.Stderr, cfg.SlogLevel()), io.NopCloser(nil), nil
	}
	return logger.NewSystemLogger(cfg.LogDir(), cfg.SlogLevel())
}

func openQueue(ctx context.Context, cfg *config.AppConfig) (queue.Queue, error) {
	if cfg.QueueBackend == config.QueueMemory {
		return queue.NewMemoryQueue(), nil
	}
	return queue.NewRedisQueue(ctx, cfg.RedisURL, cfg.QueueName)
}

// buildTargets creates the provider target and, when SMTP is configured, a
// separate email route. Each target gets its own breaker.
func buildTargets(cfg *config.AppConfig, m *metrics.Metrics, log *slog.Logger) (dispatcher.Target, map[model.Type]dispatcher.Target) {
	provider := delivery.NewHTTPClient(cfg.ProviderURL, delivery.WithTimeout(cfg.ProviderTimeout))
	def := dispatcher.Target{Client: provider, Breaker: newBreaker(cfg, provider.Name(), m, log)}

	routes := map[model.Type]dispatcher.Target{}
	if cfg.SMTPEnabled() {
		smtp := delivery.NewSMTPClient(delivery.SMTPConfig{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			Username:   cfg.SMTPUsername,
			Password:   cfg.SMTPPassword,
			FromAddr:   cfg.SMTPFrom,
			Encryption: cfg.SMTPEncryption,
		})
		routes[model.TypeEmail] = dispatcher.Target{Client: smtp, Breaker: newBreaker(cfg, smtp.Name(), m, log)}
	}
	return def, routes
}

func newBreaker(cfg *config.AppConfig, name string, m *metrics.Metrics, log *slog.Logger) *breaker.Breaker {
	b := breaker.New(breaker.Config{
		Name:             name,
		FailureThreshold: cfg.BreakerFailureThreshold,
		WindowSize:       cfg.BreakerWindowSize,
		MinRequests:      cfg.BreakerMinRequests,
		ResetTimeout:     cfg.BreakerResetTimeout,
		OnStateChange: func(target string, from, to breaker.State) {
			m.BreakerTransition(target, from.String(), to.String(), int(to))
			log.Warn("circuit breaker state changed",
				"target", target, "from", from.String(), "to", to.String())
		},
	})
	m.SetBreakerState(name, int(b.State()))
	return b
}

// printBanner writes the startup banner. All structured logs go to the log
// file instead.
func printBanner(w io.Writer, version, serverURL, logFile string) {
	fmt.Fprintf(w, "notifyrelay %s running.\n", version)
	fmt.Fprintf(w, "  POST %s/api/v1/notifications\n", serverURL)
	fmt.Fprintf(w, "  GET  %s/events\n", serverURL)
	fmt.Fprintf(w, "Logs: %s\n\n", logFile)
}
