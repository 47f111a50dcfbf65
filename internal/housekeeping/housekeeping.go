// Package housekeeping runs periodic maintenance jobs: sampling the queue
// depth and pruning old delivery history.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/shaharia-lab/notifyrelay/internal/metrics"
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultDepthInterval = 15 * time.Second
	DefaultPruneInterval = time.Hour
	DefaultRetention     = 7 * 24 * time.Hour

	jobTimeout = 30 * time.Second
)

// QueueSizer reports the number of pending queue entries.
type QueueSizer interface {
	Len(ctx context.Context) (int64, error)
}

// Pruner deletes terminal history older than a cutoff.
type Pruner interface {
	PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds the housekeeping configuration.
type Config struct {
	Queue QueueSizer
	// History is optional; pruning is skipped when nil.
	History       Pruner
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	DepthInterval time.Duration
	PruneInterval time.Duration
	Retention     time.Duration
	Now           func() time.Time
}

// Scheduler owns the gocron scheduler running the maintenance jobs.
type Scheduler struct {
	cron   gocron.Scheduler
	cfg    Config
	logger *slog.Logger
}

// New creates a Scheduler and registers its jobs. Jobs start running on Start.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("housekeeping: queue is required")
	}
	if cfg.DepthInterval <= 0 {
		cfg.DepthInterval = DefaultDepthInterval
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating gocron scheduler: %w", err)
	}
	s := &Scheduler{cron: cron, cfg: cfg, logger: cfg.Logger}

	if _, err := cron.NewJob(
		gocron.DurationJob(cfg.DepthInterval),
		gocron.NewTask(s.SampleQueueDepth),
		gocron.WithName("queue-depth"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	); err != nil {
		_ = cron.Shutdown()
		return nil, fmt.Errorf("scheduling queue depth job: %w", err)
	}

	if cfg.History != nil {
		if _, err := cron.NewJob(
			gocron.DurationJob(cfg.PruneInterval),
			gocron.NewTask(s.PruneHistory),
			gocron.WithName("history-prune"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			_ = cron.Shutdown()
			return nil, fmt.Errorf("scheduling history prune job: %w", err)
		}
	}
	return s, nil
}

// Start begins running the scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("housekeeping started",
		"depth_interval", s.cfg.DepthInterval,
		"prune_interval", s.cfg.PruneInterval,
		"retention", s.cfg.Retention)
}

// Stop shuts down the scheduler, waiting for running jobs to finish.
func (s *Scheduler) Stop() error {
	return s.cron.Shutdown()
}

// SampleQueueDepth records the current queue length.
func (s *Scheduler) SampleQueueDepth() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.cfg.Queue.Len(ctx)
	if err != nil {
		s.logger.Warn("sampling queue depth failed", "error", err)
		s.cfg.Metrics.QueueError("len")
		return
	}
	s.cfg.Metrics.SetQueueDepth(n)
}

// PruneHistory deletes terminal history rows last updated before the
// retention cutoff.
func (s *Scheduler) PruneHistory() {
	if s.cfg.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cutoff := s.cfg.Now().Add(-s.cfg.Retention)
	n, err := s.cfg.History.PruneTerminalBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("pruning history failed", "error", err)
		return
	}
	s.cfg.Metrics.HistoryPruned(n)
	if n > 0 {
		s.logger.Info("pruned history", "rows", n, "cutoff", cutoff)
	}
}
