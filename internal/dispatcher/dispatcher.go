// Package dispatcher drains the notification queue and drives every dequeued
// notification to a terminal status through the circuit breaker, the
// delivery client and the retry policy, publishing each status transition.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaharia-lab/notifyrelay/internal/breaker"
	"github.com/shaharia-lab/notifyrelay/internal/delivery"
	"github.com/shaharia-lab/notifyrelay/internal/metrics"
	"github.com/shaharia-lab/notifyrelay/internal/model"
	"github.com/shaharia-lab/notifyrelay/internal/queue"
	"github.com/shaharia-lab/notifyrelay/internal/retry"
)

// Defaults for zero-valued Config fields.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultErrorDelay   = time.Second
)

// Failure reasons set by the dispatcher itself.
const (
	ReasonBreakerOpen = "circuit breaker open"
	ReasonShutdown    = "dispatcher shutting down"
)

const tracerName = "github.com/shaharia-lab/notifyrelay/internal/dispatcher"

// Publisher receives every status transition. Implemented by
// *broadcast.Broadcaster.
type Publisher interface {
	Publish(n model.Notification)
}

// Target is one delivery destination with its own breaker.
type Target struct {
	Client  delivery.Client
	Breaker *breaker.Breaker
}

// Config holds the dispatcher's collaborators and tuning.
type Config struct {
	Queue queue.Queue
	// Default handles every notification type without an entry in Routes.
	Default Target
	// Routes overrides the target per notification type.
	Routes    map[model.Type]Target
	Policy    retry.Policy
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *metrics.Metrics

	// PollInterval bounds each blocking dequeue.
	PollInterval time.Duration
	// ErrorDelay is the pause after a failed queue operation.
	ErrorDelay time.Duration
	// Workers is the number of concurrent dispatch loops (default 1).
	Workers int

	// Sleep overrides retry.Sleep (tests).
	Sleep func(ctx context.Context, d time.Duration) error
	// Now overrides time.Now (tests).
	Now func() time.Time
}

// Dispatcher is the queue consumer.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

// New validates cfg and returns a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Queue == nil {
		return nil, errors.New("dispatcher: queue is required")
	}
	if err := cfg.Default.validate(); err != nil {
		return nil, fmt.Errorf("dispatcher: default target: %w", err)
	}
	for t, target := range cfg.Routes {
		if err := target.validate(); err != nil {
			return nil, fmt.Errorf("dispatcher: route %s: %w", t, err)
		}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = DefaultErrorDelay
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Sleep == nil {
		cfg.Sleep = retry.Sleep
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Publisher == nil {
		cfg.Publisher = nopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:    cfg,
		logger: logger.With("component", "dispatcher"),
		tracer: otel.Tracer(tracerName),
	}, nil
}

func (t Target) validate() error {
	if t.Client == nil {
		return errors.New("client is required")
	}
	if t.Breaker == nil {
		return errors.New("breaker is required")
	}
	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(model.Notification) {}

// Run starts the configured number of workers and blocks until ctx is
// cancelled and every worker has finished its current notification.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "workers", d.cfg.Workers,
		"poll_interval", d.cfg.PollInterval.String())

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(i)
	}
	wg.Wait()

	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		// Checked before every dequeue so shutdown never pulls new work.
		if ctx.Err() != nil {
			return
		}

		n, err := d.cfg.Queue.Dequeue(ctx, d.cfg.PollInterval)
		switch {
		case err == nil:
			d.Dispatch(ctx, n)
		case errors.Is(err, queue.ErrEmpty):
		case ctx.Err() != nil:
			return
		case errors.Is(err, queue.ErrClosed):
			d.logger.Warn("queue closed, worker exiting", "worker", worker)
			return
		case errors.Is(err, queue.ErrCorrupt):
			d.cfg.Metrics.QueueError("decode")
			d.logger.Error("skipping undecodable queue entry", "worker", worker, "error", err)
		default:
			d.cfg.Metrics.QueueError("dequeue")
			d.logger.Error("dequeue failed, backing off", "worker", worker,
				"delay", d.cfg.ErrorDelay.String(), "error", err)
			if d.cfg.Sleep(ctx, d.cfg.ErrorDelay) != nil {
				return
			}
		}
	}
}

// Dispatch drives one notification to a terminal status and returns it.
// Every status transition is published. Provider errors never escape: the
// returned notification's status and reason are the only signal.
func (d *Dispatcher) Dispatch(ctx context.Context, n model.Notification) model.Notification {
	ctx, span := d.tracer.Start(ctx, "dispatcher.dispatch", trace.WithAttributes(
		attribute.String("notification.id", n.ID),
		attribute.String("notification.type", string(n.Type)),
	))
	defer span.End()

	log := d.logger.With("notification_id", n.ID, "type", string(n.Type))

	switch {
	case n.Status == "":
		n.Status = model.StatusQueued
	case !n.Status.Valid():
		d.cfg.Metrics.QueueError("decode")
		log.Error("skipping queue entry with unknown status", "status", string(n.Status))
		return n
	case n.Status.Terminal():
		log.Warn("dequeued notification is already terminal, skipping", "status", string(n.Status))
		return n
	}

	if n.Status == model.StatusQueued {
		if err := n.Transition(model.StatusSending, "", d.cfg.Now()); err != nil {
			log.Error("cannot start delivery", "error", err)
			return n
		}
		d.cfg.Publisher.Publish(n)
	}

	target := d.route(n.Type)
	name := target.Client.Name()
	log = log.With("target", name)
	span.SetAttributes(attribute.String("delivery.target", name))

	for {
		if ctx.Err() != nil {
			return d.finish(span, log, n, model.StatusFailed, ReasonShutdown)
		}

		done, err := target.Breaker.Allow()
		if err != nil {
			d.cfg.Metrics.BreakerShortCircuit(name)
			log.Warn("delivery short-circuited", "attempt", n.Attempt, "error", err)
			return d.finish(span, log, n, model.StatusFailed, ReasonBreakerOpen)
		}

		n.Attempt++
		started := time.Now()
		out := target.Client.Deliver(ctx, n)
		done(out.Unhealthy())
		d.cfg.Metrics.DeliveryAttempt(name, out.Kind.String(), time.Since(started))
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.Int("attempt", n.Attempt),
			attribute.String("outcome", out.Kind.String()),
			attribute.Int("status_code", out.StatusCode),
		))

		if out.Kind == delivery.KindSuccess {
			return d.finish(span, log, n, model.StatusSent, "")
		}
		if ctx.Err() != nil {
			return d.finish(span, log, n, model.StatusFailed, ReasonShutdown)
		}
		if !d.cfg.Policy.ShouldRetry(n.Attempt, out) {
			return d.finish(span, log, n, model.StatusFailed, out.Reason)
		}

		n.Reason = out.Reason
		delay := d.cfg.Policy.Delay(n.Attempt + 1)
		log.Warn("delivery attempt failed, retrying",
			"attempt", n.Attempt, "outcome", out.Kind.String(),
			"reason", out.Reason, "delay", delay.String())
		if err := d.cfg.Sleep(ctx, delay); err != nil {
			return d.finish(span, log, n, model.StatusFailed, ReasonShutdown)
		}
	}
}

func (d *Dispatcher) finish(span trace.Span, log *slog.Logger, n model.Notification, status model.Status, reason string) model.Notification {
	if err := n.Transition(status, reason, d.cfg.Now()); err != nil {
		log.Error("cannot finalize notification", "status", string(status), "error", err)
		return n
	}
	d.cfg.Publisher.Publish(n)
	d.cfg.Metrics.NotificationFinalized(string(status))

	span.SetAttributes(
		attribute.String("notification.status", string(status)),
		attribute.Int("notification.attempts", n.Attempt),
	)
	if status == model.StatusFailed {
		span.SetStatus(codes.Error, reason)
		log.Warn("notification failed", "attempt", n.Attempt, "reason", reason)
	} else {
		log.Info("notification sent", "attempt", n.Attempt)
	}
	return n
}

func (d *Dispatcher) route(t model.Type) Target {
	if target, ok := d.cfg.Routes[t]; ok {
		return target
	}
	return d.cfg.Default
}

// Breakers returns a snapshot of every distinct breaker, sorted by name.
func (d *Dispatcher) Breakers() []breaker.Snapshot {
	seen := map[*breaker.Breaker]bool{d.cfg.Default.Breaker: true}
	snaps := []breaker.Snapshot{d.cfg.Default.Breaker.Snapshot()}
	for _, target := range d.cfg.Routes {
		if seen[target.Breaker] {
			continue
		}
		seen[target.Breaker] = true
		snaps = append(snaps, target.Breaker.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}
