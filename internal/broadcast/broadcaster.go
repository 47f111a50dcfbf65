// Package broadcast fans notification status changes out to live observers.
//
// A single owning goroutine (Run) processes subscribe, unsubscribe and
// publish commands from one channel, so every observer sees the transitions
// of a notification in the order they were published. Each subscription has
// its own buffered channel; an observer whose buffer is full is evicted
// instead of slowing down the publisher or the other observers.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/shaharia-lab/notifyrelay/internal/model"
)

const (
	defaultSubscriberBuffer = 64
	commandBuffer           = 256
)

// ErrClosed is returned by Subscribe once the broadcaster has stopped.
var ErrClosed = errors.New("broadcaster closed")

// Event is one published status change.
type Event struct {
	Notification model.Notification
	// Data is the JSON encoding of Notification, shared by all observers.
	Data []byte
}

// Subscription is a registered observer. Its channel is closed when the
// observer is unsubscribed, evicted, or the broadcaster stops.
type Subscription struct {
	id uint64
	ch chan Event
}

// ID returns the subscription's identifier.
func (s *Subscription) ID() uint64 { return s.id }

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan Event { return s.ch }

type commandKind int

const (
	cmdSubscribe commandKind = iota
	cmdUnsubscribe
	cmdPublish
)

type command struct {
	kind commandKind
	sub  *Subscription
	n    model.Notification
	ack  chan struct{}
}

// Options configures a Broadcaster.
type Options struct {
	// Buffer is the default per-subscription channel size.
	Buffer int
	// OnSubscribersChanged is called from the owning goroutine with the new
	// subscriber count.
	OnSubscribersChanged func(int)
	// OnEvicted is called from the owning goroutine when a slow observer is
	// dropped.
	OnEvicted func()
}

// Broadcaster is the live observer registry.
type Broadcaster struct {
	cmds   chan command
	done   chan struct{}
	logger *slog.Logger
	opts   Options

	nextID  atomic.Uint64
	count   atomic.Int64
	runOnce sync.Once
}

// New creates a Broadcaster. Run must be started for commands to be
// processed.
func New(logger *slog.Logger, opts Options) *Broadcaster {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{
		cmds:   make(chan command, commandBuffer),
		done:   make(chan struct{}),
		logger: logger,
		opts:   opts,
	}
}

// Run processes commands until ctx is cancelled, then closes every
// subscription. Subsequent calls return immediately.
func (b *Broadcaster) Run(ctx context.Context) {
	b.runOnce.Do(func() { b.run(ctx) })
}

func (b *Broadcaster) run(ctx context.Context) {
	subs := make(map[uint64]*Subscription)
	defer func() {
		for id, s := range subs {
			close(s.ch)
			delete(subs, id)
		}
		b.setCount(0)
		close(b.done)
	}()

	for {
		select {
		case <-ctx.Done():
			b.drain(subs)
			b.logger.Info("broadcaster stopping", "observers", len(subs))
			return
		case c := <-b.cmds:
			b.handle(subs, c)
		}
	}
}

// drain applies the commands already buffered when shutdown began, so
// events published before cancellation still reach current observers.
func (b *Broadcaster) drain(subs map[uint64]*Subscription) {
	for {
		select {
		case c := <-b.cmds:
			b.handle(subs, c)
		default:
			return
		}
	}
}

func (b *Broadcaster) handle(subs map[uint64]*Subscription, c command) {
	switch c.kind {
	case cmdSubscribe:
		subs[c.sub.id] = c.sub
		b.setCount(len(subs))
		close(c.ack)
	case cmdUnsubscribe:
		if _, ok := subs[c.sub.id]; ok {
			delete(subs, c.sub.id)
			close(c.sub.ch)
			b.setCount(len(subs))
		}
	case cmdPublish:
		b.fanOut(subs, c.n)
	}
}

// fanOut pushes n to every subscription without blocking. Called only from
// the owning goroutine.
func (b *Broadcaster) fanOut(subs map[uint64]*Subscription, n model.Notification) {
	if len(subs) == 0 {
		return
	}
	data, err := json.Marshal(n)
	if err != nil {
		b.logger.Error("encoding notification event", "notification_id", n.ID, "error", err)
		return
	}
	ev := Event{Notification: n, Data: data}

	evicted := false
	for id, s := range subs {
		select {
		case s.ch <- ev:
		default:
			b.logger.Warn("observer too slow, dropping connection",
				"subscription_id", id, "notification_id", n.ID)
			delete(subs, id)
			close(s.ch)
			evicted = true
			if b.opts.OnEvicted != nil {
				b.opts.OnEvicted()
			}
		}
	}
	if evicted {
		b.setCount(len(subs))
	}
}

func (b *Broadcaster) setCount(n int) {
	b.count.Store(int64(n))
	if b.opts.OnSubscribersChanged != nil {
		b.opts.OnSubscribersChanged(n)
	}
}

// Subscribe registers a new observer with the given channel buffer (0 uses
// the default). It returns once the registration is in effect: every
// Publish issued afterwards reaches the new subscription.
func (b *Broadcaster) Subscribe(buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = b.opts.Buffer
	}
	s := &Subscription{id: b.nextID.Add(1), ch: make(chan Event, buffer)}
	ack := make(chan struct{})

	select {
	case b.cmds <- command{kind: cmdSubscribe, sub: s, ack: ack}:
	case <-b.done:
		return nil, ErrClosed
	}
	select {
	case <-ack:
		return s, nil
	case <-b.done:
		return nil, ErrClosed
	}
}

// Unsubscribe removes s and closes its channel. It is a no-op for unknown
// subscriptions or after the broadcaster stopped.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	select {
	case b.cmds <- command{kind: cmdUnsubscribe, sub: s}:
	case <-b.done:
	}
}

// Publish queues n for delivery to every current observer. It is a no-op
// after the broadcaster stopped.
func (b *Broadcaster) Publish(n model.Notification) {
	select {
	case b.cmds <- command{kind: cmdPublish, n: n}:
	case <-b.done:
	}
}

// Len returns the number of registered observers.
func (b *Broadcaster) Len() int {
	return int(b.count.Load())
}

// Done is closed once Run has returned.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}
