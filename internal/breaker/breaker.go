// Package breaker implements a circuit breaker that decides call admission
// for one delivery target.
//
// The breaker has three states:
//
//   - closed: calls pass through; results feed a rolling window
//   - open: calls are refused with ErrOpen until the reset timeout elapses
//   - half-open: a single probe is admitted to test recovery
//
// Usage:
//
//	done, err := b.Allow()
//	if err != nil {
//	    // short-circuited, provider untouched
//	}
//	out := client.Deliver(ctx, n)
//	done(out.Unhealthy())
//
// The breaker never retries or calls the provider itself.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when the call is short-circuited.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker's admission state.
type State int

// Breaker states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultFailureThreshold = 0.5
	DefaultWindowSize       = 10
	DefaultMinRequests      = 5
	DefaultResetTimeout     = 10 * time.Second
)

// Config tunes a Breaker.
type Config struct {
	// Name identifies the guarded target.
	Name string
	// FailureThreshold is the failure ratio (0..1] at or above which the
	// breaker trips.
	FailureThreshold float64
	// WindowSize is the number of most recent results considered.
	WindowSize int
	// MinRequests is the number of results the window must hold before the
	// ratio is evaluated.
	MinRequests int
	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration
	// OnStateChange, when set, is called after every transition. It runs
	// with the breaker's lock held and must not call back into the breaker.
	OnStateChange func(name string, from, to State)
	// Now overrides time.Now (tests).
	Now func() time.Time
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name     string    `json:"name"`
	State    string    `json:"state"`
	Requests int       `json:"requests"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"openedAt,omitempty"`
}

// Breaker is safe for concurrent use by multiple dispatcher workers.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	window   *window
	openedAt time.Time
	probing  bool
	// generation invalidates done callbacks issued before a transition.
	generation uint64
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 || cfg.FailureThreshold > 1 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = DefaultMinRequests
	}
	if cfg.MinRequests > cfg.WindowSize {
		cfg.MinRequests = cfg.WindowSize
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		cfg:    cfg,
		state:  StateClosed,
		window: newWindow(cfg.WindowSize),
	}
}

// Name returns the guarded target's name.
func (b *Breaker) Name() string { return b.cfg.Name }

// State returns the current state, advancing open to half-open when the
// reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Allow asks for admission. On success the caller must invoke done exactly
// once with whether the call counted as a failure. On refusal it returns
// ErrOpen and a nil done.
func (b *Breaker) Allow() (done func(failed bool), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()
	switch b.state {
	case StateOpen:
		return nil, ErrOpen
	case StateHalfOpen:
		if b.probing {
			return nil, ErrOpen
		}
		b.probing = true
	}

	gen := b.generation
	var once sync.Once
	return func(failed bool) {
		once.Do(func() { b.record(gen, failed) })
	}, nil
}

// Snapshot returns the breaker's current view.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	s := Snapshot{
		Name:     b.cfg.Name,
		State:    b.state.String(),
		Requests: b.window.count,
		Failures: b.window.failures,
	}
	if b.state != StateClosed {
		s.OpenedAt = b.openedAt
	}
	return s
}

// advance moves open to half-open once the reset timeout has elapsed.
// Callers must hold b.mu.
func (b *Breaker) advance() {
	if b.state == StateOpen && !b.cfg.Now().Before(b.openedAt.Add(b.cfg.ResetTimeout)) {
		b.setState(StateHalfOpen)
	}
}

func (b *Breaker) record(gen uint64, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		// Result of a call admitted before the last transition.
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		if failed {
			b.trip()
		} else {
			b.window.reset()
			b.setState(StateClosed)
		}
	case StateClosed:
		b.window.add(failed)
		if b.window.count >= b.cfg.MinRequests && b.window.ratio() >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

// trip opens the breaker and restarts the reset timer. Callers must hold b.mu.
func (b *Breaker) trip() {
	b.openedAt = b.cfg.Now()
	b.window.reset()
	b.setState(StateOpen)
}

// setState records a transition. Callers must hold b.mu.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.probing = false
	b.generation++
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
