package breaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *fakeClock) *Breaker {
	return New(Config{
		Name:             "provider",
		FailureThreshold: 0.5,
		WindowSize:       4,
		MinRequests:      4,
		ResetTimeout:     10 * time.Second,
		Now:              clock.Now,
	})
}

func call(t *testing.T, b *Breaker, failed bool) {
	t.Helper()
	done, err := b.Allow()
	require.NoError(t, err)
	done(failed)
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	b := newTestBreaker(&fakeClock{now: time.Unix(0, 0)})

	call(t, b, true)
	call(t, b, false)
	call(t, b, false)
	call(t, b, false)

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_DoesNotTripBeforeMinRequests(t *testing.T) {
	b := newTestBreaker(&fakeClock{now: time.Unix(0, 0)})

	call(t, b, true)
	call(t, b, true)
	call(t, b, true)

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TripsAtThresholdAndShortCircuits(t *testing.T) {
	b := newTestBreaker(&fakeClock{now: time.Unix(0, 0)})

	call(t, b, true)
	call(t, b, false)
	call(t, b, true)
	call(t, b, false) // 2/4 = 50%

	assert.Equal(t, StateOpen, b.State())
	done, err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen)
	assert.Nil(t, done)
}

func TestBreaker_WindowRollsOver(t *testing.T) {
	b := New(Config{WindowSize: 4, MinRequests: 4, FailureThreshold: 0.75, Now: (&fakeClock{now: time.Unix(0, 0)}).Now})

	// Old failures fall out of the window.
	call(t, b, true)
	call(t, b, true)
	for i := 0; i < 4; i++ {
		call(t, b, false)
	}
	call(t, b, true)
	call(t, b, true)
	assert.Equal(t, StateClosed, b.State(), "2 of 4 is below the threshold")

	call(t, b, true)
	assert.Equal(t, StateOpen, b.State(), "3 of 4 reaches the threshold")
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	for i := 0; i < 4; i++ {
		call(t, b, true)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(9 * time.Second)
	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen, "still inside reset timeout")

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	probe, err := b.Allow()
	require.NoError(t, err)

	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrOpen, "second caller while probe in flight")

	probe(false)
	assert.Equal(t, StateClosed, b.State())
	snap := b.Snapshot()
	assert.Zero(t, snap.Requests, "counters reset on close")
	assert.Zero(t, snap.Failures)
}

func TestBreaker_FailedProbeReopensAndRestartsTimer(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	for i := 0; i < 4; i++ {
		call(t, b, true)
	}
	clock.Advance(10 * time.Second)

	probe, err := b.Allow()
	require.NoError(t, err)
	probe(true)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(5 * time.Second)
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrOpen, "timer restarted at probe failure")

	clock.Advance(5 * time.Second)
	_, err = b.Allow()
	assert.NoError(t, err)
}

func TestBreaker_StaleResultsIgnoredAfterTrip(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBreaker(clock)

	slow, err := b.Allow()
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		call(t, b, true)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(10 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	// A success admitted while closed must not close a half-open breaker.
	slow(false)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_DoneIsIdempotent(t *testing.T) {
	b := newTestBreaker(&fakeClock{now: time.Unix(0, 0)})
	done, err := b.Allow()
	require.NoError(t, err)
	done(true)
	done(true)
	assert.Equal(t, 1, b.Snapshot().Requests)
}

func TestBreaker_OnStateChange(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	b := New(Config{
		Name: "p", WindowSize: 2, MinRequests: 2, ResetTimeout: time.Second, Now: clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	call(t, b, true)
	call(t, b, true)
	clock.Advance(time.Second)
	call(t, b, false)

	assert.Equal(t, []string{
		"p:closed->open",
		"p:open->half-open",
		"p:half-open->closed",
	}, transitions)
}

func TestBreaker_ConcurrentHalfOpenSingleProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	for i := 0; i < 4; i++ {
		call(t, b, true)
	}
	clock.Advance(10 * time.Second)

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Allow(); err == nil {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&admitted))
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, DefaultFailureThreshold, b.cfg.FailureThreshold)
	assert.Equal(t, DefaultWindowSize, b.cfg.WindowSize)
	assert.Equal(t, DefaultMinRequests, b.cfg.MinRequests)
	assert.Equal(t, DefaultResetTimeout, b.cfg.ResetTimeout)
	assert.Equal(t, StateClosed, b.State())

	capped := New(Config{WindowSize: 3, MinRequests: 10})
	assert.Equal(t, 3, capped.cfg.MinRequests)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
