package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/galadrimteam/quakewatch/internal/realtime"
	"github.com/stretchr/testify/require"
)

var (
	errRefused         = errors.New("connection refused")
	errTransportClosed = errors.New("transport closed")
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) isStopped() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.stopped
}

func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire advances the clock by the timer's delay and runs it unless stopped.
func (c *fakeClock) fire(t *fakeTimer) bool {
	c.mu.Lock()
	if t.stopped || t.fired {
		c.mu.Unlock()
		return false
	}
	t.fired = true
	c.now = c.now.Add(t.d)
	c.mu.Unlock()
	t.f()
	return true
}

func (c *fakeClock) waitPending(tb testing.TB, d time.Duration) *fakeTimer {
	tb.Helper()
	var found *fakeTimer
	require.Eventually(tb, func() bool {
		for _, t := range c.pending() {
			if d == 0 || t.d == d {
				found = t
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond)
	return found
}

type fakeTransport struct {
	inbound chan []byte
	readErr chan error
	done    chan struct{}
	once    sync.Once

	// closeBlock, when set, holds Close until it is closed.
	closeBlock chan struct{}
	closeCalls atomic.Int32

	mu     sync.Mutex
	writes [][]byte
	closes int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case f := <-t.inbound:
		return f, nil
	case err := <-t.readErr:
		return nil, err
	case <-t.done:
		return nil, errTransportClosed
	}
}

func (t *fakeTransport) WriteMessage(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	t.writes = append(t.writes, frame)
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeCalls.Add(1)
	if t.closeBlock != nil {
		<-t.closeBlock
	}
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()
	t.once.Do(func() { close(t.done) })
	return nil
}

// drop simulates the hub going away.
func (t *fakeTransport) drop() { _ = t.Close() }

func (t *fakeTransport) written(tb testing.TB) []realtime.Envelope {
	tb.Helper()
	t.mu.Lock()
	frames := append([][]byte(nil), t.writes...)
	t.mu.Unlock()
	out := make([]realtime.Envelope, 0, len(frames))
	for _, f := range frames {
		env, err := realtime.DecodeEnvelope(f)
		require.NoError(tb, err)
		out = append(out, env)
	}
	return out
}

type dialResult struct {
	t   Transport
	err error
}

// fakeDialer hands out scripted results in order and refuses once the
// script runs out.
type fakeDialer struct {
	mu     sync.Mutex
	script []dialResult
	gate   chan struct{}
	dials  atomic.Int32
}

func (d *fakeDialer) push(results ...dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, results...)
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Transport, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.script) == 0 {
		return nil, errRefused
	}
	r := d.script[0]
	d.script = d.script[1:]
	return r.t, r.err
}

func ok(t *fakeTransport) dialResult { return dialResult{t: t} }

func newTestAgent(d Dialer, c Clock, maxAttempts int) *Agent {
	return New(Config{URL: "ws://hub.test/earthquakes-ws", MaxAttempts: maxAttempts}, d, c, nil)
}

func waitState(tb testing.TB, a *Agent, s State) {
	tb.Helper()
	require.Eventually(tb, func() bool { return a.Status().State == s }, 2*time.Second, 2*time.Millisecond,
		"want state %s", s)
}
