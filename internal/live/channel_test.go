package live

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

type scheduled struct {
	delay time.Duration
	fn    func()
	timer *fakeTimer
}

// fakeScheduler records timers; tests fire them by hand.
type fakeScheduler struct {
	mu      sync.Mutex
	pending []scheduled
	delays  chan time.Duration
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{delays: make(chan time.Duration, 64)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{}
	s.mu.Lock()
	s.pending = append(s.pending, scheduled{delay: d, fn: f, timer: t})
	s.mu.Unlock()
	s.delays <- d
	return t
}

func (s *fakeScheduler) fire(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	require.NotEmpty(t, s.pending, "no timer pending")
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	if !next.timer.stopped.Load() {
		next.fn()
	}
}

func (s *fakeScheduler) lastTimer() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	return s.pending[len(s.pending)-1].timer
}

func (s *fakeScheduler) waitDelay(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-s.delays:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect scheduled")
		return 0
	}
}

type fakeStream struct {
	msgs      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{msgs: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *fakeStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case m, ok := <-s.msgs:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-s.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// fakeTransport hands out queued results, then fails.
type fakeTransport struct {
	mu       sync.Mutex
	results  []Stream
	connects atomic.Int32
}

func (f *fakeTransport) queue(streams ...Stream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, streams...)
}

func (f *fakeTransport) Connect(ctx context.Context) (Stream, error) {
	f.connects.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return nil, errors.New("connection refused")
	}
	next := f.results[0]
	f.results = f.results[1:]
	if next == nil {
		return nil, errors.New("connection refused")
	}
	return next, nil
}

func newTestChannel(tr Transport, sched Scheduler) *Channel {
	return New(tr, Options{
		BaseDelay: 5 * time.Second,
		MaxDelay:  30 * time.Second,
		Scheduler: sched,
	})
}

func TestDelay(t *testing.T) {
	base, max := 5*time.Second, 30*time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 5 * time.Second},
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 15 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{1 << 40, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Delay(tt.attempt, base, max), "attempt %d", tt.attempt)
	}
}

func TestDelay_Defaults(t *testing.T) {
	assert.Equal(t, DefaultBaseDelay, Delay(0, 0, 0))
	assert.Equal(t, 10*time.Second, Delay(1, 0, time.Minute))
}

func TestChannel_BackoffGrowsAndCaps(t *testing.T) {
	sched := newFakeScheduler()
	tr := &fakeTransport{}
	c := newTestChannel(tr, sched)

	var errCount atomic.Int32
	require.NoError(t, c.Start(func([]byte) error { return nil }, func(error) { errCount.Add(1) }))
	defer c.Stop()

	want := []time.Duration{5, 10, 15, 20, 25, 30, 30}
	for i, w := range want {
		assert.Equal(t, w*time.Second, sched.waitDelay(t), "reconnect %d", i)
		assert.Equal(t, StateRetrying, c.State())
		sched.fire(t)
	}
	sched.waitDelay(t)
	require.Eventually(t, func() bool { return errCount.Load() == int32(len(want)+1) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(len(want)+1), tr.connects.Load())
}

func TestChannel_AttemptResetsOnOpen(t *testing.T) {
	sched := newFakeScheduler()
	stream := newFakeStream()
	tr := &fakeTransport{}
	tr.queue(nil, nil, stream)
	c := newTestChannel(tr, sched)

	got := make(chan []byte, 4)
	require.NoError(t, c.Start(func(b []byte) error { got <- b; return nil }, nil))
	defer c.Stop()

	assert.Equal(t, 5*time.Second, sched.waitDelay(t))
	sched.fire(t)
	assert.Equal(t, 10*time.Second, sched.waitDelay(t))
	sched.fire(t)

	stream.msgs <- []byte(`[]`)
	select {
	case b := <-got:
		assert.Equal(t, `[]`, string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 0, c.Attempt())

	// server drops the connection: backoff starts over
	close(stream.msgs)
	assert.Equal(t, 5*time.Second, sched.waitDelay(t))
}

func TestChannel_HandlerErrorKeepsConnection(t *testing.T) {
	sched := newFakeScheduler()
	stream := newFakeStream()
	tr := &fakeTransport{}
	tr.queue(stream)
	c := newTestChannel(tr, sched)

	var calls atomic.Int32
	second := make(chan struct{})
	require.NoError(t, c.Start(func(b []byte) error {
		if calls.Add(1) == 1 {
			return errors.New("not json")
		}
		close(second)
		return nil
	}, nil))
	defer c.Stop()

	stream.msgs <- []byte(`garbage`)
	stream.msgs <- []byte(`[]`)
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second message not delivered")
	}
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, int32(1), tr.connects.Load())
}

func TestChannel_StartTwice(t *testing.T) {
	sched := newFakeScheduler()
	tr := &fakeTransport{}
	c := newTestChannel(tr, sched)

	noop := func([]byte) error { return nil }
	require.NoError(t, c.Start(noop, nil))
	assert.ErrorIs(t, c.Start(noop, nil), ErrAlreadyStarted)
	sched.waitDelay(t)
	c.Stop()
}

func TestChannel_StartRequiresCallback(t *testing.T) {
	c := newTestChannel(&fakeTransport{}, newFakeScheduler())
	assert.Error(t, c.Start(nil, nil))
	assert.Equal(t, StateIdle, c.State())
}

func TestChannel_StopCancelsPendingReconnect(t *testing.T) {
	sched := newFakeScheduler()
	tr := &fakeTransport{}
	c := newTestChannel(tr, sched)

	require.NoError(t, c.Start(func([]byte) error { return nil }, nil))
	sched.waitDelay(t)
	timer := sched.lastTimer()
	require.NotNil(t, timer)

	c.Stop()
	c.Stop()

	assert.True(t, timer.stopped.Load())
	assert.Equal(t, StateStopped, c.State())
	sched.fire(t)
	assert.Equal(t, int32(1), tr.connects.Load(), "stopped timer must not reconnect")
}

func TestChannel_StopClosesStreamAndRestarts(t *testing.T) {
	sched := newFakeScheduler()
	first := newFakeStream()
	second := newFakeStream()
	tr := &fakeTransport{}
	tr.queue(first, second)

	var changes []State
	var mu sync.Mutex
	c := New(tr, Options{
		Scheduler: sched,
		OnStateChange: func(ch StateChange) {
			mu.Lock()
			changes = append(changes, ch.State)
			mu.Unlock()
		},
	})

	got := make(chan string, 4)
	onData := func(b []byte) error { got <- string(b); return nil }
	require.NoError(t, c.Start(onData, nil))
	require.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	c.Stop()
	select {
	case <-first.closed:
	default:
		t.Fatal("stream not closed by Stop")
	}
	assert.Empty(t, sched.delays, "deliberate stop must not schedule a reconnect")

	require.NoError(t, c.Start(onData, nil))
	defer c.Stop()
	second.msgs <- []byte(`again`)
	select {
	case s := <-got:
		assert.Equal(t, "again", s)
	case <-time.After(2 * time.Second):
		t.Fatal("restarted channel delivered nothing")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateStopped, StateConnecting, StateConnected}, changes)
}
