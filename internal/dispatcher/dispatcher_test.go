package dispatcher

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func (l *testLogger) countPrefix(p string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, msg := range l.messages {
		if strings.HasPrefix(msg, p) {
			n++
		}
	}
	return n
}

func (l *testLogger) hasPrefix(p string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range l.messages {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	t.Cleanup(d.Close)

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register("snapshot", func(e Event) (any, error) {
		got = e
		return "result", nil
	})

	result, err := d.Dispatch(Event{Kind: "snapshot", Payload: []byte("[]")})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if string(got.Payload.([]byte)) != "[]" {
		t.Errorf("handler did not receive payload, got %v", got.Payload)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected dispatch to stamp the event")
	}
	if result != "result" {
		t.Errorf("expected 'result', got %v", result)
	}
}

func TestDispatcher_UnknownKind(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Event{Kind: "bogus"})

	if err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register("poll", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(100))

	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Kind: "poll"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != "queued" {
			t.Errorf("expected 'queued', got %v", result)
		}
	}

	wg.Wait()

	if processed.Load() != 3 {
		t.Errorf("expected 3 processed, got %d", processed.Load())
	}
}

func TestDispatcher_SharedLaneKeepsArrivalOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var mu sync.Mutex
	var order []string
	record := func(e Event) (any, error) {
		mu.Lock()
		order = append(order, e.Kind+":"+e.Payload.(string))
		mu.Unlock()
		return nil, nil
	}

	d.Register("snapshot", record, Buffered(16), Blocking(), Lane("apply"))
	d.Register("visibility", record, Buffered(16), Blocking(), Lane("apply"))
	d.Register("sweep", record, Buffered(16), Blocking(), Lane("apply"))

	want := []string{"snapshot:1", "visibility:2", "snapshot:3", "sweep:4", "visibility:5"}
	for _, w := range want {
		kind, payload, _ := strings.Cut(w, ":")
		if _, err := d.Dispatch(Event{Kind: kind, Payload: payload}); err != nil {
			t.Fatalf("dispatch %s: %v", w, err)
		}
	}

	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Register("poll", func(e Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil, nil
	}, Buffered(2))

	d.Dispatch(Event{Kind: "poll"}) // being processed
	<-started
	d.Dispatch(Event{Kind: "poll"}) // queued
	d.Dispatch(Event{Kind: "poll"}) // queued

	_, err := d.Dispatch(Event{Kind: "poll"})

	if err == nil {
		t.Error("expected error when queue is full")
	}

	close(block)
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	d.Register("snapshot", func(e Event) (any, error) {
		<-block
		return nil, nil
	}, Buffered(1), Blocking())

	d.Dispatch(Event{Kind: "snapshot"})
	d.Dispatch(Event{Kind: "snapshot"})

	done := make(chan struct{})
	go func() {
		d.Dispatch(Event{Kind: "snapshot"})
		close(done)
	}()

	select {
	case <-done:
		t.Error("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
		// Expected - dispatch is blocking
	}

	close(block)
	<-done
}

func TestDispatcher_DispatchAfterClose(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register("sweep", func(e Event) (any, error) { return nil, nil }, Buffered(1))

	d.Close()
	d.Close()

	if _, err := d.Dispatch(Event{Kind: "sweep"}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestDispatcher_BufferedErrorIsLogged(t *testing.T) {
	d, logger := newTestDispatcher(t)
	d.Register("delta", func(e Event) (any, error) {
		return nil, fmt.Errorf("bad delta")
	}, Buffered(1))

	d.Dispatch(Event{Kind: "delta"})
	d.Close()

	if !logger.hasPrefix("ERROR: buffered event failed") {
		t.Error("expected buffered failure to be logged")
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("visibility", func(e Event) (any, error) {
		return "ok", nil
	}, Logged())

	d.Dispatch(Event{Kind: "visibility"})

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected at least 2 log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("snapshot", func(e Event) (any, error) {
		return nil, fmt.Errorf("test error")
	}, Logged())

	d.Dispatch(Event{Kind: "snapshot"})

	if !logger.hasPrefix("ERROR") {
		t.Error("expected error log message")
	}
}

func TestDispatcher_BufferedLoggedErrorIsLoggedOnce(t *testing.T) {
	d, logger := newTestDispatcher(t)
	d.Register("live", func(e Event) (any, error) {
		return nil, fmt.Errorf("bad message")
	}, Buffered(4), Blocking(), Logged())

	d.Dispatch(Event{Kind: "live"})
	d.Close()

	if n := logger.countPrefix("ERROR"); n != 1 {
		t.Errorf("expected 1 error log, got %d", n)
	}
	if !logger.hasPrefix("ERROR: buffered event failed") {
		t.Error("expected the lane worker to report the failure")
	}
	if !logger.hasPrefix("DEBUG: event failed") {
		t.Error("expected failure timing at debug level")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register("snapshot", func(e Event) (any, error) { return nil, nil })

	if !d.HasHandler("snapshot") {
		t.Error("expected handler to exist")
	}

	if d.HasHandler("delta") {
		t.Error("expected handler to not exist")
	}
}

func TestDispatcher_CombinedOptions(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	d.Register("poll", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return "done", nil
	}, Buffered(100), Logged())

	result, err := d.Dispatch(Event{Kind: "poll"})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "queued" {
		t.Errorf("expected 'queued', got %v", result)
	}

	wg.Wait()
	d.Close()

	if processed.Load() != 1 {
		t.Errorf("expected 1 processed, got %d", processed.Load())
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected log messages, got %d", len(logger.messages))
	}
}
