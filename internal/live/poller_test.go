package live

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *fakeFetcher) FetchVehicles(ctx context.Context) ([]byte, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("status 502")
	}
	return []byte(`[]`), nil
}

func TestPoller_FetchesImmediatelyAndOnTicks(t *testing.T) {
	f := &fakeFetcher{}
	p := NewPoller(f, 10*time.Millisecond, nil)

	var got atomic.Int32
	p.Start(func(b []byte) error { got.Add(1); return nil }, nil)
	require.Eventually(t, func() bool { return got.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	calls := f.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.calls.Load(), "no fetch after Stop")
}

func TestPoller_ErrorsAreReportedAndDropped(t *testing.T) {
	f := &fakeFetcher{}
	f.fail.Store(true)
	p := NewPoller(f, 10*time.Millisecond, nil)

	var errs, data atomic.Int32
	p.Start(func([]byte) error { data.Add(1); return nil }, func(error) { errs.Add(1) })
	require.Eventually(t, func() bool { return errs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	f.fail.Store(false)
	require.Eventually(t, func() bool { return data.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()
}

func TestPoller_StartStopIdempotent(t *testing.T) {
	f := &fakeFetcher{}
	p := NewPoller(f, time.Hour, nil)
	noop := func([]byte) error { return nil }

	p.Stop()
	p.Start(noop, nil)
	p.Start(noop, nil)
	assert.True(t, p.Running())
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
	assert.False(t, p.Running())
	assert.Equal(t, int32(1), f.calls.Load())
}
