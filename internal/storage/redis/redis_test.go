package redisstorage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitlive/livemap/internal/config"
	"github.com/transitlive/livemap/internal/storage"
)

type fakeClient struct {
	data    map[string]string
	pingErr error
	getErr  error
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: make(map[string]string)}
}

func (f *fakeClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestBackend_RoundTrip(t *testing.T) {
	fc := newFakeClient()
	b := NewWithClient(fc)
	require.NoError(t, b.Init())
	ctx := context.Background()

	_, err := b.Get(ctx, "livemap:activeVehicles")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, b.Set(ctx, "livemap:activeVehicles", []byte(`["V1"]`)))
	got, err := b.Get(ctx, "livemap:activeVehicles")
	require.NoError(t, err)
	assert.JSONEq(t, `["V1"]`, string(got))

	require.NoError(t, b.Delete(ctx, "livemap:activeVehicles"))
	_, err = b.Get(ctx, "livemap:activeVehicles")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, b.Close())
	assert.True(t, fc.closed)
}

func TestBackend_InitPingFailure(t *testing.T) {
	fc := newFakeClient()
	fc.pingErr = errors.New("connection refused")
	err := NewWithClient(fc).Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBackend_GetError(t *testing.T) {
	fc := newFakeClient()
	fc.getErr = errors.New("timeout")
	_, err := NewWithClient(fc).Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, storage.ErrNotFound))
}

func TestNew_DoesNotDial(t *testing.T) {
	b := New(config.RedisConfig{Addr: "127.0.0.1:1"})
	require.NotNil(t, b)
	assert.NoError(t, b.Close())
}
