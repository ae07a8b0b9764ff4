// Package live keeps a push connection to the vehicle feed open and hands
// every message to the caller. Failed or dropped connections are retried
// with a linear, capped backoff until Stop.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// ErrAlreadyStarted is returned by Start while the channel runs.
var ErrAlreadyStarted = errors.New("live channel already started")

// Transport opens one logical connection.
type Transport interface {
	Connect(ctx context.Context) (Stream, error)
}

// Stream yields one message per call. Next returns an error once the
// connection is gone; io.EOF for an orderly close.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// State of the channel.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateRetrying   State = "retrying"
	StateStopped    State = "stopped"
)

// StateChange is reported on every transition. Delay and Err are set when
// the new state is StateRetrying.
type StateChange struct {
	State   State
	Attempt int
	Delay   time.Duration
	Err     error
}

// DataFunc receives each message. A returned error is logged and the
// connection stays open.
type DataFunc func(data []byte) error

// ErrorFunc is informational; it never stops the retry loop.
type ErrorFunc func(err error)

// Options configure a Channel. Zero values get defaults.
type Options struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Scheduler     Scheduler
	Logger        *slog.Logger
	OnStateChange func(StateChange)
	Now           func() time.Time
}

// Channel is a self-healing push connection. Only one logical connection
// is active at a time.
type Channel struct {
	transport Transport
	opts      Options
	logger    *slog.Logger

	reconnects metric.Int64Counter

	mu      sync.Mutex
	state   State
	attempt int
	ctx     context.Context
	cancel  context.CancelFunc
	stream  Stream
	timer   Timer
	onData  DataFunc
	onError ErrorFunc
	loops   sync.WaitGroup
}

// New creates an idle channel over transport.
func New(transport Transport, opts Options) *Channel {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Channel{
		transport: transport,
		opts:      opts,
		logger:    opts.Logger,
		state:     StateIdle,
	}
	counter, err := meter().Int64Counter("live.reconnects",
		metric.WithDescription("Reconnects scheduled after a failed or dropped connection"))
	if err != nil {
		c.logger.Warn("failed to create reconnect counter", "error", err)
	}
	c.reconnects = counter
	return c
}

// Start opens the connection in the background. Calling Start while the
// channel runs logs a warning and returns ErrAlreadyStarted. A stopped
// channel can be started again.
func (c *Channel) Start(onData DataFunc, onError ErrorFunc) error {
	if onData == nil {
		return fmt.Errorf("live channel: nil data callback")
	}
	if onError == nil {
		onError = func(error) {}
	}

	c.mu.Lock()
	if c.ctx != nil && c.ctx.Err() == nil {
		c.mu.Unlock()
		c.logger.Warn("Live channel start ignored, already running", "state", c.State())
		return ErrAlreadyStarted
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.attempt = 0
	c.onData = onData
	c.onError = onError
	ctx := c.ctx
	c.loops.Add(1)
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Stop cancels any pending reconnect and closes the active connection.
// It is idempotent. Stop must not be called from the data callback.
func (c *Channel) Stop() {
	c.mu.Lock()
	if c.cancel == nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.cancel()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			c.logger.Debug("error closing live stream", "error", err)
		}
	}
	c.loops.Wait()
	c.setState(StateChange{State: StateStopped})
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the number of failed opens since the last success.
func (c *Channel) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Channel) run(ctx context.Context) {
	defer c.loops.Done()

	c.setState(StateChange{State: StateConnecting, Attempt: c.Attempt()})
	stream, err := c.transport.Connect(ctx)
	if err != nil {
		c.retry(ctx, fmt.Errorf("connect: %w", err))
		return
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		_ = stream.Close()
		return
	}
	c.stream = stream
	c.attempt = 0
	onData := c.onData
	c.mu.Unlock()

	c.logger.Info("Live channel connected")
	c.setState(StateChange{State: StateConnected})

	for {
		data, err := stream.Next(ctx)
		if err != nil {
			c.mu.Lock()
			if c.stream == stream {
				c.stream = nil
			}
			c.mu.Unlock()
			_ = stream.Close()
			c.retry(ctx, fmt.Errorf("stream closed: %w", err))
			return
		}
		if err := onData(data); err != nil {
			c.logger.Error("failed to handle live message", "error", err, "bytes", len(data))
		}
	}
}

// retry schedules the next open unless the channel was stopped.
func (c *Channel) retry(ctx context.Context, cause error) {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	attempt := c.attempt
	delay := Delay(attempt, c.opts.BaseDelay, c.opts.MaxDelay)
	onError := c.onError
	c.state = StateRetrying
	c.timer = c.opts.Scheduler.AfterFunc(delay, func() {
		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.attempt++
		c.loops.Add(1)
		c.mu.Unlock()
		go c.run(ctx)
	})
	c.mu.Unlock()

	c.logger.Warn("Live channel disconnected, scheduling reconnect",
		"error", cause, "attempt", attempt, "delay", delay)
	if c.reconnects != nil {
		c.reconnects.Add(ctx, 1)
	}
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(StateChange{State: StateRetrying, Attempt: attempt, Delay: delay, Err: cause})
	}
	onError(cause)
}

func (c *Channel) setState(change StateChange) {
	c.mu.Lock()
	c.state = change.State
	c.mu.Unlock()
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(change)
	}
}
