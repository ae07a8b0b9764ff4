package live

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval matches the feed's refresh cadence.
const DefaultPollInterval = 30 * time.Second

// Fetcher returns one snapshot body.
type Fetcher interface {
	FetchVehicles(ctx context.Context) ([]byte, error)
}

// Poller fetches a snapshot on a fixed interval as a fallback to the push
// channel. A failed fetch is reported and dropped; the next tick retries.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a stopped poller.
func NewPoller(fetcher Fetcher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{fetcher: fetcher, interval: interval, logger: logger}
}

// Start fetches once immediately and then every interval. Starting a
// running poller does nothing.
func (p *Poller) Start(onData DataFunc, onError ErrorFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	if onError == nil {
		onError = func(error) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done, onData, onError)
}

// Stop halts polling and waits for an in-flight fetch. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the poller is started.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}, onData DataFunc, onError ErrorFunc) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll(ctx, onData, onError)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context, onData DataFunc, onError ErrorFunc) {
	body, err := p.fetcher.FetchVehicles(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("Vehicle poll failed", "error", err)
		onError(err)
		return
	}
	if err := onData(body); err != nil {
		p.logger.Error("failed to handle polled snapshot", "error", err)
	}
}
