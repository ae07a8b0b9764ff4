// Package engine wires the feed sources, the reconciler, visibility and the
// renderer together. Every state change goes through one dispatcher lane so
// pushed messages, polls, visibility toggles and sweeps apply strictly in
// arrival order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/transitlive/livemap/internal/config"
	"github.com/transitlive/livemap/internal/dispatcher"
	"github.com/transitlive/livemap/internal/history"
	"github.com/transitlive/livemap/internal/identity"
	"github.com/transitlive/livemap/internal/live"
	"github.com/transitlive/livemap/internal/logging"
	"github.com/transitlive/livemap/internal/model"
	"github.com/transitlive/livemap/internal/monitor"
	"github.com/transitlive/livemap/internal/parser"
	"github.com/transitlive/livemap/internal/reconcile"
	"github.com/transitlive/livemap/internal/renderer"
	"github.com/transitlive/livemap/internal/storage"
	"github.com/transitlive/livemap/internal/visibility"
	"github.com/transitlive/livemap/pkg/core"
)

// Event kinds handled on the reconcile lane.
const (
	KindLive       = "live"
	KindPoll       = "poll"
	KindSnapshot   = "snapshot"
	KindVisibility = "visibility"
	KindSweep      = "sweep"

	reconcileLane = "reconcile"
	laneSize      = 64
)

// Sources of an applied snapshot, as written to the snapshot log.
const (
	SourceLive   = "live"
	SourcePoll   = "poll"
	SourceReplay = "replay"
)

// Deps are the collaborators of an Engine. Transport and Fetcher are
// optional; without either the engine only applies submitted snapshots.
type Deps struct {
	Config      config.Config
	Backend     storage.Backend
	SnapshotLog storage.SnapshotLogger
	Renderer    renderer.Renderer
	Transport   live.Transport
	Fetcher     live.Fetcher
	Scheduler   live.Scheduler
	Logger      *slog.Logger
	LogManager  *logging.SlogManager
	// EventLogger receives dispatcher logs; defaults to Logger.
	EventLogger dispatcher.Logger
	Clock       func() time.Time
}

type payload struct {
	source string
	data   []byte
}

// Engine runs the live map.
type Engine struct {
	cfg        config.Config
	logger     *slog.Logger
	clock      func() time.Time
	parser     *parser.Parser
	reconciler *reconcile.Reconciler
	visibility *visibility.Controller
	dispatcher *dispatcher.Dispatcher
	renderer   renderer.Renderer
	status     *monitor.Service
	snapLog    storage.SnapshotLogger
	channel    *live.Channel
	poller     *live.Poller

	// read by the log context provider, which must not take component locks
	tracked      atomic.Int64
	channelState atomic.Value

	closeOnce sync.Once
	started   atomic.Bool
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New builds an engine. The active set is loaded from deps.Backend, which
// must already be initialised.
func New(ctx context.Context, deps Deps) (*Engine, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	rend := deps.Renderer
	if rend == nil {
		rend = renderer.NewRecorder()
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		clock:     clock,
		parser:    parser.New(logger).WithClock(clock),
		renderer:  rend,
		status:    monitor.NewService(logger),
		snapLog:   deps.SnapshotLog,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	e.channelState.Store(live.StateIdle)

	defaults := make([]core.VehicleType, 0, len(cfg.Visibility.DefaultTypes))
	for _, name := range cfg.Visibility.DefaultTypes {
		if t := core.NormalizeVehicleType(name); t != core.VehicleUnknown {
			defaults = append(defaults, t)
		}
	}
	e.visibility = visibility.New(ctx, deps.Backend, cfg.Visibility.Namespace, logger, defaults)

	rec, err := reconcile.New(reconcile.Deps{
		History:    history.NewStore(cfg.History.Window, history.Clock(clock)),
		Resolver:   identity.NewGridResolver(cfg.Reconcile.IdentityGridDegrees),
		Visibility: e.visibility,
		Logger:     logger,
		Clock:      clock,
	}, reconcile.Policy{
		TreatSnapshotAsComplete: cfg.Reconcile.TreatSnapshotAsComplete,
		StaleTimeout:            cfg.Reconcile.StaleTimeout,
		MoveEpsilonDegrees:      cfg.Reconcile.MoveEpsilonDegrees,
		MatchRadiusMeters:       cfg.Identity.MatchRadius,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}
	e.reconciler = rec

	eventLog := deps.EventLogger
	if eventLog == nil {
		eventLog = logging.NewDispatcherLogger(logger)
	}
	d, err := dispatcher.New(eventLog)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	e.dispatcher = d
	e.registerHandlers()

	e.visibility.OnChange(func(ch visibility.Change) {
		if _, err := e.dispatcher.Dispatch(dispatcher.Event{Kind: KindVisibility, Payload: ch}); err != nil {
			e.logger.Warn("failed to queue visibility change", "error", err)
		}
	})

	if deps.Transport != nil {
		e.channel = live.New(deps.Transport, live.Options{
			BaseDelay:     cfg.Live.BaseDelay,
			MaxDelay:      cfg.Live.MaxDelay,
			Scheduler:     deps.Scheduler,
			Logger:        logger,
			OnStateChange: e.onChannelState,
			Now:           clock,
		})
	}
	if deps.Fetcher != nil && cfg.Feed.PollInterval > 0 {
		e.poller = live.NewPoller(deps.Fetcher, cfg.Feed.PollInterval, logger)
	}

	if deps.LogManager != nil {
		deps.LogManager.SetContext(e.logContext)
	}
	return e, nil
}

func (e *Engine) registerHandlers() {
	opts := []dispatcher.Option{
		dispatcher.Buffered(laneSize),
		dispatcher.Blocking(),
		dispatcher.Lane(reconcileLane),
		dispatcher.Logged(),
	}
	e.dispatcher.Register(KindLive, e.handleLive, opts...)
	e.dispatcher.Register(KindPoll, e.handlePoll, opts...)
	e.dispatcher.Register(KindSnapshot, e.handleSnapshot, opts...)
	e.dispatcher.Register(KindVisibility, e.handleVisibility, opts...)
	e.dispatcher.Register(KindSweep, e.handleSweep, opts...)
}

// Start opens the live channel, the poller and the sweeper.
func (e *Engine) Start() error {
	if e.channel != nil {
		err := e.channel.Start(
			func(data []byte) error { return e.submit(KindLive, SourceLive, data) },
			func(error) {},
		)
		if err != nil && !errors.Is(err, live.ErrAlreadyStarted) {
			return fmt.Errorf("failed to start live channel: %w", err)
		}
	}
	if e.poller != nil {
		e.poller.Start(
			func(data []byte) error { return e.submit(KindPoll, SourcePoll, data) },
			e.status.Failed,
		)
	}
	if e.started.CompareAndSwap(false, true) {
		go e.sweepLoop()
	}
	return nil
}

// Run starts the engine and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	e.Close()
	return nil
}

// Close stops every source and drains queued work. Idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.channel != nil {
			e.channel.Stop()
		}
		if e.poller != nil {
			e.poller.Stop()
		}
		close(e.stopSweep)
		if e.started.Load() {
			<-e.sweepDone
		}
		e.dispatcher.Close()
	})
}

// SubmitSnapshot queues an already parsed snapshot.
func (e *Engine) SubmitSnapshot(snap core.Snapshot) error {
	_, err := e.dispatcher.Dispatch(dispatcher.Event{Kind: KindSnapshot, Payload: snap})
	return err
}

// Sweep queues a staleness and history sweep.
func (e *Engine) Sweep() error {
	_, err := e.dispatcher.Dispatch(dispatcher.Event{Kind: KindSweep, Payload: e.clock()})
	return err
}

// Status exposes the connection indicator.
func (e *Engine) Status() *monitor.Service { return e.status }

// Visibility exposes the active set.
func (e *Engine) Visibility() *visibility.Controller { return e.visibility }

// Tracked returns a copy of every tracked vehicle.
func (e *Engine) Tracked() []reconcile.TrackedView { return e.reconciler.Tracked() }

func (e *Engine) submit(kind, source string, data []byte) error {
	_, err := e.dispatcher.Dispatch(dispatcher.Event{Kind: kind, Payload: payload{source: source, data: data}})
	return err
}

func (e *Engine) handleLive(ev dispatcher.Event) (any, error) {
	p, ok := ev.Payload.(payload)
	if !ok {
		return nil, fmt.Errorf("invalid payload for %s: %T", ev.Kind, ev.Payload)
	}
	msg, err := e.parser.ParseMessage(p.data)
	if err != nil {
		return nil, fmt.Errorf("discarding live message (%d bytes): %w", len(p.data), err)
	}
	return e.apply(p.source, msg.Snapshot), nil
}

func (e *Engine) handlePoll(ev dispatcher.Event) (any, error) {
	p, ok := ev.Payload.(payload)
	if !ok {
		return nil, fmt.Errorf("invalid payload for %s: %T", ev.Kind, ev.Payload)
	}
	var (
		snap core.Snapshot
		err  error
	)
	if e.cfg.Feed.Format == "gtfsrt" {
		snap, err = e.parser.ParseGTFSRealtime(p.data)
	} else {
		snap, err = e.parser.ParseSnapshot(p.data)
	}
	if err != nil {
		e.status.Failed(err)
		return nil, fmt.Errorf("discarding polled snapshot (%d bytes): %w", len(p.data), err)
	}
	return e.apply(p.source, snap), nil
}

func (e *Engine) handleSnapshot(ev dispatcher.Event) (any, error) {
	snap, ok := ev.Payload.(core.Snapshot)
	if !ok {
		return nil, fmt.Errorf("invalid payload for %s: %T", ev.Kind, ev.Payload)
	}
	return e.apply(SourceReplay, snap), nil
}

func (e *Engine) handleVisibility(ev dispatcher.Event) (any, error) {
	ch, ok := ev.Payload.(visibility.Change)
	if !ok {
		return nil, fmt.Errorf("invalid payload for %s: %T", ev.Kind, ev.Payload)
	}
	var ins []core.Instruction
	switch {
	case ch.Identity == "":
		ins = e.reconciler.Refresh()
	case ch.Active:
		ins = e.reconciler.Show(ch.Identity)
	default:
		ins = e.reconciler.Hide(ch.Identity)
	}
	renderer.Apply(e.renderer, ins)
	return len(ins), nil
}

func (e *Engine) handleSweep(ev dispatcher.Event) (any, error) {
	now, ok := ev.Payload.(time.Time)
	if !ok {
		now = e.clock()
	}
	res := e.reconciler.Sweep(now)
	renderer.Apply(e.renderer, res.Instructions)
	e.tracked.Store(int64(e.reconciler.Len()))
	if res.Removed > 0 {
		e.logger.Info("Sweep removed stale vehicles", "removed", res.Removed)
	}
	return res, nil
}

func (e *Engine) apply(source string, snap core.Snapshot) reconcile.Result {
	res := e.reconciler.Apply(snap)
	renderer.Apply(e.renderer, res.Instructions)

	tracked := e.reconciler.Len()
	e.tracked.Store(int64(tracked))
	at := snap.ReceivedAt
	if at.IsZero() {
		at = e.clock()
	}
	e.status.SnapshotApplied(tracked, res.Rejected, at)
	e.logger.Debug("Snapshot applied", "source", source, "result", res.String())

	if e.snapLog != nil {
		entry := model.SnapshotLog{
			ReceivedAt:   at,
			Source:       source,
			Records:      len(snap.Records) + len(snap.Rejected),
			Created:      res.Created,
			Updated:      res.Updated,
			Removed:      res.Removed,
			Rejected:     res.Rejected,
			Instructions: len(res.Instructions),
		}
		if err := e.snapLog.LogSnapshot(context.Background(), entry); err != nil {
			e.logger.Warn("failed to log snapshot", "error", err)
		}
	}
	return res
}

func (e *Engine) sweepLoop() {
	defer close(e.sweepDone)
	interval := e.cfg.Reconcile.SweepInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopSweep:
			return
		case <-ticker.C:
			if err := e.Sweep(); err != nil && !errors.Is(err, dispatcher.ErrClosed) {
				e.logger.Warn("failed to queue sweep", "error", err)
			}
		}
	}
}

func (e *Engine) onChannelState(ch live.StateChange) {
	e.channelState.Store(ch.State)
	switch ch.State {
	case live.StateConnecting:
		e.status.Connecting()
	case live.StateConnected:
		e.status.Connected()
	case live.StateRetrying:
		e.status.Retrying(ch.Err, ch.Delay, e.clock())
	case live.StateStopped:
		e.status.Stopped()
	}
}

func (e *Engine) logContext() []slog.Attr {
	state, _ := e.channelState.Load().(live.State)
	return []slog.Attr{
		slog.Int64("tracked", e.tracked.Load()),
		slog.String("channel", string(state)),
	}
}
