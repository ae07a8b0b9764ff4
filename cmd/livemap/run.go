package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/transitlive/livemap/internal/config"
	"github.com/transitlive/livemap/internal/engine"
	"github.com/transitlive/livemap/internal/logging"
	"github.com/transitlive/livemap/internal/monitor"
	"github.com/transitlive/livemap/internal/renderer/stream"
	"github.com/transitlive/livemap/internal/storage"
	"github.com/transitlive/livemap/internal/storage/factory"
	"github.com/transitlive/livemap/internal/storage/memory"
)

// runCmd starts the engine and serves the map stream until interrupted.
func runCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Track vehicles and serve the map stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Render.Listen = listen
			}

			cleanup, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			Logger.Info("Starting livemap", "session", SessionStartTime.Format("20060102_150405"), "storage", cfg.Storage.Type, "live", cfg.Live.Transport)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend, err := initStorage(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := backend.Close(); err != nil {
					Logger.Warn("Failed to close storage backend", "error", err)
				}
			}()

			transport, err := newTransport(cfg)
			if err != nil {
				return err
			}

			// The hub and the engine refer to each other; the hub only calls
			// back once clients connect, after eng is set.
			var eng *engine.Engine
			hub := stream.NewHub(stream.Options{
				Projection: stream.Projection(cfg.Render.Projection),
				Backlog:    cfg.Render.Backlog,
				Logger:     Logger,
				Vehicles:   func() any { return eng.Tracked() },
				Status:     func() any { return eng.Status().Status() },
				OnCommand:  func(c stream.Command) error { return eng.HandleCommand(c) },
			})
			defer hub.Close()

			deps := engine.Deps{
				Config:     cfg,
				Backend:    backend,
				Renderer:   hub,
				Transport:  transport,
				Logger:     Logger,
				LogManager: SlogManager,
			}
			if sl, ok := backend.(storage.SnapshotLogger); ok {
				deps.SnapshotLog = sl
			}
			if fetcher := newFetcher(cfg); fetcher != nil {
				deps.Fetcher = fetcher
				if err := fetcher.Healthcheck(ctx); err != nil {
					Logger.Warn("Feed server healthcheck failed", "error", err)
				}
			}

			eng, err = engine.New(ctx, deps)
			if err != nil {
				return fmt.Errorf("failed to create engine: %w", err)
			}
			eng.Status().OnChange(func(st monitor.Status) { hub.BroadcastStatus(st) })
			hub.BroadcastStatus(eng.Status().Status())

			serveErr := make(chan error, 1)
			go func() { serveErr <- hub.Serve(ctx, cfg.Render.Listen) }()

			if err := eng.Start(); err != nil {
				eng.Close()
				return err
			}

			select {
			case <-ctx.Done():
				err = <-serveErr
			case err = <-serveErr:
				stop()
			}
			eng.Close()
			Logger.Info("Livemap stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Override render.listen")
	return cmd
}

// initStorage creates and initializes the configured backend. A backend
// that fails to initialize is replaced by the in-memory one so the map
// keeps working without persisted visibility.
func initStorage(cfg config.Config) (storage.Backend, error) {
	dbLog := logging.NewZerolog(os.Stderr, cfg.LogLevel)
	backend, err := factory.NewBackend(cfg, dbLog, Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}
	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend, falling back to memory", "type", cfg.Storage.Type, "error", err)
		fallback := memory.New()
		if err := fallback.Init(); err != nil {
			return nil, err
		}
		return fallback, nil
	}
	Logger.Info("Storage backend initialized", "type", cfg.Storage.Type)
	return backend, nil
}
