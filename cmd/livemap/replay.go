package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/transitlive/livemap/internal/config"
	"github.com/transitlive/livemap/internal/engine"
	"github.com/transitlive/livemap/internal/logging"
	"github.com/transitlive/livemap/internal/parser"
	"github.com/transitlive/livemap/internal/renderer"
	"github.com/transitlive/livemap/internal/storage/memory"
	"github.com/transitlive/livemap/pkg/core"
)

// replayCmd feeds recorded snapshot files through the engine and prints the
// resulting instruction batches, one JSON line per snapshot.
func replayCmd() *cobra.Command {
	var (
		format   string
		allTypes bool
	)

	cmd := &cobra.Command{
		Use:   "replay <snapshot files...>",
		Short: "Replay recorded snapshots and print map instructions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cleanup, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if allTypes {
				cfg.Visibility.DefaultTypes = allVehicleTypes()
			}
			batches, err := replay(cmd.Context(), cfg, args, format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			Logger.Info("Replay finished", "files", len(args), "batches", batches)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Snapshot format: json or gtfsrt (default: by file extension)")
	cmd.Flags().BoolVar(&allTypes, "all-types", false, "Show every vehicle type regardless of the configured defaults")
	return cmd
}

func allVehicleTypes() []string {
	out := make([]string, 0, len(core.VehicleTypes))
	for _, t := range core.VehicleTypes {
		out = append(out, string(t))
	}
	return out
}

// batchPrinter writes each applied instruction batch as one JSON line.
type batchPrinter struct {
	*renderer.Recorder
	mu      sync.Mutex
	enc     *json.Encoder
	batches int
	err     error
}

func newBatchPrinter(w io.Writer) *batchPrinter {
	return &batchPrinter{Recorder: renderer.NewRecorder(), enc: json.NewEncoder(w)}
}

func (p *batchPrinter) ApplyBatch(ins []core.Instruction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches++
	if p.err != nil {
		return
	}
	p.err = p.enc.Encode(struct {
		Batch        int                `json:"batch"`
		Instructions []core.Instruction `json:"instructions"`
	}{p.batches, ins})
}

// replay applies files in order and returns the number of printed batches.
func replay(ctx context.Context, cfg config.Config, files []string, format string, out io.Writer) (int, error) {
	backend := memory.New()
	if err := backend.Init(); err != nil {
		return 0, err
	}
	defer backend.Close()

	printer := newBatchPrinter(out)
	// stdout carries the instruction stream, so event logs go to stderr as JSON.
	eventLog := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Str("component", "dispatcher").Logger()
	eng, err := engine.New(ctx, engine.Deps{
		Config:      cfg,
		Backend:     backend,
		Renderer:    printer,
		Logger:      Logger,
		EventLogger: logging.NewZerologAdapter(eventLog),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create engine: %w", err)
	}

	p := parser.New(Logger)
	for _, path := range files {
		snap, err := readSnapshot(p, path, format)
		if err != nil {
			eng.Close()
			return 0, err
		}
		if len(snap.Rejected) > 0 {
			Logger.Warn("Snapshot had rejected records", "file", path, "rejected", len(snap.Rejected))
		}
		if err := eng.SubmitSnapshot(snap); err != nil {
			eng.Close()
			return 0, fmt.Errorf("failed to submit %s: %w", path, err)
		}
	}
	eng.Close()

	printer.mu.Lock()
	defer printer.mu.Unlock()
	if printer.err != nil {
		return printer.batches, fmt.Errorf("failed to write instructions: %w", printer.err)
	}
	return printer.batches, nil
}

func readSnapshot(p *parser.Parser, path, format string) (core.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pb", ".bin", ".gtfsrt":
			format = "gtfsrt"
		default:
			format = "json"
		}
	}
	var snap core.Snapshot
	switch format {
	case "gtfsrt":
		snap, err = p.ParseGTFSRealtime(data)
	case "json":
		snap, err = p.ParseSnapshot(data)
	default:
		return core.Snapshot{}, fmt.Errorf("unknown snapshot format: %q", format)
	}
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return snap, nil
}
