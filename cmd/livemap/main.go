package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/transitlive/livemap/internal/config"
	"github.com/transitlive/livemap/internal/logging"
	"github.com/transitlive/livemap/internal/otel"
)

const serviceName = "livemap"

var (
	configDir string
	logToFile bool

	SessionStartTime = time.Now()
	SlogManager      = logging.NewSlogManager()
	Logger           = slog.Default()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "livemap",
		Short: "Live vehicle map - reconciles feed snapshots into map instructions",
		Long: `Reads vehicle position snapshots from a polled feed and a live push
channel, keeps a stable identity and a recent trail per vehicle, and streams
the resulting map instructions to connected browsers.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "Directory holding livemap.cfg and .env")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-file", false, "Write logs to a session file under logsDir")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(replayCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config directory given on the command line.
func loadConfig() (config.Config, error) {
	if err := config.Load(configDir); err != nil {
		return config.Config{}, err
	}
	return config.Read()
}

// setupLogging builds the process logger and returns its cleanup. With
// --log-file, text logs and the OTel file exporter share the session file.
func setupLogging(cfg config.Config) (func(), error) {
	var (
		file io.Writer
		f    *os.File
	)
	if logToFile {
		if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create logs dir: %w", err)
		}
		path := logging.LogFilePath(cfg.LogsDir, serviceName, SessionStartTime)
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
	}

	provider, err := otel.New(cfg.OTel, file)
	if err != nil {
		if f != nil {
			f.Close()
		}
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	opts := logging.Options{
		Console:     os.Stderr,
		File:        file,
		Level:       cfg.LogLevel,
		ServiceName: cfg.OTel.ServiceName,
	}
	if provider.Enabled() {
		opts.Provider = provider.LoggerProvider()
	}
	SlogManager.Setup(opts)
	Logger = SlogManager.Logger()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := SlogManager.Flush(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "failed to flush logs:", err)
		}
		if err := provider.Shutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "failed to shut down telemetry:", err)
		}
		if f != nil {
			f.Close()
		}
	}, nil
}
