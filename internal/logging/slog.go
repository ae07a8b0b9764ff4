package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Options configures SlogManager.Setup.
type Options struct {
	// Console defaults to stdout. File, when set, replaces the console.
	Console     io.Writer
	File        io.Writer
	Level       string
	ServiceName string
	// Provider enables the OTel bridge when non-nil.
	Provider *sdklog.LoggerProvider
}

// SlogManager builds the process logger and owns its OTel provider.
type SlogManager struct {
	logger      *slog.Logger
	logProvider *sdklog.LoggerProvider
	context     atomic.Pointer[ContextProvider]
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup (re)builds the logger. Text output goes to the log file when one is
// given, otherwise to the console. Records also reach OTel when a provider is set.
func (m *SlogManager) Setup(opts Options) {
	m.logProvider = opts.Provider

	handlerOpts := &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	out := opts.File
	if out == nil {
		out = opts.Console
	}
	if out == nil {
		out = os.Stdout
	}
	handlers := []slog.Handler{slog.NewTextHandler(out, handlerOpts)}

	if opts.Provider != nil {
		name := opts.ServiceName
		if name == "" {
			name = "livemap"
		}
		handlers = append(handlers, otelslog.NewHandler(name, otelslog.WithLoggerProvider(opts.Provider)))
	}

	handler := NewContextHandler(NewMultiHandler(handlers...), m.dynamicAttrs)
	m.logger = slog.New(handler)
	m.logger.Info("Logging initialized", "level", opts.Level)
}

// SetContext installs the per-record attribute provider. It may be called
// after Setup, once the components it reads exist.
func (m *SlogManager) SetContext(p ContextProvider) {
	m.context.Store(&p)
}

func (m *SlogManager) dynamicAttrs() []slog.Attr {
	p := m.context.Load()
	if p == nil || *p == nil {
		return nil
	}
	return (*p)()
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
