// Package factory selects the storage backend named by the configuration.
package factory

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/transitlive/livemap/internal/config"
	"github.com/transitlive/livemap/internal/storage"
	"github.com/transitlive/livemap/internal/storage/memory"
	postgresstorage "github.com/transitlive/livemap/internal/storage/postgres"
	redisstorage "github.com/transitlive/livemap/internal/storage/redis"
	sqlitestorage "github.com/transitlive/livemap/internal/storage/sqlite"
)

// NewBackend returns an uninitialised backend for cfg.Storage.Type.
// Callers must Init it before use and Close it on shutdown.
func NewBackend(cfg config.Config, dbLog zerolog.Logger, log *slog.Logger) (storage.Backend, error) {
	switch cfg.Storage.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlitestorage.New(cfg.Storage.Sqlite, dbLog, log)
	case "postgres":
		return postgresstorage.New(postgresstorage.Dependencies{
			Config:   cfg.DB,
			DBLogger: dbLog,
			Logger:   log,
		}), nil
	case "redis":
		return redisstorage.New(cfg.Storage.Redis), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Storage.Type)
	}
}
