// Package sqlitestorage implements the storage.Backend interface using SQLite.
// It wraps the GORM backend via composition; the only SQLite-specific concerns
// are opening the database and, for an in-memory database, the periodic disk
// dump via VACUUM INTO.
package sqlitestorage

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/transitlive/livemap/internal/config"
	"github.com/transitlive/livemap/internal/database"
	gormstorage "github.com/transitlive/livemap/internal/storage/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	manager  *database.Manager
	cfg      config.SqliteConfig
	log      *slog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	dumping  bool
	loopDone chan struct{}
}

// New opens the SQLite database at cfg.Path, or an in-memory one when empty.
func New(cfg config.SqliteConfig, dbLog zerolog.Logger, log *slog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	m := database.NewManager(config.DBConfig{}, dbLog)
	if err := m.ConnectSqlite(cfg.Path); err != nil {
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}

	return &Backend{
		Backend:  gormstorage.New(m.DB),
		manager:  m,
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
		loopDone: make(chan struct{}),
	}, nil
}

// Init migrates the schema and starts the dump goroutine for in-memory databases.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.Path == "" && b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.dumping = true
		go b.dumpLoop()
	}

	return nil
}

// Close stops the dump goroutine, writes a final dump and closes the database.
func (b *Backend) Close() error {
	var err error
	b.stopOnce.Do(func() {
		close(b.stopChan)
		if b.dumping {
			<-b.loopDone
		}
		if b.cfg.Path == "" && b.cfg.DumpPath != "" {
			if dumpErr := b.manager.DumpMemoryToDisk(b.cfg.DumpPath); dumpErr != nil {
				b.log.Error("final sqlite dump failed", "error", dumpErr)
			}
		}
		err = b.manager.Close()
	})
	return err
}

// Dump writes the in-memory database to the configured dump path now.
func (b *Backend) Dump() error {
	return b.manager.DumpMemoryToDisk(b.cfg.DumpPath)
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
func (b *Backend) dumpLoop() {
	defer close(b.loopDone)
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.Dump(); err != nil {
				b.log.Error("sqlite dump failed", "error", err)
			} else {
				b.log.Debug("sqlite dumped to disk", "duration", time.Since(start))
			}
		}
	}
}
