// Package postgres implements the storage.Backend interface on Postgres.
// Settings are written through directly; snapshot log rows go through an
// internal queue drained by a background writer goroutine.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/transitlive/livemap/internal/config"
	"github.com/transitlive/livemap/internal/database"
	"github.com/transitlive/livemap/internal/model"
	"github.com/transitlive/livemap/internal/queue"
	gormstorage "github.com/transitlive/livemap/internal/storage/gorm"
)

// DefaultFlushInterval is how often queued snapshot log rows are written.
const DefaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	// DB is used as-is when set; otherwise Init connects through a database.Manager.
	DB            *gorm.DB
	Config        config.DBConfig
	DBLogger      zerolog.Logger
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// Backend implements storage.Backend using GORM/Postgres with a queued snapshot log.
type Backend struct {
	*gormstorage.Backend
	deps     Dependencies
	manager  *database.Manager
	logs     *queue.Queue[model.SnapshotLog]
	stopChan chan struct{}
	stopOnce sync.Once
	running  bool
	done     chan struct{}
}

// New creates a new Postgres storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps:     deps,
		logs:     queue.New[model.SnapshotLog](),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Init connects (falling back to SQLite when Postgres is unreachable), migrates
// the schema and starts the writer goroutine.
func (b *Backend) Init() error {
	db := b.deps.DB
	if db == nil {
		b.manager = database.NewManager(b.deps.Config, b.deps.DBLogger)
		if err := b.manager.Connect(); err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		db = b.manager.DB
	}
	b.Backend = gormstorage.New(db)
	if err := b.Backend.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.running = true
	go b.writeLoop()
	return nil
}

// LogSnapshot queues a snapshot log row for the writer goroutine.
func (b *Backend) LogSnapshot(_ context.Context, entry model.SnapshotLog) error {
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}
	b.logs.Push(entry)
	return nil
}

// Pending returns the number of queued snapshot log rows.
func (b *Backend) Pending() int {
	return b.logs.Len()
}

// Close stops the writer goroutine after a final flush.
func (b *Backend) Close() error {
	var err error
	b.stopOnce.Do(func() {
		close(b.stopChan)
		if b.running {
			<-b.done
		}
		if b.manager != nil {
			err = b.manager.Close()
		}
	})
	return err
}

func (b *Backend) writeLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			b.flush()
			return
		case <-ticker.C:
			b.flush()
		}
	}
}

func (b *Backend) flush() {
	if b.logs.Len() == 0 {
		return
	}
	items := b.logs.GetAndEmpty()
	if err := b.DB().CreateInBatches(items, 500).Error; err != nil {
		b.deps.Logger.Error("failed to write snapshot log", "rows", len(items), "error", err)
		return
	}
	b.deps.Logger.Debug("wrote snapshot log", "rows", len(items))
}
