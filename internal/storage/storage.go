// Package storage defines the key/value persistence used for UI state such
// as the active vehicle set.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/transitlive/livemap/internal/model"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("storage: key not found")

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Key joins a namespace and a name so unrelated state never collides.
func Key(namespace, name string) string {
	namespace = strings.TrimSuffix(namespace, ":")
	if namespace == "" {
		return name
	}
	return namespace + ":" + name
}

// SnapshotLogger is an optional interface for backends that keep an audit
// trail of applied snapshots.
type SnapshotLogger interface {
	LogSnapshot(ctx context.Context, entry model.SnapshotLog) error
}
