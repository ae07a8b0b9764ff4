package factory

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitlive/livemap/internal/config"
	"github.com/transitlive/livemap/internal/storage"
	"github.com/transitlive/livemap/internal/storage/memory"
	postgresstorage "github.com/transitlive/livemap/internal/storage/postgres"
	redisstorage "github.com/transitlive/livemap/internal/storage/redis"
	sqlitestorage "github.com/transitlive/livemap/internal/storage/sqlite"
)

func TestNewBackend(t *testing.T) {
	tests := []struct {
		typ  string
		want storage.Backend
	}{
		{"", &memory.Backend{}},
		{"memory", &memory.Backend{}},
		{"sqlite", &sqlitestorage.Backend{}},
		{"postgres", &postgresstorage.Backend{}},
		{"redis", &redisstorage.Backend{}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			cfg := config.Config{Storage: config.StorageConfig{Type: tt.typ}}
			b, err := NewBackend(cfg, zerolog.Nop(), nil)
			require.NoError(t, err)
			assert.IsType(t, tt.want, b)
			if tt.typ == "sqlite" {
				require.NoError(t, b.Close())
			}
		})
	}
}

func TestNewBackend_Unknown(t *testing.T) {
	_, err := NewBackend(config.Config{Storage: config.StorageConfig{Type: "influx"}}, zerolog.Nop(), nil)
	assert.Error(t, err)
}
