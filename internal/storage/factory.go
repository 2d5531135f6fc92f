// internal/storage/factory.go
package storage

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/skunkworks/algocore/internal/config"
	"github.com/skunkworks/algocore/internal/database"
	"github.com/skunkworks/algocore/internal/storage/gormstore"
	"github.com/skunkworks/algocore/internal/storage/memory"
	"github.com/skunkworks/algocore/internal/storage/websocket"
)

// NewBackend creates a storage backend based on configuration. The backend
// is not yet initialized. The websocket backend logs through logger; the
// database backends log through dbLog.
func NewBackend(cfg config.StorageConfig, logger *slog.Logger, dbLog zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "memory":
		return memory.New(cfg.Memory), nil
	case "sqlite":
		return gormstore.New(database.SQLiteDialector(cfg.SQLite.Path), dbLog), nil
	case "postgres":
		return gormstore.New(database.PostgresDialector(cfg.Postgres), dbLog), nil
	case "websocket":
		return websocket.New(websocket.Config{URL: cfg.WebSocket.URL, Secret: cfg.WebSocket.Secret}, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
