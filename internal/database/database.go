package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/skunkworks/algocore/internal/config"
)

// MemoryPath opens a shared in-memory sqlite database.
const MemoryPath = "file::memory:?cache=shared"

var sqlitePragmas = []string{
	"PRAGMA user_version = 1;",
	"PRAGMA journal_mode = MEMORY;",
	"PRAGMA synchronous = OFF;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
}

// Manager handles a database connection.
type Manager struct {
	DB     *gorm.DB
	SqlDB  *sql.DB
	Logger zerolog.Logger
}

// NewManager creates a new database manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{Logger: log}
}

// PostgresDSN builds the connection string for cfg.
func PostgresDSN(cfg config.PostgresConfig) string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)
}

// PostgresDialector returns a gorm dialector for cfg.
func PostgresDialector(cfg config.PostgresConfig) gorm.Dialector {
	return postgres.New(postgres.Config{
		DSN:                  PostgresDSN(cfg),
		PreferSimpleProtocol: true,
	})
}

// SQLiteDialector returns a gorm dialector for the file at path.
// An empty path selects an in-memory database.
func SQLiteDialector(path string) gorm.Dialector {
	if path == "" {
		path = MemoryPath
	}
	return sqlite.Open(path)
}

// Open connects through the dialector and validates the connection.
func (m *Manager) Open(d gorm.Dialector) error {
	isSQLite := d.Name() == "sqlite"

	cfg := &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
	if isSQLite {
		cfg.PrepareStmt = true
		cfg.CreateBatchSize = 2000
	} else {
		cfg.CreateBatchSize = 10000
	}

	db, err := gorm.Open(d, cfg)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.Name(), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to validate connection: %w", err)
	}

	if isSQLite {
		for _, pragma := range sqlitePragmas {
			if err := db.Exec(pragma).Error; err != nil {
				_ = sqlDB.Close()
				return fmt.Errorf("error setting PRAGMA: %w", err)
			}
		}
	} else {
		sqlDB.SetMaxOpenConns(10)
	}

	m.DB = db
	m.SqlDB = sqlDB
	m.Logger.Info().Str("dialect", d.Name()).Msg("Connected to database")
	return nil
}

// Migrate creates or updates the tables for models.
func (m *Manager) Migrate(models ...any) error {
	if m.DB == nil {
		return errors.New("database not open")
	}
	m.Logger.Info().Msg("Migrating schema")
	if err := m.DB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	m.Logger.Info().Msg("Database setup complete")
	return nil
}

// Close closes the underlying connection pool.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	err := m.SqlDB.Close()
	m.SqlDB = nil
	m.DB = nil
	return err
}

// DumpMemoryToDisk vacuums a sqlite database into a file, replacing any
// existing file at path.
func (m *Manager) DumpMemoryToDisk(path string) error {
	if path == "" {
		return errors.New("sqlite file path not set")
	}
	if m.DB == nil {
		return errors.New("database not open")
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("error removing existing DB file: %w", err)
		}
	}

	start := time.Now()
	if err := m.DB.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("error dumping DB to disk: %w", err)
	}

	m.Logger.Debug().Dur("duration", time.Since(start)).Str("path", path).Msg("Dumped DB to disk")
	return nil
}
