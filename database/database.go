package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/storytailor/storytailor/config"
	"github.com/storytailor/storytailor/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectAttempts = 30

// Connect opens Postgres when DATABASE_URL is set and falls back to SQLite otherwise.
// Postgres is retried for up to 30 seconds so the server can start alongside its database container.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: newLogger(cfg.Debug)}

	if cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL not set, using SQLite at %s", cfg.SQLitePath)
		db, err := gorm.Open(sqlite.Open(sqliteDSN(cfg.SQLitePath)), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, Migrate(db)
	}

	log.Printf("Attempting to connect to Postgres")
	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < connectAttempts; i++ {
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gcfg)
		if err == nil {
			log.Printf("Successfully connected to database")
			break
		}
		log.Printf("Failed to connect to database, retrying in 1 second. Error: %v", err)
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, Migrate(db)
}

// OpenMemory returns a migrated in-memory SQLite database named name. The pool is
// limited to one connection so concurrent callers queue instead of hitting
// shared-cache table locks.
func OpenMemory(name string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, Migrate(db)
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Story{},
		&models.NarrationChunk{},
		&models.GeneratedImage{},
		&models.VideoJob{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// sqliteDSN starts every transaction with BEGIN IMMEDIATE. A deferred transaction
// that reads and then writes fails with "database is locked" when another writer
// commits in between, and the busy timeout does not cover that upgrade.
func sqliteDSN(path string) string {
	return path + "?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
}

func newLogger(debug bool) logger.Interface {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	return logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}
