package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mantonx/captiond/internal/config"
	"github.com/mantonx/captiond/internal/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Initialize opens the database connection described by the configuration.
// TranslateError is enabled so unique-index conflicts surface as
// gorm.ErrDuplicatedKey on both sqlite and postgres; the reconciler depends
// on that to treat racing inserts as no-ops.
func Initialize(cfg *config.DatabaseConfig) error {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "postgres":
		if cfg.URL == "" {
			return fmt.Errorf("postgres selected but database.url is empty")
		}
		dialector = postgres.Open(cfg.URL)
	case "sqlite":
		dbPath := cfg.DatabasePath
		if dbPath == "" {
			dbPath = filepath.Join(cfg.DataDir, "captiond.db")
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		dialector = sqlite.Open(dbPath)
	default:
		return fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	logMode := gormlogger.Silent
	if cfg.LogQueries {
		logMode = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logMode),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := configureConnectionPool(db, cfg.Type); err != nil {
		return fmt.Errorf("failed to configure connection pool: %w", err)
	}

	DB = db
	logger.Info("Database initialized with %s", cfg.Type)
	return nil
}

// configureConnectionPool sets connection pool parameters. Sqlite serializes
// writes in a single file, so a wide pool only creates lock contention there.
func configureConnectionPool(db *gorm.DB, dbType string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	maxOpen := 100
	if dbType == "sqlite" {
		maxOpen = 1
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(time.Minute * 30)

	return nil
}

// MigrateCore migrates the persisted domain models. Modules migrate their
// own tables at startup; this is the one-call variant used by tests and
// tools. The event log table is owned by the events package.
func MigrateCore(db *gorm.DB) error {
	return db.AutoMigrate(
		&Directory{},
		&Item{},
		&Tag{},
		&Embedding{},
	)
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
