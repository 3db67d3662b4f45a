package database

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite:"

// Open connects to DATABASE_URL. A "sqlite:" prefix selects SQLite (local runs
// and tests); anything else is treated as a PostgreSQL DSN. GORM logs slow
// queries and errors through the default slog logger.
func Open(url string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: newLogger(slog.Default()),
	}

	if strings.HasPrefix(url, sqlitePrefix) {
		db, err := gorm.Open(sqlite.Open(strings.TrimPrefix(url, sqlitePrefix)), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// One connection keeps :memory: databases alive and serializes writers.
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}

	db, err := gorm.Open(postgres.Open(url), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func newLogger(l *slog.Logger) logger.Interface {
	return logger.NewSlogLogger(l.With("component", "gorm"), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
		LogLevel:                  logger.Warn,
	})
}
