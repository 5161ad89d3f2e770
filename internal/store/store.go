// Package store is the persistence layer: a gorm-backed repository for
// certificate records, notification rules and the append-only
// notification log.
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"certitrack/internal/inventory"
)

// Store wraps the database handle. All methods are safe for concurrent
// use; the import commit is the only multi-statement transaction.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
	now func() time.Time
}

// Open connects to the configured database. Supported drivers are
// "sqlite" (default, file DSN) and "postgres" (full DSN).
func Open(driver, dsn string, log zerolog.Logger) (*Store, error) {
	gormConfig := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite", "":
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &Store{db: db, log: log, now: time.Now}, nil
}

// Migrate creates or updates the schema.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&inventory.CertificateRecord{},
		&inventory.NotificationRule{},
		&inventory.NotificationLogEntry{},
	)
}

// SetClock overrides the store clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// DB exposes the underlying handle for wiring that needs it (health
// checks). Business code goes through the typed methods.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping verifies database connectivity.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
