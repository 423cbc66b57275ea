// Package store is the transactional persistence layer: order creation with
// price snapshots and pickup identifiers, the FSM runtime rows and their
// append-only lifecycle log, receipts, payments and the stock ledger.
//
// Methods ending in Tx take the caller's transaction handle so the
// orchestrator can group a row lock, a state write, a log append and a status
// change into one commit. Everything else opens its own transaction.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/korolkovko/Kiosk-RW/internal/config"
	"github.com/korolkovko/Kiosk-RW/internal/domain"
)

// Store wraps the gorm handle with the order-core operations.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogHandler sets the slog handler for store logs.
func WithLogHandler(handler slog.Handler) Option {
	return func(s *Store) {
		if handler != nil {
			s.logger = slog.New(handler).WithGroup("store")
		}
	}
}

// WithLogger sets the logger directly.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wraps an open database handle.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default().WithGroup("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sqliteDSN ensures a busy timeout on the connection. SQLite has no row
// locks, so a submission that loses the single-writer race must wait for the
// other transaction instead of failing with SQLITE_BUSY.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_busy_timeout=5000"
	}
	return dsn + "?_busy_timeout=5000"
}

// Open connects to the configured database and runs schema migration.
func Open(cfg config.DatabaseConfig, opts ...Option) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(cfg.DSN))
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return New(db, opts...), nil
}

// DB exposes the raw handle for callers that manage their own queries.
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn inside one database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
