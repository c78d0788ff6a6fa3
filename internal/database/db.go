package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the on-disk feed and favorites cache.
//
// All writes go through a single-connection pool so they serialise in one
// place; reads use a separate pool and, with WAL enabled, never wait on a
// writer. Every statement sees a committed snapshot.
type DB struct {
	write  *sql.DB
	read   *sql.DB
	clock  func() time.Time
	logger *slog.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(db *DB) {
		if clock != nil {
			db.clock = clock
		}
	}
}

// WithLogger sets the logger used for migration and maintenance messages.
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) {
		if logger != nil {
			db.logger = logger
		}
	}
}

const busyTimeoutMillis = 5000

// New opens the cache at dbPath, creating the directory if needed, and brings
// the schema up to date. A migration failure is returned as *MigrationError.
func New(ctx context.Context, dbPath string, opts ...Option) (*DB, error) {
	db, err := open(ctx, dbPath, opts...)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func open(ctx context.Context, dbPath string, opts ...Option) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db := &DB{
		clock:  time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(db)
	}

	write, err := sql.Open("sqlite", dsn(dbPath, true))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	write.SetMaxOpenConns(1)
	db.write = write

	// Switch to WAL before the read pool connects so readers never block on
	// the writer.
	if _, err := write.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		write.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}

	read, err := sql.Open("sqlite", dsn(dbPath, false))
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("opening read pool: %w", err)
	}
	read.SetMaxOpenConns(4)
	db.read = read

	return db, nil
}

func dsn(path string, writer bool) string {
	s := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, busyTimeoutMillis)
	if writer {
		s += "&_txlock=immediate"
	}
	return s
}

// Close closes both connection pools.
func (db *DB) Close() error {
	var errs []error
	if db.read != nil {
		errs = append(errs, db.read.Close())
	}
	if db.write != nil {
		errs = append(errs, db.write.Close())
	}
	return errors.Join(errs...)
}

// withTx runs fn inside one write transaction, committing on success.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func nullUnixMilli(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
