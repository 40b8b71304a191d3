package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reservas/internal/models"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the reservation store: slot locks, the discount code ledger,
// payment attempts and reservations share one SQLite database so that a
// promotion can touch all of them in a single transaction.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens the database at path and creates tables if they don't exist.
//
// Every transaction is opened with BEGIN IMMEDIATE (_txlock=immediate), so a
// writer holds the database write lock from its first statement. That lock is
// what serializes overlap checks with inserts and code checks with redemption.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=10000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, path: path, logger: logger}
	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS courts (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			hourly_price INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS slot_locks (
			id TEXT PRIMARY KEY,
			court_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			start_min INTEGER NOT NULL,
			end_min INTEGER NOT NULL,
			owner_session_id TEXT NOT NULL,
			customer_name TEXT,
			customer_email TEXT,
			customer_phone TEXT,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			CHECK (end_min > start_min)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_slot_locks_court_date ON slot_locks(court_id, date, start_min, end_min)`,
		`CREATE INDEX IF NOT EXISTS idx_slot_locks_expires ON slot_locks(expires_at)`,

		`CREATE TABLE IF NOT EXISTS reservations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL UNIQUE,
			lock_id TEXT NOT NULL UNIQUE,
			court_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			start_min INTEGER NOT NULL,
			end_min INTEGER NOT NULL,
			customer_name TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			customer_phone TEXT,
			gross_price INTEGER NOT NULL,
			discount_code TEXT,
			discount_amount INTEGER NOT NULL DEFAULT 0,
			net_price INTEGER NOT NULL,
			commission_base INTEGER NOT NULL,
			commission_tax INTEGER NOT NULL,
			commission_total INTEGER NOT NULL,
			channel TEXT NOT NULL,
			payment_reference TEXT NOT NULL,
			authorization_code TEXT,
			status TEXT NOT NULL DEFAULT 'confirmed',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_court_date ON reservations(court_id, date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_reference ON reservations(payment_reference)`,

		`CREATE TABLE IF NOT EXISTS discount_codes (
			code TEXT PRIMARY KEY,
			owner_email TEXT NOT NULL,
			discount_amount INTEGER NOT NULL,
			expires_at INTEGER,
			used BOOLEAN NOT NULL DEFAULT 0,
			used_at INTEGER,
			used_by_lock_id TEXT,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS payment_attempts (
			reference TEXT PRIMARY KEY,
			lock_id TEXT NOT NULL UNIQUE,
			court_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			start_min INTEGER NOT NULL,
			end_min INTEGER NOT NULL,
			customer_name TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			customer_phone TEXT,
			channel TEXT NOT NULL,
			gross_price INTEGER NOT NULL,
			discount_code TEXT,
			discount_amount INTEGER NOT NULL DEFAULT 0,
			net_price INTEGER NOT NULL,
			commission_base INTEGER NOT NULL,
			commission_tax INTEGER NOT NULL,
			commission_total INTEGER NOT NULL,
			status TEXT NOT NULL,
			authorization_code TEXT,
			failure_reason TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_attempts_status ON payment_attempts(status, updated_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", trimSQL(query), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// Tx is a write transaction over the store. All methods run inside it.
type Tx struct {
	tx *sql.Tx
}

// InTx runs fn inside one write transaction. Expected outcomes returned by fn
// roll the transaction back and pass through untouched; anything else is
// reported as a models.StorageError.
func (db *DB) InTx(ctx context.Context, op string, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return models.Storage(op+": begin", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if !models.IsExpected(err) && db.logger != nil {
			db.logger.Error().Err(err).Str("op", op).Msg("transaction failed")
		}
		return models.Storage(op, err)
	}
	if err := sqlTx.Commit(); err != nil {
		return models.Storage(op+": commit", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func dateFromKey(key string) (time.Time, error) {
	return time.Parse(models.DateLayout, key)
}

func (db *DB) Close() error {
	return db.DB.Close()
}
