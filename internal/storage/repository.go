package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"famfin/internal/core"
	"famfin/internal/ledger"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the durable ledger backend. Every View and Update runs
// inside one database transaction.
type SQLiteRepository struct {
	db *sql.DB
}

var _ ledger.Backend = (*SQLiteRepository)(nil)

// DSN builds the connection string used for both the ledger and migrations.
func DSN(dbPath string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + dbPath + "?" + q.Encode()
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("SQLite ledger opened", "path", dbPath)
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// View runs fn in a transaction that is always rolled back, so every read
// inside fn sees the same snapshot.
func (r *SQLiteRepository) View(ctx context.Context, fn func(ledger.Reader) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.StorageError("begin read", err)
	}
	defer tx.Rollback()
	return fn(New(tx))
}

// Update runs fn in a transaction committed only when fn succeeds.
func (r *SQLiteRepository) Update(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.StorageError("begin update", err)
	}
	if err := fn(New(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return core.StorageError("commit", err)
	}
	return nil
}
