package writecache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/boardsync/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteBackend stores one row per cached item. Save replaces the table
// contents inside a single transaction.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at path and applies
// migrations.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// RunMigrations applies all pending migrations from the embedded FS.
func RunMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context) (*State, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT item_id, last_value, written_at FROM write_cache`)
	if err != nil {
		return nil, fmt.Errorf("query write_cache: %w", err)
	}
	defer rows.Close()

	state := newState()
	for rows.Next() {
		var id, value, writtenAt string
		if err := rows.Scan(&id, &value, &writtenAt); err != nil {
			return nil, fmt.Errorf("scan write_cache: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339Nano, writtenAt)
		state.Items[id] = Entry{LastValue: value, WrittenAt: ts}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(state.Items) == 0 {
		return nil, nil
	}
	return state, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, state *State) error {
	if state == nil {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM write_cache`); err != nil {
		return fmt.Errorf("clear write_cache: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO write_cache (item_id, last_value, written_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for id, e := range state.Items {
		if _, err := stmt.ExecContext(ctx, id, e.LastValue, e.WrittenAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
