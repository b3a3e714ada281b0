package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/akarpov/minichat/internal/domain"
	_ "modernc.org/sqlite"
)

// Storage keys for the two persisted values: the serialized thread list
// and the last active thread id (a bare string).
const (
	keyThreads      = "chat_threads"
	keyActiveThread = "active_thread"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS app_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveState writes the thread list and active thread id under their
// respective keys in one transaction.
func (s *SQLiteStore) SaveState(ctx context.Context, snap domain.Snapshot) error {
	threadsJSON, err := json.Marshal(snap.Threads)
	if err != nil {
		return fmt.Errorf("encode threads: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
	INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, query, keyThreads, string(threadsJSON), now); err != nil {
		return fmt.Errorf("save threads: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, keyActiveThread, snap.ActiveThreadID, now); err != nil {
		return fmt.Errorf("save active thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// LoadState reads the persisted snapshot.
func (s *SQLiteStore) LoadState(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot

	var threadsJSON string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, keyThreads)
	if err := row.Scan(&threadsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snap, ErrNotFound
		}
		return snap, fmt.Errorf("read threads: %w", err)
	}

	if err := json.Unmarshal([]byte(threadsJSON), &snap.Threads); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode threads: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, keyActiveThread)
	if err := row.Scan(&snap.ActiveThreadID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, fmt.Errorf("read active thread: %w", err)
	}

	return snap, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
