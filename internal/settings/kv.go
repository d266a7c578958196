package settings

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteKV keeps settings in a single sqlite table
type SQLiteKV struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the settings database at dbPath
func OpenSQLite(dbPath string) (*SQLiteKV, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite: empty db path")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: creating dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// One connection serializes writers
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at TIMESTAMP NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate settings: %w", err)
	}

	return &SQLiteKV{db: db}, nil
}

// Get implements KV
func (s *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	const query = `SELECT value FROM settings WHERE key = ? LIMIT 1;`

	var value sql.NullString
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sqlite: get setting: %w", err)
	}
	return value.String, true, nil
}

// Set implements KV. All pairs are written in one transaction.
func (s *SQLiteKV) Set(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}

	const stmt = `
INSERT INTO settings (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	value=excluded.value,
	updated_at=excluded.updated_at;
`
	now := time.Now().UTC()
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, stmt, key, value, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: set setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteKV) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MemoryKV is a KV that lives only as long as the process
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryKV creates an empty in-memory store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

// Get implements KV
func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

// Set implements KV
func (m *MemoryKV) Set(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range values {
		m.values[key] = value
	}
	return nil
}
