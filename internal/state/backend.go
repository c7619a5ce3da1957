// Package state persists per-agent documents: followed users, daily counters,
// post history, follower snapshots, engagement history and rebalanced limits.
//
// Each document is addressed by (namespace, entity) and rewritten in full on
// every save. Two backends exist: one JSON file per document, or a single
// SQLite table holding every document.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by a Backend when the document does not exist yet.
var ErrNotFound = errors.New("state document not found")

// Backend stores opaque documents.
type Backend interface {
	Read(namespace, entity string) ([]byte, error)
	Write(namespace, entity string, data []byte) error
	Close() error
}

// =============================================================================
// FILE BACKEND
// =============================================================================

// FileBackend keeps each document at <dir>/<namespace>_<entity>.json.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the data directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Path returns the file backing a document.
func (b *FileBackend) Path(namespace, entity string) string {
	return filepath.Join(b.dir, namespace+"_"+entity+".json")
}

func (b *FileBackend) Read(namespace, entity string) ([]byte, error) {
	data, err := os.ReadFile(b.Path(namespace, entity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (b *FileBackend) Write(namespace, entity string, data []byte) error {
	return atomicWrite(b.Path(namespace, entity), data)
}

func (b *FileBackend) Close() error { return nil }

// atomicWrite writes through a temp file in the same directory and renames it
// over path.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// =============================================================================
// SQLITE BACKEND
// =============================================================================

// SQLite drivers registered by this package.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCGO     = "sqlite3" // github.com/mattn/go-sqlite3
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

const schema = `
CREATE TABLE IF NOT EXISTS agent_state (
	namespace  TEXT NOT NULL,
	entity     TEXT NOT NULL,
	body       BLOB NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (namespace, entity)
);`

// SQLBackend keeps every document in one SQLite table.
type SQLBackend struct {
	db      *sql.DB
	timeout time.Duration
}

// OpenSQLite opens (or creates) the database at path with the given driver.
func OpenSQLite(driver, path string) (*SQLBackend, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLBackend{db: db, timeout: 10 * time.Second}, nil
}

func (b *SQLBackend) Read(namespace, entity string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var body []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT body FROM agent_state WHERE namespace = ? AND entity = ?`,
		namespace, entity).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (b *SQLBackend) Write(namespace, entity string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO agent_state (namespace, entity, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, entity) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at`,
		namespace, entity, data, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
