package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// MemoryPath opens a private in-memory store.
const MemoryPath = ":memory:"

// connPragmas are applied by the driver to every connection it opens.
// The status sync, the audit writer and the API share the one connection,
// so a locked database waits instead of failing.
var connPragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
}

// Database is the sqlite store of charts, risk buckets, bot records and
// their audit trail.
type Database struct {
	DB   *sql.DB
	path string
}

// New opens (and creates the directory of) the store at path. The schema is
// not touched; see Open.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; an in-memory store must also never get a second connection
	conn.SetMaxOpenConns(1)
	if path != MemoryPath {
		conn.SetConnMaxLifetime(time.Hour)
	}
	return &Database{DB: conn, path: path}, nil
}

// Open opens the store at path and brings its schema up to date.
func Open(path string) (*Database, error) {
	d, err := New(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(d); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func dsn(path string) string {
	params := make([]string, 0, len(connPragmas))
	for _, p := range connPragmas {
		params = append(params, "_pragma="+p)
	}
	return path + "?" + strings.Join(params, "&")
}

// Path returns the path the store was opened with.
func (d *Database) Path() string { return d.path }

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
