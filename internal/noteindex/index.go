// Package noteindex maintains a local SQLite index of the vault's notes.
//
// The index is a query cache, not a source of truth: the Markdown files
// are authoritative and the index is rebuilt from them at any time. The
// watch daemon keeps it current from file events; jot status queries it.
//
// The database lives at .jot/index.db inside the vault and runs in WAL
// mode so status queries never block the updater.
package noteindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the index database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the index database at path and
// initializes the schema. The caller must Close when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping index database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close index database: %w", err)
	}

	db.conn = nil
	return nil
}

// initSchema creates the schema if missing. Idempotent.
func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		path TEXT PRIMARY KEY,          -- vault-relative path
		title TEXT NOT NULL,
		word_count INTEGER NOT NULL DEFAULT 0,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		modified_at TEXT NOT NULL,      -- RFC 3339
		indexed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notes_modified ON notes(modified_at);
	CREATE INDEX IF NOT EXISTS idx_notes_title ON notes(title);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return nil
}

// Upsert inserts or updates a note record.
func (db *DB) Upsert(ctx context.Context, n *Note) error {
	if n.Path == "" {
		return fmt.Errorf("note path is required")
	}

	query := `
	INSERT INTO notes (path, title, word_count, size_bytes, modified_at, indexed_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		title = excluded.title,
		word_count = excluded.word_count,
		size_bytes = excluded.size_bytes,
		modified_at = excluded.modified_at,
		indexed_at = excluded.indexed_at
	`

	_, err := db.conn.ExecContext(ctx, query,
		n.Path,
		n.Title,
		n.WordCount,
		n.SizeBytes,
		n.ModifiedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", n.Path, err)
	}
	return nil
}

// Delete removes a note record. Deleting a missing note is not an error.
func (db *DB) Delete(ctx context.Context, path string) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM notes WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete note %s: %w", path, err)
	}
	return nil
}

// Get returns a single note record, or nil when not indexed.
func (db *DB) Get(ctx context.Context, path string) (*Note, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT path, title, word_count, size_bytes, modified_at FROM notes WHERE path = ?", path)

	var n Note
	var modified string
	if err := row.Scan(&n.Path, &n.Title, &n.WordCount, &n.SizeBytes, &modified); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query note %s: %w", path, err)
	}
	n.ModifiedAt, _ = time.Parse(time.RFC3339, modified)

	return &n, nil
}

// List returns all notes ordered by most recently modified.
func (db *DB) List(ctx context.Context, limit int) ([]*Note, error) {
	query := "SELECT path, title, word_count, size_bytes, modified_at FROM notes ORDER BY modified_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		var n Note
		var modified string
		if err := rows.Scan(&n.Path, &n.Title, &n.WordCount, &n.SizeBytes, &modified); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		n.ModifiedAt, _ = time.Parse(time.RFC3339, modified)
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}

// Stats summarizes the index for the status command.
type Stats struct {
	NoteCount  int
	TotalWords int
	LastEdited time.Time
}

// Stats returns aggregate vault statistics.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var lastEdited sql.NullString

	row := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(word_count), 0), MAX(modified_at) FROM notes")
	if err := row.Scan(&s.NoteCount, &s.TotalWords, &lastEdited); err != nil {
		return Stats{}, fmt.Errorf("failed to query index stats: %w", err)
	}

	if lastEdited.Valid {
		s.LastEdited, _ = time.Parse(time.RFC3339, lastEdited.String)
	}
	return s, nil
}
