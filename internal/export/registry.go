package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one registered artifact, durable across restarts.
type Record struct {
	ID        string
	MIME      string
	Ext       string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Registry persists finished artifacts: the bytes land in a directory, the
// metadata in SQLite. Saving here is also the delivery fallback — once a
// pass reaches Ready the artifact exists on disk even if the download path
// dies.
type Registry struct {
	db  *sql.DB
	dir string
}

// OpenRegistry opens (or creates) the registry at dbPath, storing artifact
// files under dir.
func OpenRegistry(dbPath, dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		mime TEXT NOT NULL,
		ext TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create artifacts table: %w", err)
	}

	return &Registry{db: db, dir: dir}, nil
}

// Save writes the artifact's bytes to disk and records it. Returns the
// on-disk path.
func (r *Registry) Save(a *Artifact) (string, error) {
	path := filepath.Join(r.dir, a.ID+a.Ext)
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO artifacts (id, mime, ext, path, size, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.MIME, a.Ext, path, int64(len(a.Data)), a.CreatedAt.Unix())
	if err != nil {
		return "", fmt.Errorf("record artifact: %w", err)
	}
	return path, nil
}

// List returns registered artifacts, newest first.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, mime, ext, path, size, created_at FROM artifacts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var created int64
		if err := rows.Scan(&rec.ID, &rec.MIME, &rec.Ext, &rec.Path, &rec.Size, &created); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		rec.CreatedAt = time.Unix(created, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Find returns one record by ID.
func (r *Registry) Find(ctx context.Context, id string) (Record, error) {
	var rec Record
	var created int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, mime, ext, path, size, created_at FROM artifacts WHERE id = ?`, id).
		Scan(&rec.ID, &rec.MIME, &rec.Ext, &rec.Path, &rec.Size, &created)
	if err != nil {
		return Record{}, fmt.Errorf("find artifact %s: %w", id, err)
	}
	rec.CreatedAt = time.Unix(created, 0)
	return rec, nil
}

// Close releases the database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}
