// Package sqlite implements a snapshot repository over an embedded sqlite
// database, one row per aggregate.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"entitycore/pkg/entity"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Repository stores each aggregate as a JSON payload row. The revision
// column counts writes per id, starting at one.
type Repository struct {
	db   *sql.DB
	path string
}

var _ entity.Repository = (*Repository)(nil)

// NewRepository opens the sqlite file at path, creating it and the
// aggregates table if needed. An empty path defaults to ./entitycore.db.
func NewRepository(path string) (*Repository, error) {
	if path == "" {
		path = "entitycore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS aggregates (
		id TEXT PRIMARY KEY,
		revision INTEGER NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create aggregates table: %w", err)
	}
	return &Repository{db: db, path: path}, nil
}

// SaveAggregate upserts snap under id, bumping the revision on rewrite.
func (r *Repository) SaveAggregate(ctx context.Context, id string, snap *entity.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO aggregates(id, revision, payload) VALUES(?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET revision = aggregates.revision + 1, payload = excluded.payload`, id, data); err != nil {
		return fmt.Errorf("upsert aggregate: %w", err)
	}
	return nil
}

// LoadAggregate returns the snapshot stored under id.
func (r *Repository) LoadAggregate(ctx context.Context, id string) (*entity.Snapshot, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM aggregates WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %q: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select aggregate: %w", err)
	}
	var snap entity.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteAggregate removes id; deleting a missing id is a no-op.
func (r *Repository) DeleteAggregate(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM aggregates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete aggregate: %w", err)
	}
	return nil
}

// ListIDs returns the stored aggregate ids, sorted.
func (r *Repository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM aggregates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select ids: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// Revision returns the write count for id.
func (r *Repository) Revision(ctx context.Context, id string) (int64, error) {
	var rev int64
	err := r.db.QueryRowContext(ctx, `SELECT revision FROM aggregates WHERE id = ?`, id).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("revision %q: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("select revision: %w", err)
	}
	return rev, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (r *Repository) DB() *sql.DB { return r.db }

// Path returns the configured database path.
func (r *Repository) Path() string { return r.path }
