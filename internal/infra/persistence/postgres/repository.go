// Package postgres implements a snapshot repository backed by PostgreSQL
// through the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"entitycore/pkg/entity"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with the storage factory defaults while
	// allowing overrides via env.
	defaultDSN = "postgres://localhost/entitycore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Repository stores each aggregate as a JSONB payload row. The revision
// column counts writes per id, starting at one.
type Repository struct {
	db *sql.DB
}

var _ entity.Repository = (*Repository)(nil)

// NewRepository opens a postgres-backed repository using dsn (falling back
// to defaultDSN), verifies connectivity, and ensures the aggregates table
// exists.
func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS aggregates (
		id TEXT PRIMARY KEY,
		revision BIGINT NOT NULL,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create aggregates table: %w", err)
	}
	return &Repository{db: db}, nil
}

// SaveAggregate upserts snap under id, bumping the revision on rewrite.
func (r *Repository) SaveAggregate(ctx context.Context, id string, snap *entity.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO aggregates(id, revision, payload) VALUES($1, 1, $2)
		ON CONFLICT (id) DO UPDATE SET revision = aggregates.revision + 1, payload = excluded.payload`, id, data); err != nil {
		return fmt.Errorf("upsert aggregate: %w", err)
	}
	return nil
}

// LoadAggregate returns the snapshot stored under id.
func (r *Repository) LoadAggregate(ctx context.Context, id string) (*entity.Snapshot, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM aggregates WHERE id = $1`, id).Scan(&data)
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
	if _, err := r.db.ExecContext(ctx, `DELETE FROM aggregates WHERE id = $1`, id); err != nil {
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

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (r *Repository) DB() *sql.DB { return r.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
