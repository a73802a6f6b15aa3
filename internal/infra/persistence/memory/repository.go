// Package memory implements an in-memory snapshot repository for tests and
// ephemeral runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"entitycore/pkg/entity"
)

// Repository keeps aggregates in a map guarded by a RWMutex. Payloads are
// held as encoded JSON so callers never share snapshot memory with the
// repository.
type Repository struct {
	mu   sync.RWMutex
	rows map[string][]byte
}

var _ entity.Repository = (*Repository)(nil)

// NewRepository returns an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{rows: make(map[string][]byte)}
}

// SaveAggregate stores snap under id, replacing any previous payload.
func (r *Repository) SaveAggregate(_ context.Context, id string, snap *entity.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	r.mu.Lock()
	r.rows[id] = data
	r.mu.Unlock()
	return nil
}

// LoadAggregate returns the snapshot stored under id.
func (r *Repository) LoadAggregate(_ context.Context, id string) (*entity.Snapshot, error) {
	r.mu.RLock()
	data, ok := r.rows[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load %q: %w", id, entity.ErrNotFound)
	}
	var snap entity.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteAggregate removes id if present.
func (r *Repository) DeleteAggregate(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.rows, id)
	r.mu.Unlock()
	return nil
}

// ListIDs returns the stored aggregate ids, sorted.
func (r *Repository) ListIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}
