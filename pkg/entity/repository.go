package entity

import "context"

// Repository persists aggregate snapshots by id. Implementations must be
// safe for concurrent use.
//
// LoadAggregate reports a missing id with an error wrapping ErrNotFound.
// DeleteAggregate of a missing id is a no-op. ListIDs returns ids sorted.
type Repository interface {
	SaveAggregate(ctx context.Context, id string, snap *Snapshot) error
	LoadAggregate(ctx context.Context, id string) (*Snapshot, error)
	DeleteAggregate(ctx context.Context, id string) error
	ListIDs(ctx context.Context) ([]string, error)
}
