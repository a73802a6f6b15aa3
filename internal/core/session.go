// Package core provides the session facade that moves entity aggregates
// between the runtime and a snapshot repository, with optional archived
// revisions in a blob store.
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	blob "entitycore/internal/infra/blob/core"
	"entitycore/pkg/entity"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrNoArchive reports an archive readback on a session configured without
// an archive store.
var ErrNoArchive = errors.New("session has no archive store")

const defaultSaveLimit = 4

// Session drives aggregate persistence through a Repository. It owns the
// save gates: a root must be save-initiating, idle, and valid before its
// snapshot is exported, and a clean root is never written.
type Session struct {
	repo      Repository
	archive   blob.Store
	log       Logger
	clock     Clock
	metrics   MetricsRecorder
	saveLimit int
}

// NewSession constructs a session over repo. Logging, metrics, and archiving
// stay off until the matching options enable them.
func NewSession(repo Repository, opts ...Option) *Session {
	s := &Session{
		repo:      repo,
		log:       noopLogger{},
		clock:     systemClock{},
		metrics:   noopMetricsRecorder{},
		saveLimit: defaultSaveLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID mints an aggregate id.
func (s *Session) NewID() string {
	return uuid.NewString()
}

// SaveResult reports what a Save wrote.
type SaveResult struct {
	SavedAt    time.Time `json:"saved_at"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	NoOp       bool      `json:"no_op,omitempty"`
	Deleted    bool      `json:"deleted,omitempty"`
}

// Save persists root's aggregate under id.
//
// Gates, in order: a child cannot initiate a save (ErrChildSave), in-flight
// async work blocks the save (ErrBusy), error-severity messages anywhere in
// the aggregate block it (*entity.ValidationError), and a root with nothing
// to persist is a no-op. A deleted root is removed from the repository
// instead of written; removal is not subject to the validity gate.
//
// On success the subtree is marked persisted. With an archive store
// configured, the written snapshot is also stored under
// aggregates/<id>/<nanos>.json; when that write fails the repository write
// stands and the returned error reports the missing archive copy.
func (s *Session) Save(ctx context.Context, id string, root Item) (SaveResult, error) {
	start := s.clock.Now()
	res, err := s.save(ctx, id, root, start)
	s.metrics.Observe(ctx, "save", err == nil, s.clock.Now().Sub(start))
	if err != nil {
		return res, fmt.Errorf("save %q: %w", id, err)
	}
	return res, nil
}

func (s *Session) save(ctx context.Context, id string, root Item, at time.Time) (SaveResult, error) {
	if root.IsChild() {
		s.log.Warn("save blocked", "id", id, "reason", "child root")
		return SaveResult{}, entity.ErrChildSave
	}
	if root.IsBusy() {
		s.log.Warn("save blocked", "id", id, "reason", "async work in flight")
		return SaveResult{}, entity.ErrBusy
	}
	if root.IsDeleted() {
		if err := s.repo.DeleteAggregate(ctx, id); err != nil {
			s.log.Error("delete aggregate", "id", id, "error", err)
			return SaveResult{}, fmt.Errorf("delete aggregate: %w", err)
		}
		entity.NewLoadContext().MarkDeletionPersisted(root)
		s.log.Debug("aggregate removed", "id", id)
		return SaveResult{SavedAt: at, Deleted: true}, nil
	}
	if !root.IsValid() {
		s.log.Warn("save blocked", "id", id, "reason", "validation messages")
		return SaveResult{}, &entity.ValidationError{Messages: entity.AggregateMessages(root)}
	}
	if !root.HasUnsavedChanges() {
		s.log.Debug("nothing to save", "id", id)
		return SaveResult{NoOp: true}, nil
	}

	snap := entity.Export(root)
	if err := s.repo.SaveAggregate(ctx, id, snap); err != nil {
		s.log.Error("save aggregate", "id", id, "error", err)
		return SaveResult{}, fmt.Errorf("save aggregate: %w", err)
	}
	entity.NewLoadContext().MarkPersisted(root)

	res := SaveResult{SavedAt: at}
	if s.archive != nil {
		key, err := s.archiveSnapshot(ctx, id, snap, at)
		if err != nil {
			s.log.Warn("archive snapshot", "id", id, "error", err)
			return res, err
		}
		res.ArchiveKey = key
	}
	s.log.Debug("aggregate saved", "id", id, "archive", res.ArchiveKey)
	return res, nil
}

// SaveAll persists several roots, at most the configured save concurrency at
// a time. Every root runs through the same gates as Save; one failure does
// not stop the others, and the per-root errors come back joined.
func (s *Session) SaveAll(ctx context.Context, roots map[string]Item) error {
	start := s.clock.Now()
	var g errgroup.Group
	g.SetLimit(s.saveLimit)
	var mu sync.Mutex
	var errs []error
	for id, root := range roots {
		g.Go(func() error {
			if _, err := s.save(ctx, id, root, s.clock.Now()); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("save %q: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	err := errors.Join(errs...)
	s.metrics.Observe(ctx, "save_all", err == nil, s.clock.Now().Sub(start))
	return err
}

// Fetch loads the aggregate stored under id into root, which must be freshly
// constructed: hydration assumes default values and empty collections. The
// aggregate arrives not new, unmodified, and message-free; run Revalidate on
// it when validation state is wanted.
func (s *Session) Fetch(ctx context.Context, id string, root Item) error {
	start := s.clock.Now()
	err := s.fetch(ctx, id, root)
	s.metrics.Observe(ctx, "fetch", err == nil, s.clock.Now().Sub(start))
	if err != nil {
		return fmt.Errorf("fetch %q: %w", id, err)
	}
	return nil
}

func (s *Session) fetch(ctx context.Context, id string, root Item) error {
	snap, err := s.repo.LoadAggregate(ctx, id)
	if err != nil {
		s.log.Warn("load aggregate", "id", id, "error", err)
		return err
	}
	if err := entity.NewLoadContext().Hydrate(ctx, root, snap); err != nil {
		s.log.Error("hydrate aggregate", "id", id, "error", err)
		return fmt.Errorf("hydrate: %w", err)
	}
	s.log.Debug("aggregate fetched", "id", id)
	return nil
}

// Delete removes the aggregate stored under id. A non-nil root has its
// deletion marked persisted, resetting it to a new object.
func (s *Session) Delete(ctx context.Context, id string, root Item) error {
	start := s.clock.Now()
	err := s.repo.DeleteAggregate(ctx, id)
	if err == nil && root != nil {
		entity.NewLoadContext().MarkDeletionPersisted(root)
	}
	s.metrics.Observe(ctx, "delete", err == nil, s.clock.Now().Sub(start))
	if err != nil {
		s.log.Error("delete aggregate", "id", id, "error", err)
		return fmt.Errorf("delete %q: %w", id, err)
	}
	s.log.Debug("aggregate removed", "id", id)
	return nil
}

// IDs lists the aggregate ids present in the repository, sorted.
func (s *Session) IDs(ctx context.Context) ([]string, error) {
	return s.repo.ListIDs(ctx)
}

// WaitIdle blocks until root's aggregate has no running async work, or ctx
// is done.
func (s *Session) WaitIdle(ctx context.Context, root Item) error {
	return root.WaitIdle(ctx)
}

func archiveKey(id string, at time.Time) string {
	return fmt.Sprintf("aggregates/%s/%d.json", id, at.UnixNano())
}

func (s *Session) archiveSnapshot(ctx context.Context, id string, snap *Snapshot, at time.Time) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	key := archiveKey(id, at)
	opts := blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"aggregate": id},
	}
	if _, err := s.archive.Put(ctx, key, bytes.NewReader(data), opts); err != nil {
		return "", fmt.Errorf("archive snapshot: %w", err)
	}
	return key, nil
}

// ListRevisions returns the archived snapshots for id, oldest first.
func (s *Session) ListRevisions(ctx context.Context, id string) ([]blob.Info, error) {
	if s.archive == nil {
		return nil, ErrNoArchive
	}
	return s.archive.List(ctx, "aggregates/"+id+"/")
}

// SnapshotURL returns a presigned link to one archived snapshot key.
func (s *Session) SnapshotURL(ctx context.Context, key string) (string, error) {
	if s.archive == nil {
		return "", ErrNoArchive
	}
	return s.archive.PresignURL(ctx, key, blob.SignedURLOptions{})
}
