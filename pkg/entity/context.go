package entity

import (
	"context"
	"sync"
	"sync/atomic"
)

type pauseKey struct{}

type bulkLoad struct {
	root Item
	done atomic.Bool
}

// pauseActive reports whether ctx sits inside an open bulk-load bracket.
func pauseActive(ctx context.Context) bool {
	bl, _ := ctx.Value(pauseKey{}).(*bulkLoad)
	return bl != nil && !bl.done.Load()
}

// LoadContext is the door to the load path: writes that bypass rules,
// read-only protection, and modification tracking, the way persisted state
// re-enters an aggregate. Holding one signals intent; all methods are safe
// for concurrent use.
type LoadContext struct{}

// NewLoadContext returns a load context.
func NewLoadContext() *LoadContext {
	return &LoadContext{}
}

// BeginBulkLoad opens a bulk-load bracket around root. Writes under the
// returned context skip meta-state recomputation entirely; the returned
// func closes the bracket and recomputes the whole subtree once, bubbling
// the result upward. Closing is idempotent. A bracket opened inside an
// open bracket is absorbed by the outer one.
func (lc *LoadContext) BeginBulkLoad(ctx context.Context, root Item) (context.Context, func()) {
	root.base().mustInit()
	if pauseActive(ctx) {
		return ctx, func() {}
	}
	bl := &bulkLoad{root: root}
	var once sync.Once
	end := func() {
		once.Do(func() {
			bl.done.Store(true)
			g := root.lockGraph()
			root.refreshLocked()
			root.stateChangedLocked()
			g.mu.Unlock()
		})
	}
	return context.WithValue(ctx, pauseKey{}, bl), end
}

// Set writes a property value on the load path: read-only properties
// accept it, the wrapper stays unmodified, and no rules or notifications
// run. Entities and collections passed as values are still adopted.
func (lc *LoadContext) Set(ctx context.Context, e Item, name string, value any) error {
	e.base().mustInit()
	_, _, err := e.base().setValue(ctx, name, value, true)
	return err
}

// MarkPersisted records that root's current state was saved: the subtree's
// entities stop being new, every wrapper drops its modification flag, and
// each collection forgets its persisted deletions, detaching the removed
// elements. Validation messages survive; persisting does not make state
// valid.
func (lc *LoadContext) MarkPersisted(root Item) {
	root.base().mustInit()
	g := root.lockGraph()
	markPersistedLocked(root)
	root.stateChangedLocked()
	g.mu.Unlock()
}

// MarkDeletionPersisted records that root's deletion was saved. The entity
// comes back as a new, undeleted object, so reusing it would insert rather
// than update.
func (lc *LoadContext) MarkDeletionPersisted(e Item) {
	b := e.base()
	b.mustInit()
	g := b.lockGraph()
	b.deleted = false
	b.isNew = true
	b.stateChangedLocked()
	g.mu.Unlock()
}

// MarkDeletionsPersisted empties a collection's deleted list after the
// pending deletions were saved, detaching each element the same way a full
// MarkPersisted would.
func (lc *LoadContext) MarkDeletionsPersisted(c *Collection) {
	g := c.lockGraph()
	castOffDeletedLocked(c)
	c.recomputeLocked()
	c.stateChangedLocked()
	g.mu.Unlock()
}

func markPersistedLocked(n Parent) {
	switch v := n.(type) {
	case Item:
		b := v.base()
		b.isNew = false
		for _, name := range b.props.order {
			b.props.named[name].modified = false
		}
		for _, ch := range b.props.childrenLocked() {
			markPersistedLocked(ch)
		}
	case *Collection:
		for _, it := range v.items {
			markPersistedLocked(it)
		}
		castOffDeletedLocked(v)
		v.recomputeLocked()
	}
}

// castOffDeletedLocked detaches a collection's deleted elements once their
// deletion is persisted. Each comes back new and undeleted in a fresh
// graph, reusable like any free entity.
func castOffDeletedLocked(c *Collection) {
	for _, it := range c.deleted {
		ib := it.base()
		ib.containing = nil
		ib.deleted = false
		ib.isNew = true
		it.setParentLocked(nil)
		it.retargetLocked(newGraph())
	}
	c.deleted = nil
}
