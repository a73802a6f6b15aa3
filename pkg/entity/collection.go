package entity

import (
	"context"
	"fmt"
)

// Collection is an ordered list of child entities inside an aggregate.
// Elements adopted by Add get their Parent set to the collection's own
// parent entity, are marked as children, and stay reachable after Delete
// through the deleted list until the deletion is persisted. The collection
// keeps its aggregate flags cached: a member turning invalid, busy, or
// modified flips the matching flag without a scan, and a member clearing
// one rescans only when that member could have been the last holder.
type Collection struct {
	anchor
	factory func() Item
	items   []Item
	deleted []Item

	anyInvalid  bool
	anyBusy     bool
	anyModified bool
}

// CollectionOption configures a collection at construction.
type CollectionOption func(*Collection)

// WithItemFactory supplies the constructor AddNew uses to create elements.
func WithItemFactory(fn func() Item) CollectionOption {
	return func(c *Collection) { c.factory = fn }
}

// NewCollection returns an empty collection rooted in its own aggregate
// until an entity adopts it as a property value.
func NewCollection(opts ...CollectionOption) *Collection {
	c := &Collection{}
	c.graphRef.Store(newGraph())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Len returns the number of active elements.
func (c *Collection) Len() int {
	g := c.lockGraph()
	n := len(c.items)
	g.mu.Unlock()
	return n
}

// At returns the i-th active element. It panics when i is out of range,
// like a slice index.
func (c *Collection) At(i int) Item {
	g := c.lockGraph()
	defer g.mu.Unlock()
	if i < 0 || i >= len(c.items) {
		panic(fmt.Sprintf("entity: collection index %d out of range [0,%d)", i, len(c.items)))
	}
	return c.items[i]
}

// All returns a snapshot of the active elements in order.
func (c *Collection) All() []Item {
	g := c.lockGraph()
	out := append([]Item(nil), c.items...)
	g.mu.Unlock()
	return out
}

// Deleted returns a snapshot of elements awaiting deletion on next save.
func (c *Collection) Deleted() []Item {
	g := c.lockGraph()
	out := append([]Item(nil), c.deleted...)
	g.mu.Unlock()
	return out
}

// Contains reports whether it is an active element of this collection.
func (c *Collection) Contains(it Item) bool {
	if it == nil {
		return false
	}
	g := c.lockGraph()
	found := indexOfItem(c.items, it) >= 0
	g.mu.Unlock()
	return found
}

// ItemAt returns the i-th element typed as T.
func ItemAt[T Item](c *Collection, i int) (T, error) {
	it := c.At(i)
	t, ok := it.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("collection element %d is %T: %w", i, it, ErrValueType)
	}
	return t, nil
}

// AddNew creates an element with the configured factory and adopts it.
func (c *Collection) AddNew(ctx context.Context) (Item, error) {
	if c.factory == nil {
		return nil, ErrNoFactory
	}
	it := c.factory()
	if err := c.Add(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// Add adopts an item as an active element. A free item joins this
// collection's aggregate and is marked as a child; an element sitting on a
// deleted list in the same aggregate is restored here instead. Add rejects
// nil items, active duplicates, items attached anywhere in another
// aggregate, items owned elsewhere in this aggregate, and adoptions that
// would close a parent cycle. Under a paused context only the nil,
// duplicate, and cycle rejections apply: an owned item is displaced from
// its current owner instead, with no modification mark on the source.
func (c *Collection) Add(ctx context.Context, item Item) error {
	if item == nil {
		return ErrNilItem
	}
	g, gi := lockPair(c, item)
	defer unlockPair(g, gi)

	if indexOfItem(c.items, item) >= 0 {
		return ErrDuplicateItem
	}
	if indexOfItem(c.deleted, item) >= 0 {
		c.restoreItemLocked(item)
		return nil
	}

	ib := item.base()
	if ib.containing != nil || item.parentLocked() != nil {
		switch {
		case pauseActive(ctx):
			if wouldCycleLocked(c, item) {
				return ErrAdoptionCycle
			}
			releaseOwnedLocked(item)
		case gi != g:
			return ErrCrossAggregate
		case ib.containing != nil && ib.deleted:
			if wouldCycleLocked(c, item) {
				return ErrAdoptionCycle
			}
			ib.containing.takeDeletedLocked(item)
		default:
			return ErrAlreadyOwned
		}
		c.adoptLocked(ctx, item, g, gi)
		return nil
	}

	if wouldCycleLocked(c, item) {
		return ErrAdoptionCycle
	}
	c.adoptLocked(ctx, item, g, gi)
	return nil
}

// adoptLocked wires a now-free item into this collection and folds its
// state into the caches.
func (c *Collection) adoptLocked(ctx context.Context, item Item, g, gi *graph) {
	ib := item.base()
	ib.deleted = false
	ib.child = true
	ib.containing = c
	item.setParentLocked(c.parentLocked())
	if gi != g {
		item.retargetLocked(g)
	}
	hoistTasksLocked(item, c)
	c.items = append(c.items, item)

	if pauseActive(ctx) {
		return
	}
	c.itemStateChangedLocked(item, item.nodeStateLocked())
}

// Remove takes an active element out. A never-persisted element is
// discarded outright and leaves the aggregate; anything else moves to the
// deleted list so the next save can delete it, keeping its Parent and
// ContainingList links meanwhile.
func (c *Collection) Remove(ctx context.Context, item Item) error {
	if item == nil {
		return ErrNilItem
	}
	g := c.lockGraph()
	defer g.mu.Unlock()
	if indexOfItem(c.items, item) < 0 {
		return ErrNotInCollection
	}
	c.removeKnownLocked(ctx, item)
	return nil
}

// removeItemLocked serves Base.Delete for contained entities. The item is
// known to be an active element and shares the collection's graph.
func (c *Collection) removeItemLocked(item Item) {
	if indexOfItem(c.items, item) < 0 {
		return
	}
	c.removeKnownLocked(context.Background(), item)
}

func (c *Collection) removeKnownLocked(ctx context.Context, item Item) {
	i := indexOfItem(c.items, item)
	c.items = append(c.items[:i], c.items[i+1:]...)

	ib := item.base()
	if ib.isNew {
		ib.containing = nil
		item.setParentLocked(nil)
		item.retargetLocked(newGraph())
	} else {
		ib.deleted = true
		c.deleted = append(c.deleted, item)
	}

	if pauseActive(ctx) {
		return
	}
	changed := c.recomputeLocked()
	if !ib.isNew && !changed {
		// the deleted list grew, so the collection turned modified even
		// though the item caches did not move
		changed = len(c.deleted) == 1 && !c.anyModified
	}
	if changed {
		c.stateChangedLocked()
	}
}

// restoreItemLocked serves Base.UnDelete and same-collection re-Add: the
// element moves from the deleted list back to the active elements.
func (c *Collection) restoreItemLocked(item Item) {
	i := indexOfItem(c.deleted, item)
	if i < 0 {
		return
	}
	c.deleted = append(c.deleted[:i], c.deleted[i+1:]...)
	item.base().deleted = false
	c.items = append(c.items, item)

	if c.recomputeLocked() || len(c.deleted) == 0 {
		c.stateChangedLocked()
	}
}

// releaseActiveLocked hands an active element over to a paused insert
// elsewhere: it leaves without deletion marking and the caches recompute.
func (c *Collection) releaseActiveLocked(item Item) {
	i := indexOfItem(c.items, item)
	if i < 0 {
		return
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	ib := item.base()
	ib.containing = nil
	item.setParentLocked(nil)
	if c.recomputeLocked() {
		c.stateChangedLocked()
	}
}

// releaseOwnedLocked detaches an owned item from its current location so a
// paused insert can adopt it. Collection elements leave their list, active
// or deleted; property children leave their slot. Both graphs are held.
func releaseOwnedLocked(item Item) {
	ib := item.base()
	if list := ib.containing; list != nil {
		if ib.deleted {
			list.takeDeletedLocked(item)
		} else {
			list.releaseActiveLocked(item)
		}
		return
	}
	if owner, ok := item.parentLocked().(Item); ok {
		owner.base().releaseChildLocked(item)
	}
}

// takeDeletedLocked releases a deleted element to another collection of the
// same aggregate, the first half of a cross-list restore.
func (c *Collection) takeDeletedLocked(item Item) {
	i := indexOfItem(c.deleted, item)
	if i < 0 {
		return
	}
	c.deleted = append(c.deleted[:i], c.deleted[i+1:]...)
	ib := item.base()
	ib.containing = nil
	item.setParentLocked(nil)
	if c.recomputeLocked() || len(c.deleted) == 0 {
		c.stateChangedLocked()
	}
}

// IsValid reports whether every active element subtree is valid.
func (c *Collection) IsValid() bool {
	g := c.lockGraph()
	v := !c.anyInvalid
	g.mu.Unlock()
	return v
}

// IsBusy reports whether any active element subtree has work in flight.
func (c *Collection) IsBusy() bool {
	g := c.lockGraph()
	v := c.anyBusy
	g.mu.Unlock()
	return v
}

// IsModified reports whether a save would change storage: an element
// subtree is modified, an element is new, or a deletion is pending.
func (c *Collection) IsModified() bool {
	g := c.lockGraph()
	v := c.anyModified || len(c.deleted) > 0
	g.mu.Unlock()
	return v
}

func (c *Collection) trackerLocked() *TaskTracker { return nil }

func (c *Collection) nodeStateLocked() nodeState {
	return nodeState{
		valid:    !c.anyInvalid,
		busy:     c.anyBusy,
		modified: c.anyModified || len(c.deleted) > 0,
	}
}

// setParentLocked mirrors the collection's parent onto every element, the
// deleted ones included, so Parent answers stay consistent when an entity
// adopts or drops a populated collection.
func (c *Collection) setParentLocked(p Parent) {
	c.anchor.setParentLocked(p)
	for _, it := range c.items {
		it.setParentLocked(p)
	}
	for _, it := range c.deleted {
		it.setParentLocked(p)
	}
}

func (c *Collection) stateChangedLocked() {
	if c.parent != nil {
		c.parent.stateChangedLocked()
	}
}

// itemStateChangedLocked folds one element's new state into the caches.
// Raising a flag is a constant-time flip; clearing one rescans the active
// elements only when the poster could have been the last holder. The walk
// continues upward only when a cache actually moved. A new element counts
// as a modification of the collection: it has to be inserted on save even
// while its own wrappers are untouched.
func (c *Collection) itemStateChangedLocked(item Item, st nodeState) {
	if indexOfItem(c.deleted, item) >= 0 {
		return
	}
	if item.base().isNew {
		st.modified = true
	}
	changed := false
	if !st.valid && !c.anyInvalid {
		c.anyInvalid = true
		changed = true
	}
	if st.busy && !c.anyBusy {
		c.anyBusy = true
		changed = true
	}
	if st.modified && !c.anyModified {
		c.anyModified = true
		changed = true
	}
	if (st.valid && c.anyInvalid) || (!st.busy && c.anyBusy) || (!st.modified && c.anyModified) {
		if c.recomputeLocked() {
			changed = true
		}
	}
	if changed {
		c.stateChangedLocked()
	}
}

// recomputeLocked rebuilds the three caches from the active elements and
// reports whether any of them moved.
func (c *Collection) recomputeLocked() bool {
	inv, busy, mod := false, false, false
	for _, it := range c.items {
		st := it.nodeStateLocked()
		inv = inv || !st.valid
		busy = busy || st.busy
		mod = mod || st.modified || it.base().isNew
		if inv && busy && mod {
			break
		}
	}
	changed := inv != c.anyInvalid || busy != c.anyBusy || mod != c.anyModified
	c.anyInvalid, c.anyBusy, c.anyModified = inv, busy, mod
	return changed
}

func (c *Collection) retargetLocked(g *graph) {
	c.setGraphLocked(g)
	for _, it := range c.items {
		it.retargetLocked(g)
	}
	for _, it := range c.deleted {
		it.retargetLocked(g)
	}
}

func (c *Collection) refreshLocked() {
	for _, it := range c.items {
		it.refreshLocked()
	}
	for _, it := range c.deleted {
		it.refreshLocked()
	}
	c.recomputeLocked()
}

func indexOfItem(items []Item, it Item) int {
	b := it.base()
	for i, have := range items {
		if have.base() == b {
			return i
		}
	}
	return -1
}

var _ Parent = (*Collection)(nil)
