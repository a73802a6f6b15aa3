package entity

import (
	"context"
	"fmt"
)

// Change describes one observed property assignment.
type Change struct {
	Entity   Item
	Property string
	Old      any
	New      any
}

type subscriber struct {
	id uint64
	fn func(Change)
}

// Base is the embeddable core of a mutable entity. A concrete type embeds
// Base, calls Init with itself, declares properties with Define and rules
// with Rules().Register, and from then on reads through Value and writes
// through Assign. Base derives the entity's meta-state from its property
// wrappers, its task tracker, and any adopted children held as property
// values.
type Base struct {
	anchor
	self    Item
	props   *PropertySet
	rules   *RuleSet
	tracker *TaskTracker

	containing *Collection
	isNew      bool
	deleted    bool
	child      bool

	subs    []subscriber
	nextSub uint64
}

// New returns a standalone dynamic entity whose properties are defined at
// runtime. Application types embed Base instead and pass themselves to Init.
func New() *Base {
	b := &Base{}
	b.Init(b)
	return b
}

// Init wires the embedding struct to its Base and marks the entity new. It
// must be called exactly once, from the constructor, before any other use.
func (b *Base) Init(self Item) {
	if self == nil {
		panic("entity: Init with nil Item")
	}
	if self.base() != b {
		panic("entity: Init with an Item not embedding this Base")
	}
	if b.self != nil {
		panic("entity: Init called twice")
	}
	b.self = self
	b.isNew = true
	b.props = newPropertySet(b)
	b.rules = newRuleSet(b)
	b.tracker = newTaskTracker(b)
	b.graphRef.Store(newGraph())
}

func (b *Base) base() *Base { return b }

func (b *Base) mustInit() {
	if b.self == nil {
		panic("entity: Base used before Init")
	}
}

// Define declares a property and returns its wrapper. Properties must be
// defined before the rules that trigger on them; Define panics on empty or
// duplicate names.
func (b *Base) Define(name string, opts ...PropertyOption) *Property {
	b.mustInit()
	g := b.lockGraph()
	p := b.props.defineLocked(name, opts...)
	g.mu.Unlock()
	return p
}

// Properties returns the entity's property set.
func (b *Base) Properties() *PropertySet {
	b.mustInit()
	return b.props
}

// Rules returns the entity's rule set.
func (b *Base) Rules() *RuleSet {
	b.mustInit()
	return b.rules
}

// Tasks returns the entity's task tracker.
func (b *Base) Tasks() *TaskTracker {
	b.mustInit()
	return b.tracker
}

// ContainingList returns the collection this entity is an element of, nil
// when it is a root or a property-held child.
func (b *Base) ContainingList() *Collection {
	b.mustInit()
	g := b.lockGraph()
	c := b.containing
	g.mu.Unlock()
	return c
}

// Value returns the named property's current value.
func (b *Base) Value(name string) (any, error) {
	b.mustInit()
	g := b.lockGraph()
	p := b.props.getLocked(name)
	if p == nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("property %q: %w", name, ErrUnknownProperty)
	}
	v := p.value
	g.mu.Unlock()
	return v, nil
}

// ValueOf returns the named property's value typed as T. A stored nil is
// returned as T's zero value; any other type mismatch reports ErrValueType.
func ValueOf[T any](e Item, name string) (T, error) {
	var zero T
	v, err := e.Value(name)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("property %q holds %T: %w", name, v, ErrValueType)
	}
	return t, nil
}

// Assign writes a property value through the full pipeline: the value is
// stored, the wrapper marked modified, subscribers notified, and the
// property's rule chain run. Assigning an entity or collection adopts it as
// a child of this entity. Under a paused context the write takes the load
// path instead: no modification flag, no notification, no rules.
//
// Assign rejects read-only properties outside the load path, values already
// owned elsewhere, and adoptions that would close a parent cycle. The
// returned error is nil even when rules report validation messages; those
// land on the wrappers and flip IsValid instead.
func (b *Base) Assign(ctx context.Context, name string, value any) error {
	b.mustInit()
	load := pauseActive(ctx)
	old, noop, err := b.setValue(ctx, name, value, load)
	if err != nil || noop || load {
		return err
	}
	b.notify(Change{Entity: b.self, Property: name, Old: old, New: value})
	return b.runChain(ctx, name)
}

// setValue is the locked half of Assign and of the load path. With load
// set, read-only properties accept the write and the wrapper is not marked
// modified. Bubbling is skipped only under an actually paused context, so
// direct loads outside a bulk bracket still keep ancestor caches right.
func (b *Base) setValue(ctx context.Context, name string, value any, load bool) (old any, noop bool, err error) {
	child, isChild := value.(Parent)

	var g, gc *graph
	if isChild {
		g, gc = lockPair(b.self, child)
	} else {
		g = b.lockGraph()
		gc = g
	}
	defer unlockPair(g, gc)

	p := b.props.getLocked(name)
	if p == nil {
		return nil, false, fmt.Errorf("property %q: %w", name, ErrUnknownProperty)
	}
	if p.readOnly && !load {
		return nil, false, fmt.Errorf("property %q: %w", name, ErrReadOnly)
	}
	old = p.value

	if isChild {
		if old == value {
			return old, true, nil
		}
		if child.parentLocked() != nil {
			return nil, false, fmt.Errorf("property %q: %w", name, ErrAlreadyOwned)
		}
		if wouldCycleLocked(b.self, child) {
			return nil, false, fmt.Errorf("property %q: %w", name, ErrAdoptionCycle)
		}
	}

	if prev, ok := old.(Parent); ok && prev != value {
		prev.detachLocked(b.self)
		prev.retargetLocked(newGraph())
	}

	p.value = value
	if isChild {
		child.setParentLocked(b.self)
		if gc != g {
			child.retargetLocked(g)
		}
		hoistTasksLocked(child, b.self)
	}
	if !load {
		p.modified = true
	}
	if !pauseActive(ctx) {
		b.stateChangedLocked()
	}
	return old, false, nil
}

// IsNew reports whether the entity has never been persisted.
func (b *Base) IsNew() bool {
	b.mustInit()
	g := b.lockGraph()
	v := b.isNew
	g.mu.Unlock()
	return v
}

// IsDeleted reports whether the entity is marked for deletion on next save.
func (b *Base) IsDeleted() bool {
	b.mustInit()
	g := b.lockGraph()
	v := b.deleted
	g.mu.Unlock()
	return v
}

// IsChild reports whether the entity may only be saved through its parent.
func (b *Base) IsChild() bool {
	b.mustInit()
	g := b.lockGraph()
	v := b.child
	g.mu.Unlock()
	return v
}

// IsSelfValid reports validity of this entity's own properties, ignoring
// children.
func (b *Base) IsSelfValid() bool {
	b.mustInit()
	g := b.lockGraph()
	v := b.props.selfValidLocked()
	g.mu.Unlock()
	return v
}

// IsValid reports whether the entity and everything below it carry no
// error-severity messages.
func (b *Base) IsValid() bool {
	b.mustInit()
	g := b.lockGraph()
	v := b.nodeStateLocked().valid
	g.mu.Unlock()
	return v
}

// IsSelfBusy reports whether this entity's own properties are busy or it
// has spawned tasks still running, ignoring children.
func (b *Base) IsSelfBusy() bool {
	b.mustInit()
	g := b.lockGraph()
	v := b.props.selfBusyLocked() || b.tracker.selfSpawnedLocked()
	g.mu.Unlock()
	return v
}

// IsBusy reports whether asynchronous work is in flight anywhere in the
// entity's subtree.
func (b *Base) IsBusy() bool {
	b.mustInit()
	g := b.lockGraph()
	v := b.nodeStateLocked().busy
	g.mu.Unlock()
	return v
}

// IsSelfModified reports whether this entity's own properties hold
// unpersisted writes or the entity is marked deleted, ignoring children.
func (b *Base) IsSelfModified() bool {
	b.mustInit()
	g := b.lockGraph()
	v := b.selfModifiedLocked()
	g.mu.Unlock()
	return v
}

// IsModified reports whether the entity or anything below it holds
// unpersisted changes.
func (b *Base) IsModified() bool {
	b.mustInit()
	g := b.lockGraph()
	v := b.nodeStateLocked().modified
	g.mu.Unlock()
	return v
}

// IsSavable reports whether the entity can be persisted right now: it is
// modified, valid, not busy, and not a child.
func (b *Base) IsSavable() bool {
	b.mustInit()
	g := b.lockGraph()
	st := b.nodeStateLocked()
	v := st.modified && st.valid && !st.busy && !b.child
	g.mu.Unlock()
	return v
}

// HasUnsavedChanges reports whether a save would do work: the entity is
// new, marked deleted, or modified. A brand-new entity with untouched
// properties has unsaved changes without being modified.
func (b *Base) HasUnsavedChanges() bool {
	b.mustInit()
	g := b.lockGraph()
	v := b.isNew || b.deleted || b.nodeStateLocked().modified
	g.mu.Unlock()
	return v
}

// Delete marks the entity for deletion on next save. An element of a
// collection moves to the collection's deleted list; a new element is
// discarded outright. Delete is idempotent.
func (b *Base) Delete() {
	b.mustInit()
	g := b.lockGraph()
	if b.containing != nil {
		b.containing.removeItemLocked(b.self)
	} else if !b.deleted {
		b.deleted = true
		b.stateChangedLocked()
	}
	g.mu.Unlock()
}

// UnDelete reverses Delete before the deletion is persisted. An element
// held on a deleted list rejoins its collection at the end.
func (b *Base) UnDelete() {
	b.mustInit()
	g := b.lockGraph()
	if b.containing != nil {
		b.containing.restoreItemLocked(b.self)
	} else if b.deleted {
		b.deleted = false
		b.stateChangedLocked()
	}
	g.mu.Unlock()
}

// MarkAsChild brands the entity as part of a larger aggregate, blocking
// direct saves. Collections mark adopted elements automatically.
func (b *Base) MarkAsChild() {
	b.mustInit()
	g := b.lockGraph()
	b.child = true
	g.mu.Unlock()
}

// Subscribe registers fn for property change notifications on this entity.
// fn runs on the assigning goroutine, after the value is stored and before
// the property's rules; assignments made by rules notify on their own. The
// returned func cancels the subscription.
func (b *Base) Subscribe(fn func(Change)) (cancel func()) {
	b.mustInit()
	g := b.lockGraph()
	b.nextSub++
	id := b.nextSub
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	g.mu.Unlock()

	return func() {
		g := b.lockGraph()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		g.mu.Unlock()
	}
}

func (b *Base) notify(ch Change) {
	g := b.lockGraph()
	if len(b.subs) == 0 {
		g.mu.Unlock()
		return
	}
	fns := make([]func(Change), len(b.subs))
	for i, s := range b.subs {
		fns[i] = s.fn
	}
	g.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

// WaitIdle blocks until no asynchronous work remains anywhere in the
// entity's subtree, returning the combined errors of waited tasks. See
// TaskTracker.Wait.
func (b *Base) WaitIdle(ctx context.Context) error {
	b.mustInit()
	return b.tracker.Wait(ctx)
}

// releaseChildLocked clears the property slot holding child on the load
// path, without a modification mark, and reports the change upward.
func (b *Base) releaseChildLocked(child Item) {
	for _, name := range b.props.order {
		p := b.props.named[name]
		if p.value == child {
			p.value = nil
			child.detachLocked(b.self)
			b.stateChangedLocked()
			return
		}
	}
}

func (b *Base) selfModifiedLocked() bool {
	return b.props.selfModifiedLocked() || b.deleted
}

func (b *Base) trackerLocked() *TaskTracker { return b.tracker }

func (b *Base) nodeStateLocked() nodeState {
	st := nodeState{
		valid:    b.props.selfValidLocked(),
		busy:     b.props.selfBusyLocked() || b.tracker.busyLocked(),
		modified: b.selfModifiedLocked(),
	}
	for _, c := range b.props.childrenLocked() {
		cs := c.nodeStateLocked()
		st.valid = st.valid && cs.valid
		st.busy = st.busy || cs.busy
		st.modified = st.modified || cs.modified
	}
	return st
}

// stateChangedLocked bubbles a meta-state transition toward the root.
// Entities cache nothing, so the walk only does work when it crosses a
// collection, which folds the new state into its aggregate flags.
func (b *Base) stateChangedLocked() {
	if b.containing != nil {
		b.containing.itemStateChangedLocked(b.self, b.nodeStateLocked())
		return
	}
	if b.parent != nil {
		b.parent.stateChangedLocked()
	}
}

func (b *Base) retargetLocked(g *graph) {
	b.setGraphLocked(g)
	for _, c := range b.props.childrenLocked() {
		c.retargetLocked(g)
	}
}

func (b *Base) refreshLocked() {
	for _, c := range b.props.childrenLocked() {
		c.refreshLocked()
	}
}

var (
	_ Item   = (*Base)(nil)
	_ Parent = (*Base)(nil)
)
