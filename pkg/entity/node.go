package entity

import (
	"context"
	"sync"
	"sync/atomic"
)

// Parent is a node able to adopt children inside an aggregate: either an
// entity embedding Base or a Collection. The unexported methods close the
// interface to this package (and, via promotion, to embedders of Base), so
// privileged structural operations are capability-typed rather than checked
// against concrete types at call time.
type Parent interface {
	// Parent returns the logical owner of this node, nil for a root.
	Parent() Parent
	// Root returns the aggregate root, nil if and only if Parent is nil.
	Root() Parent
	// IsValid reports whether this node and its whole subtree carry no
	// error-severity validation messages.
	IsValid() bool
	// IsBusy reports whether any asynchronous rule execution is in flight
	// anywhere in this node's subtree.
	IsBusy() bool
	// IsModified reports whether this node or anything below it holds
	// unpersisted changes.
	IsModified() bool

	loadGraph() *graph
	lockGraph() *graph
	parentLocked() Parent
	rootLocked() Parent
	setParentLocked(Parent)
	trackerLocked() *TaskTracker
	nodeStateLocked() nodeState
	stateChangedLocked()
	retargetLocked(*graph)
	detachLocked(owner Parent)
	refreshLocked()
}

// Item is the surface a Collection requires of its elements, a session
// requires of an aggregate root, and a rule body receives to inspect and
// cascade. Any struct embedding Base satisfies it; nothing else can,
// because base is unexported.
type Item interface {
	Parent

	IsNew() bool
	IsDeleted() bool
	IsChild() bool
	IsSavable() bool
	HasUnsavedChanges() bool
	Delete()
	UnDelete()
	ContainingList() *Collection
	Properties() *PropertySet
	Value(name string) (any, error)
	Assign(ctx context.Context, name string, value any) error
	WaitIdle(ctx context.Context) error
	Revalidate(ctx context.Context) error

	base() *Base
}

// nodeState is a node's derived meta-state, computed under the graph lock.
type nodeState struct {
	valid    bool
	busy     bool
	modified bool
}

// graph is the lock shared by every node of one aggregate. The id gives a
// stable order for acquiring two graph locks without deadlock.
type graph struct {
	id uint64
	mu sync.Mutex
}

var graphSeq atomic.Uint64

func newGraph() *graph {
	return &graph{id: graphSeq.Add(1)}
}

// anchor ties a node into an aggregate: the graph whose lock guards it and
// the parent back-reference. Only the adopting owner writes parent; the node
// itself never does.
type anchor struct {
	graphRef atomic.Pointer[graph]
	parent   Parent
}

func (a *anchor) loadGraph() *graph { return a.graphRef.Load() }

// lockGraph acquires the lock of the graph this node currently belongs to.
// Adoption can merge graphs concurrently, so the graph pointer is re-checked
// after locking and the acquisition retried if it moved.
func (a *anchor) lockGraph() *graph {
	for {
		g := a.graphRef.Load()
		g.mu.Lock()
		if a.graphRef.Load() == g {
			return g
		}
		g.mu.Unlock()
	}
}

func (a *anchor) parentLocked() Parent     { return a.parent }
func (a *anchor) setParentLocked(p Parent) { a.parent = p }
func (a *anchor) setGraphLocked(g *graph)  { a.graphRef.Store(g) }

// detachLocked clears the parent link, but only for the owner that set it.
func (a *anchor) detachLocked(owner Parent) {
	if a.parent == owner {
		a.parent = nil
	}
}

// Parent returns the node's logical owner, nil for an aggregate root.
func (a *anchor) Parent() Parent {
	g := a.lockGraph()
	p := a.parent
	g.mu.Unlock()
	return p
}

// Root returns the aggregate root reached by following Parent links to a
// fixed point. It is nil exactly when Parent is nil.
func (a *anchor) Root() Parent {
	g := a.lockGraph()
	r := a.rootLocked()
	g.mu.Unlock()
	return r
}

func (a *anchor) rootLocked() Parent {
	if a.parent == nil {
		return nil
	}
	if r := a.parent.rootLocked(); r != nil {
		return r
	}
	return a.parent
}

// lockPair locks the graphs of two nodes in id order, retrying when a
// concurrent merge moves either node while we were acquiring. The returned
// graphs are equal when both nodes already share an aggregate; unlockPair
// handles that case.
func lockPair(x, y Parent) (gx, gy *graph) {
	for {
		gx, gy = x.loadGraph(), y.loadGraph()
		if gx == gy {
			gx.mu.Lock()
			if x.loadGraph() == gx && y.loadGraph() == gx {
				return gx, gx
			}
			gx.mu.Unlock()
			continue
		}
		lo, hi := gx, gy
		if hi.id < lo.id {
			lo, hi = hi, lo
		}
		lo.mu.Lock()
		hi.mu.Lock()
		if x.loadGraph() == gx && y.loadGraph() == gy {
			return gx, gy
		}
		hi.mu.Unlock()
		lo.mu.Unlock()
	}
}

func unlockPair(gx, gy *graph) {
	if gy != gx {
		gy.mu.Unlock()
	}
	gx.mu.Unlock()
}

// wouldCycleLocked reports whether adopting candidate under owner would close
// a parent loop, i.e. candidate is owner itself or one of owner's ancestors.
func wouldCycleLocked(owner Parent, candidate Parent) bool {
	for p := owner; p != nil; p = p.parentLocked() {
		if p == candidate {
			return true
		}
	}
	return false
}
