package entity

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// asyncTask is one tracked background execution. Its ref is held by the
// spawning entity's tracker and by every ancestor entity tracker, so busy
// state and join results are visible from anywhere above the spawn point.
type asyncTask struct {
	id      uuid.UUID
	label   string
	spawner *TaskTracker
	done    chan struct{}

	mu       sync.Mutex
	finished bool
	holders  []*TaskTracker
}

// TaskTracker records the in-flight background tasks visible from one
// entity: those it spawned plus those spawned anywhere below it while
// parented under it. An entity is busy while its tracker is non-empty.
// Task errors accumulate per tracker until a Wait observes idleness and
// collects them.
type TaskTracker struct {
	owner *Base
	tasks map[uuid.UUID]*asyncTask
	errs  []error
}

func newTaskTracker(owner *Base) *TaskTracker {
	return &TaskTracker{owner: owner, tasks: make(map[uuid.UUID]*asyncTask)}
}

// Count returns the number of running tasks visible from this entity.
func (t *TaskTracker) Count() int {
	g := t.owner.lockGraph()
	n := len(t.tasks)
	g.mu.Unlock()
	return n
}

// Labels returns the labels of running tasks, sorted.
func (t *TaskTracker) Labels() []string {
	g := t.owner.lockGraph()
	out := make([]string, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, task.label)
	}
	g.mu.Unlock()
	sort.Strings(out)
	return out
}

// Track runs fn on a new goroutine as a tracked task of this entity. The
// entity and its ancestors report busy until fn returns; fn's error is
// surfaced by Wait. The returned id identifies the task in Labels and logs.
func (t *TaskTracker) Track(ctx context.Context, label string, fn func(context.Context) error) uuid.UUID {
	g := t.owner.lockGraph()
	task := t.beginLocked(label)
	t.owner.stateChangedLocked()
	g.mu.Unlock()

	go func() {
		t.finish(task, fn(ctx))
	}()
	return task.id
}

// Wait blocks until no tracked task remains, then returns the combined
// errors those tasks left behind. Tasks spawned during the wait, cascaded
// rule runs included, are waited for too. If ctx ends first only the wait
// is abandoned: ctx.Err() is returned and the tasks keep running, still
// tracked, their errors held for a later Wait. Accumulated errors are
// delivered once, to the Wait that observes the tracker idle.
func (t *TaskTracker) Wait(ctx context.Context) error {
	for {
		g := t.owner.lockGraph()
		snapshot := make([]*asyncTask, 0, len(t.tasks))
		for _, task := range t.tasks {
			snapshot = append(snapshot, task)
		}
		if len(snapshot) == 0 {
			errs := t.errs
			t.errs = nil
			g.mu.Unlock()
			return errors.Join(errs...)
		}
		g.mu.Unlock()

		for _, task := range snapshot {
			select {
			case <-task.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (t *TaskTracker) busyLocked() bool { return len(t.tasks) > 0 }

// selfSpawnedLocked reports whether any running task originated here
// rather than bubbling up from a descendant.
func (t *TaskTracker) selfSpawnedLocked() bool {
	for _, task := range t.tasks {
		if task.spawner == t {
			return true
		}
	}
	return false
}

// beginLocked creates a task and registers its ref with this tracker and
// with every ancestor entity tracker. Callers bubble the busy transition
// and spawn the goroutine themselves.
func (t *TaskTracker) beginLocked(label string) *asyncTask {
	task := &asyncTask{id: uuid.New(), label: label, spawner: t, done: make(chan struct{})}
	for n := Parent(t.owner.self); n != nil; n = n.parentLocked() {
		if tr := n.trackerLocked(); tr != nil {
			tr.adoptTaskLocked(task)
		}
	}
	return task
}

// adoptTaskLocked adds a ref for task to this tracker. The caller holds
// this tracker's graph lock. A task that already finished is not adopted:
// finish has copied its holder list and would never clear the new ref.
func (t *TaskTracker) adoptTaskLocked(task *asyncTask) {
	if _, ok := t.tasks[task.id]; ok {
		return
	}
	task.mu.Lock()
	if task.finished {
		task.mu.Unlock()
		return
	}
	task.holders = append(task.holders, t)
	task.mu.Unlock()
	t.tasks[task.id] = task
}

// finish completes a task: the ref is dropped from every holder, a non-nil
// error is deposited with each of them, and only then is done closed. A
// woken Wait therefore finds every tracker already clear. Holders can live
// in different graphs by now, so each drop locks that holder's current
// graph on its own.
func (t *TaskTracker) finish(task *asyncTask, err error) {
	task.mu.Lock()
	task.finished = true
	holders := append([]*TaskTracker(nil), task.holders...)
	task.mu.Unlock()

	for _, h := range holders {
		g := h.owner.lockGraph()
		delete(h.tasks, task.id)
		if err != nil {
			h.errs = append(h.errs, err)
		}
		h.owner.stateChangedLocked()
		g.mu.Unlock()
	}
	close(task.done)
}

// hoistTasksLocked registers every running task of a newly adopted subtree
// with the adopter and its ancestors, so a later Wait above the adoption
// point covers work that was already in flight. The subtree and the new
// ancestors share one graph by the time this runs.
func hoistTasksLocked(adopted Parent, newParent Parent) {
	tasks := runningTasksLocked(adopted)
	if len(tasks) == 0 {
		return
	}
	for n := newParent; n != nil; n = n.parentLocked() {
		if tr := n.trackerLocked(); tr != nil {
			for _, task := range tasks {
				tr.adoptTaskLocked(task)
			}
		}
	}
}

// runningTasksLocked collects the running tasks of a subtree. An entity's
// own tracker already covers everything below it; a collection has no
// tracker, so its items' trackers are combined, deleted ones included.
func runningTasksLocked(n Parent) []*asyncTask {
	if tr := n.trackerLocked(); tr != nil {
		out := make([]*asyncTask, 0, len(tr.tasks))
		for _, task := range tr.tasks {
			out = append(out, task)
		}
		return out
	}
	c, ok := n.(*Collection)
	if !ok {
		return nil
	}
	var out []*asyncTask
	for _, it := range c.items {
		out = append(out, runningTasksLocked(it)...)
	}
	for _, it := range c.deleted {
		out = append(out, runningTasksLocked(it)...)
	}
	return out
}
