package entity_test

import (
	"context"
	"testing"

	"entitycore/pkg/entity"
)

func TestLoadPathSkipsRulesAndModification(t *testing.T) {
	ctx := context.Background()
	lc := entity.NewLoadContext()
	o := newOrder()

	if err := lc.Set(ctx, o, "Customer", ""); err != nil {
		t.Fatalf("set customer: %v", err)
	}
	if err := lc.Set(ctx, o, "Reference", "ORD-9"); err != nil {
		t.Fatalf("set read-only reference: %v", err)
	}
	if o.IsModified() {
		t.Fatal("loads must not mark the entity modified")
	}
	if !o.IsValid() || !o.IsSelfValid() {
		t.Fatal("loads must not run validation rules")
	}
	ref, err := entity.ValueOf[string](o, "Reference")
	if err != nil {
		t.Fatalf("value reference: %v", err)
	}
	if ref != "ORD-9" {
		t.Fatalf("reference = %q, want ORD-9", ref)
	}
}

func TestBulkLoadDefersRecompute(t *testing.T) {
	ctx := context.Background()
	lc := entity.NewLoadContext()
	o := newOrder()
	items := o.items()

	bctx, end := lc.BeginBulkLoad(ctx, o)
	li := newLineItem()
	if err := lc.Set(bctx, li, "SKU", "A-1"); err != nil {
		t.Fatalf("set sku: %v", err)
	}
	if err := items.Add(bctx, li); err != nil {
		t.Fatalf("add under bulk load: %v", err)
	}

	// the caches are not folded while the bracket is open
	if items.IsModified() || o.IsModified() {
		t.Fatal("aggregate flags should be stale inside the bracket")
	}

	// a nested bracket is absorbed by the outer one
	ictx, innerEnd := lc.BeginBulkLoad(bctx, o)
	if ictx != bctx {
		t.Fatal("nested bracket should reuse the outer context")
	}
	innerEnd()
	if items.IsModified() {
		t.Fatal("ending the nested bracket must not recompute")
	}

	end()
	if !items.IsModified() || !o.IsModified() {
		t.Fatal("ending the bracket should fold the new element into the caches")
	}
	end() // closing again is a no-op

	if li.Parent() != entity.Parent(o) || !li.IsChild() {
		t.Fatal("bulk-loaded element should be wired like any other")
	}
}

func TestMarkPersistedClearsFlagsKeepsMessages(t *testing.T) {
	ctx := context.Background()
	lc := entity.NewLoadContext()
	o := newOrder()

	if err := o.Assign(ctx, "Customer", ""); err != nil {
		t.Fatalf("assign customer: %v", err)
	}
	if o.IsValid() || !o.IsModified() || !o.IsNew() {
		t.Fatalf("order IsValid/IsModified/IsNew = %v/%v/%v, want false/true/true",
			o.IsValid(), o.IsModified(), o.IsNew())
	}

	lc.MarkPersisted(o)
	if o.IsNew() || o.IsModified() || o.HasUnsavedChanges() {
		t.Fatalf("persisted order IsNew/IsModified/HasUnsavedChanges = %v/%v/%v, want all false",
			o.IsNew(), o.IsModified(), o.HasUnsavedChanges())
	}
	// persisting records the save, it does not make the state valid
	if o.IsValid() {
		t.Fatal("validation messages must survive MarkPersisted")
	}
	if o.IsSavable() {
		t.Fatal("an invalid order is still not savable")
	}
}

func TestMarkDeletionPersistedResetsToNew(t *testing.T) {
	lc := entity.NewLoadContext()
	o := newOrder()
	lc.MarkPersisted(o)

	o.Delete()
	if !o.IsDeleted() || !o.HasUnsavedChanges() {
		t.Fatal("deleted order should have a pending change")
	}

	lc.MarkDeletionPersisted(o)
	if o.IsDeleted() {
		t.Fatal("persisted deletion should clear the deletion mark")
	}
	if !o.IsNew() {
		t.Fatal("a deleted-and-saved entity comes back new")
	}
	if !o.HasUnsavedChanges() {
		t.Fatal("a new entity has unsaved changes")
	}
}

func TestMarkDeletionsPersistedDetachesElements(t *testing.T) {
	ctx := context.Background()
	lc := entity.NewLoadContext()
	o := newOrder()

	a, err := addItem(ctx, o, "A-1", 1, 2)
	if err != nil {
		t.Fatalf("add a: %v", err)
	}
	b, err := addItem(ctx, o, "B-1", 1, 3)
	if err != nil {
		t.Fatalf("add b: %v", err)
	}
	lc.MarkPersisted(o)
	a.Delete()
	b.Delete()
	if got := len(o.items().Deleted()); got != 2 {
		t.Fatalf("deleted list = %d, want 2", got)
	}

	lc.MarkDeletionsPersisted(o.items())
	if got := len(o.items().Deleted()); got != 0 {
		t.Fatalf("deleted list after persist = %d, want 0", got)
	}
	if o.IsModified() {
		t.Fatal("collection should be clean once deletions are persisted")
	}
	if a.Parent() != nil || a.ContainingList() != nil {
		t.Fatal("cast-off element should be detached")
	}
	if !a.IsNew() || a.IsDeleted() {
		t.Fatal("cast-off element comes back new and undeleted")
	}
	// the cast-off element is a free aggregate again
	other := newOrder()
	if err := other.items().Add(ctx, a); err != nil {
		t.Fatalf("re-adopt cast-off element: %v", err)
	}
}

func TestMarkPersistedCastsOffDeleted(t *testing.T) {
	ctx := context.Background()
	lc := entity.NewLoadContext()
	o := newOrder()

	li, err := addItem(ctx, o, "A-1", 1, 2)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	lc.MarkPersisted(o)
	li.Delete()

	lc.MarkPersisted(o)
	if got := len(o.items().Deleted()); got != 0 {
		t.Fatalf("deleted list after full persist = %d, want 0", got)
	}
	if li.Parent() != nil || !li.IsNew() {
		t.Fatal("persisting the aggregate casts off its deleted elements")
	}
	if o.IsModified() || o.HasUnsavedChanges() {
		t.Fatal("fully persisted aggregate should be clean")
	}
}
