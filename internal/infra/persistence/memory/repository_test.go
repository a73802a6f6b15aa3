package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"entitycore/pkg/entity"
)

func sampleSnapshot(customer string) *entity.Snapshot {
	return &entity.Snapshot{
		Values: map[string]any{"Customer": customer, "Status": "open"},
		Lists: map[string]*entity.ListSnapshot{
			"Items": {Items: []*entity.Snapshot{
				{Values: map[string]any{"SKU": "A-1", "Qty": 2}},
			}},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	if err := repo.SaveAggregate(ctx, "order-1", sampleSnapshot("ACME")); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap, err := repo.LoadAggregate(ctx, "order-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := snap.Values["Customer"]; got != "ACME" {
		t.Fatalf("customer = %v, want ACME", got)
	}
	if got := len(snap.Lists["Items"].Items); got != 1 {
		t.Fatalf("items = %d, want 1", got)
	}
}

func TestStoredPayloadIsIsolated(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	src := sampleSnapshot("ACME")
	if err := repo.SaveAggregate(ctx, "order-1", src); err != nil {
		t.Fatalf("save: %v", err)
	}
	src.Values["Customer"] = "mutated"

	first, err := repo.LoadAggregate(ctx, "order-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := first.Values["Customer"]; got != "ACME" {
		t.Fatalf("stored payload followed caller mutation: %v", got)
	}

	first.Values["Customer"] = "also mutated"
	second, err := repo.LoadAggregate(ctx, "order-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := second.Values["Customer"]; got != "ACME" {
		t.Fatalf("stored payload followed loaded-copy mutation: %v", got)
	}
}

func TestSaveReplacesPayload(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	if err := repo.SaveAggregate(ctx, "order-1", sampleSnapshot("ACME")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SaveAggregate(ctx, "order-1", sampleSnapshot("Globex")); err != nil {
		t.Fatalf("resave: %v", err)
	}
	snap, err := repo.LoadAggregate(ctx, "order-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := snap.Values["Customer"]; got != "Globex" {
		t.Fatalf("customer = %v, want Globex", got)
	}
}

func TestLoadMissingReportsNotFound(t *testing.T) {
	repo := NewRepository()
	_, err := repo.LoadAggregate(context.Background(), "absent")
	if !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("load absent: %v, want ErrNotFound", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	if err := repo.DeleteAggregate(ctx, "absent"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	if err := repo.SaveAggregate(ctx, "order-1", sampleSnapshot("ACME")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.DeleteAggregate(ctx, "order-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.LoadAggregate(ctx, "order-1"); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("load deleted: %v, want ErrNotFound", err)
	}
}

func TestListIDsSorted(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := repo.SaveAggregate(ctx, id, sampleSnapshot(id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	ids, err := repo.ListIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
}
