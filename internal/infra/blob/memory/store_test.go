package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"entitycore/internal/infra/blob/core"
)

func TestPutGetHeadDeleteFlow(t *testing.T) {
	ctx := context.Background()
	store := New()

	info, err := store.Put(ctx, "aggregates/order-1/1.json", strings.NewReader("{}"), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"aggregate": "order-1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 2 || len(info.ETag) != 64 {
		t.Fatalf("info = %#v", info)
	}
	if _, err := store.Put(ctx, "aggregates/order-1/1.json", strings.NewReader("{}"), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put error")
	}

	head, err := store.Head(ctx, "aggregates/order-1/1.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Metadata["aggregate"] != "order-1" || head.ContentType != "application/json" {
		t.Fatalf("head = %#v", head)
	}

	got, rc, err := store.Get(ctx, "aggregates/order-1/1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(data, []byte("{}")) {
		t.Fatalf("content = %q", data)
	}
	if got.ETag != info.ETag {
		t.Fatalf("etag changed between put and get")
	}

	existed, err := store.Delete(ctx, "aggregates/order-1/1.json")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, "aggregates/order-1/1.json")
	if err != nil || existed {
		t.Fatalf("delete again: existed=%v err=%v", existed, err)
	}
	if _, err := store.Head(ctx, "aggregates/order-1/1.json"); err == nil {
		t.Fatalf("head after delete succeeded")
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.Put(ctx, "k", strings.NewReader("original"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	for i := range data {
		data[i] = 'x'
	}
	_, rc, err = store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("reget: %v", err)
	}
	fresh, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(fresh) != "original" {
		t.Fatalf("stored data followed reader mutation: %q", fresh)
	}
}

func TestListPrefixSorted(t *testing.T) {
	ctx := context.Background()
	store := New()
	for _, key := range []string{"a/2", "a/1", "b/1"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "a/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "a/1" || infos[1].Key != "a/2" {
		t.Fatalf("infos = %#v", infos)
	}
}

func TestPresignUnsupported(t *testing.T) {
	store := New()
	if _, err := store.PresignURL(context.Background(), "k", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("presign: %v, want ErrUnsupported", err)
	}
}
