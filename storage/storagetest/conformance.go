// Package storagetest provides conformance suites exercised by every
// kv.Store and storage.Backend implementation's own tests, generalizing
// the teacher's single flat test.Cache helper to this module's two-layer
// storage architecture.
package storagetest

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/crawlkit/httpcache/kv"
	"github.com/crawlkit/httpcache/storage"
)

// ExerciseKV exercises a kv.Store implementation's Get/Set/Delete
// round-trip contract.
func ExerciseKV(t *testing.T, store kv.Store) {
	t.Helper()
	ctx := context.Background()
	key := "testKey"

	_, ok, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if ok {
		t.Fatal("retrieved key before adding it")
	}

	val := []byte("some bytes")
	if err := store.Set(ctx, key, val); err != nil {
		t.Fatalf("error setting key: %v", err)
	}

	retVal, ok, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if !ok {
		t.Fatal("could not retrieve an element we just added")
	}
	if !bytes.Equal(retVal, val) {
		t.Fatal("retrieved a different value than what we put in")
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("error deleting key: %v", err)
	}

	_, ok, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if ok {
		t.Fatal("deleted key still present")
	}
}

// Exercise runs the storage.Backend conformance suite against backend:
// round-trip a stored record, confirm overwrite semantics, and confirm a
// miss before any store.
func Exercise(t *testing.T, backend storage.Backend, spiderID string) {
	t.Helper()
	ctx := context.Background()

	if err := backend.Open(ctx, spiderID); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer func() {
		if err := backend.Close(ctx, spiderID); err != nil {
			t.Errorf("close failed: %v", err)
		}
	}()

	req, err := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}

	if _, ok, err := backend.Retrieve(ctx, spiderID, req); err != nil || ok {
		t.Fatalf("expected miss before store, got ok=%v err=%v", ok, err)
	}

	rec := storage.Record{
		Status:   200,
		URL:      req.URL.String(),
		Header:   http.Header{"Content-Type": {"text/plain"}},
		Body:     []byte("hello"),
		StoredAt: time.Now().Unix(),
	}
	if err := backend.Store(ctx, spiderID, req, rec); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	got, ok, err := backend.Retrieve(ctx, spiderID, req)
	if err != nil || !ok {
		t.Fatalf("expected hit after store, got ok=%v err=%v", ok, err)
	}
	if got.Status != rec.Status || !bytes.Equal(got.Body, rec.Body) {
		t.Fatalf("round-tripped record mismatch: got %+v want %+v", got, rec)
	}

	rec2 := rec
	rec2.Body = []byte("goodbye")
	if err := backend.Store(ctx, spiderID, req, rec2); err != nil {
		t.Fatalf("overwrite store failed: %v", err)
	}
	got2, ok, err := backend.Retrieve(ctx, spiderID, req)
	if err != nil || !ok {
		t.Fatalf("expected hit after overwrite, got ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got2.Body, rec2.Body) {
		t.Fatalf("overwrite did not take effect: got %q want %q", got2.Body, rec2.Body)
	}
}
