package mongodb

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/crawlkit/httpcache/storage"
	"github.com/crawlkit/httpcache/storage/storagetest"
)

func newTestRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func recordAt(req *http.Request, storedAt int64) storage.Record {
	return storage.Record{Status: 200, URL: req.URL.String(), Header: http.Header{}, Body: []byte("x"), StoredAt: storedAt}
}

func testURI() string {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	return uri
}

func openOrSkip(t *testing.T, database string, opts ...Opt) *Backend {
	t.Helper()
	backend, err := New(testURI(), database, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := backend.Open(ctx, "spider1"); err != nil {
		t.Skipf("skipping test; MongoDB not available: %v", err)
	}
	return backend
}

func TestBackend(t *testing.T) {
	backend := openOrSkip(t, "httpcache_test")
	defer func() {
		_ = backend.Disconnect(context.Background())
	}()

	storagetest.Exercise(t, backend, "spider1")
}

func TestBackendSharded(t *testing.T) {
	backend := openOrSkip(t, "httpcache_test", WithSharded(true))
	defer func() {
		_ = backend.Disconnect(context.Background())
	}()

	storagetest.Exercise(t, backend, "spider1")
}

func TestBackendExpiration(t *testing.T) {
	backend := openOrSkip(t, "httpcache_test", WithExpiration(10))
	defer func() {
		_ = backend.Disconnect(context.Background())
	}()
	backend.Now = func() int64 { return 1100 }

	req := newTestRequest(t, "https://example.com/old")
	ctx := context.Background()
	rec := recordAt(req, 1000)
	if err := backend.Store(ctx, "spider1", req, rec); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, ok, err := backend.Retrieve(ctx, "spider1", req); err != nil || ok {
		t.Fatalf("expected expired record to be a miss, got ok=%v err=%v", ok, err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", "db"); err != ErrURIRequired {
		t.Errorf("expected ErrURIRequired, got %v", err)
	}
	if _, err := New("mongodb://localhost:27017", ""); err != ErrDatabaseRequired {
		t.Errorf("expected ErrDatabaseRequired, got %v", err)
	}
}
