package delta

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/crawlkit/httpcache/fingerprint"
	"github.com/crawlkit/httpcache/storage"
	"github.com/crawlkit/httpcache/storage/leveldbkv"
	"github.com/crawlkit/httpcache/storage/storagetest"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	store, err := leveldbkv.New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("leveldbkv.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func newReq(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestBackendConformance(t *testing.T) {
	storagetest.Exercise(t, newTestBackend(t), "spider1")
}

func TestBackendFirstStoreBecomesSource(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	req := newReq(t, "https://example.com/page1")

	rec := storage.Record{Status: 200, URL: req.URL.String(), Body: []byte("hello world"), StoredAt: time.Now().Unix()}
	if err := b.Store(ctx, "spider1", req, rec); err != nil {
		t.Fatalf("Store: %v", err)
	}

	g, err := b.loadGroup(ctx, "spider1", "example.com")
	if err != nil {
		t.Fatalf("loadGroup: %v", err)
	}
	if g == nil || len(g.Sources()) != 1 {
		t.Fatalf("expected a single source, got %v", g)
	}
}

func TestBackendSecondStoreBecomesTarget(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	base := bytes.Repeat([]byte("abcdefghij"), 200)
	req1 := newReq(t, "https://example.com/page1")
	rec1 := storage.Record{Status: 200, URL: req1.URL.String(), Body: base, StoredAt: time.Now().Unix()}
	if err := b.Store(ctx, "spider1", req1, rec1); err != nil {
		t.Fatalf("Store 1: %v", err)
	}

	similar := append(append([]byte(nil), base[:1000]...), []byte("CHANGED")...)
	similar = append(similar, base[1007:]...)
	req2 := newReq(t, "https://example.com/page2")
	rec2 := storage.Record{Status: 200, URL: req2.URL.String(), Body: similar, StoredAt: time.Now().Unix()}
	if err := b.Store(ctx, "spider1", req2, rec2); err != nil {
		t.Fatalf("Store 2: %v", err)
	}

	g, err := b.loadGroup(ctx, "spider1", "example.com")
	if err != nil {
		t.Fatalf("loadGroup: %v", err)
	}
	if len(g.Sources()) != 1 {
		t.Fatalf("expected the second record to become a target, not a new source, got sources=%v", g.Sources())
	}

	got, ok, err := b.Retrieve(ctx, "spider1", req2)
	if err != nil || !ok {
		t.Fatalf("Retrieve target: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got.Body, similar) {
		t.Fatal("retrieved target body mismatch")
	}
}

func TestBackendDifferentHostsGetSeparateGroups(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	req1 := newReq(t, "https://a.example.com/page")
	req2 := newReq(t, "https://b.example.com/page")

	if err := b.Store(ctx, "spider1", req1, storage.Record{Status: 200, URL: req1.URL.String(), Body: []byte("a"), StoredAt: time.Now().Unix()}); err != nil {
		t.Fatalf("Store 1: %v", err)
	}
	if err := b.Store(ctx, "spider1", req2, storage.Record{Status: 200, URL: req2.URL.String(), Body: []byte("b"), StoredAt: time.Now().Unix()}); err != nil {
		t.Fatalf("Store 2: %v", err)
	}

	g1, _ := b.loadGroup(ctx, "spider1", "a.example.com")
	g2, _ := b.loadGroup(ctx, "spider1", "b.example.com")
	if g1 == nil || g2 == nil {
		t.Fatal("expected both hosts to have their own group")
	}
	if g1.Sources()[0] == g2.Sources()[0] {
		t.Fatal("expected distinct source fingerprints across hosts")
	}
}

func TestBackendSupersedeSourceReencodesDependents(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	base := bytes.Repeat([]byte("0123456789"), 300)
	req1 := newReq(t, "https://example.com/source")
	if err := b.Store(ctx, "spider1", req1, storage.Record{Status: 200, URL: req1.URL.String(), Body: base, StoredAt: time.Now().Unix()}); err != nil {
		t.Fatalf("Store source: %v", err)
	}

	targetBody := append(append([]byte(nil), base[:500]...), []byte("TARGET-MARK")...)
	targetBody = append(targetBody, base[511:]...)
	req2 := newReq(t, "https://example.com/target")
	if err := b.Store(ctx, "spider1", req2, storage.Record{Status: 200, URL: req2.URL.String(), Body: targetBody, StoredAt: time.Now().Unix()}); err != nil {
		t.Fatalf("Store target: %v", err)
	}

	newSourceBody := append(append([]byte(nil), base[:2000]...), []byte("SOURCE-REPLACED")...)
	newSourceBody = append(newSourceBody, base[2015:]...)
	if err := b.Store(ctx, "spider1", req1, storage.Record{Status: 200, URL: req1.URL.String(), Body: newSourceBody, StoredAt: time.Now().Unix()}); err != nil {
		t.Fatalf("Store replacement source: %v", err)
	}

	gotSource, ok, err := b.Retrieve(ctx, "spider1", req1)
	if err != nil || !ok {
		t.Fatalf("Retrieve source: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(gotSource.Body, newSourceBody) {
		t.Fatal("source body should reflect the replacement")
	}

	gotTarget, ok, err := b.Retrieve(ctx, "spider1", req2)
	if err != nil || !ok {
		t.Fatalf("Retrieve target after source supersede: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(gotTarget.Body, targetBody) {
		t.Fatal("target body must be unchanged after its source is superseded")
	}
}

func TestBackendExpiration(t *testing.T) {
	b := newTestBackend(t)
	b.ExpirationSecs = 10
	now := time.Now().Unix()
	b.Now = func() int64 { return now }

	ctx := context.Background()
	req := newReq(t, "https://example.com/page")
	rec := storage.Record{Status: 200, URL: req.URL.String(), Body: []byte("hi"), StoredAt: now - 20}
	if err := b.Store(ctx, "spider1", req, rec); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if _, ok, err := b.Retrieve(ctx, "spider1", req); err != nil || ok {
		t.Fatalf("expected expired record to miss, got ok=%v err=%v", ok, err)
	}
}

func TestBackendContentEncodingRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	req := newReq(t, "https://example.com/page")

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte("compressed body content, repeated: compressed body content")); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	compressedBody := buf.Bytes()

	rec := storage.Record{
		Status:   200,
		URL:      req.URL.String(),
		Header:   http.Header{"Content-Encoding": {"gzip"}},
		Body:     compressedBody,
		StoredAt: time.Now().Unix(),
	}
	if err := b.Store(ctx, "spider1", req, rec); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok, err := b.Retrieve(ctx, "spider1", req)
	if err != nil || !ok {
		t.Fatalf("Retrieve: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got.Body, compressedBody) {
		t.Fatal("retrieved body should be recompressed back to the original gzip bytes")
	}
}

func TestBackendCustomSelectSource(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	var chosen string
	b.SelectSource = func(_ []byte, g *SourceGroup) string {
		sources := g.Sources()
		chosen = sources[len(sources)-1]
		return chosen
	}

	req1 := newReq(t, "https://example.com/s1")
	base := bytes.Repeat([]byte("xyz123"), 100)
	if err := b.Store(ctx, "spider1", req1, storage.Record{Status: 200, URL: req1.URL.String(), Body: base, StoredAt: time.Now().Unix()}); err != nil {
		t.Fatalf("Store s1: %v", err)
	}

	req2 := newReq(t, "https://example.com/s2")
	base2 := bytes.Repeat([]byte("uvw456"), 100)
	if err := b.Store(ctx, "spider1", req2, storage.Record{Status: 200, URL: req2.URL.String(), Body: base2, StoredAt: time.Now().Unix()}); err != nil {
		t.Fatalf("Store s2: %v", err)
	}

	req3 := newReq(t, "https://example.com/t1")
	target := append(append([]byte(nil), base2[:200]...), []byte("DIFFERENT")...)
	if err := b.Store(ctx, "spider1", req3, storage.Record{Status: 200, URL: req3.URL.String(), Body: target, StoredAt: time.Now().Unix()}); err != nil {
		t.Fatalf("Store target: %v", err)
	}

	g, err := b.loadGroup(ctx, "spider1", "example.com")
	if err != nil {
		t.Fatalf("loadGroup: %v", err)
	}
	if chosen == "" {
		t.Fatal("custom SelectSource was never invoked")
	}
	source, ok := g.sourceFor(fingerprint.Of(req3, b.HeaderSubset))
	if !ok || source != chosen {
		t.Fatalf("target was not attached to the custom-selected source: got %q want %q", source, chosen)
	}
}

func TestBackendBrokenTargetInvalidatesOnlyThatTarget(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	base := bytes.Repeat([]byte("source-bytes-"), 200)
	req1 := newReq(t, "https://example.com/source")
	if err := b.Store(ctx, "spider1", req1, storage.Record{Status: 200, URL: req1.URL.String(), Body: base, StoredAt: time.Now().Unix()}); err != nil {
		t.Fatalf("Store source: %v", err)
	}

	targetBody := append(append([]byte(nil), base[:300]...), []byte("UNIQUE-TARGET-SPAN")...)
	req2 := newReq(t, "https://example.com/target")
	if err := b.Store(ctx, "spider1", req2, storage.Record{Status: 200, URL: req2.URL.String(), Body: targetBody, StoredAt: time.Now().Unix()}); err != nil {
		t.Fatalf("Store target: %v", err)
	}

	fp := fingerprint.Of(req2, b.HeaderSubset)
	if err := b.KV.Set(ctx, dataKey("spider1", fp), []byte{0xFF, 0xFF, 0xFF}); err != nil {
		t.Fatalf("corrupting target: %v", err)
	}

	if _, ok, err := b.Retrieve(ctx, "spider1", req2); err != nil || ok {
		t.Fatalf("expected corrupted target to miss cleanly, got ok=%v err=%v", ok, err)
	}

	gotSource, ok, err := b.Retrieve(ctx, "spider1", req1)
	if err != nil || !ok {
		t.Fatalf("source should remain retrievable after sibling corruption: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(gotSource.Body, base) {
		t.Fatal("source body should be unaffected by sibling corruption")
	}
}

func TestBackendHostMutexSerializesStores(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	req1 := newReq(t, "https://example.com/1")
	req2 := newReq(t, "https://example.com/2")

	done := make(chan error, 2)
	go func() {
		done <- b.Store(ctx, "spider1", req1, storage.Record{Status: 200, URL: req1.URL.String(), Body: []byte("one"), StoredAt: time.Now().Unix()})
	}()
	go func() {
		done <- b.Store(ctx, "spider1", req2, storage.Record{Status: 200, URL: req2.URL.String(), Body: []byte("two"), StoredAt: time.Now().Unix()})
	}()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Store: %v", err)
		}
	}

	g, err := b.loadGroup(ctx, "spider1", "example.com")
	if err != nil {
		t.Fatalf("loadGroup: %v", err)
	}
	if len(g.Sources()) != 1 {
		t.Fatalf("expected the host mutex to prevent a lost update, got sources=%v", g.Sources())
	}
}
