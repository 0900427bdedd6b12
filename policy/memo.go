package policy

import (
	"context"
	"sync"

	"github.com/crawlkit/httpcache/cachecontrol"
)

// memoKey is unexported so only this package can attach or read a memo,
// matching §9's note to scope the Cache-Control parse to the request
// rather than sharing it process-wide via a weak table.
type memoKey struct{}

type memo struct {
	mu     sync.Mutex
	parsed map[string]cachecontrol.Directives
}

// NewContext returns a context carrying a fresh, empty Cache-Control memo
// scoped to a single request's lifetime. Callers (the Transport) attach it
// once per request before invoking the policy's predicates, so repeated
// parses of the same header string within that request are avoided.
func NewContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoKey{}, &memo{parsed: make(map[string]cachecontrol.Directives)})
}

// parseMemoized parses raw using the request-scoped memo attached to ctx,
// if any, falling back to a plain parse when ctx carries none (e.g. a
// policy predicate invoked outside the Transport, such as in a test).
func parseMemoized(ctx context.Context, raw string) cachecontrol.Directives {
	m, _ := ctx.Value(memoKey{}).(*memo)
	if m == nil {
		return cachecontrol.Parse(raw)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.parsed[raw]; ok {
		return d
	}
	d := cachecontrol.Parse(raw)
	m.parsed[raw] = d
	return d
}
