package clog

import (
	"context"
	"sync"
)

// Attribute keys the error middleware and the text handler agree on.
const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"
)

// bag collects log attributes over the life of a request. Middleware and
// handlers add entries; the slog handler drains them when a record is
// written through the same context.
type bag struct {
	mu sync.RWMutex
	kv map[string]any
}

type bagKey struct{}

// ContextWithSlog returns a context carrying an empty attribute bag.
func ContextWithSlog(ctx context.Context) context.Context {
	return context.WithValue(ctx, bagKey{}, &bag{kv: map[string]any{}})
}

func fromContext(ctx context.Context) *bag {
	b, _ := ctx.Value(bagKey{}).(*bag)
	return b
}

// AddAttribute records a single attribute on the context's bag. Without a
// bag on the context the call is a no-op, so library code may call it
// unconditionally.
func AddAttribute(ctx context.Context, key string, value any) {
	b := fromContext(ctx)
	if b == nil {
		return
	}
	b.mu.Lock()
	b.kv[key] = value
	b.mu.Unlock()
}

// AddAttributes records several attributes at once. Later values win.
func AddAttributes(ctx context.Context, attributes map[string]any) {
	b := fromContext(ctx)
	if b == nil {
		return
	}
	b.mu.Lock()
	for k, v := range attributes {
		b.kv[k] = v
	}
	b.mu.Unlock()
}

// GetAttributes returns a copy of the attributes collected so far, or nil
// when the context has no bag.
func GetAttributes(ctx context.Context) map[string]any {
	b := fromContext(ctx)
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.kv))
	for k, v := range b.kv {
		out[k] = v
	}
	return out
}

func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}
