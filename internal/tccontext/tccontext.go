// Package tccontext carries the identifier of the test case currently executing.
//
// The id travels explicitly on a context.Context. Step code that cannot be handed a
// context (callbacks of an external framework) reads the shared fallback slot of the
// Holder instead. The fallback is last-writer-wins and is only reliable when test cases
// execute one at a time, which is how the batch runs them.
package tccontext

import (
	"context"
	"sync/atomic"
)

type ctxKey struct{}

type groupKey struct{}

// WithTestCase returns a copy of ctx carrying id.
func WithTestCase(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the test case id carried by ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// WithGroup returns a copy of ctx carrying the ids selected for the current feature run.
func WithGroup(ctx context.Context, ids []string) context.Context {
	cp := append([]string(nil), ids...)
	return context.WithValue(ctx, groupKey{}, cp)
}

// GroupFromContext returns the ids selected for the current feature run.
func GroupFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	ids, _ := ctx.Value(groupKey{}).([]string)
	return ids
}

// Holder owns the shared fallback slot. One Holder exists per batch run.
type Holder struct {
	fallback atomic.Pointer[string]
}

// NewHolder creates an empty Holder.
func NewHolder() *Holder {
	return &Holder{}
}

// Set records id in the fallback slot and returns ctx carrying it.
func (h *Holder) Set(ctx context.Context, id string) context.Context {
	h.fallback.Store(&id)
	return WithTestCase(ctx, id)
}

// Get returns the id carried by ctx, falling back to the shared slot. It returns ""
// when neither is set.
func (h *Holder) Get(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id
	}
	if p := h.fallback.Load(); p != nil {
		return *p
	}
	return ""
}

// Clear empties the shared slot. Contexts already derived keep their value.
func (h *Holder) Clear() {
	h.fallback.Store(nil)
}
