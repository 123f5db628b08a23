package testdata

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnresolvedReference is returned when a string is recognizably a data reference but
// no value exists for it.
var ErrUnresolvedReference = errors.New("unresolved test data reference")

var (
	runtimePattern = regexp.MustCompile(`\$\{([^}]+)\}`)
	legacyPattern  = regexp.MustCompile(`^\{\{TD\.([^.}]+)\.([^}]+)\}\}$`)
	dottedPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_ ]*(\.[A-Za-z0-9_ -]+){1,2}$`)
)

// IDSource yields the current test case id for a context.
type IDSource interface {
	Get(ctx context.Context) string
}

// Resolver expands step arguments that refer to test data.
type Resolver struct {
	store *Store
	ids   IDSource
}

// NewResolver creates a resolver over store using ids for the current test case.
func NewResolver(store *Store, ids IDSource) *Resolver {
	return &Resolver{store: store, ids: ids}
}

// Resolve expands ref. The forms are tried in order: runtime ${key} and ${GLOBAL.key},
// Sheet.Column for the current test case, Sheet.TestCaseID.Column, and the legacy
// {{TD.Sheet.Column}}. Anything else is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	current := r.ids.Get(ctx)

	if runtimePattern.MatchString(ref) {
		return r.resolveRuntime(current, ref)
	}

	if dottedPattern.MatchString(ref) {
		parts := strings.Split(ref, ".")
		if !r.store.HasSheet(parts[0]) {
			return ref, nil
		}
		switch len(parts) {
		case 2:
			if v, ok := r.store.Static(parts[0], current, parts[1]); ok {
				return v, nil
			}
		case 3:
			if v, ok := r.store.Static(parts[0], parts[1], parts[2]); ok {
				return v, nil
			}
		}
		return "", fmt.Errorf("%w: %q (test case %q)", ErrUnresolvedReference, ref, current)
	}

	if m := legacyPattern.FindStringSubmatch(ref); m != nil {
		if v, ok := r.store.Static(m[1], current, m[2]); ok {
			return v, nil
		}
		return "", fmt.Errorf("%w: %q (test case %q)", ErrUnresolvedReference, ref, current)
	}

	return ref, nil
}

// resolveRuntime substitutes every ${...} placeholder in ref.
func (r *Resolver) resolveRuntime(current, ref string) (string, error) {
	var missing []string
	out := runtimePattern.ReplaceAllStringFunc(ref, func(placeholder string) string {
		key := runtimePattern.FindStringSubmatch(placeholder)[1]
		if v, ok := r.lookupRuntime(current, key); ok {
			return v
		}
		missing = append(missing, key)
		return placeholder
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: runtime keys %v", ErrUnresolvedReference, missing)
	}
	return out, nil
}

func (r *Resolver) lookupRuntime(current, key string) (string, bool) {
	if rest, ok := strings.CutPrefix(key, GlobalScope+"."); ok {
		return r.store.Runtime(GlobalScope, rest)
	}
	if current != "" {
		if v, ok := r.store.Runtime(current, key); ok {
			return v, true
		}
	}
	return r.store.Runtime(GlobalScope, key)
}

// Store saves a runtime value for the current test case, or globally when key has the
// GLOBAL. prefix.
func (r *Resolver) Store(ctx context.Context, key, value string) {
	if rest, ok := strings.CutPrefix(key, GlobalScope+"."); ok {
		r.store.Put(GlobalScope, rest, value)
		return
	}
	scope := r.ids.Get(ctx)
	if scope == "" {
		scope = GlobalScope
	}
	r.store.Put(scope, key, value)
}
