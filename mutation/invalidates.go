package mutation

import (
	"context"
	"strings"
)

type invalidatesContextKey struct{}

// WithInvalidates attaches extra resource names to invalidate when a
// mutation run with ctx succeeds, for writes that change other lists too.
func WithInvalidates(ctx context.Context, names ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(names) == 0 {
		return ctx
	}

	combined := dedupe(append(invalidatesFromContext(ctx), names...))
	if len(combined) == 0 {
		return ctx
	}

	return context.WithValue(ctx, invalidatesContextKey{}, combined)
}

func invalidatesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if names, ok := ctx.Value(invalidatesContextKey{}).([]string); ok {
		return append([]string(nil), names...)
	}
	return nil
}

// dedupe trims names, drops empty ones and keeps the first occurrence order.
func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
