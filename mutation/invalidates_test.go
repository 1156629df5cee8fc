package mutation

import (
	"context"
	"testing"
)

func TestWithInvalidates(t *testing.T) {
	tests := []struct {
		name  string
		calls [][]string
		want  []string
	}{
		{name: "none", calls: nil, want: nil},
		{name: "single", calls: [][]string{{"contacts"}}, want: []string{"contacts"}},
		{name: "dedupes across calls", calls: [][]string{{"a", "b"}, {"b", "c"}}, want: []string{"a", "b", "c"}},
		{name: "drops blanks", calls: [][]string{{"", "  ", "a"}}, want: []string{"a"}},
		{name: "only blanks", calls: [][]string{{""}}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			for _, names := range tt.calls {
				ctx = WithInvalidates(ctx, names...)
			}

			got := invalidatesFromContext(ctx)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestWithInvalidates_NilContext(t *testing.T) {
	ctx := WithInvalidates(nil, "a")
	if got := invalidatesFromContext(ctx); len(got) != 1 || got[0] != "a" {
		t.Errorf("expected [a], got %v", got)
	}
}

func TestInvalidatesFromContext_ReturnsCopy(t *testing.T) {
	ctx := WithInvalidates(context.Background(), "a", "b")
	got := invalidatesFromContext(ctx)
	got[0] = "mutated"

	if again := invalidatesFromContext(ctx); again[0] != "a" {
		t.Errorf("context value was mutated: %v", again)
	}
}
