package memo

import (
	"context"
	"strings"
	"testing"
	"time"
)

// Fuzz Compute/Remove semantics under arbitrary string keys.
// Guards against panics and checks the memoization invariants.
func FuzzCompute_RemoveRecompute(f *testing.F) {
	f.Add("")
	f.Add("a")
	f.Add("αβγ")
	f.Add("emoji🙂")
	f.Add(strings.Repeat("x", 1024))

	f.Fuzz(func(t *testing.T, k string) {
		const limit = 1 << 12
		if len(k) > limit {
			k = k[:limit]
		}

		fn := &counting{}
		c := New[string, string](fn, Options[string, string]{Shards: 4})
		defer func() { _ = c.Close() }()
		ctx := context.Background()

		v1, err := c.Compute(ctx, k, time.Minute)
		if err != nil || v1 != k+"#1" {
			t.Fatalf("first Compute: v=%q err=%v", v1, err)
		}
		if v, _ := c.Compute(ctx, k, time.Minute); v != v1 {
			t.Fatalf("cached Compute: want %q, got %q", v1, v)
		}
		if !c.Remove(k) {
			t.Fatal("Remove must return true")
		}
		if c.Size() != 0 {
			t.Fatalf("size after Remove: %d", c.Size())
		}
		if v, _ := c.Compute(ctx, k, time.Minute); v != k+"#2" {
			t.Fatalf("Compute after Remove: want recompute, got %q", v)
		}
	})
}
