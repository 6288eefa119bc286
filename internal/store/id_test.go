package store

import "testing"

func TestNewIDIsUniqueAndSorted(t *testing.T) {
	prev := ""
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := NewID()
		if len(id) != 26 {
			t.Fatalf("id %q length = %d, want 26", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		if prev != "" && id <= prev {
			t.Fatalf("ids not monotonic: %q then %q", prev, id)
		}
		seen[id] = true
		prev = id
	}
}
