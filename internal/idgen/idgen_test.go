package idgen

import (
	"sort"
	"testing"
)

func TestNewOrderID_Unique(t *testing.T) {
	gen := NewUUIDv7()
	seen := make(map[string]struct{}, 1000)

	for i := 0; i < 1000; i++ {
		id, err := gen.NewOrderID()
		if err != nil {
			t.Fatalf("new order id: %v", err)
		}
		if id == "" {
			t.Fatal("expected non-empty id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewOrderID_RoughlyTimeOrdered(t *testing.T) {
	gen := NewUUIDv7()

	ids := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		id, err := gen.NewOrderID()
		if err != nil {
			t.Fatalf("new order id: %v", err)
		}
		ids = append(ids, id)
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("ids are not ordered at position %d: %s vs %s", i, ids[i], sorted[i])
		}
	}
}
