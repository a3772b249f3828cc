package configgen

import "testing"

func TestCanonicalHashKeyOrderIndependent(t *testing.T) {
	a := map[string]any{"a": 1.0, "b": 2.0}
	b := map[string]any{"b": 2.0, "a": 1.0}

	hashA, err := CanonicalHash(a)
	if err != nil {
		t.Fatalf("CanonicalHash(a): %v", err)
	}
	hashB, err := CanonicalHash(b)
	if err != nil {
		t.Fatalf("CanonicalHash(b): %v", err)
	}
	if hashA != hashB {
		t.Fatalf("hash differs by key order: %s vs %s", hashA, hashB)
	}
	if len(hashA) != 64 {
		t.Fatalf("hash length = %d, want 64", len(hashA))
	}
}

func TestCanonicalHashDiscriminatesValues(t *testing.T) {
	h1, _ := CanonicalHash(map[string]any{"a": 1.0})
	h2, _ := CanonicalHash(map[string]any{"a": 2.0})
	if h1 == h2 {
		t.Fatal("distinct configs hashed identically")
	}
}

func TestCanonicalHashPreservesArrayOrder(t *testing.T) {
	h1, _ := CanonicalHash(map[string]any{"list": []any{"x", "y"}})
	h2, _ := CanonicalHash(map[string]any{"list": []any{"y", "x"}})
	if h1 == h2 {
		t.Fatal("expected array order to be significant")
	}
}

func TestCanonicalHashNestedKeyOrderIndependent(t *testing.T) {
	a := map[string]any{"outer": map[string]any{"z": 1.0, "a": 2.0}}
	b := map[string]any{"outer": map[string]any{"a": 2.0, "z": 1.0}}
	h1, _ := CanonicalHash(a)
	h2, _ := CanonicalHash(b)
	if h1 != h2 {
		t.Fatal("nested map key order should not affect the hash")
	}
}
