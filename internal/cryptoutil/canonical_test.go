package cryptoutil

import "testing"

func TestCanonicalizeSortsKeys(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": 3}
	b := map[string]interface{}{"c": 3, "a": 2, "b": 1}

	outA, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	outB, err := Canonicalize(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if string(outA) != string(outB) {
		t.Fatalf("expected identical canonical output, got %q vs %q", outA, outB)
	}
	want := `{"a":2,"b":1,"c":3}`
	if string(outA) != want {
		t.Fatalf("got %q, want %q", outA, want)
	}
}

func TestCanonicalizeNested(t *testing.T) {
	v := map[string]interface{}{
		"z": []interface{}{
			map[string]interface{}{"y": 1, "x": 2},
		},
		"a": "hello",
	}
	out, err := Canonicalize(v)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":"hello","z":[{"x":2,"y":1}]}`
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestCanonicalizeDeterministicAcrossCalls(t *testing.T) {
	v := map[string]interface{}{"k1": 1, "k2": 2, "k3": 3, "k4": 4, "k5": 5}
	first, err := Canonicalize(v)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	for i := 0; i < 20; i++ {
		out, err := Canonicalize(v)
		if err != nil {
			t.Fatalf("canonicalize iteration %d: %v", i, err)
		}
		if string(out) != string(first) {
			t.Fatalf("iteration %d: canonical output not stable: %q vs %q", i, out, first)
		}
	}
}
