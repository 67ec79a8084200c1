package canonical

import (
	"math"
	"strings"
	"testing"
)

func TestCanonicalizeKeyOrder(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "c": map[string]any{"z": true, "y": false}}
	b := map[string]any{"c": map[string]any{"y": false, "z": true}, "a": 1, "b": 2}

	if Canonicalize(a) != Canonicalize(b) {
		t.Errorf("key order changed canonical form: %s != %s", Canonicalize(a), Canonicalize(b))
	}
	want := `{"a":1,"b":2,"c":{"y":false,"z":true}}`
	if got := Canonicalize(a); got != want {
		t.Errorf("canonical form = %s, want %s", got, want)
	}
}

func TestCanonicalizeListOrderSignificant(t *testing.T) {
	a := map[string]any{"steps": []any{"one", "two"}}
	b := map[string]any{"steps": []any{"two", "one"}}
	if Canonicalize(a) == Canonicalize(b) {
		t.Error("list order should be semantically significant")
	}
}

func TestCanonicalizeNumbers(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{float64(3), "3"},
		{3.5, "3.5"},
		{int(7), "7"},
		{int64(-2), "-2"},
		{math.NaN(), "null"},
		{math.Inf(1), "null"},
		{math.Inf(-1), "null"},
	}
	for _, c := range cases {
		if got := Canonicalize(c.in); got != c.want {
			t.Errorf("Canonicalize(%v) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestCanonicalizeIntegerAndFloatAgree(t *testing.T) {
	// A record decoded from JSON carries float64 where the original had int.
	if Canonicalize(map[string]any{"n": 10}) != Canonicalize(map[string]any{"n": float64(10)}) {
		t.Error("10 and 10.0 should canonicalize identically")
	}
}

func TestCanonicalizeStringEscaping(t *testing.T) {
	got := Canonicalize("a\nb\tc\x01d")
	if !strings.Contains(got, `\n`) || !strings.Contains(got, `\t`) || !strings.Contains(got, `\u0001`) {
		t.Errorf("control characters not escaped: %s", got)
	}
}

func TestComputeIdentityDeterministic(t *testing.T) {
	r1 := map[string]any{"id": "gene-1", "category": "repair", "signals_match": []any{"error"}}
	r2 := map[string]any{"signals_match": []any{"error"}, "id": "gene-1", "category": "repair"}

	id1 := ComputeIdentity(r1)
	id2 := ComputeIdentity(r2)
	if id1 != id2 {
		t.Errorf("field order changed identity: %s != %s", id1, id2)
	}
	if !strings.HasPrefix(id1, "sha256:") {
		t.Errorf("identity missing prefix: %s", id1)
	}
}

func TestComputeIdentityExcludesIdentityField(t *testing.T) {
	r := map[string]any{"id": "gene-1", "category": "repair"}
	id := ComputeIdentity(r)
	r[IdentityField] = id
	if ComputeIdentity(r) != id {
		t.Error("stored identity should not affect recomputation")
	}
}

func TestVerifyIdentity(t *testing.T) {
	r := map[string]any{"id": "cap-1", "summary": "fixed the thing"}
	r[IdentityField] = ComputeIdentity(r)
	if !VerifyIdentity(r) {
		t.Error("self-consistent record should verify")
	}

	r["summary"] = "tampered"
	if VerifyIdentity(r) {
		t.Error("corrupted record should not verify")
	}

	if VerifyIdentity(map[string]any{"id": "no-identity"}) {
		t.Error("record without identity should not verify")
	}
}
