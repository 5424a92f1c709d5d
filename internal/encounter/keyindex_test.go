package encounter

import "testing"

func TestKeyIndexResolve(t *testing.T) {
	x := NewKeyIndex(NewMatcher(DefaultThreshold), "headache", "fever")

	if k, ok := x.Resolve("fever"); !ok || k != "fever" {
		t.Fatalf("exact resolve failed: %q %v", k, ok)
	}
	if k, ok := x.Resolve("Headaches"); !ok || k != "headache" {
		t.Fatalf("fuzzy resolve failed: %q %v", k, ok)
	}
	if _, ok := x.Resolve("cough"); ok {
		t.Fatalf("unexpected match for unrelated key")
	}
}

func TestKeyIndexCanonicalRegistersFirstSeen(t *testing.T) {
	x := NewKeyIndex(NewMatcher(DefaultThreshold))

	if got := x.Canonical("chest pain"); got != "chest pain" {
		t.Fatalf("unexpected canonical: %q", got)
	}
	if got := x.Canonical("Chest pains"); got != "chest pain" {
		t.Fatalf("variant not folded onto first-seen key: %q", got)
	}
	if keys := x.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestLookup(t *testing.T) {
	m := NewMatcher(DefaultThreshold)
	mapping := map[string]int{"shortness of breath": 3}

	if v, ok := Lookup(m, mapping, "Shortness of breath."); !ok || v != 3 {
		t.Fatalf("lookup failed: %d %v", v, ok)
	}
	if _, ok := Lookup(m, mapping, "rash"); ok {
		t.Fatalf("unexpected lookup hit")
	}
}
