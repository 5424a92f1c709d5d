package keywords

import (
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	if c.Len() != 14 {
		t.Fatalf("Len = %d, want 14", c.Len())
	}

	cases := []struct {
		symptom string
		keyword string
	}{
		{"fever", "grade"},
		{"fever", "any GI symptoms"},
		{"cough", "sputum color"},
		{"headache", "focal deficits"},
		{"back pain", "bladder bowel symptoms"},
		{"rash", "mucosal involvement"},
		{"shortness of breath", "PND"},
	}
	for _, tc := range cases {
		if !slices.Contains(c.Lookup(tc.symptom), tc.keyword) {
			t.Errorf("Lookup(%q) missing %q", tc.symptom, tc.keyword)
		}
	}
}

func TestAliasResolution(t *testing.T) {
	c := Default()
	pairs := [][2]string{
		{"pyrexia", "fever"},
		{"Dyspnea", "shortness of breath"},
		{"diarrhoea", "diarrhea"},
		{"  loose   motions ", "diarrhea"},
		{"SOB", "shortness of breath"},
	}
	for _, p := range pairs {
		if got := c.Canonical(p[0]); got != p[1] {
			t.Errorf("Canonical(%q) = %q, want %q", p[0], got, p[1])
		}
		if !reflect.DeepEqual(c.Lookup(p[0]), c.Lookup(p[1])) {
			t.Errorf("Lookup(%q) differs from Lookup(%q)", p[0], p[1])
		}
	}
}

func TestUnknownSymptom(t *testing.T) {
	if got := Default().Lookup("ear pain"); got != nil {
		t.Fatalf("Lookup(ear pain) = %v, want nil", got)
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	c := Default()
	kw := c.Lookup("fever")
	kw[0] = "mutated"
	if c.Lookup("fever")[0] == "mutated" {
		t.Fatal("Lookup exposed the catalog's backing slice")
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"empty":     "   ",
		"no name":   "symptoms:\n  - keywords: [a]\n",
		"duplicate": "symptoms:\n  - name: fever\n  - name: Fever\n",
		"bad yaml":  "symptoms: [",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := "symptoms:\n  - name: ear pain\n    aliases: [otalgia]\n    keywords: [discharge, hearing loss]\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Lookup("otalgia"); !reflect.DeepEqual(got, []string{"discharge", "hearing loss"}) {
		t.Fatalf("Lookup(otalgia) = %v", got)
	}
}
