// Package keywords holds the fixed per-symptom history keywords that seed
// every symptom's questioning track.
package keywords

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var bundled []byte

type entry struct {
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	Keywords []string `yaml:"keywords"`
}

type document struct {
	Symptoms []entry `yaml:"symptoms"`
}

// Catalog maps canonical symptom names and their aliases to baseline
// keywords.
type Catalog struct {
	keywords  map[string][]string
	canonical map[string]string
}

// Default returns the catalog bundled with the binary.
func Default() *Catalog {
	c, err := Parse(bundled)
	if err != nil {
		panic(fmt.Sprintf("keywords: bundled catalog: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file. An empty path yields the bundled
// catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keywords: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("keywords: %s: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("keywords: catalog is empty")
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("keywords: decode catalog: %w", err)
	}

	c := &Catalog{
		keywords:  make(map[string][]string, len(doc.Symptoms)),
		canonical: make(map[string]string),
	}
	for _, e := range doc.Symptoms {
		name := normalize(e.Name)
		if name == "" {
			return nil, fmt.Errorf("keywords: symptom without a name")
		}
		if _, dup := c.keywords[name]; dup {
			return nil, fmt.Errorf("keywords: duplicate symptom %q", name)
		}
		c.keywords[name] = append([]string(nil), e.Keywords...)
		for _, alias := range e.Aliases {
			c.canonical[normalize(alias)] = name
		}
	}
	return c, nil
}

// Canonical resolves an alias to its canonical symptom name. Unknown names
// come back normalized.
func (c *Catalog) Canonical(symptom string) string {
	name := normalize(symptom)
	if canonical, ok := c.canonical[name]; ok {
		return canonical
	}
	return name
}

// Lookup returns a copy of the baseline keywords for a symptom, or nil when
// the symptom is not catalogued.
func (c *Catalog) Lookup(symptom string) []string {
	keywords, ok := c.keywords[c.Canonical(symptom)]
	if !ok {
		return nil
	}
	return append([]string(nil), keywords...)
}

func (c *Catalog) Len() int {
	return len(c.keywords)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
