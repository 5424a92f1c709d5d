package encounter

import "sort"

// KeyIndex maps noisy re-extractions of a symptom name onto the first-seen
// variant so per-symptom maps keep one stable key.
type KeyIndex struct {
	matcher Matcher
	keys    []string
	exact   map[string]struct{}
}

func NewKeyIndex(m Matcher, keys ...string) *KeyIndex {
	x := &KeyIndex{matcher: m, exact: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		x.Register(k)
	}
	return x
}

// Resolve returns the canonical key for key. An exact hit wins; otherwise
// the best match above the threshold is returned, ties going to the key
// registered first.
func (x *KeyIndex) Resolve(key string) (string, bool) {
	if _, ok := x.exact[key]; ok {
		return key, true
	}
	best, bestScore, found := "", x.matcher.Threshold, false
	for _, k := range x.keys {
		if s := Similarity(k, key); s > bestScore {
			best, bestScore, found = k, s, true
		}
	}
	return best, found
}

// Register adds key as a canonical key. Registering twice is a no-op.
func (x *KeyIndex) Register(key string) {
	if _, ok := x.exact[key]; ok {
		return
	}
	x.exact[key] = struct{}{}
	x.keys = append(x.keys, key)
}

// Canonical resolves key, registering it when nothing matches.
func (x *KeyIndex) Canonical(key string) string {
	if k, ok := x.Resolve(key); ok {
		return k
	}
	x.Register(key)
	return key
}

// Keys returns the canonical keys in registration order.
func (x *KeyIndex) Keys() []string {
	return append([]string(nil), x.keys...)
}

// IndexKeys builds a KeyIndex over the keys of mapping. Go maps carry no
// order, so keys are registered sorted.
func IndexKeys[V any](m Matcher, mapping map[string]V) *KeyIndex {
	return NewKeyIndex(m, sortedKeys(mapping)...)
}

// Lookup finds the value stored under the canonical form of key.
func Lookup[V any](m Matcher, mapping map[string]V, key string) (V, bool) {
	if v, ok := mapping[key]; ok {
		return v, true
	}
	if k, ok := IndexKeys(m, mapping).Resolve(key); ok {
		return mapping[k], true
	}
	var zero V
	return zero, false
}

func sortedKeys[V any](mapping map[string]V) []string {
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
