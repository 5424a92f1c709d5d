package encounter

import "strings"

// DefaultThreshold is the similarity above which two names are the same thing.
const DefaultThreshold = 0.75

// Similarity scores two strings in [0,1] using the Ratcliff/Obershelp
// matching-blocks ratio (2*M/T) over lower-cased, trimmed runes.
// Operands are ordered before matching so the score is symmetric.
func Similarity(a, b string) float64 {
	ra, rb := normalize(a), normalize(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	if string(ra) > string(rb) {
		ra, rb = rb, ra
	}
	return 2 * float64(matchingRunes(ra, rb)) / float64(total)
}

func normalize(s string) []rune {
	return []rune(strings.ToLower(strings.TrimSpace(s)))
}

type span struct {
	alo, ahi, blo, bhi int
}

func matchingRunes(a, b []rune) int {
	b2j := make(map[rune][]int, len(b))
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}

	matched := 0
	queue := []span{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := longestMatch(a, b2j, s)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return matched
}

// longestMatch finds the longest common block inside s, preferring the
// earliest start in a, then in b.
func longestMatch(a []rune, b2j map[rune][]int, s span) (int, int, int) {
	besti, bestj, bestk := s.alo, s.blo, 0
	j2len := map[int]int{}
	for i := s.alo; i < s.ahi; i++ {
		next := map[int]int{}
		for _, j := range b2j[a[i]] {
			if j < s.blo {
				continue
			}
			if j >= s.bhi {
				break
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > bestk {
				besti, bestj, bestk = i-k+1, j-k+1, k
			}
		}
		j2len = next
	}
	return besti, bestj, bestk
}

// Matcher decides fuzzy duplication at a fixed threshold.
type Matcher struct {
	Threshold float64
}

// NewMatcher returns a Matcher, falling back to DefaultThreshold for
// non-positive values.
func NewMatcher(threshold float64) Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return Matcher{Threshold: threshold}
}

// Duplicate reports whether a and b score strictly above the threshold.
func (m Matcher) Duplicate(a, b string) bool {
	return Similarity(a, b) > m.Threshold
}

// Contains reports whether list holds a fuzzy duplicate of s.
func (m Matcher) Contains(list []string, s string) bool {
	for _, e := range list {
		if m.Duplicate(s, e) {
			return true
		}
	}
	return false
}

// DedupAppend returns a new slice holding current followed by every
// non-blank delta entry that is not a fuzzy duplicate of anything already
// kept, including earlier delta entries.
func (m Matcher) DedupAppend(current, delta []string) []string {
	out := make([]string, 0, len(current)+len(delta))
	out = append(out, current...)
	for _, d := range delta {
		if strings.TrimSpace(d) == "" || m.Contains(out, d) {
			continue
		}
		out = append(out, d)
	}
	return out
}
