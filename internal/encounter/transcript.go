package encounter

import (
	"strings"
	"sync"
)

// Transcript accumulates recognised speech line by line.
type Transcript struct {
	mu    sync.RWMutex
	lines []string
}

// Append adds text as a new line. Blank text is ignored and reported false.
func (t *Transcript) Append(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	t.mu.Lock()
	t.lines = append(t.lines, text)
	t.mu.Unlock()
	return true
}

// Full returns the whole transcript joined by newlines.
func (t *Transcript) Full() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return strings.Join(t.lines, "\n")
}

func (t *Transcript) Lines() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.lines...)
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	t.lines = nil
	t.mu.Unlock()
}
