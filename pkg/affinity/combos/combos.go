package combos

import (
	"fmt"
	"iter"

	"github.com/cognicore/affinity/pkg/affinity/internalerr"
)

// Combination is an unordered pair of distinct items, stored with A < B.
type Combination struct {
	A, B string
}

// New builds a canonical combination from two distinct item ids.
func New(a, b string) (Combination, error) {
	if a == "" || b == "" || a == b {
		return Combination{}, fmt.Errorf("%w: combination needs two distinct items, got %q and %q",
			internalerr.ErrInvalidInput, a, b)
	}
	if a > b {
		a, b = b, a
	}
	return Combination{A: a, B: b}, nil
}

// Items returns both members in canonical order.
func (c Combination) Items() []string {
	return []string{c.A, c.B}
}

// Key is a stable string form used in logs and maps.
func (c Combination) Key() string {
	return c.A + "|" + c.B
}

func (c Combination) String() string {
	return "(" + c.A + ", " + c.B + ")"
}

// Count returns the number of unordered pairs over n items.
func Count(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}

// Enumerator walks every unordered pair of a candidate list exactly once,
// outer index i, inner index j > i. It is restartable via Reset.
type Enumerator struct {
	items []string
	i, j  int
	pos   int
}

// NewEnumerator copies items, dropping empty ids and repeats.
func NewEnumerator(items []string) *Enumerator {
	seen := make(map[string]struct{}, len(items))
	uniq := make([]string, 0, len(items))
	for _, it := range items {
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		uniq = append(uniq, it)
	}
	e := &Enumerator{items: uniq}
	e.Reset()
	return e
}

// Reset rewinds to the first pair.
func (e *Enumerator) Reset() {
	e.i, e.j, e.pos = 0, 1, 0
}

// Len is the total number of pairs the enumerator yields.
func (e *Enumerator) Len() int {
	return Count(len(e.items))
}

// Position is the zero-based index of the next pair.
func (e *Enumerator) Position() int {
	return e.pos
}

// Next returns the next pair, or false when exhausted.
func (e *Enumerator) Next() (Combination, bool) {
	n := len(e.items)
	if e.j >= n {
		e.i++
		e.j = e.i + 1
	}
	if e.i >= n-1 || e.j >= n {
		return Combination{}, false
	}
	a, b := e.items[e.i], e.items[e.j]
	e.j++
	e.pos++
	if a > b {
		a, b = b, a
	}
	return Combination{A: a, B: b}, true
}

// Skip advances past up to n pairs and returns how many were skipped.
func (e *Enumerator) Skip(n int) int {
	skipped := 0
	for skipped < n {
		if _, ok := e.Next(); !ok {
			break
		}
		skipped++
	}
	return skipped
}

// All yields (enumeration index, pair) over items. Each call starts afresh.
func All(items []string) iter.Seq2[int, Combination] {
	return func(yield func(int, Combination) bool) {
		e := NewEnumerator(items)
		for {
			idx := e.Position()
			c, ok := e.Next()
			if !ok || !yield(idx, c) {
				return
			}
		}
	}
}
