package candidates

import (
	"sort"

	"github.com/cognicore/affinity/pkg/affinity/exposure"
)

const (
	// DefaultMinUsers is the minimum distinct-user exposure for an item to qualify.
	DefaultMinUsers = 1

	// DefaultMaxCandidates caps the candidate list. Pair count grows as n(n-1)/2,
	// so this bounds the per-run work to O(DefaultMaxCandidates²) combinations.
	DefaultMaxCandidates = 200
)

// ItemCount is the number of distinct users exposed to an item.
type ItemCount struct {
	Item  string
	Users int
}

// Selection is the ordered candidate list for one run.
type Selection struct {
	Items     []string    // qualifying items, most-exposed first
	Counts    []ItemCount // same order as Items
	Qualified int         // items meeting the threshold before the cap
	Truncated bool        // true when the cap dropped qualifying items
}

// Sufficient reports whether at least one pair can be formed.
func (s Selection) Sufficient() bool {
	return len(s.Items) >= 2
}

// Counts returns distinct-user exposure counts per item.
func Counts(users []exposure.UserRecord) map[string]int {
	counts := make(map[string]int)
	for _, u := range users {
		for _, it := range u.Items() {
			counts[it]++
		}
	}
	return counts
}

// Select keeps items exposed to at least minUsers users, orders them by exposure
// count descending with item id ascending on ties, and truncates to maxCandidates.
// Non-positive arguments fall back to the package defaults.
func Select(users []exposure.UserRecord, minUsers, maxCandidates int) Selection {
	if minUsers < 1 {
		minUsers = DefaultMinUsers
	}
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}

	var ranked []ItemCount
	for item, n := range Counts(users) {
		if n >= minUsers {
			ranked = append(ranked, ItemCount{Item: item, Users: n})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Users == ranked[j].Users {
			return ranked[i].Item < ranked[j].Item
		}
		return ranked[i].Users > ranked[j].Users
	})

	sel := Selection{Qualified: len(ranked)}
	if len(ranked) > maxCandidates {
		ranked = ranked[:maxCandidates]
		sel.Truncated = true
	}
	sel.Counts = ranked
	sel.Items = make([]string, len(ranked))
	for i, ic := range ranked {
		sel.Items[i] = ic.Item
	}
	return sel
}
