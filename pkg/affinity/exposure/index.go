package exposure

import (
	"sort"

	"github.com/rs/zerolog/log"
)

// Row is one raw engagement aggregate: a user's view count for an item plus the
// user-level outcome, which is duplicated across all of that user's rows.
type Row struct {
	UserID      string `json:"user_id"`
	ItemID      string `json:"item_id"`
	ItemName    string `json:"item_name,omitempty"`
	Views       int64  `json:"views"`
	Converted   bool   `json:"converted"`
	Conversions int64  `json:"conversions"`
}

// Stats counts what the index saw while consuming rows.
type Stats struct {
	Rows         int64 // rows offered
	Skipped      int64 // malformed rows dropped
	ZeroViewRows int64 // rows that carried no positive views
}

type outcome struct {
	converted   bool
	conversions int64
}

// Index accumulates raw rows into per-user exposure sets.
type Index struct {
	views   map[string]map[string]int64 // user -> item -> summed views
	outcome map[string]outcome
	names   map[string]string
	stats   Stats
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		views:   make(map[string]map[string]int64),
		outcome: make(map[string]outcome),
		names:   make(map[string]string),
	}
}

// Add consumes one row. It returns false when the row is malformed and was skipped.
func (x *Index) Add(r Row) bool {
	x.stats.Rows++
	if r.UserID == "" || r.Views < 0 || r.Conversions < 0 {
		x.stats.Skipped++
		log.Warn().
			Str("stage", "index").
			Int64("row", x.stats.Rows).
			Str("user_id", r.UserID).
			Str("item_id", r.ItemID).
			Msg("skipping malformed engagement row")
		return false
	}

	if _, ok := x.outcome[r.UserID]; !ok {
		// A converted user has at least one conversion; a positive count implies conversion.
		conv := r.Conversions
		if r.Converted && conv == 0 {
			conv = 1
		}
		x.outcome[r.UserID] = outcome{converted: conv > 0, conversions: conv}
	}

	items := x.views[r.UserID]
	if items == nil {
		items = make(map[string]int64)
		x.views[r.UserID] = items
	}
	if r.ItemID == "" {
		return true
	}
	items[r.ItemID] += r.Views
	if r.Views == 0 {
		x.stats.ZeroViewRows++
	}
	if r.ItemName != "" {
		if _, ok := x.names[r.ItemID]; !ok {
			x.names[r.ItemID] = r.ItemName
		}
	}
	return true
}

// Population is the immutable per-run user collection.
type Population struct {
	Users []UserRecord // ascending by user id
	Names map[string]string
	Stats Stats
}

// Population freezes the accumulated rows. Items whose summed views are not
// strictly positive are not part of a user's exposure set.
func (x *Index) Population() Population {
	ids := make([]string, 0, len(x.views))
	for id := range x.views {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	users := make([]UserRecord, 0, len(ids))
	for _, id := range ids {
		var exposed []string
		for item, v := range x.views[id] {
			if v > 0 {
				exposed = append(exposed, item)
			}
		}
		o := x.outcome[id]
		rec, err := NewUserRecord(id, exposed, o.converted, o.conversions)
		if err != nil {
			log.Warn().Err(err).Str("stage", "index").Str("user_id", id).Msg("dropping user")
			continue
		}
		users = append(users, rec)
	}

	names := make(map[string]string, len(x.names))
	for k, v := range x.names {
		names[k] = v
	}
	return Population{Users: users, Names: names, Stats: x.stats}
}

// Build indexes rows in one pass.
func Build(rows []Row) Population {
	x := NewIndex()
	for _, r := range rows {
		x.Add(r)
	}
	return x.Population()
}

// Size returns the number of users.
func (p Population) Size() int { return len(p.Users) }

// Converted returns the number of converted users.
func (p Population) Converted() int {
	n := 0
	for _, u := range p.Users {
		if u.Converted() {
			n++
		}
	}
	return n
}

// ConversionRate is the fraction of all users that converted.
func (p Population) ConversionRate() float64 {
	if len(p.Users) == 0 {
		return 0
	}
	return float64(p.Converted()) / float64(len(p.Users))
}

// Name returns the display name recorded for item, if any.
func (p Population) Name(item string) string {
	return p.Names[item]
}
