package exposure

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/cognicore/affinity/pkg/affinity/internalerr"
)

var validate = validator.New()

// UserRecord is one user's exposure set and conversion outcome for a single run.
// It is immutable once constructed.
type UserRecord struct {
	id          string
	items       map[string]struct{}
	converted   bool
	conversions int64
}

type recordFields struct {
	ID          string `validate:"required"`
	Conversions int64  `validate:"gte=0"`
}

// NewUserRecord validates and builds a UserRecord. converted must agree with
// conversions: a user converted iff conversions > 0.
func NewUserRecord(id string, items []string, converted bool, conversions int64) (UserRecord, error) {
	if err := validate.Struct(recordFields{ID: id, Conversions: conversions}); err != nil {
		return UserRecord{}, fmt.Errorf("%w: user record: %v", internalerr.ErrInvalidInput, err)
	}
	if converted != (conversions > 0) {
		return UserRecord{}, fmt.Errorf("%w: user %q: converted=%t with %d conversions",
			internalerr.ErrInvalidInput, id, converted, conversions)
	}
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it == "" {
			continue
		}
		set[it] = struct{}{}
	}
	return UserRecord{id: id, items: set, converted: converted, conversions: conversions}, nil
}

// ID returns the opaque user identifier.
func (u UserRecord) ID() string { return u.id }

// Converted reports the binary outcome.
func (u UserRecord) Converted() bool { return u.converted }

// ConversionCount returns the conversion magnitude (0 when not converted).
func (u UserRecord) ConversionCount() int64 { return u.conversions }

// Exposed reports whether the user viewed item.
func (u UserRecord) Exposed(item string) bool {
	_, ok := u.items[item]
	return ok
}

// ExposedToAll reports whether the user's exposure set is a superset of items.
func (u UserRecord) ExposedToAll(items ...string) bool {
	for _, it := range items {
		if _, ok := u.items[it]; !ok {
			return false
		}
	}
	return true
}

// ItemCount returns the size of the exposure set.
func (u UserRecord) ItemCount() int { return len(u.items) }

// Items returns the exposure set in ascending order.
func (u UserRecord) Items() []string {
	out := make([]string, 0, len(u.items))
	for it := range u.items {
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}
