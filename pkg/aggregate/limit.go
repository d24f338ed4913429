package aggregate

import (
	"strings"

	"github.com/bookingcom/inputkit/pkg/types"
)

// Order is the time order a result is returned in.
type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}

	return "asc"
}

// ParseOrder accepts "asc", "desc" or an empty string, which means Ascending.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "asc":
		return Ascending, nil
	case "desc":
		return Descending, nil
	}

	return Ascending, types.NewConfigurationError("order", s, "expected asc or desc")
}

// Arrange returns items, which must be oldest first, in order o.
// The input is not modified.
func Arrange[E any](items []E, o Order) []E {
	if o != Descending {
		return items
	}

	out := make([]E, len(items))
	for i, it := range items {
		out[len(items)-1-i] = it
	}

	return out
}

// Limit returns the first limit items. A non-positive limit, or one not
// smaller than the list, returns items unchanged. Items are never reordered;
// use Arrange first to choose between the oldest and the most recent.
func Limit[E any](items []E, limit int) []E {
	if limit <= 0 || limit >= len(items) {
		return items
	}

	return items[:limit]
}
