// Package window tiles a time range with interval sized buckets.
package window

import (
	"github.com/bookingcom/inputkit/pkg/types"
)

// Build returns the ordered, contiguous windows covering r.
// Windows are advanced with calendar arithmetic in r.Start's location; the
// last one is clipped to r.End. An empty range yields no windows.
func Build(r types.TimeRange, iv types.Interval) ([]types.TimeRange, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if !iv.Valid() {
		return nil, types.NewConfigurationError("interval", iv.String(), "unsupported time interval")
	}

	windows := make([]types.TimeRange, 0, estimate(r, iv))
	for t := r.Start; t.Before(r.End); {
		next := iv.Advance(t)
		if next.After(r.End) {
			next = r.End
		}
		windows = append(windows, types.TimeRange{Start: t, End: next})
		t = next
	}

	return windows, nil
}

func estimate(r types.TimeRange, iv types.Interval) int {
	if r.IsEmpty() {
		return 0
	}

	return int(r.Duration()/iv.Nominal()) + 1
}
