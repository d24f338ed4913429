/*
Package normalize projects irregular samples onto evenly spaced buckets.

Samples may overlap each other and span any number of buckets. A sample that
crosses bucket boundaries is split at a per-minute rate. Split shares of all
samples are summed per bucket at full precision and only then rounded, walking
from the latest bucket to the earliest and carrying each rounding error into
the bucket before it. For two buckets this is the pairwise rule: the later
bucket gets its rounded share and the earlier one the rest.
*/
package normalize

import (
	"sort"
	"time"

	"github.com/bookingcom/inputkit/pkg/types"
)

// Ints normalizes integer samples, rounding every split half up.
func Ints[T types.Integer](samples []types.Sample[T], windows []types.TimeRange) []types.Bucket[T] {
	return Normalize[T](samples, windows, types.IntArithmetic[T]{})
}

// Floats normalizes floating-point samples at full precision.
func Floats[T types.Float](samples []types.Sample[T], windows []types.TimeRange) []types.Bucket[T] {
	return Normalize[T](samples, windows, types.FloatArithmetic[T]{})
}

// Normalize returns one bucket per window, in window order, each holding the
// share of every sample that falls inside it. Windows must be ordered and
// contiguous, as built by window.Build. Samples are not modified.
func Normalize[T types.Number](samples []types.Sample[T], windows []types.TimeRange, arith types.Arithmetic[T]) []types.Bucket[T] {
	buckets := make([]types.Bucket[T], len(windows))
	for i, w := range windows {
		buckets[i].Range = w
	}
	if len(windows) == 0 || len(samples) == 0 {
		return buckets
	}

	sorted := make([]types.Sample[T], len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Range.Start.Before(sorted[j].Range.Start)
	})

	bounds := types.TimeRange{Start: windows[0].Start, End: windows[len(windows)-1].End}

	// exact holds the split shares, whole values go straight into buckets.
	exact := make([]float64, len(windows))

	cursor := 0
	for _, s := range sorted {
		if s.Range.End.Before(s.Range.Start) || !bounds.Overlaps(s.Range) {
			continue
		}

		for cursor < len(windows) && !windows[cursor].End.After(s.Range.Start) {
			cursor++
		}
		if cursor == len(windows) {
			break
		}

		last := cursor
		for last+1 < len(windows) && windows[last+1].Start.Before(s.Range.End) {
			last++
		}

		distribute(buckets, exact, cursor, last, s, bounds, arith)
	}

	var carry float64
	for j := len(buckets) - 1; j >= 0; j-- {
		share := exact[j] + carry
		r := arith.Round(share)
		carry = share - arith.Div(r, 1)
		buckets[j].Value = arith.Add(buckets[j].Value, r)
	}

	return buckets
}

// distribute adds the share of s in every bucket of [first, last]. A sample
// that sits whole inside one bucket, or lasts less than a minute, is added
// to the first bucket as is.
func distribute[T types.Number](buckets []types.Bucket[T], exact []float64, first, last int, s types.Sample[T], bounds types.TimeRange, arith types.Arithmetic[T]) {
	total := minutes(s.Range.Start, s.Range.End)
	if total == 0 || (first == last && bounds.Covers(s.Range)) {
		if bounds.Covers(s.Range) {
			buckets[first].Value = arith.Add(buckets[first].Value, s.Value)
		}
		return
	}

	rate := arith.Div(s.Value, float64(total))
	for j := first; j <= last; j++ {
		part := buckets[j].Range.Intersect(s.Range)
		exact[j] += rate * float64(minutes(part.Start, part.End))
	}
}

// minutes counts the whole minutes between a and b.
func minutes(a, b time.Time) int64 {
	return (b.Unix() - a.Unix()) / 60
}
