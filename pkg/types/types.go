/*
Package types defines the time series types we use internally.

A TimeRange is half-open. Samples are raw measurements read from a source,
buckets are the evenly spaced windows the samples are projected onto.
*/
package types

import (
	"fmt"
	"time"
)

// TimeRange is the half-open range [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange builds a range from epoch milliseconds.
// Both ends must be positive and start must not be after end.
func NewTimeRange(startMs, endMs int64) (TimeRange, error) {
	if startMs <= 0 || endMs <= 0 {
		return TimeRange{}, &InvalidRangeError{
			Start:  startMs,
			End:    endMs,
			Reason: "start time and end time should be greater than 0",
		}
	}

	r := TimeRange{
		Start: time.UnixMilli(startMs).UTC(),
		End:   time.UnixMilli(endMs).UTC(),
	}

	return r, r.Validate()
}

// Validate reports an InvalidRangeError if the range is reversed.
func (r TimeRange) Validate() error {
	if r.Start.After(r.End) {
		return &InvalidRangeError{
			Start:  r.StartMillis(),
			End:    r.EndMillis(),
			Reason: "start time should be less than or equal to end time",
		}
	}

	return nil
}

// In returns the same instants expressed in loc.
func (r TimeRange) In(loc *time.Location) TimeRange {
	return TimeRange{Start: r.Start.In(loc), End: r.End.In(loc)}
}

func (r TimeRange) StartMillis() int64 { return r.Start.UnixMilli() }

func (r TimeRange) EndMillis() int64 { return r.End.UnixMilli() }

func (r TimeRange) Duration() time.Duration { return r.End.Sub(r.Start) }

// IsEmpty reports whether the range contains no instant.
func (r TimeRange) IsEmpty() bool { return !r.Start.Before(r.End) }

// Contains reports whether t falls in [Start, End).
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Covers reports whether o lies entirely inside r.
func (r TimeRange) Covers(o TimeRange) bool {
	return !o.Start.Before(r.Start) && !o.End.After(r.End)
}

// Overlaps reports whether the two ranges share at least one instant.
// A zero-length range overlaps r when r contains its start.
func (r TimeRange) Overlaps(o TimeRange) bool {
	if o.IsEmpty() {
		return r.Contains(o.Start)
	}
	if r.IsEmpty() {
		return o.Contains(r.Start)
	}

	return o.Start.Before(r.End) && o.End.After(r.Start)
}

// Intersect clips o to r. The result is empty when they do not overlap.
func (r TimeRange) Intersect(o TimeRange) TimeRange {
	out := o
	if out.Start.Before(r.Start) {
		out.Start = r.Start
	}
	if out.End.After(r.End) {
		out.End = r.End
	}
	if out.End.Before(out.Start) {
		out.End = out.Start
	}

	return out
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// Sample is a raw measurement with its own, possibly irregular, time range.
type Sample[T any] struct {
	Value T
	Range TimeRange
}

// Bucket is a destination window of a normalized series.
type Bucket[T any] struct {
	Value T
	Range TimeRange
}

// ReadRequest is what a source is asked for: one measurement over one safe
// chunk.
type ReadRequest struct {
	Measurement string
	Range       TimeRange

	// UseAggregation asks the source to group points by BucketBy.
	UseAggregation bool
	BucketBy       Interval
}
