/*
Package encoding holds the shape results are encoded from.

Every subpackage encodes a list of Series in one wire format.
*/
package encoding

import (
	"fmt"
	"time"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
)

// Point is one row of a series.
type Point struct {
	Range types.TimeRange
	Value history.Value
}

// Series is a named list of rows, oldest first unless the caller arranged it
// otherwise.
type Series struct {
	Name   string
	Points []Point
}

// Step is the length of the first point, or 0 for an empty series.
func (s Series) Step() time.Duration {
	if len(s.Points) == 0 {
		return 0
	}

	return s.Points[0].Range.Duration()
}

// FromBuckets wraps normalized buckets.
func FromBuckets[T any](name string, buckets []types.Bucket[T]) Series {
	s := Series{Name: name, Points: make([]Point, len(buckets))}
	for i, b := range buckets {
		s.Points[i] = Point{Range: b.Range, Value: ValueOf(b.Value)}
	}

	return s
}

// FromSamples wraps raw samples.
func FromSamples[T any](name string, samples []types.Sample[T]) Series {
	s := Series{Name: name, Points: make([]Point, len(samples))}
	for i, smp := range samples {
		s.Points[i] = Point{Range: smp.Range, Value: ValueOf(smp.Value)}
	}

	return s
}

// ValueOf converts a Go value into a raw value. Kinds without a numeric
// representation are kept as text.
func ValueOf(v interface{}) history.Value {
	switch x := v.(type) {
	case history.Value:
		return x
	case int:
		return history.IntValue(int64(x))
	case int8:
		return history.IntValue(int64(x))
	case int16:
		return history.IntValue(int64(x))
	case int32:
		return history.IntValue(int64(x))
	case int64:
		return history.IntValue(x)
	case uint:
		return history.IntValue(int64(x))
	case uint8:
		return history.IntValue(int64(x))
	case uint16:
		return history.IntValue(int64(x))
	case uint32:
		return history.IntValue(int64(x))
	case uint64:
		return history.IntValue(int64(x))
	case float32:
		return history.FloatValue(float64(x))
	case float64:
		return history.FloatValue(x)
	case string:
		return history.StringValue(x)
	case nil:
		return history.Value{}
	}

	return history.StringValue(fmt.Sprint(v))
}
