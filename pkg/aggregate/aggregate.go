// Package aggregate sums and trims normalized series.
package aggregate

import (
	"github.com/pkg/errors"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
)

// ErrUnsupportedFormat is returned by SumValues for values it cannot add.
var ErrUnsupportedFormat = errors.New("unsupported value format")

func Add[T types.Number](a, b T) T { return a + b }

// Sum adds values in order.
func Sum[T types.Number](values ...T) T {
	var total T
	for _, v := range values {
		total += v
	}

	return total
}

// Total is the sum of the bucket values.
func Total[T types.Number](buckets []types.Bucket[T]) T {
	var total T
	for _, b := range buckets {
		total += b.Value
	}

	return total
}

// SumValues adds two raw values whose representation is only known at run
// time. An unset value is the identity. Two integers stay an integer; if either
// side is a float the sum is a float. Strings and unknown formats are rejected.
func SumValues(acc, v history.Value) (history.Value, error) {
	if err := checkFormat(acc); err != nil {
		return acc, err
	}
	if err := checkFormat(v); err != nil {
		return acc, err
	}

	switch {
	case v.Format == history.FormatUnset:
		return acc, nil
	case acc.Format == history.FormatUnset:
		return v, nil
	case acc.Format == history.FormatInt && v.Format == history.FormatInt:
		return history.IntValue(acc.Int + v.Int), nil
	}

	return history.FloatValue(asFloat(acc) + asFloat(v)), nil
}

func checkFormat(v history.Value) error {
	switch v.Format {
	case history.FormatUnset, history.FormatInt, history.FormatFloat:
		return nil
	}

	return errors.Wrapf(ErrUnsupportedFormat, "cannot sum %s value", v.Format)
}

func asFloat(v history.Value) float64 {
	if v.Format == history.FormatInt {
		return float64(v.Int)
	}

	return v.Float
}
