package types

import (
	"math"
)

// Integer is any signed Go integer kind. Rounding carries can be negative,
// so unsigned kinds are left out.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

// Float is any Go floating-point kind.
type Float interface {
	~float32 | ~float64
}

// Number is the set of values the normalizer can distribute.
type Number interface {
	Integer | Float
}

// Arithmetic is the numeric behaviour the normalizer needs from a value type.
// Callers pick the implementation matching T.
type Arithmetic[T Number] interface {
	Add(a, b T) T
	Sub(a, b T) T
	// Div divides v by d at full precision.
	Div(v T, d float64) float64
	// Round turns an exact portion back into T.
	Round(f float64) T
}

// IntArithmetic rounds half up, so 7.5 becomes 8 and -7.5 becomes -7.
type IntArithmetic[T Integer] struct{}

func (IntArithmetic[T]) Add(a, b T) T { return a + b }

func (IntArithmetic[T]) Sub(a, b T) T { return a - b }

func (IntArithmetic[T]) Div(v T, d float64) float64 { return float64(v) / d }

func (IntArithmetic[T]) Round(f float64) T { return T(math.Floor(f + 0.5)) }

// FloatArithmetic keeps every portion at full precision.
type FloatArithmetic[T Float] struct{}

func (FloatArithmetic[T]) Add(a, b T) T { return a + b }

func (FloatArithmetic[T]) Sub(a, b T) T { return a - b }

func (FloatArithmetic[T]) Div(v T, d float64) float64 { return float64(v) / d }

func (FloatArithmetic[T]) Round(f float64) T { return T(f) }
