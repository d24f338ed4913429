/*
Package history holds the raw response shapes sources return and flattens them
into samples.

A response is either a flat list of data sets, or a list of time groups each
holding data sets (what a source returns when asked to aggregate by time).
*/
package history

import (
	"math"
	"strconv"
	"time"

	"github.com/bookingcom/inputkit/pkg/types"
)

// Format is the representation of a raw value.
type Format int

const (
	// FormatUnset marks a field a source left empty.
	FormatUnset Format = iota
	FormatInt
	FormatFloat
	FormatString
)

func (f Format) String() string {
	switch f {
	case FormatUnset:
		return "unset"
	case FormatInt:
		return "int"
	case FormatFloat:
		return "float"
	case FormatString:
		return "string"
	}

	return "unknown(" + strconv.Itoa(int(f)) + ")"
}

// Value is one raw field of a data point.
type Value struct {
	Format Format
	Int    int64
	Float  float64
	Str    string
}

func IntValue(v int64) Value { return Value{Format: FormatInt, Int: v} }

func FloatValue(v float64) Value { return Value{Format: FormatFloat, Float: v} }

func StringValue(v string) Value { return Value{Format: FormatString, Str: v} }

// DataPoint is a measurement over [Start, End). Only the first field is read.
type DataPoint struct {
	Start  time.Time
	End    time.Time
	Fields []Value
}

// NewDataPoint builds a single field point.
func NewDataPoint(start, end time.Time, v Value) DataPoint {
	return DataPoint{Start: start, End: end, Fields: []Value{v}}
}

// First returns the first field, or an unset value.
func (p DataPoint) First() Value {
	if len(p.Fields) == 0 {
		return Value{}
	}

	return p.Fields[0]
}

// DataSet is the series of points of one data type.
type DataSet struct {
	DataType string
	Points   []DataPoint
}

// Group is a time bucket of an aggregated response.
type Group struct {
	Range    types.TimeRange
	DataSets []DataSet
}

// Response is what a source returns for one read.
type Response struct {
	Groups   []Group
	DataSets []DataSet
}

// Len counts the points of both shapes.
func (r Response) Len() int {
	n := 0
	for _, g := range r.Groups {
		for _, ds := range g.DataSets {
			n += len(ds.Points)
		}
	}
	for _, ds := range r.DataSets {
		n += len(ds.Points)
	}

	return n
}

// Converter reads a sample value off a data point.
type Converter[T any] func(DataPoint) T

// AsInt reads the first field as an integer. Floats round half up, unparsable
// strings and unset fields read as 0.
func AsInt(p DataPoint) int64 {
	v := p.First()
	switch v.Format {
	case FormatInt:
		return v.Int
	case FormatFloat:
		return int64(math.Floor(v.Float + 0.5))
	case FormatString:
		if i, err := strconv.ParseInt(v.Str, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
			return int64(math.Floor(f + 0.5))
		}
	}

	return 0
}

// AsFloat reads the first field as a float. Unparsable strings and unset
// fields read as 0.
func AsFloat(p DataPoint) float64 {
	v := p.First()
	switch v.Format {
	case FormatInt:
		return float64(v.Int)
	case FormatFloat:
		return v.Float
	case FormatString:
		if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
			return f
		}
	}

	return 0
}

// AsString reads the first field as text. Unset fields read as "".
func AsString(p DataPoint) string {
	v := p.First()
	switch v.Format {
	case FormatInt:
		return strconv.FormatInt(v.Int, 10)
	case FormatFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case FormatString:
		return v.Str
	}

	return ""
}
