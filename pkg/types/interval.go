package types

import (
	"strings"
	"time"
)

// Unit is the calendar unit an Interval advances by.
type Unit int

const (
	UnitMinute Unit = iota + 1
	UnitHour
	UnitDay
)

func (u Unit) String() string {
	switch u {
	case UnitMinute:
		return "minute"
	case UnitHour:
		return "hour"
	case UnitDay:
		return "day"
	}

	return "unknown"
}

// Interval is the width of a normalized bucket.
// The zero value is not a valid interval.
type Interval int

const (
	Week Interval = iota + 1
	Day
	Hour
	HalfHour
	TenMinutes
	OneMinute
)

var intervalNames = map[Interval]string{
	Week:       "week",
	Day:        "day",
	Hour:       "hour",
	HalfHour:   "halfHour",
	TenMinutes: "tenMinutes",
	OneMinute:  "oneMinute",
}

// Intervals lists every supported interval, widest first.
var Intervals = []Interval{Week, Day, Hour, HalfHour, TenMinutes, OneMinute}

// ParseInterval resolves an interval name, case-insensitively.
func ParseInterval(s string) (Interval, error) {
	for _, iv := range Intervals {
		if strings.EqualFold(s, intervalNames[iv]) {
			return iv, nil
		}
	}

	return 0, NewConfigurationError("interval", s, "unsupported time interval")
}

func (iv Interval) String() string {
	if name, ok := intervalNames[iv]; ok {
		return name
	}

	return "unknown"
}

// Valid reports whether iv is one of the supported intervals.
func (iv Interval) Valid() bool {
	_, ok := intervalNames[iv]
	return ok
}

// Magnitude is the number of units in one interval.
func (iv Interval) Magnitude() int {
	switch iv {
	case Week:
		return 7
	case HalfHour:
		return 30
	case TenMinutes:
		return 10
	case Day, Hour, OneMinute:
		return 1
	}

	return 0
}

func (iv Interval) Unit() Unit {
	switch iv {
	case Week, Day:
		return UnitDay
	case Hour:
		return UnitHour
	case HalfHour, TenMinutes, OneMinute:
		return UnitMinute
	}

	return 0
}

// Advance moves t forward by one interval using calendar arithmetic in t's
// location, so day based intervals follow clock changes.
func (iv Interval) Advance(t time.Time) time.Time {
	m := iv.Magnitude()
	switch iv.Unit() {
	case UnitDay:
		return t.AddDate(0, 0, m)
	case UnitHour:
		return t.Add(time.Duration(m) * time.Hour)
	case UnitMinute:
		return t.Add(time.Duration(m) * time.Minute)
	}

	return t
}

// Nominal is the interval length ignoring clock changes.
func (iv Interval) Nominal() time.Duration {
	m := time.Duration(iv.Magnitude())
	switch iv.Unit() {
	case UnitDay:
		return m * 24 * time.Hour
	case UnitHour:
		return m * time.Hour
	case UnitMinute:
		return m * time.Minute
	}

	return 0
}

// UnmarshalYAML lets intervals be written by name in config files.
func (iv *Interval) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	parsed, err := ParseInterval(s)
	if err != nil {
		return err
	}
	*iv = parsed

	return nil
}
