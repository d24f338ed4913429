/*
Package chunk splits long query ranges into sub-ranges a source can answer
without exceeding its result size limits.

The safe length of a chunk depends on the interval: the finer the buckets, the
more rows a source returns per unit of time.
*/
package chunk

import (
	"strconv"
	"time"

	"github.com/bookingcom/inputkit/pkg/types"
)

// Caps are the safe chunk lengths per interval unit.
type Caps struct {
	// Minute applies to halfHour, tenMinutes and oneMinute.
	Minute time.Duration `yaml:"minute"`
	Hour   time.Duration `yaml:"hour"`
	// Days applies to day and week, counted in calendar days. A chunk is
	// still never longer than Days*24h, so a day that gains an hour to a
	// clock change ends the chunk early.
	Days int `yaml:"days"`
}

// DefaultCaps returns the caps sources are known to accept.
func DefaultCaps() Caps {
	return Caps{
		Minute: 24 * time.Hour,
		Hour:   1000 * time.Hour,
		Days:   1000,
	}
}

// Validate checks that every cap is positive.
func (c Caps) Validate() error {
	if c.Minute <= 0 {
		return types.NewConfigurationError("chunk cap", c.Minute.String(), "minute cap must be positive")
	}
	if c.Hour <= 0 {
		return types.NewConfigurationError("chunk cap", c.Hour.String(), "hour cap must be positive")
	}
	if c.Days <= 0 {
		return types.NewConfigurationError("chunk cap", strconv.Itoa(c.Days), "day cap must be positive")
	}

	return nil
}

// Chunker splits ranges. Day boundaries are taken in its location.
type Chunker struct {
	caps Caps
	loc  *time.Location
}

// New validates caps and returns a Chunker working in loc.
// A nil loc means UTC.
func New(caps Caps, loc *time.Location) (*Chunker, error) {
	if err := caps.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Chunker{caps: caps, loc: loc}, nil
}

// SafeDuration is the longest chunk returned for iv.
func (c *Chunker) SafeDuration(iv types.Interval) (time.Duration, error) {
	switch iv.Unit() {
	case types.UnitMinute:
		return c.caps.Minute, nil
	case types.UnitHour:
		return c.caps.Hour, nil
	case types.UnitDay:
		return time.Duration(c.caps.Days) * 24 * time.Hour, nil
	}

	return 0, types.NewConfigurationError("interval", iv.String(), "unsupported time interval")
}

// advance moves t forward by the cap for iv.
func (c *Chunker) advance(t time.Time, iv types.Interval) time.Time {
	switch iv.Unit() {
	case types.UnitMinute:
		return t.Add(c.caps.Minute)
	case types.UnitHour:
		return t.Add(c.caps.Hour)
	default:
		next := t.AddDate(0, 0, c.caps.Days)
		if limit := t.Add(time.Duration(c.caps.Days) * 24 * time.Hour); next.After(limit) {
			return limit
		}
		return next
	}
}

// Chunk returns contiguous sub-ranges whose union is r, in chronological
// order. A range that fits in one cap comes back unchanged. Otherwise every
// boundary that falls inside a calendar day is pulled back to that day's start.
func (c *Chunker) Chunk(r types.TimeRange, iv types.Interval) ([]types.TimeRange, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if !iv.Valid() {
		return nil, types.NewConfigurationError("interval", iv.String(), "unsupported time interval")
	}

	start, end := r.Start.In(c.loc), r.End.In(c.loc)
	if !end.After(c.advance(start, iv)) {
		return []types.TimeRange{r}, nil
	}

	var chunks []types.TimeRange
	for cur := start; cur.Before(end); {
		next := c.advance(cur, iv)
		// Never pull back to or before cur.
		if day := startOfDay(next); next.After(day) && day.After(cur) {
			next = day
		}
		if next.After(end) {
			next = end
		}

		chunks = append(chunks, types.TimeRange{Start: cur, End: next})
		cur = next
	}

	return chunks, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
