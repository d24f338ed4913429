package chunk

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func newChunker(t *testing.T) *Chunker {
	t.Helper()
	c, err := New(DefaultCaps(), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestChunk(t *testing.T) {
	c := newChunker(t)

	tests := []struct {
		name string
		r    types.TimeRange
		iv   types.Interval
		want []types.TimeRange
	}{
		{
			name: "fits in one chunk",
			r:    types.TimeRange{Start: at(3 * time.Hour), End: at(20 * time.Hour)},
			iv:   types.OneMinute,
			want: []types.TimeRange{{Start: at(3 * time.Hour), End: at(20 * time.Hour)}},
		},
		{
			name: "two days of minutes from midnight",
			r:    types.TimeRange{Start: t0, End: at(48 * time.Hour)},
			iv:   types.OneMinute,
			want: []types.TimeRange{
				{Start: t0, End: at(24 * time.Hour)},
				{Start: at(24 * time.Hour), End: at(48 * time.Hour)},
			},
		},
		{
			name: "boundaries pulled back to midnight",
			r:    types.TimeRange{Start: at(10 * time.Hour), End: at(58 * time.Hour)},
			iv:   types.TenMinutes,
			want: []types.TimeRange{
				{Start: at(10 * time.Hour), End: at(24 * time.Hour)},
				{Start: at(24 * time.Hour), End: at(48 * time.Hour)},
				{Start: at(48 * time.Hour), End: at(58 * time.Hour)},
			},
		},
		{
			name: "hour cap",
			r:    types.TimeRange{Start: t0, End: at(1500 * time.Hour)},
			iv:   types.Hour,
			want: []types.TimeRange{
				// 1000h lands on 16:00 of day 41 and is pulled back to midnight.
				{Start: t0, End: at(984 * time.Hour)},
				{Start: at(984 * time.Hour), End: at(1500 * time.Hour)},
			},
		},
		{
			name: "empty range",
			r:    types.TimeRange{Start: t0, End: t0},
			iv:   types.Day,
			want: []types.TimeRange{{Start: t0, End: t0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Chunk(tt.r, tt.iv)
			if err != nil {
				t.Fatalf("Chunk() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Chunk() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func newYorkChunker(t *testing.T) *Chunker {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(Caps{Minute: 24 * time.Hour, Hour: 1000 * time.Hour, Days: 1}, loc)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestChunkProperties(t *testing.T) {
	ny := newYorkChunker(t)
	// Clocks go back on 2020-11-01 and forward on 2021-03-14 in New York.
	fallBack := time.Date(2020, 11, 1, 0, 0, 0, 0, ny.loc)
	springForward := time.Date(2021, 3, 14, 0, 0, 0, 0, ny.loc)

	tests := []struct {
		name   string
		c      *Chunker
		ranges []types.TimeRange
	}{
		{
			name: "utc",
			c:    newChunker(t),
			ranges: []types.TimeRange{
				{Start: at(7 * time.Minute), End: at(200*time.Hour + 3*time.Minute)},
				{Start: at(23 * time.Hour), End: at(24*time.Hour + time.Second)},
				{Start: t0, End: t0.AddDate(6, 0, 0)},
			},
		},
		{
			name: "clock changes",
			c:    ny,
			ranges: []types.TimeRange{
				{Start: fallBack, End: fallBack.AddDate(0, 0, 3)},
				{Start: fallBack.Add(-5 * time.Hour), End: fallBack.Add(50 * time.Hour)},
				{Start: springForward, End: springForward.AddDate(0, 0, 3)},
				{Start: fallBack, End: springForward},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, r := range tt.ranges {
				for _, iv := range types.Intervals {
					chunks, err := tt.c.Chunk(r, iv)
					if err != nil {
						t.Fatalf("Chunk(%v, %v) unexpected error: %v", r, iv, err)
					}
					safe, _ := tt.c.SafeDuration(iv)

					if !chunks[0].Start.Equal(r.Start) || !chunks[len(chunks)-1].End.Equal(r.End) {
						t.Errorf("Chunk(%v, %v) does not cover the range: %v", r, iv, chunks)
					}
					for i, ch := range chunks {
						if ch.Duration() > safe {
							t.Errorf("Chunk(%v, %v)[%d] = %v is longer than %v", r, iv, i, ch, safe)
						}
						if i > 0 && !ch.Start.Equal(chunks[i-1].End) {
							t.Errorf("Chunk(%v, %v) is not contiguous at %d", r, iv, i)
						}
					}
				}
			}
		})
	}
}

func TestChunkLongDay(t *testing.T) {
	c := newYorkChunker(t)
	start := time.Date(2020, 11, 1, 0, 0, 0, 0, c.loc)
	end := time.Date(2020, 11, 3, 0, 0, 0, 0, c.loc)

	got, err := c.Chunk(types.TimeRange{Start: start, End: end}, types.Day)
	if err != nil {
		t.Fatal(err)
	}

	// The 25 hour day is cut at 24h, the rest of it is a chunk of its own.
	want := []types.TimeRange{
		{Start: start, End: start.Add(24 * time.Hour)},
		{Start: start.Add(24 * time.Hour), End: start.AddDate(0, 0, 1)},
		{Start: start.AddDate(0, 0, 1), End: end},
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("Chunk() mismatch (-want +got):\n%s", diff)
	}
}

func TestChunkShortCapAcrossDays(t *testing.T) {
	caps := DefaultCaps()
	caps.Minute = 5 * time.Hour
	c, err := New(caps, time.UTC)
	if err != nil {
		t.Fatal(err)
	}

	chunks, err := c.Chunk(types.TimeRange{Start: at(20 * time.Hour), End: at(30 * time.Hour)}, types.OneMinute)
	if err != nil {
		t.Fatal(err)
	}

	want := []types.TimeRange{
		{Start: at(20 * time.Hour), End: at(24 * time.Hour)},
		{Start: at(24 * time.Hour), End: at(29 * time.Hour)},
		{Start: at(29 * time.Hour), End: at(30 * time.Hour)},
	}
	if diff := cmp.Diff(want, chunks); diff != "" {
		t.Errorf("Chunk() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewValidatesCaps(t *testing.T) {
	caps := DefaultCaps()
	caps.Days = 0

	_, err := New(caps, nil)
	var cfgErr *types.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("New() error = %v, want *ConfigurationError", err)
	}
}

func TestChunkErrors(t *testing.T) {
	c := newChunker(t)

	_, err := c.Chunk(types.TimeRange{Start: at(time.Hour), End: t0}, types.Hour)
	var rangeErr *types.InvalidRangeError
	if !errors.As(err, &rangeErr) {
		t.Errorf("Chunk(reversed) error = %v, want *InvalidRangeError", err)
	}

	_, err = c.Chunk(types.TimeRange{Start: t0, End: at(time.Hour)}, types.Interval(0))
	var cfgErr *types.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Chunk(unknown interval) error = %v, want *ConfigurationError", err)
	}
}
